package position

import (
	"time"

	"golang.org/x/time/rate"
)

// Gate lets at most one event through per MinInterval. A zero interval lets
// everything through.
type Gate struct {
	MinInterval time.Duration

	limiter *rate.Limiter
}

// NewGate creates a gate with the given minimum interval.
func NewGate(minInterval time.Duration) *Gate {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Gate{MinInterval: minInterval, limiter: rate.NewLimiter(limit, 1)}
}

// Allow reports whether an event at now may pass, and records it if so.
func (g *Gate) Allow(now time.Time) bool {
	return g.limiter.AllowN(now, 1)
}

// Reserve takes the slot at now if it is free. The returned release gives the
// slot back, for an event that was let through but did not happen.
func (g *Gate) Reserve(now time.Time) (release func(), ok bool) {
	if g.MinInterval <= 0 {
		return func() {}, true
	}
	if g.limiter.TokensAt(now) < 1 {
		return nil, false
	}
	r := g.limiter.ReserveN(now, 1)
	if !r.OK() {
		return nil, false
	}
	if r.DelayFrom(now) > 0 {
		// lost the slot to a concurrent caller
		r.CancelAt(now)
		return nil, false
	}
	return func() { r.CancelAt(now) }, true
}
