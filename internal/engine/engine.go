// Package engine wires the session, the shared collections, the position stream
// and the search bridge into one read model with two mutation entry points.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mmynk/tripsync/internal/collection"
	"github.com/mmynk/tripsync/internal/itinerary"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/position"
	"github.com/mmynk/tripsync/internal/presence"
	"github.com/mmynk/tripsync/internal/session"
	"github.com/mmynk/tripsync/internal/storage"
)

var (
	ErrNotJoined      = errors.New("session has not joined a trip")
	ErrNotActive      = errors.New("engine is not active")
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNoSearch       = errors.New("search is not configured")
)

// State is the lifecycle state of an Engine.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// View names a presentation view the engine can ask to focus.
type View string

const ViewItinerary View = "itinerary"

// Searcher turns a free-text query into candidates. *search.Bridge implements it.
type Searcher interface {
	Query(ctx context.Context, text string) ([]models.Candidate, error)
}

// Hooks notify the presentation layer. Every hook is optional. Hooks must not
// call Stop.
type Hooks struct {
	ItineraryChanged     func([]models.ItineraryItem)
	PositionsChanged     func([]models.PositionRecord)
	SearchResultsChanged func([]models.Candidate)
	FocusRequested       func(View)
	SubscriptionFailed   func(storage.Purpose, error)
}

// Config holds the engine's collaborators.
type Config struct {
	Store   storage.Store
	Session *session.Session

	// Positions is optional; without it the participant publishes no position.
	Positions *position.Source

	// Search is optional; without it Search returns ErrNoSearch.
	Search Searcher

	Presence presence.Options
	Hooks    Hooks
}

// Engine is the synchronization engine for one session. It starts at most once.
type Engine struct {
	cfg Config

	// lifecycle serializes Start and Stop; mu guards the fields below and is
	// the only lock taken from subscription callbacks.
	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	started   bool
	torndown  bool
	runCtx    context.Context
	cancelRun context.CancelFunc

	itinerary *itinerary.Store
	presence  *presence.Store

	itinSub *collection.Subscription
	presSub *collection.Subscription
	posSub  *position.Subscription

	results   []models.Candidate
	searchSeq uint64
	lastFix   *models.Fix
}

// New creates an idle engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, results: []models.Candidate{}}
}

// Start moves the engine from Idle to Active: it subscribes to the itinerary
// and presence collections and starts the position stream. A position stream
// that cannot be opened is logged as a warning and the engine runs without it.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	if !e.cfg.Session.Joined() {
		e.mu.Unlock()
		return ErrNotJoined
	}
	e.started = true
	e.runCtx, e.cancelRun = context.WithCancel(ctx)
	e.itinerary = itinerary.New(e.cfg.Store, e.cfg.Session.Key(storage.PurposeItinerary))
	e.presence = presence.New(e.cfg.Store, e.cfg.Session, e.cfg.Presence)
	runCtx := e.runCtx
	e.mu.Unlock()

	itinSub := e.itinerary.Subscribe(e.onItinerary, e.onError(storage.PurposeItinerary))
	presSub := e.presence.Subscribe(e.onPositions, e.onError(storage.PurposePresence))

	var posSub *position.Subscription
	if e.cfg.Positions != nil {
		sub, err := e.cfg.Positions.Subscribe(runCtx, e.onFix, e.onLocationWarning)
		if err != nil {
			slog.Warn("Position stream unavailable", "trip_id", e.cfg.Session.TripID(), "error", err)
		} else {
			posSub = sub
		}
	}

	e.mu.Lock()
	e.itinSub, e.presSub, e.posSub = itinSub, presSub, posSub
	e.state = StateActive
	e.mu.Unlock()

	slog.Info("Sync engine started",
		"trip_id", e.cfg.Session.TripID(),
		"participant_id", e.cfg.Session.ParticipantID(),
		"role", e.cfg.Session.Role(),
		"positions", posSub != nil,
	)
	return nil
}

// Stop tears down every subscription and returns the engine to Idle. All three
// cancellations run even if one fails; in-flight writes are abandoned. Stop on
// an idle engine is a no-op.
func (e *Engine) Stop() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return nil
	}
	e.state = StateIdle
	e.torndown = true
	itinSub, presSub, posSub := e.itinSub, e.presSub, e.posSub
	e.itinSub, e.presSub, e.posSub = nil, nil, nil
	cancelRun := e.cancelRun
	e.mu.Unlock()

	cancelRun()

	var errs []error
	itinSub.Cancel()
	presSub.Cancel()
	if posSub != nil {
		if err := posSub.Cancel(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release position stream: %w", err))
		}
	}

	slog.Info("Sync engine stopped", "trip_id", e.cfg.Session.TripID())
	return errors.Join(errs...)
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AddToPlan adds a candidate to the shared itinerary and asks the presentation
// layer to focus the itinerary view. The item becomes visible in Itinerary once
// the store pushes it back.
func (e *Engine) AddToPlan(ctx context.Context, c models.Candidate) (string, error) {
	itin, err := e.activeItinerary()
	if err != nil {
		return "", err
	}
	id, err := itin.AddItem(ctx, c)
	if err != nil {
		return "", err
	}
	slog.Info("Added to plan", "trip_id", e.cfg.Session.TripID(), "id", id, "name", c.Name, "source", c.Source)
	if hook := e.cfg.Hooks.FocusRequested; hook != nil {
		hook(ViewItinerary)
	}
	return id, nil
}

// RemoveFromPlan deletes an itinerary item. Removing an unknown id succeeds.
func (e *Engine) RemoveFromPlan(ctx context.Context, id string) error {
	itin, err := e.activeItinerary()
	if err != nil {
		return err
	}
	if err := itin.RemoveItem(ctx, id); err != nil {
		return err
	}
	slog.Info("Removed from plan", "trip_id", e.cfg.Session.TripID(), "id", id)
	return nil
}

// Search queries the search bridge and replaces the current results. On
// failure the results become empty and the error is returned alongside the
// empty list. When searches overlap, only the latest one replaces the results.
func (e *Engine) Search(ctx context.Context, text string) ([]models.Candidate, error) {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return []models.Candidate{}, ErrNotActive
	}
	if e.cfg.Search == nil {
		e.mu.Unlock()
		return []models.Candidate{}, ErrNoSearch
	}
	e.searchSeq++
	seq := e.searchSeq
	e.mu.Unlock()

	results, err := e.cfg.Search.Query(ctx, text)
	if err != nil || results == nil {
		results = []models.Candidate{}
	}

	e.mu.Lock()
	latest := seq == e.searchSeq && !e.torndown
	if latest {
		e.results = slices.Clone(results)
	}
	e.mu.Unlock()

	if latest {
		if hook := e.cfg.Hooks.SearchResultsChanged; hook != nil {
			hook(slices.Clone(results))
		}
	}
	return results, err
}

// Itinerary returns the projected itinerary, sorted by time.
func (e *Engine) Itinerary() []models.ItineraryItem {
	e.mu.Lock()
	itin := e.itinerary
	e.mu.Unlock()
	if itin == nil {
		return []models.ItineraryItem{}
	}
	return itin.ProjectedList()
}

// Positions returns every participant's last known position, including our own.
func (e *Engine) Positions() []models.PositionRecord {
	e.mu.Lock()
	pres := e.presence
	e.mu.Unlock()
	if pres == nil {
		return []models.PositionRecord{}
	}
	return pres.ProjectedPositions()
}

// SearchResults returns the results of the latest search.
func (e *Engine) SearchResults() []models.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.results)
}

// ExploreList returns the latest search results, or the curated spots while there are none.
func (e *Engine) ExploreList() []models.Candidate {
	if results := e.SearchResults(); len(results) > 0 {
		return results
	}
	return models.CuratedCandidates()
}

// LastFix returns the most recent local fix.
func (e *Engine) LastFix() (models.Fix, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastFix == nil {
		return models.Fix{}, false
	}
	return *e.lastFix, true
}

func (e *Engine) activeItinerary() (*itinerary.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive {
		return nil, ErrNotActive
	}
	return e.itinerary, nil
}

func (e *Engine) live() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.torndown
}

func (e *Engine) onItinerary(items []models.ItineraryItem) {
	if !e.live() {
		return
	}
	if hook := e.cfg.Hooks.ItineraryChanged; hook != nil {
		hook(items)
	}
}

func (e *Engine) onPositions(records []models.PositionRecord) {
	if !e.live() {
		return
	}
	if hook := e.cfg.Hooks.PositionsChanged; hook != nil {
		hook(records)
	}
}

func (e *Engine) onError(purpose storage.Purpose) func(error) {
	return func(err error) {
		if !e.live() {
			return
		}
		// The subscription is inert now; resubscribing is left to the caller.
		if hook := e.cfg.Hooks.SubscriptionFailed; hook != nil {
			hook(purpose, err)
		}
	}
}

func (e *Engine) onFix(fix models.Fix) {
	e.mu.Lock()
	if e.torndown {
		e.mu.Unlock()
		return
	}
	e.lastFix = &fix
	pres, ctx := e.presence, e.runCtx
	e.mu.Unlock()

	if _, err := pres.PublishSelf(ctx, fix); err != nil && ctx.Err() == nil {
		slog.Warn("Failed to publish position", "trip_id", e.cfg.Session.TripID(), "error", err)
	}
}

func (e *Engine) onLocationWarning(err error) {
	slog.Warn("Location unavailable, presence paused", "trip_id", e.cfg.Session.TripID(), "error", err)
}
