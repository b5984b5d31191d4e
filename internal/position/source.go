// Package position turns a device location stream into a cancellable subscription.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/tripsync/internal/metrics"
	"github.com/mmynk/tripsync/internal/models"
)

// ErrUnavailable marks a device that cannot produce fixes (permission denied,
// hardware missing). It is a warning, never fatal to a session.
var ErrUnavailable = errors.New("location unavailable")

// WatchOptions are passed to the device when a watch starts.
type WatchOptions struct {
	HighAccuracy bool
}

// Device is the platform location service.
type Device interface {
	// Open starts a watch. The caller must Close the returned watcher.
	Open(ctx context.Context, opts WatchOptions) (Watcher, error)
}

// Watcher is one running watch on a device. Fixes is closed when the stream ends.
type Watcher interface {
	Fixes() <-chan models.Fix
	Warnings() <-chan error
	Close() error
}

// Options configure a Source.
type Options struct {
	// MinInterval drops fixes that arrive sooner than this after the last emitted one.
	MinInterval time.Duration

	// HighAccuracy is forwarded to the device as a hint.
	HighAccuracy bool
}

// Source wraps a Device.
type Source struct {
	device Device
	opts   Options
	now    func() time.Time
}

// NewSource creates a Source over device.
func NewSource(device Device, opts Options) *Source {
	return &Source{device: device, opts: opts, now: time.Now}
}

// Subscription is a running watch. The device watcher is closed when the
// subscription ends, whichever way it ends.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
	closeErr  error
}

// Subscribe opens the device and delivers fixes to onFix until ctx is done or
// Cancel is called. Device warnings go to onWarning. An error is returned only
// if the device could not be opened.
func (s *Source) Subscribe(ctx context.Context, onFix func(models.Fix), onWarning func(error)) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	w, err := s.device.Open(ctx, WatchOptions{HighAccuracy: s.opts.HighAccuracy})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	gate := NewGate(s.opts.MinInterval)

	go func() {
		defer close(sub.done)
		defer func() {
			if err := w.Close(); err != nil {
				slog.Warn("Failed to close location watcher", "error", err)
				sub.mu.Lock()
				sub.closeErr = err
				sub.mu.Unlock()
			}
		}()

		fixes, warnings := w.Fixes(), w.Warnings()
		for {
			select {
			case <-ctx.Done():
				return
			case fix, ok := <-fixes:
				if !ok {
					return
				}
				if !gate.Allow(s.now()) {
					metrics.PositionFixes.WithLabelValues("dropped").Inc()
					continue
				}
				metrics.PositionFixes.WithLabelValues("emitted").Inc()
				sub.guard(func() { onFix(fix) })
			case warn, ok := <-warnings:
				if !ok {
					warnings = nil
					continue
				}
				slog.Warn("Location unavailable", "error", warn)
				if onWarning != nil {
					sub.guard(func() { onWarning(warn) })
				}
			}
		}
	}()

	return sub, nil
}

func (s *Subscription) guard(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	fn()
}

// Cancel stops the watch, waits for the device to be released and returns
// any error from closing it. It is safe to call more than once.
func (s *Subscription) Cancel() error {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()

	s.cancel()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Done is closed once the device has been released.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
