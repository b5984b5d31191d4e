// Package collection provides a typed view over one collection of the remote store.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mmynk/tripsync/internal/metrics"
	"github.com/mmynk/tripsync/internal/storage"
)

// Doc is a decoded document and its store id.
type Doc[T any] struct {
	ID   string
	Data T
}

// RemoteCollection is a typed handle on one collection of a storage.Store.
type RemoteCollection[T any] struct {
	store storage.Store
	key   storage.CollectionKey
}

// New creates a typed handle on the collection addressed by key.
func New[T any](store storage.Store, key storage.CollectionKey) *RemoteCollection[T] {
	return &RemoteCollection[T]{store: store, key: key}
}

// Key returns the collection's address.
func (c *RemoteCollection[T]) Key() storage.CollectionKey {
	return c.key
}

// Subscription is a live subscription. After Cancel returns, no callback of the
// subscription runs again, including deliveries already in flight.
type Subscription struct {
	mu        sync.Mutex
	cancelled bool
	release   storage.Unsubscribe
}

// Cancel stops the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	release := s.release
	s.mu.Unlock()

	if release != nil {
		release()
	}
}

// guard runs fn unless the subscription has been cancelled. Holding the lock
// while fn runs makes Cancel wait for an in-flight callback to finish.
func (s *Subscription) guard(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	fn()
}

// Subscribe delivers the decoded, store-ordered snapshot on every change.
// Documents that fail to decode are skipped and logged. onError runs once on
// transport failure; the subscription delivers nothing afterwards and a new one
// must be created to resume.
func (c *RemoteCollection[T]) Subscribe(onChange func([]Doc[T]), onError func(error)) *Subscription {
	sub := &Subscription{}
	purpose := string(c.key.Purpose)

	release := c.store.Subscribe(c.key,
		func(docs []storage.Document) {
			decoded := c.decode(docs)
			sub.guard(func() {
				metrics.SnapshotsApplied.WithLabelValues(purpose).Inc()
				onChange(decoded)
			})
		},
		func(err error) {
			sub.guard(func() {
				metrics.SubscriptionErrors.WithLabelValues(purpose).Inc()
				slog.Error("Subscription failed", "collection", c.key.String(), "error", err)
				if onError != nil {
					onError(err)
				}
			})
		},
	)

	sub.mu.Lock()
	sub.release = release
	cancelled := sub.cancelled
	sub.mu.Unlock()
	if cancelled {
		release()
	}
	return sub
}

// Create stores a new document and returns its store-assigned id.
func (c *RemoteCollection[T]) Create(ctx context.Context, data T) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	id, err := c.store.Create(ctx, c.key, raw)
	metrics.StoreWrites.WithLabelValues("create", metrics.Result(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("failed to create document in %s: %w", c.key, err)
	}
	return id, nil
}

// Set replaces the document with the given id.
func (c *RemoteCollection[T]) Set(ctx context.Context, id string, data T) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	err = c.store.Set(ctx, c.key, id, raw)
	metrics.StoreWrites.WithLabelValues("set", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to set document %s in %s: %w", id, c.key, err)
	}
	return nil
}

// Delete removes the document with the given id.
func (c *RemoteCollection[T]) Delete(ctx context.Context, id string) error {
	err := c.store.Delete(ctx, c.key, id)
	metrics.StoreWrites.WithLabelValues("delete", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to delete document %s in %s: %w", id, c.key, err)
	}
	return nil
}

func (c *RemoteCollection[T]) decode(docs []storage.Document) []Doc[T] {
	out := make([]Doc[T], 0, len(docs))
	for _, d := range docs {
		var data T
		if err := json.Unmarshal(d.Data, &data); err != nil {
			slog.Warn("Skipping undecodable document", "collection", c.key.String(), "id", d.ID, "error", err)
			continue
		}
		out = append(out, Doc[T]{ID: d.ID, Data: data})
	}
	return out
}
