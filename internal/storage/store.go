// Package storage provides abstractions for the remote document store.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrClosed is reported to subscribers and returned from writes once a store is closed.
var ErrClosed = errors.New("store closed")

// Purpose tags separate the kinds of collections kept for a trip.
type Purpose string

const (
	PurposeItinerary Purpose = "itinerary"
	PurposePresence  Purpose = "presence"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeItinerary || p == PurposePresence
}

// CollectionKey addresses one collection. Keys derive only from the trip and purpose.
type CollectionKey struct {
	TripID  string
	Purpose Purpose
}

// String returns the namespaced path of the collection. The trip id is escaped so
// that no trip id can produce another trip's path.
func (k CollectionKey) String() string {
	return fmt.Sprintf("trips/%s/%s", url.PathEscape(k.TripID), k.Purpose)
}

// Validate checks that the key can address a collection.
func (k CollectionKey) Validate() error {
	if strings.TrimSpace(k.TripID) == "" {
		return errors.New("collection key: blank trip id")
	}
	if !k.Purpose.Valid() {
		return fmt.Errorf("collection key: unknown purpose %q", k.Purpose)
	}
	return nil
}

// Document is a stored record. Data holds the JSON body without the id.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// SnapshotFunc receives the full ordered contents of a collection.
type SnapshotFunc func(docs []Document)

// ErrorFunc receives a subscription failure. The subscription delivers nothing afterwards.
type ErrorFunc func(err error)

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store defines the interface for the remote document store.
// This abstraction allows swapping backends (in-memory, SQLite, networked)
// without changing the engine.
type Store interface {
	// Subscribe delivers the current snapshot of the collection and then a new
	// snapshot after every change. Snapshots for one subscription arrive in order.
	// Failures are reported through onError, after which the subscription is inert.
	Subscribe(key CollectionKey, onChange SnapshotFunc, onError ErrorFunc) Unsubscribe

	// Create stores a new document and returns the store-assigned id.
	Create(ctx context.Context, key CollectionKey, data json.RawMessage) (string, error)

	// Set replaces the whole document with the given id, creating it if needed.
	Set(ctx context.Context, key CollectionKey, id string, data json.RawMessage) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, key CollectionKey, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// Fetch returns the current snapshot of a collection by subscribing and waiting
// for the first delivery.
func Fetch(ctx context.Context, s Store, key CollectionKey) ([]Document, error) {
	type result struct {
		docs []Document
		err  error
	}
	ch := make(chan result, 1)
	send := func(r result) {
		select {
		case ch <- r:
		default:
		}
	}
	unsubscribe := s.Subscribe(key,
		func(docs []Document) { send(result{docs: docs}) },
		func(err error) { send(result{err: err}) },
	)
	defer unsubscribe()

	select {
	case r := <-ch:
		return r.docs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
