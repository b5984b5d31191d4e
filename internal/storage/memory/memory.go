// Package memory provides an in-process implementation of the storage.Store interface.
//
// By default snapshots are pushed asynchronously, like a networked store. With
// WithDeferredDelivery nothing is delivered until Flush is called, which lets
// callers observe state before and after a push.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/mmynk/tripsync/internal/storage"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithDeferredDelivery holds every snapshot until Flush is called.
func WithDeferredDelivery() Option {
	return func(s *Store) { s.deferred = true }
}

// WithIDGenerator overrides the document id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// Store keeps collections in memory.
type Store struct {
	mu          sync.Mutex
	collections map[storage.CollectionKey]*collection
	closed      bool
	newID       func() string

	broker *storage.Broker

	deferred bool
	nextSub  uint64
	held     []*heldSub
}

type collection struct {
	order []string
	docs  map[string]json.RawMessage
}

type heldSub struct {
	id       uint64
	key      storage.CollectionKey
	onChange storage.SnapshotFunc
	onError  storage.ErrorFunc
	pending  bool
	failure  error
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[storage.CollectionKey]*collection),
		newID:       func() string { return ulid.Make().String() },
		broker:      storage.NewBroker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe implements storage.Store.
func (s *Store) Subscribe(key storage.CollectionKey, onChange storage.SnapshotFunc, onError storage.ErrorFunc) storage.Unsubscribe {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deferred {
		s.nextSub++
		sub := &heldSub{id: s.nextSub, key: key, onChange: onChange, onError: onError, pending: true}
		if s.closed {
			sub.failure = storage.ErrClosed
		}
		s.held = append(s.held, sub)
		return func() { s.release(sub.id) }
	}

	id, unsubscribe := s.broker.Add(key, onChange, onError)
	if s.closed {
		s.broker.Fail(key, id, storage.ErrClosed)
		return unsubscribe
	}
	s.broker.Offer(key, id, s.snapshotLocked(key))
	return unsubscribe
}

// Create implements storage.Store.
func (s *Store) Create(ctx context.Context, key storage.CollectionKey, data json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := key.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", storage.ErrClosed
	}

	id := s.newID()
	c := s.collectionLocked(key)
	if _, exists := c.docs[id]; exists {
		return "", fmt.Errorf("document %s already exists in %s", id, key)
	}
	c.order = append(c.order, id)
	c.docs[id] = cloneRaw(data)
	s.changedLocked(key)
	return id, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key storage.CollectionKey, id string, data json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("set in %s: empty document id", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	c := s.collectionLocked(key)
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = cloneRaw(data)
	s.changedLocked(key)
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key storage.CollectionKey, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	c, ok := s.collections[key]
	if !ok {
		return nil
	}
	if _, exists := c.docs[id]; !exists {
		return nil
	}
	delete(c.docs, id)
	for i, docID := range c.order {
		if docID == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	s.changedLocked(key)
	return nil
}

// Flush delivers every held snapshot and error in the calling goroutine.
// It is a no-op unless the store was created WithDeferredDelivery.
func (s *Store) Flush() {
	type delivery struct {
		sub  *heldSub
		docs []storage.Document
		err  error
	}

	s.mu.Lock()
	var out []delivery
	for _, sub := range s.held {
		switch {
		case sub.failure != nil:
			out = append(out, delivery{sub: sub, err: sub.failure})
		case sub.pending:
			out = append(out, delivery{sub: sub, docs: s.snapshotLocked(sub.key)})
			sub.pending = false
		}
	}
	// failed subscriptions are inert from here on
	kept := s.held[:0]
	for _, sub := range s.held {
		if sub.failure == nil {
			kept = append(kept, sub)
		}
	}
	s.held = kept
	s.mu.Unlock()

	for _, d := range out {
		if d.err != nil {
			if d.sub.onError != nil {
				d.sub.onError(d.err)
			}
			continue
		}
		if d.sub.onChange != nil {
			d.sub.onChange(d.docs)
		}
	}
}

// Subscribers returns the number of live subscriptions on a collection.
func (s *Store) Subscribers(key storage.CollectionKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.deferred {
		return s.broker.Subscribers(key)
	}
	n := 0
	for _, sub := range s.held {
		if sub.key == key {
			n++
		}
	}
	return n
}

// Close marks the store closed and fails every subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, sub := range s.held {
		sub.failure = storage.ErrClosed
	}
	s.broker.FailAll(storage.ErrClosed)
	return nil
}

func (s *Store) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.held {
		if sub.id == id {
			s.held = append(s.held[:i:i], s.held[i+1:]...)
			return
		}
	}
}

func (s *Store) collectionLocked(key storage.CollectionKey) *collection {
	c, ok := s.collections[key]
	if !ok {
		c = &collection{docs: make(map[string]json.RawMessage)}
		s.collections[key] = c
	}
	return c
}

func (s *Store) changedLocked(key storage.CollectionKey) {
	if s.deferred {
		for _, sub := range s.held {
			if sub.key == key {
				sub.pending = true
			}
		}
		return
	}
	s.broker.Publish(key, s.snapshotLocked(key))
}

func (s *Store) snapshotLocked(key storage.CollectionKey) []storage.Document {
	c, ok := s.collections[key]
	if !ok {
		return []storage.Document{}
	}
	docs := make([]storage.Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, storage.Document{ID: id, Data: cloneRaw(c.docs[id])})
	}
	return docs
}

func cloneRaw(data json.RawMessage) json.RawMessage {
	if data == nil {
		return nil
	}
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out
}
