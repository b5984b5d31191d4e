package storage

import (
	"log/slog"
	"sync"
)

// Broker fans snapshots out to the subscribers of each collection.
//
// Each subscriber has a one-slot mailbox drained by its own goroutine. Offering a
// newer snapshot replaces an undelivered older one, which keeps delivery ordered
// without blocking the writer.
type Broker struct {
	mu     sync.Mutex
	subs   map[CollectionKey]map[uint64]*subscriber
	nextID uint64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[CollectionKey]map[uint64]*subscriber)}
}

type subscriber struct {
	key      CollectionKey
	onChange SnapshotFunc
	onError  ErrorFunc

	mu      sync.Mutex
	pending []Document
	dirty   bool
	failure error
	stopped bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Add registers a subscriber and starts its delivery goroutine.
// The returned function removes it again.
func (b *Broker) Add(key CollectionKey, onChange SnapshotFunc, onError ErrorFunc) (uint64, Unsubscribe) {
	sub := &subscriber{
		key:      key,
		onChange: onChange,
		onError:  onError,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[key] == nil {
		b.subs[key] = make(map[uint64]*subscriber)
	}
	b.subs[key][id] = sub
	b.mu.Unlock()

	go sub.run()

	return id, func() {
		if sub := b.remove(key, id); sub != nil {
			sub.stop()
		}
	}
}

// Offer queues a snapshot for a single subscriber, e.g. the initial snapshot.
func (b *Broker) Offer(key CollectionKey, id uint64, docs []Document) {
	b.mu.Lock()
	sub := b.subs[key][id]
	b.mu.Unlock()
	if sub != nil {
		sub.offer(docs)
	}
}

// Publish queues a snapshot for every subscriber of the collection.
func (b *Broker) Publish(key CollectionKey, docs []Document) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs[key]))
	for _, sub := range b.subs[key] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.offer(docs)
	}
}

// Fail reports err to one subscriber and removes it. The subscriber's goroutine
// exits after delivering the error.
func (b *Broker) Fail(key CollectionKey, id uint64, err error) {
	if sub := b.remove(key, id); sub != nil {
		sub.fail(err)
	}
}

// FailAll reports err to every subscriber and removes them all.
func (b *Broker) FailAll(err error) {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[CollectionKey]map[uint64]*subscriber)
	b.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.fail(err)
		}
	}
}

// Subscribers returns the number of live subscribers of a collection.
func (b *Broker) Subscribers(key CollectionKey) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

func (b *Broker) remove(key CollectionKey, id uint64) *subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := b.subs[key][id]
	delete(b.subs[key], id)
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
	return sub
}

func (s *subscriber) offer(docs []Document) {
	s.mu.Lock()
	if s.stopped || s.failure != nil {
		s.mu.Unlock()
		return
	}
	s.pending = docs
	s.dirty = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) fail(err error) {
	s.mu.Lock()
	if s.stopped || s.failure != nil {
		s.mu.Unlock()
		return
	}
	s.failure = err
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		docs, dirty, failure, stopped := s.pending, s.dirty, s.failure, s.stopped
		s.pending, s.dirty = nil, false
		s.mu.Unlock()

		if stopped {
			return
		}
		if failure != nil {
			slog.Debug("Subscription failed", "collection", s.key.String(), "error", failure)
			if s.onError != nil {
				s.onError(failure)
			}
			return
		}
		if dirty && s.onChange != nil {
			s.onChange(docs)
		}
	}
}
