// Package itinerary keeps the ordered projection of a trip's shared plan.
package itinerary

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mmynk/tripsync/internal/collection"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/storage"
)

// Store wraps the itinerary collection of one trip.
type Store struct {
	coll *collection.RemoteCollection[models.ItineraryItem]
	now  func() time.Time

	mu    sync.RWMutex
	items []models.ItineraryItem
}

// New creates a Store over the collection addressed by key.
func New(store storage.Store, key storage.CollectionKey) *Store {
	return &Store{
		coll:  collection.New[models.ItineraryItem](store, key),
		now:   time.Now,
		items: []models.ItineraryItem{},
	}
}

// Subscribe keeps the projection current. onUpdate, if set, receives each new projection.
func (s *Store) Subscribe(onUpdate func([]models.ItineraryItem), onError func(error)) *collection.Subscription {
	return s.coll.Subscribe(func(docs []collection.Doc[models.ItineraryItem]) {
		items := Project(docs)

		s.mu.Lock()
		s.items = items
		s.mu.Unlock()

		if onUpdate != nil {
			onUpdate(slices.Clone(items))
		}
	}, onError)
}

// AddItem creates an itinerary item from a candidate, filling defaults for any
// missing field. The item appears in ProjectedList only after the store pushes it.
func (s *Store) AddItem(ctx context.Context, c models.Candidate) (string, error) {
	item := models.NewItineraryItem(c, s.now())
	id, err := s.coll.Create(ctx, item)
	if err != nil {
		return "", err
	}
	slog.Debug("Itinerary item created", "id", id, "name", item.Name, "time", item.Time)
	return id, nil
}

// RemoveItem deletes an item. Removing an unknown id succeeds.
func (s *Store) RemoveItem(ctx context.Context, id string) error {
	return s.coll.Delete(ctx, id)
}

// ProjectedList returns the latest snapshot sorted by time.
func (s *Store) ProjectedList() []models.ItineraryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Project orders documents by time ascending, comparing the "HH:MM" strings
// lexicographically with empty times sorting as "00:00". Equal times fall back
// to creation order, and items equal on both keep their snapshot order.
func Project(docs []collection.Doc[models.ItineraryItem]) []models.ItineraryItem {
	items := make([]models.ItineraryItem, len(docs))
	for i, d := range docs {
		items[i] = d.Data
		items[i].ID = d.ID
	}
	slices.SortStableFunc(items, func(a, b models.ItineraryItem) int {
		if c := cmp.Compare(a.SortKey(), b.SortKey()); c != 0 {
			return c
		}
		return cmp.Compare(a.Order, b.Order)
	})
	return items
}
