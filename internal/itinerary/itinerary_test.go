package itinerary

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mmynk/tripsync/internal/collection"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/storage"
	"github.com/mmynk/tripsync/internal/storage/memory"
)

var key = storage.CollectionKey{TripID: "PAPA-LISA", Purpose: storage.PurposeItinerary}

func newTestStore(t *testing.T) (*Store, *memory.Store, *collection.Subscription) {
	t.Helper()
	backend := memory.New(memory.WithDeferredDelivery())
	store := New(backend, key)

	clock := time.UnixMilli(1_700_000_000_000)
	store.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}

	sub := store.Subscribe(nil, nil)
	backend.Flush()
	t.Cleanup(sub.Cancel)
	return store, backend, sub
}

func names(items []models.ItineraryItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Name
	}
	return out
}

func TestProjectedListOrdering(t *testing.T) {
	ctx := context.Background()

	t.Run("Sorts by time and keeps insertion order for ties", func(t *testing.T) {
		store, backend, _ := newTestStore(t)

		for _, c := range []models.Candidate{
			{Name: "first nine", RecommendedTime: "09:00"},
			{Name: "second nine", RecommendedTime: "09:00"},
			{Name: "eight", RecommendedTime: "08:00"},
		} {
			if _, err := store.AddItem(ctx, c); err != nil {
				t.Fatalf("AddItem failed: %v", err)
			}
		}
		backend.Flush()

		got := names(store.ProjectedList())
		want := []string{"eight", "first nine", "second nine"}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("Missing time sorts first", func(t *testing.T) {
		store, backend, _ := newTestStore(t)

		if _, err := store.AddItem(ctx, models.Candidate{Name: "early", RecommendedTime: "06:30"}); err != nil {
			t.Fatalf("AddItem failed: %v", err)
		}
		// A document written without a time, e.g. by another client.
		if _, err := backend.Create(ctx, key, json.RawMessage(`{"name":"X","category":"Event","order":1}`)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		backend.Flush()

		items := store.ProjectedList()
		if len(items) != 2 || items[0].Name != "X" {
			t.Errorf("expected untimed item first, got %v", names(items))
		}
	})

	t.Run("Ties keep snapshot order when order is equal", func(t *testing.T) {
		docs := []collection.Doc[models.ItineraryItem]{
			{ID: "b", Data: models.ItineraryItem{Name: "b", Time: "10:00", Order: 5}},
			{ID: "a", Data: models.ItineraryItem{Name: "a", Time: "10:00", Order: 5}},
			{ID: "c", Data: models.ItineraryItem{Name: "c", Time: "09:59", Order: 9}},
		}
		got := names(Project(docs))
		if got[0] != "c" || got[1] != "b" || got[2] != "a" {
			t.Errorf("got %v, want [c b a]", got)
		}
	})
}

func TestAddItem(t *testing.T) {
	ctx := context.Background()

	t.Run("Not visible before the store pushes", func(t *testing.T) {
		store, backend, _ := newTestStore(t)

		id, err := store.AddItem(ctx, models.Candidate{Name: "Dom"})
		if err != nil {
			t.Fatalf("AddItem failed: %v", err)
		}
		if len(store.ProjectedList()) != 0 {
			t.Fatal("item visible before callback")
		}

		backend.Flush()
		items := store.ProjectedList()
		if len(items) != 1 || items[0].ID != id {
			t.Fatalf("expected item %s after callback, got %+v", id, items)
		}
	})

	t.Run("Coerces defaults", func(t *testing.T) {
		store, backend, _ := newTestStore(t)

		if _, err := store.AddItem(ctx, models.Candidate{Name: "Zoo"}); err != nil {
			t.Fatalf("AddItem failed: %v", err)
		}
		backend.Flush()

		item := store.ProjectedList()[0]
		if item.Category != models.DefaultCategory || item.Time != models.DefaultTime || item.Notes != "" {
			t.Errorf("defaults not applied: %+v", item)
		}
		if item.Order == 0 {
			t.Error("expected order timestamp")
		}
	})
}

func TestRemoveItemIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, backend, _ := newTestStore(t)

	id, err := store.AddItem(ctx, models.Candidate{Name: "Dom"})
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := store.RemoveItem(ctx, id); err != nil {
		t.Fatalf("first RemoveItem failed: %v", err)
	}
	if err := store.RemoveItem(ctx, id); err != nil {
		t.Errorf("second RemoveItem failed: %v", err)
	}
	backend.Flush()
	if n := len(store.ProjectedList()); n != 0 {
		t.Errorf("expected empty list, got %d items", n)
	}
}
