package collection

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mmynk/tripsync/internal/storage"
	"github.com/mmynk/tripsync/internal/storage/memory"
)

type note struct {
	Text string `json:"text"`
}

var key = storage.CollectionKey{TripID: "T1", Purpose: storage.PurposeItinerary}

func TestRemoteCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("Create is visible only after delivery", func(t *testing.T) {
		store := memory.New(memory.WithDeferredDelivery())
		coll := New[note](store, key)

		var latest []Doc[note]
		sub := coll.Subscribe(func(docs []Doc[note]) { latest = docs }, nil)
		defer sub.Cancel()
		store.Flush()

		id, err := coll.Create(ctx, note{Text: "hello"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if len(latest) != 0 {
			t.Fatalf("write visible before delivery: %+v", latest)
		}

		store.Flush()
		if len(latest) != 1 {
			t.Fatalf("expected 1 document after delivery, got %d", len(latest))
		}
		if latest[0].ID != id || latest[0].Data.Text != "hello" {
			t.Errorf("unexpected document: %+v", latest[0])
		}
	})

	t.Run("Undecodable documents are skipped", func(t *testing.T) {
		store := memory.New(memory.WithDeferredDelivery())
		coll := New[note](store, key)

		if _, err := store.Create(ctx, key, json.RawMessage(`"not an object"`)); err != nil {
			t.Fatalf("raw Create failed: %v", err)
		}
		if _, err := coll.Create(ctx, note{Text: "ok"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		var latest []Doc[note]
		sub := coll.Subscribe(func(docs []Doc[note]) { latest = docs }, nil)
		defer sub.Cancel()
		store.Flush()

		if len(latest) != 1 || latest[0].Data.Text != "ok" {
			t.Errorf("expected only the decodable document, got %+v", latest)
		}
	})

	t.Run("Cancel suppresses later deliveries", func(t *testing.T) {
		store := memory.New(memory.WithDeferredDelivery())
		coll := New[note](store, key)

		calls := 0
		sub := coll.Subscribe(func([]Doc[note]) { calls++ }, nil)
		store.Flush()
		sub.Cancel()
		sub.Cancel()

		if _, err := coll.Create(ctx, note{Text: "late"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		store.Flush()
		if calls != 1 {
			t.Errorf("expected 1 delivery, got %d", calls)
		}
		if n := store.Subscribers(key); n != 0 {
			t.Errorf("expected store subscription released, %d remain", n)
		}
	})

	t.Run("Errors reach onError once", func(t *testing.T) {
		store := memory.New(memory.WithDeferredDelivery())
		coll := New[note](store, key)

		var errs []error
		sub := coll.Subscribe(func([]Doc[note]) {}, func(err error) { errs = append(errs, err) })
		defer sub.Cancel()

		store.Close()
		store.Flush()
		store.Flush()
		if len(errs) != 1 {
			t.Errorf("expected 1 error, got %d", len(errs))
		}
	})
}
