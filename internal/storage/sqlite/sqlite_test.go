package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmynk/tripsync/internal/storage"
)

func TestSQLiteStore(t *testing.T) {
	// Create temp directory for test database
	tempDir, err := os.MkdirTemp("", "tripsync-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	itinerary := storage.CollectionKey{TripID: "PAPA-LISA", Purpose: storage.PurposeItinerary}
	presence := storage.CollectionKey{TripID: "PAPA-LISA", Purpose: storage.PurposePresence}

	t.Run("Create generates ID and keeps order", func(t *testing.T) {
		first, err := store.Create(ctx, itinerary, json.RawMessage(`{"name":"Dom"}`))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		second, err := store.Create(ctx, itinerary, json.RawMessage(`{"name":"Zoo"}`))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if first == "" || first == second {
			t.Fatalf("Expected distinct generated IDs, got %q and %q", first, second)
		}

		docs, err := storage.Fetch(ctx, store, itinerary)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if len(docs) != 2 {
			t.Fatalf("Expected 2 documents, got %d", len(docs))
		}
		if docs[0].ID != first || docs[1].ID != second {
			t.Errorf("Order mismatch: got %s,%s", docs[0].ID, docs[1].ID)
		}
		if string(docs[0].Data) != `{"name":"Dom"}` {
			t.Errorf("Data mismatch: got %s", docs[0].Data)
		}
	})

	t.Run("Set overwrites in place", func(t *testing.T) {
		for _, lat := range []string{"1", "2", "3"} {
			if err := store.Set(ctx, presence, "participant-1", json.RawMessage(`{"lat":`+lat+`}`)); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		}
		docs, err := storage.Fetch(ctx, store, presence)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if len(docs) != 1 {
			t.Fatalf("Expected 1 presence document, got %d", len(docs))
		}
		if string(docs[0].Data) != `{"lat":3}` {
			t.Errorf("Expected last write, got %s", docs[0].Data)
		}
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		id, err := store.Create(ctx, itinerary, json.RawMessage(`{"name":"Temp"}`))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := store.Delete(ctx, itinerary, id); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := store.Delete(ctx, itinerary, id); err != nil {
			t.Errorf("Second delete failed: %v", err)
		}
	})

	t.Run("Subscribers receive changes", func(t *testing.T) {
		key := storage.CollectionKey{TripID: "LIVE", Purpose: storage.PurposeItinerary}
		snaps := make(chan []storage.Document, 16)
		unsubscribe := store.Subscribe(key, func(docs []storage.Document) { snaps <- docs }, func(err error) {
			t.Errorf("Unexpected subscription error: %v", err)
		})
		defer unsubscribe()

		if _, err := store.Create(ctx, key, json.RawMessage(`{"name":"Live"}`)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		timeout := time.After(2 * time.Second)
		for {
			select {
			case docs := <-snaps:
				if len(docs) == 1 {
					return
				}
			case <-timeout:
				t.Fatal("Timed out waiting for snapshot")
			}
		}
	})

	t.Run("Trips are isolated", func(t *testing.T) {
		other := storage.CollectionKey{TripID: "OTHER", Purpose: storage.PurposeItinerary}
		docs, err := storage.Fetch(ctx, store, other)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if len(docs) != 0 {
			t.Errorf("Expected no documents for other trip, got %d", len(docs))
		}
	})
}

func TestSQLiteStorePersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()
	key := storage.CollectionKey{TripID: "KEEP", Purpose: storage.PurposeItinerary}

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	id, err := store.Create(ctx, key, json.RawMessage(`{"name":"Dom"}`))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	store.Close()

	if _, err := store.Create(ctx, key, json.RawMessage(`{}`)); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}

	reopened, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	docs, err := storage.Fetch(ctx, reopened, key)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != id {
		t.Errorf("Expected persisted document %s, got %+v", id, docs)
	}
}
