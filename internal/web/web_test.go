package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"github.com/mmynk/tripsync/internal/storage"
	"github.com/mmynk/tripsync/internal/storage/memory"
)

var key = storage.CollectionKey{TripID: "PAPA-LISA", Purpose: storage.PurposeItinerary}

func setup(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	server := httptest.NewServer(NewRouter(store))
	t.Cleanup(func() {
		server.Close()
		store.Close()
	})
	return server, store
}

func TestGetSnapshot(t *testing.T) {
	server, store := setup(t)
	ctx := context.Background()

	id, err := store.Create(ctx, key, json.RawMessage(`{"name":"Zoo"}`))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create(ctx, storage.CollectionKey{TripID: "OTHER", Purpose: storage.PurposeItinerary}, json.RawMessage(`{"name":"Dom"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resp, err := http.Get(server.URL + "/trips/PAPA-LISA/itinerary")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var feed Feed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		t.Fatalf("failed to decode feed: %v", err)
	}
	assert.Equal(t, feed.Collection, "trips/PAPA-LISA/itinerary")
	assert.Equal(t, len(feed.Documents), 1)
	assert.Equal(t, feed.Documents[0].ID, id)
}

func TestGetSnapshotRejectsUnknownPurpose(t *testing.T) {
	server, _ := setup(t)

	resp, err := http.Get(server.URL + "/trips/PAPA-LISA/expenses")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)
}

func TestHealthAndMetrics(t *testing.T) {
	server, _ := setup(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		assert.Equal(t, resp.StatusCode, http.StatusOK)
	}
}

func TestLiveFeed(t *testing.T) {
	server, store := setup(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/trips/PAPA-LISA/itinerary/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var feed Feed
	if err := conn.ReadJSON(&feed); err != nil {
		t.Fatalf("failed to read initial snapshot: %v", err)
	}
	assert.Equal(t, len(feed.Documents), 0)

	if _, err := store.Create(context.Background(), key, json.RawMessage(`{"name":"Zoo"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := conn.ReadJSON(&feed); err != nil {
		t.Fatalf("failed to read update: %v", err)
	}
	assert.Equal(t, len(feed.Documents), 1)

	var item struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(feed.Documents[0].Data, &item); err != nil {
		t.Fatalf("failed to decode document: %v", err)
	}
	assert.Equal(t, item.Name, "Zoo")
}

func TestLiveFeedClosesWhenStoreFails(t *testing.T) {
	server, store := setup(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/trips/PAPA-LISA/presence/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var feed Feed
	if err := conn.ReadJSON(&feed); err != nil {
		t.Fatalf("failed to read initial snapshot: %v", err)
	}

	store.Close()

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("expected try-again-later close, got %v", err)
	}
}
