package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/go-playground/assert/v2"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/engine"
	"github.com/mmynk/tripsync/internal/middleware"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/presence"
	"github.com/mmynk/tripsync/internal/rpc"
	"github.com/mmynk/tripsync/internal/service"
	"github.com/mmynk/tripsync/internal/session"
	"github.com/mmynk/tripsync/internal/storage"
	"github.com/mmynk/tripsync/internal/storage/memory"
)

var itineraryKey = storage.CollectionKey{TripID: "PAPA-LISA", Purpose: storage.PurposeItinerary}

func setupServer(t *testing.T) string {
	t.Helper()
	backend := memory.New()
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	interceptors := connect.WithInterceptors(
		middleware.RequireAuth(jwtManager, rpc.SessionServiceIssueTokenProcedure),
		middleware.LoggingInterceptor(),
	)

	mux := http.NewServeMux()
	mux.Handle(rpc.NewDocumentServiceHandler(service.NewDocumentService(backend), interceptors))
	mux.Handle(rpc.NewSessionServiceHandler(service.NewSessionService(jwtManager), interceptors))

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		backend.Close()
	})
	return server.URL
}

// connectParticipant issues an identity and returns a store acting as it.
func connectParticipant(t *testing.T, url string) (*Store, string) {
	t.Helper()
	token, participantID, err := IssueToken(context.Background(), http.DefaultClient, url)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	store := New(http.DefaultClient, url, token)
	t.Cleanup(func() { store.Close() })
	return store, participantID
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWritesAndFetch(t *testing.T) {
	url := setupServer(t)
	store, _ := connectParticipant(t, url)
	ctx := context.Background()

	id, err := store.Create(ctx, itineraryKey, json.RawMessage(`{"name":"Zoo"}`))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Set(ctx, itineraryKey, "fixed", json.RawMessage(`{"name":"Dom"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	docs, err := storage.Fetch(ctx, store, itineraryKey)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	assert.Equal(t, len(docs), 2)
	assert.Equal(t, docs[0].ID, id)
	assert.Equal(t, docs[1].ID, "fixed")

	if err := store.Delete(ctx, itineraryKey, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	docs, err = storage.Fetch(ctx, store, itineraryKey)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	assert.Equal(t, len(docs), 1)
}

func TestSubscription(t *testing.T) {
	url := setupServer(t)
	writer, _ := connectParticipant(t, url)
	reader, _ := connectParticipant(t, url)
	ctx := context.Background()

	var mu sync.Mutex
	var latest []storage.Document
	deliveries := 0
	var failures []error

	unsubscribe := reader.Subscribe(itineraryKey,
		func(docs []storage.Document) {
			mu.Lock()
			defer mu.Unlock()
			latest = docs
			deliveries++
		},
		func(err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, err)
		},
	)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries > 0
	})

	if _, err := writer.Create(ctx, itineraryKey, json.RawMessage(`{"name":"Zoo"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1
	})

	unsubscribe()
	unsubscribe()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, len(failures), 0)
}

func TestClose(t *testing.T) {
	url := setupServer(t)
	store, _ := connectParticipant(t, url)

	failed := make(chan error, 1)
	ready := make(chan struct{})
	var once sync.Once
	store.Subscribe(itineraryKey,
		func([]storage.Document) { once.Do(func() { close(ready) }) },
		func(err error) { failed <- err },
	)
	<-ready

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-failed:
		if !errors.Is(err, storage.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not failed on close")
	}

	if _, err := store.Create(context.Background(), itineraryKey, json.RawMessage(`{}`)); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestEnginesShareTripOverServer(t *testing.T) {
	url := setupServer(t)
	ctx := context.Background()

	start := func(role session.Role) (*engine.Engine, *presence.Store, *session.Session) {
		store, participantID := connectParticipant(t, url)
		sess, err := session.New(participantID, role)
		if err != nil {
			t.Fatalf("session.New failed: %v", err)
		}
		if err := sess.Join("PAPA-LISA"); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
		eng := engine.New(engine.Config{Store: store, Session: sess})
		if err := eng.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		t.Cleanup(func() { _ = eng.Stop() })
		return eng, presence.New(store, sess, presence.Options{}), sess
	}

	parent, parentPresence, _ := start(session.RoleParent)
	child, _, _ := start(session.RoleChild)

	if _, err := parent.AddToPlan(ctx, models.Candidate{Name: "Cologne Zoo", RecommendedTime: "10:00"}); err != nil {
		t.Fatalf("AddToPlan failed: %v", err)
	}
	if _, err := parentPresence.PublishSelf(ctx, models.Fix{Lat: 50.95, Lng: 6.97}); err != nil {
		t.Fatalf("PublishSelf failed: %v", err)
	}

	waitFor(t, func() bool {
		return len(child.Itinerary()) == 1 && len(child.Positions()) == 1
	})
	assert.Equal(t, child.Itinerary()[0].Name, "Cologne Zoo")
	assert.Equal(t, child.Positions()[0].Name, string(session.RoleParent))
}
