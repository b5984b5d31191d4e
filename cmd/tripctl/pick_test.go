package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/docopt/docopt-go"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/config"
	"github.com/mmynk/tripsync/internal/middleware"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/rpc"
	"github.com/mmynk/tripsync/internal/service"
	"github.com/mmynk/tripsync/internal/storage/memory"
)

const geminiReply = `{"candidates":[{"content":{"parts":[{"text":` +
	`"[{\"name\":\"Schokoladenmuseum\",\"category\":\"Museum\",\"recommended_time\":\"11:00\"},` +
	`{\"name\":\"Rheinpark\",\"category\":\"Park\",\"description\":\"Picnic by the river\"}]"}]}}]}`

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

func setupGemini(t *testing.T) (string, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(geminiReply))
	}))
	t.Cleanup(server.Close)
	return server.URL, calls
}

func joinTrip(t *testing.T, ctx context.Context, cfg *config.Config) *participant {
	t.Helper()
	p, err := connectParticipant(ctx, cfg, "PAPA-LISA", docopt.Opts{"--role": "Parent"}, nil)
	if err != nil {
		t.Fatalf("connectParticipant failed: %v", err)
	}
	t.Cleanup(p.close)
	return p
}

func TestNewSearcher(t *testing.T) {
	if s := newSearcher(&config.Config{}); s != nil {
		t.Errorf("expected no searcher without an API key, got %T", s)
	}
	if s := newSearcher(&config.Config{GeminiAPIKey: "key"}); s == nil {
		t.Error("expected a searcher with an API key")
	}
}

func TestPickFromSearchResults(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gemini, calls := setupGemini(t)
	cfg := &config.Config{
		ServerURL:      setupServer(t),
		GeminiAPIKey:   "test-key",
		GeminiEndpoint: gemini,
		GeminiModel:    "test-model",
		SearchRegion:   "Cologne",
		SearchAudience: "teenagers",
	}
	p := joinTrip(t, ctx, cfg)

	picked, id, err := planPick(ctx, p.engine, "museum", 2)
	if err != nil {
		t.Fatalf("planPick failed: %v", err)
	}
	if picked.Name != "Rheinpark" {
		t.Errorf("expected Rheinpark, got %s", picked.Name)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 search request, got %d", n)
	}

	items, err := p.waitItinerary(ctx, func(items []models.ItineraryItem) bool {
		return containsItem(items, id)
	})
	if err != nil {
		t.Fatalf("item never appeared: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Name != "Rheinpark" || items[0].Category != "Park" || items[0].Time != models.DefaultTime {
		t.Errorf("unexpected item: %+v", items[0])
	}
	if items[0].Notes != "Picnic by the river" {
		t.Errorf("expected description as notes, got %q", items[0].Notes)
	}

	if _, _, err := planPick(ctx, p.engine, "", 3); err == nil {
		t.Error("expected an out of range pick to fail")
	}
}

func TestPickCuratedSpot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := joinTrip(t, ctx, &config.Config{ServerURL: setupServer(t)})

	// Without a search bridge the query falls back to the curated spots.
	picked, id, err := planPick(ctx, p.engine, "museum", 1)
	if err != nil {
		t.Fatalf("planPick failed: %v", err)
	}
	want := models.CuratedCandidates()[0]
	if picked.Name != want.Name {
		t.Errorf("expected %s, got %s", want.Name, picked.Name)
	}

	items, err := p.waitItinerary(ctx, func(items []models.ItineraryItem) bool {
		return containsItem(items, id)
	})
	if err != nil {
		t.Fatalf("item never appeared: %v", err)
	}
	if items[0].Name != want.Name {
		t.Errorf("expected %s in the plan, got %+v", want.Name, items)
	}

	if _, _, err := planPick(ctx, p.engine, "", 0); err == nil {
		t.Error("expected pick 0 to fail")
	}
}
