// Package web serves read-only trip feeds for map renderers, plus the
// operational endpoints of the server.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/tripsync/internal/metrics"
	"github.com/mmynk/tripsync/internal/storage"
)

const (
	writeTimeout = 10 * time.Second
	fetchTimeout = 5 * time.Second
)

// Feed is the JSON body of a snapshot.
type Feed struct {
	Collection string             `json:"collection"`
	Documents  []storage.Document `json:"documents"`
}

type server struct {
	store    storage.Store
	upgrader websocket.Upgrader
}

// NewRouter returns a router serving trip feeds from store, /metrics and /healthz.
// Every request is logged.
func NewRouter(store storage.Store) *mux.Router {
	s := &server{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(LogRequests)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	r.Methods(http.MethodGet).Path("/trips/{trip}/{purpose}").HandlerFunc(s.getSnapshot)
	r.Methods(http.MethodGet).Path("/trips/{trip}/{purpose}/live").HandlerFunc(s.liveFeed)
	return r
}

// LogRequests logs method, path, status and duration of each request.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Info("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration_ms", m.Duration.Milliseconds(),
		)
	})
}

func collectionKey(r *http.Request) (storage.CollectionKey, error) {
	vars := mux.Vars(r)
	key := storage.CollectionKey{TripID: vars["trip"], Purpose: storage.Purpose(vars["purpose"])}
	return key, key.Validate()
}

func (s *server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	key, err := collectionKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
	defer cancel()
	docs, err := storage.Fetch(ctx, s.store, key)
	if err != nil {
		slog.Error("Failed to fetch snapshot", "collection", key.String(), "error", err)
		http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Feed{Collection: key.String(), Documents: docs}); err != nil {
		slog.Error("Failed to write snapshot", "collection", key.String(), "error", err)
	}
}

func (s *server) liveFeed(w http.ResponseWriter, r *http.Request) {
	key, err := collectionKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade", "collection", key.String(), "error", err)
		return
	}
	defer conn.Close()

	metrics.LiveFeeds.Inc()
	defer metrics.LiveFeeds.Dec()

	// The client only ever closes; reading is how we notice.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	updates := make(chan []storage.Document, 1)
	failed := make(chan error, 1)
	unsubscribe := s.store.Subscribe(key,
		func(docs []storage.Document) {
			select {
			case <-updates:
			default:
			}
			updates <- docs
		},
		func(err error) { failed <- err },
	)
	defer unsubscribe()

	slog.Info("Live feed opened", "collection", key.String(), "remote_addr", r.RemoteAddr)
	for {
		select {
		case <-gone:
			slog.Info("Live feed closed", "collection", key.String())
			return
		case err := <-failed:
			slog.Warn("Live feed subscription failed", "collection", key.String(), "error", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription failed"),
				time.Now().Add(writeTimeout))
			return
		case docs := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(Feed{Collection: key.String(), Documents: docs}); err != nil {
				slog.Warn("Failed to write live feed", "collection", key.String(), "error", err)
				return
			}
		}
	}
}
