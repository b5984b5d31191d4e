package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/docopt/docopt-go"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/config"
	"github.com/mmynk/tripsync/internal/engine"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/position"
	"github.com/mmynk/tripsync/internal/presence"
	"github.com/mmynk/tripsync/internal/search"
	"github.com/mmynk/tripsync/internal/session"
	"github.com/mmynk/tripsync/internal/storage"
	"github.com/mmynk/tripsync/internal/storage/remote"
)

// participant is a running engine joined to one trip through the server.
type participant struct {
	engine    *engine.Engine
	store     *remote.Store
	itinerary chan []models.ItineraryItem
	positions chan []models.PositionRecord
}

// latest replaces any undelivered value so readers only see the newest one.
func latest[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// participantFromToken reads the participant id from a token. The server
// verifies the signature; the client only needs the id.
func participantFromToken(token string) (string, error) {
	claims := &auth.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("unreadable token: %w", err)
	}
	if claims.ParticipantID == "" {
		return "", fmt.Errorf("token has no participant id")
	}
	return claims.ParticipantID, nil
}

// newSearcher returns the search bridge, or nil when no API key is configured.
func newSearcher(cfg *config.Config) engine.Searcher {
	if cfg.GeminiAPIKey == "" {
		return nil
	}
	gen := search.NewGeminiClient(http.DefaultClient, cfg.GeminiEndpoint, cfg.GeminiModel, cfg.GeminiAPIKey)
	return search.NewBridge(gen, cfg.SearchOptions())
}

func connectParticipant(ctx context.Context, cfg *config.Config, trip string, opts docopt.Opts, positions *position.Source) (*participant, error) {
	token := cfg.Token
	var participantID string
	if token == "" {
		var err error
		token, participantID, err = remote.IssueToken(ctx, http.DefaultClient, cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		slog.Info("Issued participant token", "participant_id", participantID)
	} else {
		var err error
		if participantID, err = participantFromToken(token); err != nil {
			return nil, err
		}
	}

	roleName, _ := opts.String("--role")
	sess, err := session.New(participantID, session.ParseRole(roleName))
	if err != nil {
		return nil, err
	}
	if err := sess.Join(trip); err != nil {
		return nil, err
	}

	p := &participant{
		store:     remote.New(http.DefaultClient, cfg.ServerURL, token),
		itinerary: make(chan []models.ItineraryItem, 1),
		positions: make(chan []models.PositionRecord, 1),
	}
	p.engine = engine.New(engine.Config{
		Store:     p.store,
		Session:   sess,
		Positions: positions,
		Search:    newSearcher(cfg),
		Presence:  presence.Options{MinInterval: cfg.PresenceMinInterval},
		Hooks: engine.Hooks{
			ItineraryChanged: func(items []models.ItineraryItem) { latest(p.itinerary, items) },
			PositionsChanged: func(records []models.PositionRecord) { latest(p.positions, records) },
			SearchResultsChanged: func(results []models.Candidate) {
				slog.Debug("Search results replaced", "trip_id", trip, "results", len(results))
			},
			SubscriptionFailed: func(purpose storage.Purpose, err error) {
				slog.Error("Subscription failed", "trip_id", trip, "purpose", purpose, "error", err)
			},
		},
	})
	if err := p.engine.Start(ctx); err != nil {
		p.store.Close()
		return nil, err
	}
	return p, nil
}

// waitItinerary blocks until a delivered itinerary satisfies cond.
func (p *participant) waitItinerary(ctx context.Context, cond func([]models.ItineraryItem) bool) ([]models.ItineraryItem, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case items := <-p.itinerary:
			if cond(items) {
				return items, nil
			}
		}
	}
}

func (p *participant) close() {
	if err := p.engine.Stop(); err != nil {
		slog.Warn("Engine stop reported errors", "error", err)
	}
	p.store.Close()
}
