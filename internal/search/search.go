// Package search turns free-text queries into itinerary candidates using a
// generative search service.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/mmynk/tripsync/internal/metrics"
	"github.com/mmynk/tripsync/internal/models"
)

// ErrMalformedResponse is returned when the service reply is not a usable candidate list.
var ErrMalformedResponse = errors.New("malformed search response")

// Generator is the external generative service: prompt in, JSON text out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options configure a Bridge.
type Options struct {
	Region   string
	Audience string

	// Timeout bounds a single query, zero means no limit.
	Timeout time.Duration

	// CacheTTL keeps successful results per query, zero disables the cache.
	CacheTTL time.Duration
}

// Bridge adapts a Generator to the candidate shape.
type Bridge struct {
	gen   Generator
	opts  Options
	cache *ttlcache.Cache[string, []models.Candidate]
}

// NewBridge creates a Bridge.
func NewBridge(gen Generator, opts Options) *Bridge {
	b := &Bridge{gen: gen, opts: opts}
	if opts.CacheTTL > 0 {
		b.cache = ttlcache.New[string, []models.Candidate](
			ttlcache.WithTTL[string, []models.Candidate](opts.CacheTTL),
			ttlcache.WithCapacity[string, []models.Candidate](256),
		)
	}
	return b
}

// Prompt builds the instruction sent for a query.
func (b *Bridge) Prompt(query string) string {
	return fmt.Sprintf(
		"Find cool events or places for %s in %s. Search term: %s. "+
			"Return the results as a JSON list with: name, description, category, recommended_time.",
		b.opts.Audience, b.opts.Region, query)
}

// Query asks the service for candidates. Any transport or parse failure yields
// an empty list together with the error; partial results are never returned.
func (b *Bridge) Query(ctx context.Context, text string) ([]models.Candidate, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return []models.Candidate{}, nil
	}

	cacheKey := strings.ToLower(query)
	if b.cache != nil {
		if item := b.cache.Get(cacheKey); item != nil {
			metrics.SearchRequests.WithLabelValues("cached").Inc()
			return slices.Clone(item.Value()), nil
		}
	}

	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := b.gen.Generate(ctx, b.Prompt(query))
	if err != nil {
		metrics.SearchRequests.WithLabelValues("error").Inc()
		slog.Warn("Search request failed", "query", query, "error", err)
		return []models.Candidate{}, fmt.Errorf("search request failed: %w", err)
	}

	candidates, err := ParseCandidates(raw)
	if err != nil {
		metrics.SearchRequests.WithLabelValues("error").Inc()
		slog.Warn("Search response rejected", "query", query, "error", err)
		return []models.Candidate{}, err
	}

	metrics.SearchRequests.WithLabelValues("ok").Inc()
	slog.Info("Search completed", "query", query, "results", len(candidates),
		"duration_ms", time.Since(start).Milliseconds())

	if b.cache != nil {
		b.cache.Set(cacheKey, slices.Clone(candidates), ttlcache.DefaultTTL)
	}
	return candidates, nil
}

type rawCandidate struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	RecommendedTime string `json:"recommended_time"`
}

// ParseCandidates reads a candidate list from either a top-level JSON array or
// the "events" field of a top-level object. An object without "events" is an
// empty result. Anything else, or any entry that is not a named candidate,
// rejects the whole response.
func ParseCandidates(raw string) ([]models.Candidate, error) {
	body := bytes.TrimSpace([]byte(raw))
	if !json.Valid(body) {
		return []models.Candidate{}, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}

	var list json.RawMessage
	switch {
	case len(body) > 0 && body[0] == '[':
		list = body
	case len(body) > 0 && body[0] == '{':
		var wrapper struct {
			Events json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return []models.Candidate{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(wrapper.Events) == 0 || string(wrapper.Events) == "null" {
			return []models.Candidate{}, nil
		}
		list = wrapper.Events
	default:
		return []models.Candidate{}, fmt.Errorf("%w: expected a list or an object", ErrMalformedResponse)
	}

	var entries []rawCandidate
	if err := json.Unmarshal(list, &entries); err != nil {
		return []models.Candidate{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	out := make([]models.Candidate, 0, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return []models.Candidate{}, fmt.Errorf("%w: entry %d has no name", ErrMalformedResponse, i)
		}
		out = append(out, models.Candidate{
			Name:            e.Name,
			Description:     e.Description,
			Category:        e.Category,
			RecommendedTime: e.RecommendedTime,
			Source:          models.SourceSearch,
		})
	}
	return out, nil
}
