// Package presence publishes the local participant's position and projects everyone's.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mmynk/tripsync/internal/collection"
	"github.com/mmynk/tripsync/internal/metrics"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/position"
	"github.com/mmynk/tripsync/internal/session"
	"github.com/mmynk/tripsync/internal/storage"
)

// Options configure a Store.
type Options struct {
	// MinInterval bounds how often PublishSelf writes. Zero writes on every fix.
	MinInterval time.Duration
}

// Store wraps the presence collection of one trip.
type Store struct {
	coll    *collection.RemoteCollection[models.PositionRecord]
	session *session.Session
	gate    *position.Gate
	now     func() time.Time

	mu          sync.RWMutex
	records     []models.PositionRecord
	lastWritten *models.Fix
}

// New creates a Store that writes the session participant's record.
func New(store storage.Store, sess *session.Session, opts Options) *Store {
	return &Store{
		coll:    collection.New[models.PositionRecord](store, sess.Key(storage.PurposePresence)),
		session: sess,
		gate:    position.NewGate(opts.MinInterval),
		now:     time.Now,
		records: []models.PositionRecord{},
	}
}

// Subscribe keeps the projection current. onUpdate, if set, receives each new projection.
func (s *Store) Subscribe(onUpdate func([]models.PositionRecord), onError func(error)) *collection.Subscription {
	return s.coll.Subscribe(func(docs []collection.Doc[models.PositionRecord]) {
		records := make([]models.PositionRecord, len(docs))
		for i, d := range docs {
			records[i] = d.Data
			records[i].ID = d.ID
		}

		s.mu.Lock()
		s.records = records
		s.mu.Unlock()

		if onUpdate != nil {
			onUpdate(slices.Clone(records))
		}
	}, onError)
}

// PublishSelf upserts the participant's own record with fix. A fix at the
// coordinates last written, or one inside the MinInterval window, is skipped
// and reports written=false. A failed write leaves the window open.
func (s *Store) PublishSelf(ctx context.Context, fix models.Fix) (written bool, err error) {
	s.mu.RLock()
	unchanged := s.lastWritten != nil && *s.lastWritten == fix
	s.mu.RUnlock()
	if unchanged {
		metrics.PresenceWrites.WithLabelValues("unchanged").Inc()
		return false, nil
	}

	now := s.now()
	release, ok := s.gate.Reserve(now)
	if !ok {
		metrics.PresenceWrites.WithLabelValues("skipped").Inc()
		return false, nil
	}

	record := models.PositionRecord{
		Name:      string(s.session.Role()),
		Lat:       fix.Lat,
		Lng:       fix.Lng,
		UpdatedAt: now.UnixMilli(),
	}
	if err := s.coll.Set(ctx, s.session.ParticipantID(), record); err != nil {
		release()
		metrics.PresenceWrites.WithLabelValues("failed").Inc()
		return false, err
	}

	s.mu.Lock()
	s.lastWritten = &fix
	s.mu.Unlock()

	metrics.PresenceWrites.WithLabelValues("written").Inc()
	slog.Debug("Position published", "participant_id", s.session.ParticipantID(), "lat", fix.Lat, "lng", fix.Lng)
	return true, nil
}

// ProjectedPositions returns every known record, the caller's own included.
func (s *Store) ProjectedPositions() []models.PositionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Self returns the caller's own record from the latest snapshot.
func (s *Store) Self() (models.PositionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == s.session.ParticipantID() {
			return r, true
		}
	}
	return models.PositionRecord{}, false
}
