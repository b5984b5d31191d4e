// Package session holds the identity of the local participant and the trip it has joined.
package session

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mmynk/tripsync/internal/storage"
)

var (
	ErrEmptyTripID      = errors.New("trip id must not be empty")
	ErrAlreadyJoined    = errors.New("session already joined a trip")
	ErrEmptyParticipant = errors.New("participant id must not be empty")
)

// Role is a cosmetic display label for a participant. It is not an access-control boundary.
type Role string

const (
	RoleParent Role = "Parent"
	RoleChild  Role = "Child"
)

// Roles is the closed set of display labels offered when joining.
var Roles = []Role{RoleParent, RoleChild}

// ParseRole matches a label case-insensitively, falling back to RoleChild.
func ParseRole(s string) Role {
	for _, r := range Roles {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r
		}
	}
	return RoleChild
}

// NewParticipantID returns a fresh opaque participant identifier.
func NewParticipantID() string {
	return uuid.New().String()
}

// Session is created unjoined and becomes joined exactly once.
type Session struct {
	participantID string

	mu     sync.RWMutex
	role   Role
	tripID string
	joined bool
}

// New creates an unjoined session for the given participant.
func New(participantID string, role Role) (*Session, error) {
	if participantID == "" {
		return nil, ErrEmptyParticipant
	}
	return &Session{participantID: participantID, role: role}, nil
}

// Join binds the session to a trip. It fails if the trip id is blank or the
// session has already joined.
func (s *Session) Join(tripID string) error {
	if strings.TrimSpace(tripID) == "" {
		return ErrEmptyTripID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return ErrAlreadyJoined
	}
	s.tripID = tripID
	s.joined = true
	return nil
}

// SetRole changes the display label. It can be called before or after joining;
// the new label is used by the next position write.
func (s *Session) SetRole(role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

func (s *Session) ParticipantID() string { return s.participantID }

func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) TripID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tripID
}

// Joined reports whether the session has joined a trip.
func (s *Session) Joined() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joined
}

// Key returns the address of the trip's collection for the given purpose.
func (s *Session) Key(purpose storage.Purpose) storage.CollectionKey {
	return storage.CollectionKey{TripID: s.TripID(), Purpose: purpose}
}
