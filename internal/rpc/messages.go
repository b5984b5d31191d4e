package rpc

import (
	"encoding/json"

	"github.com/mmynk/tripsync/internal/storage"
)

// CollectionRef names a collection on the wire.
type CollectionRef struct {
	TripID  string `json:"trip_id"`
	Purpose string `json:"purpose"`
}

// RefOf converts a storage key to its wire form.
func RefOf(key storage.CollectionKey) CollectionRef {
	return CollectionRef{TripID: key.TripID, Purpose: string(key.Purpose)}
}

// Key converts the reference back to a storage key.
func (r CollectionRef) Key() storage.CollectionKey {
	return storage.CollectionKey{TripID: r.TripID, Purpose: storage.Purpose(r.Purpose)}
}

type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type CreateRequest struct {
	Collection CollectionRef   `json:"collection"`
	Data       json.RawMessage `json:"data"`
}

type CreateResponse struct {
	ID string `json:"id"`
}

type SetRequest struct {
	Collection CollectionRef   `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
}

type SetResponse struct{}

type DeleteRequest struct {
	Collection CollectionRef `json:"collection"`
	ID         string        `json:"id"`
}

type DeleteResponse struct{}

type SubscribeRequest struct {
	Collection CollectionRef `json:"collection"`
}

// Snapshot is the full content of a collection at one point in time.
type Snapshot struct {
	Documents []Document `json:"documents"`
}

// SnapshotOf converts storage documents to their wire form.
func SnapshotOf(docs []storage.Document) *Snapshot {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = Document{ID: d.ID, Data: d.Data}
	}
	return &Snapshot{Documents: out}
}

// StorageDocuments converts the snapshot back to storage documents.
func (s *Snapshot) StorageDocuments() []storage.Document {
	out := make([]storage.Document, len(s.Documents))
	for i, d := range s.Documents {
		out[i] = storage.Document{ID: d.ID, Data: d.Data}
	}
	return out
}

// IssueTokenRequest asks for an anonymous participant token. A caller that
// already holds a valid token gets a fresh one for the same participant.
type IssueTokenRequest struct{}

type IssueTokenResponse struct {
	Token         string `json:"token"`
	ParticipantID string `json:"participant_id"`
}
