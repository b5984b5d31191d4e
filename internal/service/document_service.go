package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/tripsync/internal/middleware"
	"github.com/mmynk/tripsync/internal/rpc"
	"github.com/mmynk/tripsync/internal/storage"
)

var (
	errNotObject     = errors.New("document data must be a JSON object")
	errEmptyID       = errors.New("document id is required")
	errForeignRecord = errors.New("presence records can only be written by their owner")
)

// DocumentService implements the Connect DocumentService over a storage backend.
type DocumentService struct {
	store storage.Store
}

// NewDocumentService creates a new DocumentService with the given storage backend.
func NewDocumentService(store storage.Store) *DocumentService {
	return &DocumentService{store: store}
}

// collectionKey validates the wire reference.
func collectionKey(ref rpc.CollectionRef) (storage.CollectionKey, error) {
	key := ref.Key()
	if err := key.Validate(); err != nil {
		return storage.CollectionKey{}, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return key, nil
}

// authorizeWrite enforces that presence documents are keyed by, and only
// written by, the caller's own participant ID.
func authorizeWrite(ctx context.Context, key storage.CollectionKey, id string) error {
	if key.Purpose != storage.PurposePresence {
		return nil
	}
	if id == "" || id != middleware.GetParticipantID(ctx) {
		return connect.NewError(connect.CodePermissionDenied, errForeignRecord)
	}
	return nil
}

func validateData(data json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return connect.NewError(connect.CodeInvalidArgument, errNotObject)
	}
	return nil
}

// storeError maps a backend failure to a Connect error.
func storeError(op string, err error) error {
	if errors.Is(err, storage.ErrClosed) {
		return connect.NewError(connect.CodeUnavailable, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return connect.NewError(connect.CodeCanceled, err)
	}
	return connect.NewError(connect.CodeInternal, fmt.Errorf("%s failed: %w", op, err))
}

// Create adds a document with a server-assigned id.
func (s *DocumentService) Create(ctx context.Context, req *connect.Request[rpc.CreateRequest]) (*connect.Response[rpc.CreateResponse], error) {
	key, err := collectionKey(req.Msg.Collection)
	if err != nil {
		return nil, err
	}
	if err := authorizeWrite(ctx, key, ""); err != nil {
		return nil, err
	}
	if err := validateData(req.Msg.Data); err != nil {
		return nil, err
	}

	id, err := s.store.Create(ctx, key, req.Msg.Data)
	if err != nil {
		slog.Error("Create failed", "collection", key.String(), "error", err)
		return nil, storeError("create", err)
	}

	slog.Debug("Document created", "collection", key.String(), "id", id)
	return connect.NewResponse(&rpc.CreateResponse{ID: id}), nil
}

// Set replaces or inserts the document with the given id.
func (s *DocumentService) Set(ctx context.Context, req *connect.Request[rpc.SetRequest]) (*connect.Response[rpc.SetResponse], error) {
	key, err := collectionKey(req.Msg.Collection)
	if err != nil {
		return nil, err
	}
	if req.Msg.ID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errEmptyID)
	}
	if err := authorizeWrite(ctx, key, req.Msg.ID); err != nil {
		return nil, err
	}
	if err := validateData(req.Msg.Data); err != nil {
		return nil, err
	}

	if err := s.store.Set(ctx, key, req.Msg.ID, req.Msg.Data); err != nil {
		slog.Error("Set failed", "collection", key.String(), "id", req.Msg.ID, "error", err)
		return nil, storeError("set", err)
	}
	return connect.NewResponse(&rpc.SetResponse{}), nil
}

// Delete removes a document. Deleting an unknown id succeeds.
func (s *DocumentService) Delete(ctx context.Context, req *connect.Request[rpc.DeleteRequest]) (*connect.Response[rpc.DeleteResponse], error) {
	key, err := collectionKey(req.Msg.Collection)
	if err != nil {
		return nil, err
	}
	if req.Msg.ID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errEmptyID)
	}
	if err := authorizeWrite(ctx, key, req.Msg.ID); err != nil {
		return nil, err
	}

	if err := s.store.Delete(ctx, key, req.Msg.ID); err != nil {
		slog.Error("Delete failed", "collection", key.String(), "id", req.Msg.ID, "error", err)
		return nil, storeError("delete", err)
	}
	return connect.NewResponse(&rpc.DeleteResponse{}), nil
}

// Subscribe streams the full collection on subscribe and after every change,
// until the client goes away or the backend fails the subscription.
func (s *DocumentService) Subscribe(ctx context.Context, req *connect.Request[rpc.SubscribeRequest], stream *connect.ServerStream[rpc.Snapshot]) error {
	key, err := collectionKey(req.Msg.Collection)
	if err != nil {
		return err
	}

	// One pending snapshot is enough: each one is the whole collection.
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
		func(err error) {
			failed <- err
		},
	)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			slog.Warn("Subscription failed", "collection", key.String(), "error", err)
			return storeError("subscribe", err)
		case docs := <-updates:
			if err := stream.Send(rpc.SnapshotOf(docs)); err != nil {
				return err
			}
		}
	}
}
