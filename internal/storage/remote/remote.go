// Package remote implements storage.Store against a tripsync server.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"connectrpc.com/connect"

	"github.com/mmynk/tripsync/internal/middleware"
	"github.com/mmynk/tripsync/internal/rpc"
	"github.com/mmynk/tripsync/internal/storage"
)

// ErrStreamEnded is reported when the server closes a subscription without an error.
var ErrStreamEnded = errors.New("subscription stream ended")

// Store talks to the DocumentService of a tripsync server.
type Store struct {
	client rpc.DocumentServiceClient

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Store for the server at baseURL, authenticated with token.
func New(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Store {
	opts = append(opts, connect.WithInterceptors(middleware.BearerToken(token)))
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		client: rpc.NewDocumentServiceClient(httpClient, baseURL, opts...),
		ctx:    ctx,
		cancel: cancel,
	}
}

// IssueToken asks the server for an anonymous participant identity.
func IssueToken(ctx context.Context, httpClient connect.HTTPClient, baseURL string) (token, participantID string, err error) {
	client := rpc.NewSessionServiceClient(httpClient, baseURL)
	resp, err := client.IssueToken(ctx, connect.NewRequest(&rpc.IssueTokenRequest{}))
	if err != nil {
		return "", "", fmt.Errorf("failed to issue token: %w", err)
	}
	return resp.Msg.Token, resp.Msg.ParticipantID, nil
}

// Subscribe opens a snapshot stream. Snapshots and the final error are
// delivered from the stream goroutine. Unsubscribing ends the stream quietly;
// closing the store fails it with storage.ErrClosed.
func (s *Store) Subscribe(key storage.CollectionKey, onChange storage.SnapshotFunc, onError storage.ErrorFunc) storage.Unsubscribe {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if onError != nil {
			go onError(storage.ErrClosed)
		}
		return func() {}
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	s.mu.Unlock()

	var unsubscribed atomic.Bool
	go func() {
		defer s.wg.Done()
		err := s.stream(ctx, key, onChange)
		if unsubscribed.Load() {
			return
		}
		if s.ctx.Err() != nil {
			err = storage.ErrClosed
		}
		slog.Warn("Subscription ended", "collection", key.String(), "error", err)
		if onError != nil {
			onError(err)
		}
	}()

	return func() {
		unsubscribed.Store(true)
		cancel()
	}
}

func (s *Store) stream(ctx context.Context, key storage.CollectionKey, onChange storage.SnapshotFunc) error {
	stream, err := s.client.Subscribe(ctx, connect.NewRequest(&rpc.SubscribeRequest{Collection: rpc.RefOf(key)}))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}
	defer stream.Close()

	for stream.Receive() {
		if onChange != nil {
			onChange(stream.Msg().StorageDocuments())
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("subscription to %s failed: %w", key, err)
	}
	return fmt.Errorf("%w: %s", ErrStreamEnded, key)
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// Create implements storage.Store.
func (s *Store) Create(ctx context.Context, key storage.CollectionKey, data json.RawMessage) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	resp, err := s.client.Create(ctx, connect.NewRequest(&rpc.CreateRequest{Collection: rpc.RefOf(key), Data: data}))
	if err != nil {
		return "", fmt.Errorf("create in %s: %w", key, err)
	}
	return resp.Msg.ID, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key storage.CollectionKey, id string, data json.RawMessage) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.client.Set(ctx, connect.NewRequest(&rpc.SetRequest{Collection: rpc.RefOf(key), ID: id, Data: data}))
	if err != nil {
		return fmt.Errorf("set %s in %s: %w", id, key, err)
	}
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key storage.CollectionKey, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.client.Delete(ctx, connect.NewRequest(&rpc.DeleteRequest{Collection: rpc.RefOf(key), ID: id}))
	if err != nil {
		return fmt.Errorf("delete %s in %s: %w", id, key, err)
	}
	return nil
}

// Close ends every open stream and waits for them to finish.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}
