// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
//
// Writes are serialized; after each committed write the store reads the affected
// collection back and pushes it to in-process subscribers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/tripsync/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	broker *storage.Broker

	// mu orders write, read-back and publish so subscribers see snapshots in commit order.
	mu     sync.Mutex
	closed bool
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps SQLite writers from contending with each other.
	db.SetMaxOpenConns(1)

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db, broker: storage.NewBroker()}, nil
}

// Close fails every subscription and closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.broker.FailAll(storage.ErrClosed)
	return s.db.Close()
}

// Subscribe pushes the current contents of the collection and every later change.
func (s *SQLiteStore) Subscribe(key storage.CollectionKey, onChange storage.SnapshotFunc, onError storage.ErrorFunc) storage.Unsubscribe {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, unsubscribe := s.broker.Add(key, onChange, onError)
	if s.closed {
		s.broker.Fail(key, id, storage.ErrClosed)
		return unsubscribe
	}

	docs, err := s.snapshot(context.Background(), key)
	if err != nil {
		slog.Error("Failed to load snapshot", "collection", key.String(), "error", err)
		s.broker.Fail(key, id, err)
		return unsubscribe
	}
	s.broker.Offer(key, id, docs)
	return unsubscribe
}

// Create inserts a new document under a store-assigned, creation-ordered id.
func (s *SQLiteStore) Create(ctx context.Context, key storage.CollectionKey, data json.RawMessage) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	id := ulid.Make().String()

	err := s.write(ctx, key, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?)",
			key.String(), id, string(data), time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Set replaces a document, creating it if it does not exist.
func (s *SQLiteStore) Set(ctx context.Context, key storage.CollectionKey, id string, data json.RawMessage) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("set in %s: empty document id", key)
	}

	return s.write(ctx, key, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			key.String(), id, string(data), time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert document: %w", err)
		}
		return nil
	})
}

// Delete removes a document. Missing documents are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, key storage.CollectionKey, id string) error {
	return s.write(ctx, key, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE collection = ? AND id = ?",
			key.String(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return nil
	})
}

// write runs fn in a transaction and publishes the collection after commit.
func (s *SQLiteStore) write(ctx context.Context, key storage.CollectionKey, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if s.broker.Subscribers(key) == 0 {
		return nil
	}
	docs, err := s.snapshot(context.Background(), key)
	if err != nil {
		// The write itself succeeded; subscribers catch up on the next change.
		slog.Error("Failed to read back collection", "collection", key.String(), "error", err)
		return nil
	}
	s.broker.Publish(key, docs)
	return nil
}

// snapshot reads the collection in creation order.
func (s *SQLiteStore) snapshot(ctx context.Context, key storage.CollectionKey) ([]storage.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data FROM documents WHERE collection = ? ORDER BY seq",
		key.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []storage.Document{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, storage.Document{ID: id, Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}
