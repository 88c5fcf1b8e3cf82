// Package store persists pipelines, episodes, character references, and the
// daemon's event/history logs in SQLite. Entities are stored as JSON-blob
// rows; the schema only indexes what list queries need.
package store

import (
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite connection. Writes are serialized behind a mutex;
// SQLite has a single writer and the daemon's write rate is tiny.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
}

// New returns a store over an already-migrated database connection.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.With("component", "store"),
	}
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
