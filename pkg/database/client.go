// Package database provides the SQLite client and migration utilities.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
)

// Client wraps the SQLite connection used by the daemon's stores.
type Client struct {
	db   *sql.DB
	path string
}

// DB returns the underlying connection for stores and health checks.
func (c *Client) DB() *sql.DB { return c.db }

// Path returns the database file path.
func (c *Client) Path() string { return c.path }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens (creating if needed) the SQLite database at path and
// applies pending migrations. WAL mode keeps readers unblocked during the
// store's serialized writes.
func NewClient(ctx context.Context, path string) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", url.PathEscape(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports one writer; a single connection sidesteps SQLITE_BUSY
	// between the daemon's own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{db: db, path: path}, nil
}
