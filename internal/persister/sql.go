// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package persister

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomtom215/syncrelay/internal/logging"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS documents (
	path_id    TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const (
	sqlSelect = `SELECT body FROM documents WHERE path_id = ?`
	sqlUpsert = `INSERT INTO documents (path_id, body, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (path_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`
	sqlDelete = `DELETE FROM documents WHERE path_id = ?`
)

// SQL stores documents in a database/sql table. It serves both the SQLite
// and DuckDB drivers, which accept the same dialect for this schema.
type SQL struct {
	name   string
	db     *sql.DB
	closed atomic.Bool
}

// OpenSQLite opens the SQLite file at path. An empty path uses a private
// in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	dsn := ":memory:"
	if path != "" {
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; an in-memory database is per connection.
	db.SetMaxOpenConns(1)

	return newSQL(ctx, "sqlite", db, path)
}

// OpenDuckDB opens the DuckDB file at path. An empty path uses an in-memory database.
func OpenDuckDB(ctx context.Context, path string) (*SQL, error) {
	target := ":memory:"
	if path != "" {
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		target = path
	}

	// Disable auto-install/auto-load to prevent hangs in restricted network environments
	connStr := target + "?access_mode=read_write&autoinstall_known_extensions=false&autoload_known_extensions=false"

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newSQL(ctx, "duckdb", db, path)
}

func newSQL(ctx context.Context, name string, db *sql.DB, path string) (*SQL, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("driver", name).Str("path", path).Msg("SQL document store opened")
	return &SQL{name: name, db: db}, nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func (s *SQL) Name() string { return s.name }

func (s *SQL) Load(ctx context.Context, pathID string) (Document, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var body string
	err := s.db.QueryRowContext(ctx, sqlSelect, pathID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return make(Document), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	return UnmarshalDocument([]byte(body))
}

func (s *SQL) Save(ctx context.Context, pathID string, doc Document) error {
	if s.closed.Load() {
		return ErrClosed
	}

	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlUpsert, pathID, string(data)); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, pathID string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, sqlDelete, pathID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *SQL) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
