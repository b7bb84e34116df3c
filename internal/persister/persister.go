// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package persister stores one JSON document per path.

A Backend is shared by every path resource of the process. Each backend keys
documents by path id and treats a missing document as empty, so a freshly
created path starts from an empty store.

Backends:
  - memory: process-local map, lost on restart
  - badger: embedded BadgerDB key-value store
  - sqlite: single-file SQLite database (mattn/go-sqlite3)
  - duckdb: single-file DuckDB database (duckdb-go)
  - postgres: PostgreSQL over a pgx connection pool
  - mongo: MongoDB collection, one document per path

Open wraps the selected backend with Prometheus instrumentation and, when
enabled, a circuit breaker.
*/
package persister

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
)

// ErrClosed is returned by a backend used after Close.
var ErrClosed = errors.New("persister: backend closed")

// Document is the key/value state of one path.
type Document map[string]json.RawMessage

// Clone returns a shallow copy safe to hand to another goroutine.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Marshal encodes the document as a JSON object.
func (d Document) Marshal() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]json.RawMessage(d))
}

// UnmarshalDocument decodes a stored JSON object. Empty input is an empty document.
func UnmarshalDocument(data []byte) (Document, error) {
	doc := make(Document)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// Backend loads and saves path documents.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Load returns the document for pathID, or an empty document if none exists.
	Load(ctx context.Context, pathID string) (Document, error)

	// Save replaces the document for pathID.
	Save(ctx context.Context, pathID string, doc Document) error

	// Delete removes the document for pathID. Deleting a missing document is not an error.
	Delete(ctx context.Context, pathID string) error

	Close() error
}

// Open creates the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg *config.PersisterConfig) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Backend {
	case "", "memory":
		backend = NewMemory()
	case "badger":
		backend, err = OpenBadger(cfg.Badger)
	case "sqlite":
		backend, err = OpenSQLite(ctx, cfg.SQLite.Path)
	case "duckdb":
		backend, err = OpenDuckDB(ctx, cfg.DuckDB.Path)
	case "postgres":
		backend, err = OpenPostgres(ctx, cfg.Postgres)
	case "mongo":
		backend, err = OpenMongo(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown persister backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	backend = Instrument(backend)
	if cfg.CircuitBreaker.Enabled {
		backend = WithCircuitBreaker(backend, cfg.CircuitBreaker)
	}

	logging.Info().
		Str("backend", backend.Name()).
		Bool("circuit_breaker", cfg.CircuitBreaker.Enabled).
		Msg("Persister backend opened")
	return backend, nil
}
