// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package persister

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS syncrelay_documents (
	path_id    TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores documents as JSONB rows.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool to cfg.DSN and ensures the table exists.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns) //nolint:gosec // bounded by config validation
	poolCfg.MaxConns = int32(cfg.MaxConns) //nolint:gosec // bounded by config validation

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logging.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("PostgreSQL document store opened")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Load(ctx context.Context, pathID string) (Document, error) {
	var body []byte
	err := p.pool.QueryRow(ctx,
		`SELECT body FROM syncrelay_documents WHERE path_id = $1`, pathID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return make(Document), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	return UnmarshalDocument(body)
}

func (p *Postgres) Save(ctx context.Context, pathID string, doc Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO syncrelay_documents (path_id, body, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (path_id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
		pathID, string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, pathID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM syncrelay_documents WHERE path_id = $1`, pathID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
