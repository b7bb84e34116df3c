// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package persister

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
)

const badgerKeyPrefix = "doc:"

// Badger stores documents in an embedded BadgerDB.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database at cfg.Path.
func OpenBadger(cfg config.BadgerConfig) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("BadgerDB document store opened")
	return &Badger{db: db}, nil
}

func badgerKey(pathID string) []byte {
	return []byte(badgerKeyPrefix + pathID)
}

func (b *Badger) Name() string { return "badger" }

func (b *Badger) Load(_ context.Context, pathID string) (Document, error) {
	if b.db.IsClosed() {
		return nil, ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(pathID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return make(Document), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return UnmarshalDocument(data)
}

func (b *Badger) Save(_ context.Context, pathID string, doc Document) error {
	if b.db.IsClosed() {
		return ErrClosed
	}

	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(badgerKey(pathID), data))
	})
}

func (b *Badger) Delete(_ context.Context, pathID string) error {
	if b.db.IsClosed() {
		return ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(pathID))
	})
}

func (b *Badger) Close() error {
	if b.db.IsClosed() {
		return nil
	}
	return b.db.Close()
}
