// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package persister

import (
	"context"
	"time"

	"github.com/tomtom215/syncrelay/internal/metrics"
)

// instrumented records latency and errors of every backend call.
type instrumented struct {
	next Backend
}

// Instrument wraps b so each operation is recorded in the persister metrics.
func Instrument(b Backend) Backend {
	if _, ok := b.(*instrumented); ok {
		return b
	}
	return &instrumented{next: b}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Load(ctx context.Context, pathID string) (Document, error) {
	start := time.Now()
	doc, err := i.next.Load(ctx, pathID)
	metrics.RecordPersisterOperation(i.next.Name(), "load", time.Since(start), err)
	return doc, err
}

func (i *instrumented) Save(ctx context.Context, pathID string, doc Document) error {
	start := time.Now()
	err := i.next.Save(ctx, pathID, doc)
	metrics.RecordPersisterOperation(i.next.Name(), "save", time.Since(start), err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, pathID string) error {
	start := time.Now()
	err := i.next.Delete(ctx, pathID)
	metrics.RecordPersisterOperation(i.next.Name(), "delete", time.Since(start), err)
	return err
}

func (i *instrumented) Close() error { return i.next.Close() }
