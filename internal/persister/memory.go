// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package persister

import (
	"context"
	"sync"
)

// Memory keeps documents in process memory.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]Document
	closed bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Load(_ context.Context, pathID string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	doc, ok := m.docs[pathID]
	if !ok {
		return make(Document), nil
	}
	return doc.Clone(), nil
}

func (m *Memory) Save(_ context.Context, pathID string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.docs[pathID] = doc.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, pathID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.docs, pathID)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
