// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package router

import (
	"sync"

	"github.com/tomtom215/syncrelay/internal/metrics"
)

type bufferKey struct {
	pathID   string
	clientID string
}

// bufferSet holds pending messages per (path, client). When a buffer is at
// its cap the oldest message is discarded.
type bufferSet struct {
	mu      sync.Mutex
	max     int
	buffers map[bufferKey][]string
}

func newBufferSet(maxPerKey int) *bufferSet {
	return &bufferSet{
		max:     maxPerKey,
		buffers: make(map[bufferKey][]string),
	}
}

func (b *bufferSet) add(key bufferKey, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.buffers[key]
	if b.max > 0 && len(buf) >= b.max {
		buf = buf[1:]
		metrics.BufferOverflows.Inc()
		metrics.BufferedMessages.Dec()
	}
	b.buffers[key] = append(buf, payload)
	metrics.BufferedMessages.Inc()
}

func (b *bufferSet) drain(key bufferKey) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.buffers[key]
	delete(b.buffers, key)
	metrics.BufferedMessages.Sub(float64(len(buf)))
	return buf
}

func (b *bufferSet) dropPath(pathID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for key, buf := range b.buffers {
		if key.pathID == pathID {
			dropped += len(buf)
			delete(b.buffers, key)
		}
	}
	metrics.BufferedMessages.Sub(float64(dropped))
	return dropped
}
