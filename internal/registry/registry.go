// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package registry tracks live client connections partitioned by path.
//
// A single mutex guards the whole structure; critical sections are O(1) and
// never perform I/O. Lifecycle events are delivered after the mutex is
// released but in the same order as the mutations that produced them, so a
// path's activation and deactivation events strictly alternate.
//
// Event handlers must not call Add, Remove or Clear: doing so deadlocks.
// Read operations (Get, GetAll, HasAny, ...) are safe from a handler.
package registry

import (
	"sync"

	"github.com/tomtom215/syncrelay/internal/metrics"
)

// EventKind identifies a registry lifecycle event.
type EventKind int

const (
	PathActivated EventKind = iota
	PathDeactivated
	ClientConnected
	ClientDisconnected
)

func (k EventKind) String() string {
	switch k {
	case PathActivated:
		return "path_activated"
	case PathDeactivated:
		return "path_deactivated"
	case ClientConnected:
		return "client_connected"
	case ClientDisconnected:
		return "client_disconnected"
	default:
		return "unknown"
	}
}

// Event is emitted for every successful Add and Remove. Connection is set for
// client events and nil for path events.
type Event struct {
	Kind       EventKind
	PathID     string
	ClientID   string
	Connection *Connection
}

// EventHandler receives registry events synchronously.
type EventHandler func(Event)

// Stats is a point-in-time count of the registry contents.
type Stats struct {
	Paths   int `json:"paths"`
	Clients int `json:"clients"`
}

// Registry maps (pathID, clientID) to at most one live Connection.
type Registry struct {
	mu      sync.Mutex
	paths   map[string]map[string]*Connection
	clients int

	// emitMu serializes mutation plus event delivery.
	emitMu  sync.Mutex
	onEvent EventHandler
}

// New creates an empty registry. onEvent may be nil.
func New(onEvent EventHandler) *Registry {
	return &Registry{
		paths:   make(map[string]map[string]*Connection),
		onEvent: onEvent,
	}
}

// AddResult is the outcome of AddWithLimit.
type AddResult int

const (
	Added AddResult = iota
	Duplicate
	PathFull
)

func (a AddResult) String() string {
	switch a {
	case Added:
		return "added"
	case Duplicate:
		return "duplicate"
	case PathFull:
		return "path_full"
	default:
		return "unknown"
	}
}

// Add registers conn. It returns false and leaves the existing entry in place
// if (pathID, clientID) is already registered.
func (r *Registry) Add(pathID, clientID string, conn *Connection) bool {
	return r.AddWithLimit(pathID, clientID, conn, 0) == Added
}

// AddWithLimit registers conn unless the key is taken or the path already
// holds limit clients. The check and the insert happen under one lock. A
// limit of zero or less means unlimited.
func (r *Registry) AddWithLimit(pathID, clientID string, conn *Connection, limit int) AddResult {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	clients := r.paths[pathID]
	if _, dup := clients[clientID]; dup {
		r.mu.Unlock()
		return Duplicate
	}
	if limit > 0 && len(clients) >= limit {
		r.mu.Unlock()
		return PathFull
	}
	if clients == nil {
		clients = make(map[string]*Connection)
		r.paths[pathID] = clients
	}
	clients[clientID] = conn
	r.clients++
	activated := len(clients) == 1
	stats := Stats{Paths: len(r.paths), Clients: r.clients}
	r.mu.Unlock()

	metrics.UpdateRegistryGauges(stats.Paths, stats.Clients)
	if activated {
		r.emit(Event{Kind: PathActivated, PathID: pathID})
	}
	r.emit(Event{Kind: ClientConnected, PathID: pathID, ClientID: clientID, Connection: conn})
	return Added
}

// Remove unregisters (pathID, clientID). It returns false if nothing was
// registered under that key.
func (r *Registry) Remove(pathID, clientID string) bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	clients, ok := r.paths[pathID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	conn, ok := clients[clientID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(clients, clientID)
	r.clients--
	deactivated := len(clients) == 0
	if deactivated {
		delete(r.paths, pathID)
	}
	stats := Stats{Paths: len(r.paths), Clients: r.clients}
	r.mu.Unlock()

	metrics.UpdateRegistryGauges(stats.Paths, stats.Clients)
	r.emit(Event{Kind: ClientDisconnected, PathID: pathID, ClientID: clientID, Connection: conn})
	if deactivated {
		r.emit(Event{Kind: PathDeactivated, PathID: pathID})
	}
	return true
}

func (r *Registry) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

// Get returns the connection registered for (pathID, clientID).
func (r *Registry) Get(pathID, clientID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.paths[pathID][clientID]
	return conn, ok
}

// GetAll returns a snapshot of the connections on pathID.
func (r *Registry) GetAll(pathID string) map[string]*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	clients := r.paths[pathID]
	out := make(map[string]*Connection, len(clients))
	for id, conn := range clients {
		out[id] = conn
	}
	return out
}

// ClientIDs returns the ids of the clients on pathID in no particular order.
func (r *Registry) ClientIDs(pathID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	clients := r.paths[pathID]
	ids := make([]string, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of clients on pathID.
func (r *Registry) Count(pathID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths[pathID])
}

// PathIDs returns every path with at least one connection.
func (r *Registry) PathIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.paths))
	for id := range r.paths {
		ids = append(ids, id)
	}
	return ids
}

// HasAny reports whether pathID has at least one connection.
func (r *Registry) HasAny(pathID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths[pathID]) > 0
}

// Stats returns the number of active paths and clients.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Paths: len(r.paths), Clients: r.clients}
}

// Clear drops every entry without emitting events.
func (r *Registry) Clear() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	r.paths = make(map[string]map[string]*Connection)
	r.clients = 0
	r.mu.Unlock()

	metrics.UpdateRegistryGauges(0, 0)
}
