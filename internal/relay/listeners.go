// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/registry"
)

// PathChangeReason says why a PathEvent fired.
type PathChangeReason int

const (
	PathActivated PathChangeReason = iota
	PathDeactivated
)

func (r PathChangeReason) String() string {
	switch r {
	case PathActivated:
		return "activated"
	case PathDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// ServerEventKind distinguishes relay start from stop.
type ServerEventKind int

const (
	ServerStarted ServerEventKind = iota
	ServerStopped
)

func (k ServerEventKind) String() string {
	switch k {
	case ServerStarted:
		return "started"
	case ServerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PathEvent reports a path gaining its first or losing its last client.
type PathEvent struct {
	PathID string
	Reason PathChangeReason
	At     time.Time
}

// ClientEvent reports a client joining or leaving a path. Connection is nil
// when the client left.
type ClientEvent struct {
	PathID     string
	ClientID   string
	Connection *registry.Connection
	At         time.Time
}

// Connected reports whether the event is a join.
func (e ClientEvent) Connected() bool {
	return e.Connection != nil
}

// ServerEvent reports the relay starting or stopping.
type ServerEvent struct {
	Kind ServerEventKind
	At   time.Time
}

type (
	PathListener   func(PathEvent)
	ClientListener func(ClientEvent)
	ServerListener func(ServerEvent)
)

type pathEntry struct {
	filter *string
	fn     PathListener
}

type clientEntry struct {
	filter *string
	fn     ClientListener
}

// listeners holds the registered callbacks. Dispatch iterates a snapshot so
// callbacks may add or remove listeners.
type listeners struct {
	mu     sync.RWMutex
	path   map[string]pathEntry
	client map[string]clientEntry
	server map[string]ServerListener
}

func newListeners() *listeners {
	return &listeners{
		path:   make(map[string]pathEntry),
		client: make(map[string]clientEntry),
		server: make(map[string]ServerListener),
	}
}

func matches(filter *string, pathID string) bool {
	return filter == nil || *filter == pathID
}

func copyFilter(pathID *string) *string {
	if pathID == nil {
		return nil
	}
	v := *pathID
	return &v
}

// AddPathListener registers fn for path activation changes on pathID, or on
// every path when pathID is nil. It returns the listener id.
func (s *Service) AddPathListener(pathID *string, fn PathListener) string {
	id := uuid.NewString()
	s.listeners.mu.Lock()
	s.listeners.path[id] = pathEntry{filter: copyFilter(pathID), fn: fn}
	s.listeners.mu.Unlock()
	return id
}

// AddClientListener registers fn for client joins and leaves on pathID, or
// on every path when pathID is nil. It returns the listener id.
func (s *Service) AddClientListener(pathID *string, fn ClientListener) string {
	id := uuid.NewString()
	s.listeners.mu.Lock()
	s.listeners.client[id] = clientEntry{filter: copyFilter(pathID), fn: fn}
	s.listeners.mu.Unlock()
	return id
}

// AddServerListener registers fn for relay start and stop.
func (s *Service) AddServerListener(fn ServerListener) string {
	id := uuid.NewString()
	s.listeners.mu.Lock()
	s.listeners.server[id] = fn
	s.listeners.mu.Unlock()
	return id
}

// RemoveListener unregisters the listener with id. Unknown ids are ignored.
func (s *Service) RemoveListener(id string) {
	s.listeners.mu.Lock()
	defer s.listeners.mu.Unlock()
	delete(s.listeners.path, id)
	delete(s.listeners.client, id)
	delete(s.listeners.server, id)
}

// onRegistryEvent translates registry events into listener calls.
func (s *Service) onRegistryEvent(ev registry.Event) {
	now := time.Now()
	switch ev.Kind {
	case registry.PathActivated:
		s.emitPath(PathEvent{PathID: ev.PathID, Reason: PathActivated, At: now})
	case registry.PathDeactivated:
		s.emitPath(PathEvent{PathID: ev.PathID, Reason: PathDeactivated, At: now})
	case registry.ClientConnected:
		s.emitClient(ClientEvent{PathID: ev.PathID, ClientID: ev.ClientID, Connection: ev.Connection, At: now})
	case registry.ClientDisconnected:
		s.emitClient(ClientEvent{PathID: ev.PathID, ClientID: ev.ClientID, At: now})
	}
}

func (s *Service) emitPath(ev PathEvent) {
	s.listeners.mu.RLock()
	fns := make([]PathListener, 0, len(s.listeners.path))
	for _, e := range s.listeners.path {
		if matches(e.filter, ev.PathID) {
			fns = append(fns, e.fn)
		}
	}
	s.listeners.mu.RUnlock()

	for _, fn := range fns {
		s.invoke(ev.PathID, "path listener", func() { fn(ev) })
	}
}

func (s *Service) emitClient(ev ClientEvent) {
	s.listeners.mu.RLock()
	fns := make([]ClientListener, 0, len(s.listeners.client))
	for _, e := range s.listeners.client {
		if matches(e.filter, ev.PathID) {
			fns = append(fns, e.fn)
		}
	}
	s.listeners.mu.RUnlock()

	for _, fn := range fns {
		s.invoke(ev.PathID, "client listener", func() { fn(ev) })
	}
}

func (s *Service) emitServer(kind ServerEventKind) {
	ev := ServerEvent{Kind: kind, At: time.Now()}

	s.listeners.mu.RLock()
	fns := make([]ServerListener, 0, len(s.listeners.server))
	for _, fn := range s.listeners.server {
		fns = append(fns, fn)
	}
	s.listeners.mu.RUnlock()

	for _, fn := range fns {
		s.invoke("", "server listener", func() { fn(ev) })
	}
}

// invoke runs a listener callback, turning a panic into an ignored error.
func (s *Service) invoke(pathID, operation string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.onError(pathID, operation, fmt.Errorf("listener panic: %v", rec))
		}
	}()
	fn()
}

func (s *Service) onError(pathID, operation string, err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(pathID, operation, err)
		return
	}
	logging.Warn().Err(err).Str("path_id", pathID).Str("operation", operation).Msg("Relay error ignored")
}
