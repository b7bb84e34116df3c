// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/syncrelay/internal/relay"
)

// SchemaVersion is the current event schema version.
const SchemaVersion = 1

// Event types. Each maps to the subject <prefix>.<type>.
const (
	TypeServer = "server"
	TypePath   = "path"
	TypeClient = "client"
)

// Event is the payload published for every lifecycle change.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	Action        string    `json:"action"`
	PathID        string    `json:"path_id,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func newEvent(typ, action string, at time.Time) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		Type:          typ,
		Action:        action,
		Timestamp:     at.UTC(),
	}
}

// FromServerEvent converts a relay start or stop.
func FromServerEvent(ev relay.ServerEvent) Event {
	return newEvent(TypeServer, ev.Kind.String(), ev.At)
}

// FromPathEvent converts a path activation change.
func FromPathEvent(ev relay.PathEvent) Event {
	e := newEvent(TypePath, ev.Reason.String(), ev.At)
	e.PathID = ev.PathID
	return e
}

// FromClientEvent converts a client join or leave.
func FromClientEvent(ev relay.ClientEvent) Event {
	action := "disconnected"
	if ev.Connected() {
		action = "connected"
	}
	e := newEvent(TypeClient, action, ev.At)
	e.PathID = ev.PathID
	e.ClientID = ev.ClientID
	return e
}

// Subject returns the NATS subject for e under prefix.
func (e Event) Subject(prefix string) string {
	return prefix + "." + e.Type
}

// Marshal encodes e as JSON.
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a published event.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}
