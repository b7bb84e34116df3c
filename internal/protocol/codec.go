// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package protocol implements the relay wire format.
//
// A frame is a pipe separated record:
//
//	To|Type
//	To|RequestID|Type
//	To|RequestID|Type|Body
//
// An empty To addresses every other client on the path, the reserved target
// "S" addresses the path's server-side client, anything else is a client id.
// When the relay forwards a frame it prepends the sender:
//
//	From|To|RequestID|Type|Body
//
// Bodies are opaque and must not contain '|'. Fields after the fourth are
// ignored.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Separator delimits fields on the wire.
const Separator = "|"

// ServerTarget is the reserved recipient id of the server-side client.
const ServerTarget = "S"

// ErrMalformedMessage is returned when a frame has fewer than two fields.
var ErrMalformedMessage = errors.New("malformed message")

// ParseError describes a frame that could not be parsed.
type ParseError struct {
	Raw    string
	Fields int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed message: %d field(s), need at least 2", e.Fields)
}

// Unwrap allows errors.Is(err, ErrMalformedMessage).
func (e *ParseError) Unwrap() error {
	return ErrMalformedMessage
}

// Message is a parsed frame. From is filled in by the router, never parsed.
type Message struct {
	From      string
	To        string
	RequestID string
	Type      string
	Body      string
}

// Parse decodes a frame. It never fails for frames with two or more fields.
func Parse(raw string) (Message, error) {
	parts := strings.SplitN(raw, Separator, 5)
	switch len(parts) {
	case 0, 1:
		return Message{}, &ParseError{Raw: raw, Fields: len(parts)}
	case 2:
		return Message{To: parts[0], Type: parts[1]}, nil
	case 3:
		return Message{To: parts[0], RequestID: parts[1], Type: parts[2]}, nil
	default:
		return Message{To: parts[0], RequestID: parts[1], Type: parts[2], Body: parts[3]}, nil
	}
}

// Serialize encodes m without its From field. Optional fields are omitted
// rather than left empty, so a frame never ends with a separator.
func Serialize(m Message) string {
	var b strings.Builder
	b.Grow(len(m.To) + len(m.RequestID) + len(m.Type) + len(m.Body) + 3)
	b.WriteString(m.To)
	// A body keeps the request id slot, even empty, so it stays fourth.
	if m.RequestID != "" || m.Body != "" {
		b.WriteString(Separator)
		b.WriteString(m.RequestID)
	}
	b.WriteString(Separator)
	b.WriteString(m.Type)
	if m.Body != "" {
		b.WriteString(Separator)
		b.WriteString(m.Body)
	}
	return b.String()
}

// IsBroadcast reports whether m addresses every other client on the path.
func IsBroadcast(m Message) bool {
	return m.To == ""
}

// IsServerTargeted reports whether m addresses the server-side client.
func IsServerTargeted(m Message) bool {
	return m.To == ServerTarget
}

// CreateRawEnvelope prefixes payload with the sender id.
func CreateRawEnvelope(from, payload string) string {
	return from + Separator + payload
}

// SplitEnvelope reverses CreateRawEnvelope.
func SplitEnvelope(raw string) (from, payload string, ok bool) {
	return strings.Cut(raw, Separator)
}

// ParseEnvelope splits a forwarded frame and parses its payload, setting From.
func ParseEnvelope(raw string) (Message, error) {
	from, payload, ok := SplitEnvelope(raw)
	if !ok {
		return Message{}, &ParseError{Raw: raw, Fields: 1}
	}
	m, err := Parse(payload)
	if err != nil {
		return Message{}, err
	}
	m.From = from
	return m, nil
}
