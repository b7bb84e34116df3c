// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrConnectionClosed is returned by Send on a connection that is no longer Active.
var ErrConnectionClosed = errors.New("connection closed")

// Transport is the send/close capability of one client socket.
// Implementations must allow Send and Close from different goroutines.
type Transport interface {
	Send(ctx context.Context, payload string) error
	Close(code int, reason string) error
}

// ConnState is the lifecycle state of a Connection.
type ConnState int32

const (
	StateActive ConnState = iota
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one live client socket bound to a path. A reconnecting client
// always gets a new Connection.
type Connection struct {
	ClientID    string
	PathID      string
	ConnectedAt time.Time

	transport Transport
	state     atomic.Int32
}

// NewConnection wraps t in an Active connection.
func NewConnection(pathID, clientID string, t Transport) *Connection {
	return &Connection{
		ClientID:    clientID,
		PathID:      pathID,
		ConnectedAt: time.Now(),
		transport:   t,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// IsOpen reports whether the connection accepts sends.
func (c *Connection) IsOpen() bool {
	return c.State() == StateActive
}

// Send writes payload to the client.
func (c *Connection) Send(ctx context.Context, payload string) error {
	if !c.IsOpen() {
		return ErrConnectionClosed
	}
	return c.transport.Send(ctx, payload)
}

// Close moves the connection to Closed and closes the transport once.
// Later calls are no-ops and return nil.
func (c *Connection) Close(code int, reason string) error {
	if !c.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return nil
	}
	err := c.transport.Close(code, reason)
	c.state.Store(int32(StateClosed))
	return err
}
