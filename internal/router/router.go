// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package router delivers client frames to their recipients.
//
// Every frame is forwarded as From|<original frame>. Broadcasts go to every
// other client on the path, server-targeted frames go to the path resource,
// direct frames go to one client or are dropped when it is not connected.
// Frames that cannot be parsed are broadcast raw. Delivery failures are
// observed and never returned to the sender.
package router

import (
	"context"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/protocol"
	"github.com/tomtom215/syncrelay/internal/registry"
	"github.com/tomtom215/syncrelay/internal/resource"
)

// Resources looks up the resource of a path.
type Resources interface {
	Get(pathID string) (*resource.PathResource, bool)
}

// SendFailure describes one failed delivery.
type SendFailure struct {
	PathID string
	From   string
	To     string
	Err    error
}

// Config configures a Router.
type Config struct {
	// MaxBuffered caps each (path, client) buffer. Zero means unbounded.
	MaxBuffered int

	// OnSendFailed is called for every failed delivery.
	OnSendFailed func(SendFailure)
}

// Router routes frames between the clients of a path and its resource.
type Router struct {
	registry     *registry.Registry
	resources    Resources
	onSendFailed func(SendFailure)
	buffers      *bufferSet
}

// New creates a Router.
func New(reg *registry.Registry, resources Resources, cfg Config) *Router {
	return &Router{
		registry:     reg,
		resources:    resources,
		onSendFailed: cfg.OnSendFailed,
		buffers:      newBufferSet(cfg.MaxBuffered),
	}
}

// Handle routes one frame received from client from on pathID.
func (r *Router) Handle(ctx context.Context, from, pathID, raw string) {
	if raw == "" {
		return
	}
	envelope := protocol.CreateRawEnvelope(from, raw)

	msg, err := protocol.Parse(raw)
	if err != nil {
		metrics.ProtocolErrors.Inc()
		logging.Ctx(ctx).Debug().Err(err).Msg("Unparseable frame, broadcasting raw")
		r.broadcast(ctx, from, pathID, envelope)
		metrics.RecordRoute(metrics.RouteRaw)
		return
	}

	switch {
	case protocol.IsBroadcast(msg):
		r.broadcast(ctx, from, pathID, envelope)
		metrics.RecordRoute(metrics.RouteBroadcast)
	case protocol.IsServerTargeted(msg):
		r.toServer(ctx, from, pathID, envelope)
	default:
		r.direct(ctx, from, pathID, msg.To, envelope)
	}
}

func (r *Router) toServer(ctx context.Context, from, pathID, envelope string) {
	res, ok := r.resources.Get(pathID)
	if !ok {
		metrics.RecordRoute(metrics.RouteDropped)
		logging.Ctx(ctx).Debug().Msg("No resource for server-targeted frame, dropping")
		return
	}
	live, err := res.Deliver(ctx, envelope)
	if err != nil {
		r.sendFailed(ctx, SendFailure{PathID: pathID, From: from, To: protocol.ServerTarget, Err: err}, metrics.RouteServer)
		return
	}
	if live {
		metrics.RecordRoute(metrics.RouteServer)
	} else {
		metrics.RecordRoute(metrics.RouteBuffered)
	}
}

func (r *Router) direct(ctx context.Context, from, pathID, to, envelope string) {
	conn, ok := r.registry.Get(pathID, to)
	if !ok || !conn.IsOpen() {
		metrics.RecordRoute(metrics.RouteDropped)
		return
	}
	if err := conn.Send(ctx, envelope); err != nil {
		r.sendFailed(ctx, SendFailure{PathID: pathID, From: from, To: to, Err: err}, metrics.RouteDirect)
		return
	}
	metrics.RecordRoute(metrics.RouteDirect)
}

// broadcast sends payload to every client on pathID except from and
// reports whether at least one send succeeded.
func (r *Router) broadcast(ctx context.Context, from, pathID, payload string) bool {
	delivered := false
	for id, conn := range r.registry.GetAll(pathID) {
		if id == from {
			continue
		}
		if err := conn.Send(ctx, payload); err != nil {
			r.sendFailed(ctx, SendFailure{PathID: pathID, From: from, To: id, Err: err}, metrics.RouteBroadcast)
			continue
		}
		delivered = true
	}
	return delivered
}

func (r *Router) sendFailed(ctx context.Context, f SendFailure, route string) {
	metrics.RecordSendFailure(route)
	logging.Ctx(ctx).Warn().Err(f.Err).Str("to", f.To).Msg("Message send failed")
	if r.onSendFailed != nil {
		r.onSendFailed(f)
	}
}

// SendToClient sends payload to one client. It returns true if the client is
// connected and the send succeeded.
func (r *Router) SendToClient(ctx context.Context, clientID, pathID, payload string) bool {
	conn, ok := r.registry.Get(pathID, clientID)
	if !ok || !conn.IsOpen() {
		return false
	}
	if err := conn.Send(ctx, payload); err != nil {
		r.sendFailed(ctx, SendFailure{PathID: pathID, To: clientID, Err: err}, metrics.RouteDirect)
		return false
	}
	return true
}

// BroadcastToPath sends payload to every client on pathID except from. It
// returns true if at least one recipient received it.
func (r *Router) BroadcastToPath(ctx context.Context, from, pathID, payload string) bool {
	return r.broadcast(ctx, from, pathID, payload)
}

// BufferMessage holds payload for (pathID, clientID) until DrainBuffer.
func (r *Router) BufferMessage(pathID, clientID, payload string) {
	r.buffers.add(bufferKey{pathID, clientID}, payload)
	metrics.RecordRoute(metrics.RouteBuffered)
}

// DrainBuffer returns and clears the messages held for (pathID, clientID)
// in arrival order.
func (r *Router) DrainBuffer(pathID, clientID string) []string {
	return r.buffers.drain(bufferKey{pathID, clientID})
}

// DropBuffers discards every buffer of pathID.
func (r *Router) DropBuffers(pathID string) int {
	return r.buffers.dropPath(pathID)
}
