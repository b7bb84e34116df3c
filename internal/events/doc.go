// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package events publishes relay lifecycle events to NATS.
//
// A Publisher attaches to a relay.Service as a server, path and client
// listener. Each callback builds an Event and enqueues it without blocking;
// Run drains the queue and publishes through a Watermill NATS publisher
// (core NATS, JetStream disabled).
//
// Subjects:
//
//	<prefix>.server   relay started or stopped
//	<prefix>.path     path activated or deactivated
//	<prefix>.client   client connected or disconnected
//
// Payloads are JSON-encoded Event values. When the queue is full the event
// is dropped and counted in syncrelay_events_dropped_total.
//
// EmbeddedServer runs an in-process NATS server for single-node deployments
// and tests.
package events
