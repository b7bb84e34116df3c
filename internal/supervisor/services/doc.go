// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package services provides suture.Service wrappers for SyncRelay components.

Each wrapper translates a component lifecycle (Start/Stop, Run) into suture's
context-aware Serve pattern and implements fmt.Stringer so supervisor events
name the service.

Relay (RelayService):
  - Start binds the HTTP listener and begins accepting WebSocket upgrades
  - A listener failure stops the relay and returns an error so suture restarts it
  - On cancellation Stop closes every connection with 1001 and stops all
    path resources within the shutdown timeout

Event publisher (EventPublisherService):
  - Drains the lifecycle event queue into NATS
  - Publishes what is still queued before returning
  - A closed publisher returns suture.ErrDoNotRestart

Embedded NATS (NATSServerService):
  - Starts an in-process NATS server and waits until it is ready
  - Shuts it down on cancellation
*/
package services
