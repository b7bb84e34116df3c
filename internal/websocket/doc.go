// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package websocket adapts gorilla/websocket sockets to the relay.

Key Components:

  - Client: one upgraded socket implementing relay.Conn
  - Handler: the HTTP upgrade endpoint that resolves the path and client ids
    and hands the socket to the relay

Each client has one write goroutine:

  - writePump: writes queued text frames and periodic pings, then the close
    frame once Close is called

Reads happen on the relay's read loop through Receive, which skips binary
frames and resets the read deadline on every frame and pong.

Addressing:

	ws://host:port/<pathID>?clientId=<clientID>

The path id is the URL path without its leading slash and may contain
slashes. Without clientId the handshake's Sec-WebSocket-Key becomes the
client id.

Backpressure:

Send never blocks. When a client's queue is full the frame is rejected with
ErrQueueFull, which the relay counts as a send failure for that recipient
only.
*/
package websocket
