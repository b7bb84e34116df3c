// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package websocket

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/relay"
)

// ClientIDParam is the query parameter carrying the client id. Without it
// the Sec-WebSocket-Key of the handshake is used.
const ClientIDParam = "clientId"

// Acceptor takes over an upgraded socket. *relay.Service implements it.
type Acceptor interface {
	HandleConnection(ctx context.Context, conn relay.Conn, pathID, clientID string) error
}

// UpgradeOptions configures the upgrade handler.
type UpgradeOptions struct {
	Client           Options
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration

	// AllowedOrigins lists accepted Origin headers. "*" accepts any origin;
	// an empty list accepts only same-host origins.
	AllowedOrigins []string
}

// Handler upgrades requests and hands the sockets to an Acceptor. The path
// id is the URL path without its leading slash.
type Handler struct {
	acceptor Acceptor
	opts     UpgradeOptions
	upgrader websocket.Upgrader
}

// NewHandler creates an upgrade handler.
func NewHandler(acceptor Acceptor, opts UpgradeOptions) *Handler {
	h := &Handler{acceptor: acceptor, opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   opts.ReadBufferSize,
		WriteBufferSize:  opts.WriteBufferSize,
		HandshakeTimeout: opts.HandshakeTimeout,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(h.opts.AllowedOrigins, "*") || slices.Contains(h.opts.AllowedOrigins, origin) {
		return true
	}
	if len(h.opts.AllowedOrigins) > 0 {
		return false
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pathID := strings.TrimPrefix(r.URL.Path, "/")
	if pathID == "" {
		metrics.RecordRejected("missing_path")
		http.Error(w, "path id required", http.StatusBadRequest)
		return
	}

	clientID := r.URL.Query().Get(ClientIDParam)
	if clientID == "" {
		clientID = r.Header.Get("Sec-WebSocket-Key")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		metrics.RecordRejected("upgrade_failed")
		logging.Debug().Err(err).Str("path_id", pathID).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, h.opts.Client)
	if err := h.acceptor.HandleConnection(r.Context(), client, pathID, clientID); err != nil {
		logging.Warn().Err(err).Str("path_id", pathID).Str("client_id", clientID).Msg("Connection ended with error")
	}
}
