// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/syncrelay/internal/registry"
	"github.com/tomtom215/syncrelay/internal/resource"
)

// RelayView is the read-only relay surface the API reports on.
type RelayView interface {
	Running() bool
	Stats() registry.Stats
	PathIDs() []string
	ClientIDs(pathID string) []string
	Resources() []resource.Info
}

// Handler serves the monitoring endpoints.
type Handler struct {
	relay     RelayView
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(relay RelayView) *Handler {
	return &Handler{relay: relay, startTime: time.Now()}
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string  `json:"status"`
	Paths   int     `json:"paths"`
	Clients int     `json:"clients"`
	Uptime  float64 `json:"uptime_seconds"`
}

// Health reports relay status and counts. It answers 503 while the relay
// is not accepting connections.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.relay.Stats()
	health := HealthStatus{
		Status:  "ok",
		Paths:   stats.Paths,
		Clients: stats.Clients,
		Uptime:  time.Since(h.startTime).Seconds(),
	}
	code := http.StatusOK
	if !h.relay.Running() {
		health.Status = "stopped"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(health)
}

// HealthLive answers 200 as long as the process serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady answers 200 only while the relay accepts connections.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if !h.relay.Running() {
		rw.ServiceUnavailable("relay not running")
		return
	}
	rw.Success(map[string]bool{"ready": true})
}

// Stats returns the path and client counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.relay.Stats())
}

// PathSummary describes one active path.
type PathSummary struct {
	PathID  string `json:"path_id"`
	Clients int    `json:"clients"`
}

// Paths lists the active paths, sorted by id.
func (h *Handler) Paths(w http.ResponseWriter, r *http.Request) {
	ids := h.relay.PathIDs()
	slices.Sort(ids)

	out := make([]PathSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, PathSummary{PathID: id, Clients: len(h.relay.ClientIDs(id))})
	}
	NewResponseWriter(w, r).SuccessList(out, len(out))
}

// PathClients lists the clients of one path. Path ids may contain slashes,
// so the route is a wildcard ending in /clients.
func (h *Handler) PathClients(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	pathID, ok := strings.CutSuffix(chi.URLParam(r, "*"), "/clients")
	if !ok || pathID == "" {
		rw.NotFound("unknown endpoint")
		return
	}

	ids := h.relay.ClientIDs(pathID)
	if len(ids) == 0 {
		rw.NotFound("path not active")
		return
	}
	slices.Sort(ids)
	rw.SuccessList(ids, len(ids))
}

// Resources lists the server-side path resources and their states.
func (h *Handler) Resources(w http.ResponseWriter, r *http.Request) {
	infos := h.relay.Resources()
	slices.SortFunc(infos, func(a, b resource.Info) int { return strings.Compare(a.PathID, b.PathID) })
	NewResponseWriter(w, r).SuccessList(infos, len(infos))
}
