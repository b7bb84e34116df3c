// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/syncrelay/internal/middleware"
)

// chiMiddleware adapts http.HandlerFunc middleware to Chi's func(http.Handler) http.Handler.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// NewRouter builds the HTTP routes. Every GET outside the monitoring
// endpoints is a WebSocket upgrade handled by upgrade.
func NewRouter(h *Handler, mw *ChiMiddleware, upgrade http.Handler) http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())

	// ========================
	// Health Endpoints
	// ========================
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Get("/health", h.Health)
		r.Get("/health/live", h.HealthLive)
		r.Get("/health/ready", h.HealthReady)
		r.Handle("/metrics", promhttp.Handler())
	})

	// ========================
	// Monitoring API
	// ========================
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Get("/stats", h.Stats)
		r.Get("/paths", h.Paths)
		r.Get("/paths/*", h.PathClients)
		r.Get("/resources", h.Resources)
	})

	// ========================
	// WebSocket Upgrades
	// ========================
	r.With(mw.RateLimitUpgrades()).Get("/*", upgrade.ServeHTTP)

	return r
}
