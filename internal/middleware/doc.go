// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package middleware provides HTTP middleware for the monitoring API.

Key Components:

  - Request ID: UUID-based request tracking, propagated into the logging
    context as the correlation id
  - Prometheus Metrics: request counting labelled by the chi route pattern

Both are plain http.HandlerFunc wrappers; the api package adapts them to
chi with chiMiddleware:

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chiMiddleware(middleware.PrometheusMetrics))

The WebSocket upgrade route is deliberately outside PrometheusMetrics: a
hijacked connection never writes a status through the wrapper.
*/
package middleware
