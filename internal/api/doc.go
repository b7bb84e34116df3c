// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package api provides the relay's HTTP surface using the Chi router.

Routes:

	GET /health                         status and counts, 503 when stopped
	GET /health/live                    liveness probe
	GET /health/ready                   readiness probe
	GET /metrics                        Prometheus metrics
	GET /api/v1/stats                   {"paths":n,"clients":m}
	GET /api/v1/paths                   active paths with client counts
	GET /api/v1/paths/<pathID>/clients  clients of one path
	GET /api/v1/resources               server-side resources and their states
	GET /<pathID>                       WebSocket upgrade

The monitoring endpoints are rate limited per IP with go-chi/httprate and
counted by route pattern. Upgrades have their own per-IP limit.

Server implements relay.Listener, so the relay opens and closes the HTTP
listener from its own Start and Stop.
*/
package api
