// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/syncrelay/internal/metrics"
)

func TestPrometheusMetrics_LabelsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v1/paths/{pathID}/clients", PrometheusMetrics(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/paths/{pathID}/clients", "404")
	before := testutil.ToFloat64(counter)

	for _, path := range []string{"/api/v1/paths/room-1/clients", "/api/v1/paths/room-2/clients"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("Expected 2 requests on the route pattern, got %v", got)
	}
}

func TestPrometheusMetrics_DefaultStatusAndUnmatched(t *testing.T) {
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, unmatchedRoute, "200")
	before := testutil.ToFloat64(counter)

	handler := PrometheusMetrics(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/anything", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("Expected 1 unmatched request, got %v", got)
	}
}
