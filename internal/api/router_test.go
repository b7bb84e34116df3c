// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/syncrelay/internal/persister"
	"github.com/tomtom215/syncrelay/internal/registry"
	"github.com/tomtom215/syncrelay/internal/relay"
	"github.com/tomtom215/syncrelay/internal/resource"
	"github.com/tomtom215/syncrelay/internal/store"
	"github.com/tomtom215/syncrelay/internal/websocket"
)

type fakeRelay struct {
	running   bool
	paths     map[string][]string
	resources []resource.Info
}

func (f *fakeRelay) Running() bool { return f.running }

func (f *fakeRelay) Stats() registry.Stats {
	clients := 0
	for _, ids := range f.paths {
		clients += len(ids)
	}
	return registry.Stats{Paths: len(f.paths), Clients: clients}
}

func (f *fakeRelay) PathIDs() []string {
	out := make([]string, 0, len(f.paths))
	for id := range f.paths {
		out = append(out, id)
	}
	return out
}

func (f *fakeRelay) ClientIDs(pathID string) []string {
	return append([]string(nil), f.paths[pathID]...)
}

func (f *fakeRelay) Resources() []resource.Info { return f.resources }

func newTestRouter(view RelayView, upgrade http.Handler) http.Handler {
	if upgrade == nil {
		upgrade = http.NotFoundHandler()
	}
	return NewRouter(NewHandler(view), NewChiMiddleware(nil), upgrade)
}

func decodeResponse(t *testing.T, body string) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return resp
}

func TestRouter_Endpoints(t *testing.T) {
	view := &fakeRelay{
		running: true,
		paths: map[string][]string{
			"store-A":      {"c2", "c1"},
			"org/team/doc": {"c9"},
		},
		resources: []resource.Info{{PathID: "store-A", State: "ready"}},
	}
	router := newTestRouter(view, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "health", path: "/health", wantStatus: http.StatusOK, wantBody: `"status":"ok","paths":2,"clients":3`},
		{name: "live", path: "/health/live", wantStatus: http.StatusOK, wantBody: `"alive":true`},
		{name: "ready", path: "/health/ready", wantStatus: http.StatusOK, wantBody: `"ready":true`},
		{name: "stats", path: "/api/v1/stats", wantStatus: http.StatusOK, wantBody: `"data":{"paths":2,"clients":3}`},
		{name: "paths sorted", path: "/api/v1/paths", wantStatus: http.StatusOK, wantBody: `[{"path_id":"org/team/doc","clients":1},{"path_id":"store-A","clients":2}]`},
		{name: "clients", path: "/api/v1/paths/store-A/clients", wantStatus: http.StatusOK, wantBody: `"data":["c1","c2"]`},
		{name: "nested path clients", path: "/api/v1/paths/org/team/doc/clients", wantStatus: http.StatusOK, wantBody: `"data":["c9"]`},
		{name: "unknown path", path: "/api/v1/paths/nope/clients", wantStatus: http.StatusNotFound, wantBody: `"code":"NOT_FOUND"`},
		{name: "missing suffix", path: "/api/v1/paths/store-A", wantStatus: http.StatusNotFound},
		{name: "resources", path: "/api/v1/resources", wantStatus: http.StatusOK, wantBody: `"state":"ready"`},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantBody: "syncrelay_"},
		{name: "unknown api route", path: "/api/v1/nothing", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want substring %s", rec.Body.String(), tt.wantBody)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID header")
			}
		})
	}
}

func TestRouter_HealthWhenStopped(t *testing.T) {
	router := newTestRouter(&fakeRelay{}, nil)

	for _, path := range []string{"/health", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestRouter_ErrorEnvelopeCarriesRequestID(t *testing.T) {
	router := newTestRouter(&fakeRelay{running: true}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/paths/x/clients", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	resp := decodeResponse(t, rec.Body.String())
	if resp.Success || resp.Error == nil {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("error request id = %q, want req-123", resp.Error.RequestID)
	}
}

func TestRouter_UpgradeFallthrough(t *testing.T) {
	var gotPath string
	upgrade := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusTeapot)
	})
	router := newTestRouter(&fakeRelay{running: true}, upgrade)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/readme", nil))
	if rec.Code != http.StatusTeapot || gotPath != "/docs/readme" {
		t.Errorf("upgrade handler got %q status %d", gotPath, rec.Code)
	}
}

func TestRouter_UpgradeRateLimit(t *testing.T) {
	mw := NewChiMiddleware(&ChiMiddlewareConfig{UpgradeRequests: 2, UpgradeWindow: time.Minute})
	router := NewRouter(NewHandler(&fakeRelay{running: true}), mw, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/room", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [204 204 429]", codes)
	}
}

func TestServer_ListenAndCloseWithRelay(t *testing.T) {
	factory, err := store.NewFactory(persister.NewMemory(), store.FactoryOptions{})
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	r := relay.New(factory, relay.Config{AutoCleanup: true})
	router := NewRouter(NewHandler(r), NewChiMiddleware(nil), websocket.NewHandler(r, websocket.UpgradeOptions{}))
	srv := NewServer("127.0.0.1:0", router, time.Second)
	r.SetListener(srv)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	addr := srv.Addr()
	conn, resp, err := gorillaws.DefaultDialer.Dial("ws://"+addr+"/store-A?clientId=c1", nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Clients != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	health, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer health.Body.Close()
	var hs HealthStatus
	if err := json.NewDecoder(health.Body).Decode(&hs); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if hs.Status != "ok" || hs.Clients != 1 || hs.Paths != 1 {
		t.Errorf("health = %+v, want ok with 1 path and 1 client", hs)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	_, _, err = conn.ReadMessage()
	if !gorillaws.IsCloseError(err, gorillaws.CloseGoingAway) {
		t.Errorf("read after Stop error = %v, want going away close", err)
	}

	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("server still accepting after Stop")
	}
}

func TestServer_CloseWithoutListen(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.NotFoundHandler(), 0)
	if err := srv.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if srv.Errors() != nil {
		t.Error("Errors() should be nil before Listen")
	}
}
