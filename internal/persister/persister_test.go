// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package persister

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/metrics"
)

// exerciseBackend runs the behavior every backend must share.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	doc, err := b.Load(ctx, "rooms/missing")
	if err != nil {
		t.Fatalf("Load(missing) error = %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("Load(missing) = %v, want empty document", doc)
	}

	want := Document{
		"title": json.RawMessage(`"hello"`),
		"count": json.RawMessage(`3`),
		"tags":  json.RawMessage(`["a","b"]`),
	}
	if err := b.Save(ctx, "rooms/a", want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := b.Load(ctx, "rooms/a")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	assertDocEqual(t, got, want)

	// Overwrite replaces the whole document.
	next := Document{"count": json.RawMessage(`4`)}
	if err := b.Save(ctx, "rooms/a", next); err != nil {
		t.Fatalf("Save(overwrite) error = %v", err)
	}
	got, err = b.Load(ctx, "rooms/a")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	assertDocEqual(t, got, next)

	// Paths are isolated.
	other, err := b.Load(ctx, "rooms/b")
	if err != nil {
		t.Fatalf("Load(other) error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Load(other) = %v, want empty", other)
	}

	if err := b.Delete(ctx, "rooms/a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := b.Delete(ctx, "rooms/a"); err != nil {
		t.Fatalf("Delete(missing) error = %v", err)
	}
	got, err = b.Load(ctx, "rooms/a")
	if err != nil {
		t.Fatalf("Load(after delete) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load(after delete) = %v, want empty", got)
	}
}

func assertDocEqual(t *testing.T, got, want Document) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("document has %d keys, want %d (%v)", len(got), len(want), got)
	}
	for k, w := range want {
		g, ok := got[k]
		if !ok {
			t.Errorf("key %q missing", k)
			continue
		}
		var gv, wv interface{}
		if err := json.Unmarshal(g, &gv); err != nil {
			t.Fatalf("decode %q: %v", k, err)
		}
		if err := json.Unmarshal(w, &wv); err != nil {
			t.Fatalf("decode want %q: %v", k, err)
		}
		gb, _ := json.Marshal(gv)
		wb, _ := json.Marshal(wv)
		if string(gb) != string(wb) {
			t.Errorf("key %q = %s, want %s", k, g, w)
		}
	}
}

func TestMemory(t *testing.T) {
	b := NewMemory()
	exerciseBackend(t, b)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := b.Load(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close error = %v, want ErrClosed", err)
	}
}

func TestMemory_LoadReturnsCopy(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	if err := b.Save(ctx, "p", Document{"k": json.RawMessage(`1`)}); err != nil {
		t.Fatal(err)
	}
	doc, _ := b.Load(ctx, "p")
	doc["k"] = json.RawMessage(`2`)
	doc["extra"] = json.RawMessage(`true`)

	again, _ := b.Load(ctx, "p")
	if string(again["k"]) != "1" || len(again) != 1 {
		t.Errorf("stored document mutated through Load result: %v", again)
	}
}

func TestBadger_InMemory(t *testing.T) {
	b, err := OpenBadger(config.BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	exerciseBackend(t, b)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := b.Save(context.Background(), "x", Document{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Save after Close error = %v, want ErrClosed", err)
	}
}

func TestBadger_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := OpenBadger(config.BadgerConfig{Path: dir})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	if err := b.Save(ctx, "docs/1", Document{"v": json.RawMessage(`"kept"`)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b, err = OpenBadger(config.BadgerConfig{Path: dir})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer b.Close()

	doc, err := b.Load(ctx, "docs/1")
	if err != nil {
		t.Fatal(err)
	}
	if string(doc["v"]) != `"kept"` {
		t.Errorf("reloaded v = %s, want \"kept\"", doc["v"])
	}
}

func TestSQLite(t *testing.T) {
	b, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "docs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer b.Close()

	if b.Name() != "sqlite" {
		t.Errorf("Name() = %q", b.Name())
	}
	exerciseBackend(t, b)
}

func TestSQLite_InMemory(t *testing.T) {
	b, err := OpenSQLite(context.Background(), "")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	exerciseBackend(t, b)

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Load(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close error = %v, want ErrClosed", err)
	}
}

func TestDuckDB(t *testing.T) {
	b, err := OpenDuckDB(context.Background(), filepath.Join(t.TempDir(), "docs.duckdb"))
	if err != nil {
		t.Fatalf("OpenDuckDB() error = %v", err)
	}
	defer b.Close()

	if b.Name() != "duckdb" {
		t.Errorf("Name() = %q", b.Name())
	}
	exerciseBackend(t, b)
}

func TestUnmarshalDocument(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		keys    int
		wantErr bool
	}{
		{name: "empty input", input: "", keys: 0},
		{name: "empty object", input: "{}", keys: 0},
		{name: "two keys", input: `{"a":1,"b":{"c":true}}`, keys: 2},
		{name: "array", input: `[1,2]`, wantErr: true},
		{name: "garbage", input: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := UnmarshalDocument([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(doc) != tt.keys {
				t.Errorf("len = %d, want %d", len(doc), tt.keys)
			}
		})
	}
}

func TestDocument_MarshalNil(t *testing.T) {
	var d Document
	data, err := d.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("Marshal(nil) = %s, want {}", data)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.PersisterConfig
		wantName string
		wantErr  bool
	}{
		{name: "default memory", cfg: config.PersisterConfig{}, wantName: "memory"},
		{name: "badger in memory", cfg: config.PersisterConfig{Backend: "badger", Badger: config.BadgerConfig{InMemory: true}}, wantName: "badger"},
		{name: "sqlite", cfg: config.PersisterConfig{Backend: "sqlite"}, wantName: "sqlite"},
		{name: "unknown", cfg: config.PersisterConfig{Backend: "etcd"}, wantErr: true},
		{
			name: "memory with breaker",
			cfg: config.PersisterConfig{
				Backend: "memory",
				CircuitBreaker: config.CircuitBreakerConfig{
					Enabled: true, MaxRequests: 1, Timeout: time.Second, FailureThreshold: 3,
				},
			},
			wantName: "memory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(context.Background(), &tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer b.Close()
			if b.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", b.Name(), tt.wantName)
			}
			if tt.cfg.CircuitBreaker.Enabled {
				if _, ok := b.(*Breaker); !ok {
					t.Errorf("Open() = %T, want *Breaker", b)
				}
			}
		})
	}
}

// flakyBackend fails every call while failing is set.
type flakyBackend struct {
	*Memory
	mu      sync.Mutex
	failing bool
	calls   int
}

var errBackendDown = errors.New("backend down")

func (f *flakyBackend) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *flakyBackend) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return errBackendDown
	}
	return nil
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Load(ctx context.Context, pathID string) (Document, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.Memory.Load(ctx, pathID)
}

func (f *flakyBackend) Save(ctx context.Context, pathID string, doc Document) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.Memory.Save(ctx, pathID, doc)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	flaky := &flakyBackend{Memory: NewMemory(), failing: true}
	b := WithCircuitBreaker(flaky, config.CircuitBreakerConfig{
		MaxRequests:      1,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
	})
	ctx := context.Background()

	if b.State() != gobreaker.StateClosed {
		t.Fatalf("initial state = %v, want closed", b.State())
	}

	for i := 0; i < 3; i++ {
		if err := b.Save(ctx, "p", Document{}); !errors.Is(err, errBackendDown) {
			t.Fatalf("Save #%d error = %v, want errBackendDown", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", b.State())
	}

	rejectedBefore := testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("persister-flaky", "rejected"))
	calls := flaky.calls
	if _, err := b.Load(ctx, "p"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("Load while open error = %v, want ErrOpenState", err)
	}
	if flaky.calls != calls {
		t.Error("open breaker forwarded the call to the backend")
	}
	if got := testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("persister-flaky", "rejected")); got != rejectedBefore+1 {
		t.Errorf("rejected counter = %v, want %v", got, rejectedBefore+1)
	}

	// Recovers through half-open once the backend is healthy.
	flaky.setFailing(false)
	time.Sleep(80 * time.Millisecond)

	if err := b.Save(ctx, "p", Document{"ok": json.RawMessage(`true`)}); err != nil {
		t.Fatalf("Save after timeout error = %v", err)
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("state after successful trial = %v, want closed", b.State())
	}
	doc, err := b.Load(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if string(doc["ok"]) != "true" {
		t.Errorf("Load through breaker = %v", doc)
	}
}

func TestBreaker_IgnoresCancellation(t *testing.T) {
	cancelled := &cancelBackend{Memory: NewMemory()}
	b := WithCircuitBreaker(cancelled, config.CircuitBreakerConfig{
		MaxRequests: 1, Timeout: time.Minute, FailureThreshold: 1,
	})

	if err := b.Save(context.Background(), "p", Document{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Save error = %v, want context.Canceled", err)
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

type cancelBackend struct{ *Memory }

func (c *cancelBackend) Save(context.Context, string, Document) error { return context.Canceled }

func TestInstrument_RecordsErrors(t *testing.T) {
	flaky := &flakyBackend{Memory: NewMemory(), failing: true}
	b := Instrument(flaky)

	if Instrument(b) != b {
		t.Error("Instrument wrapped an already instrumented backend")
	}

	before := testutil.ToFloat64(metrics.PersisterErrors.WithLabelValues("flaky", "load"))
	if _, err := b.Load(context.Background(), "p"); !errors.Is(err, errBackendDown) {
		t.Fatalf("Load error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.PersisterErrors.WithLabelValues("flaky", "load")); got != before+1 {
		t.Errorf("persister errors = %v, want %v", got, before+1)
	}
}
