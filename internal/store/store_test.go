// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/syncrelay/internal/persister"
	"github.com/tomtom215/syncrelay/internal/protocol"
)

type sentFrame struct {
	to      string // empty for broadcasts
	exclude string
	frame   string
}

type recordingOutbound struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (o *recordingOutbound) SendToClient(_ context.Context, clientID, _ string, payload string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, sentFrame{to: clientID, frame: payload})
	return true
}

func (o *recordingOutbound) BroadcastToPath(_ context.Context, from string, _ string, payload string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, sentFrame{exclude: from, frame: payload})
	return true
}

func (o *recordingOutbound) take() []sentFrame {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.frames
	o.frames = nil
	return out
}

// decode parses a frame sent by the store and checks it comes from S.
func decode(t *testing.T, f sentFrame) protocol.Message {
	t.Helper()
	m, err := protocol.ParseEnvelope(f.frame)
	if err != nil {
		t.Fatalf("ParseEnvelope(%q) error = %v", f.frame, err)
	}
	if m.From != protocol.ServerTarget {
		t.Fatalf("frame %q not sent from %s", f.frame, protocol.ServerTarget)
	}
	return m
}

func startedStore(t *testing.T, backend persister.Backend, opts Options) (*Store, *recordingOutbound) {
	t.Helper()
	s := New("rooms/1", backend, opts)
	out := &recordingOutbound{}
	s.Bind(out)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, out
}

func receive(t *testing.T, s *Store, from, payload string) {
	t.Helper()
	if err := s.Receive(context.Background(), protocol.CreateRawEnvelope(from, payload)); err != nil {
		t.Fatalf("Receive(%q) error = %v", payload, err)
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	s, out := startedStore(t, persister.NewMemory(), Options{})

	receive(t, s, "c1", `S|r1|set|{"key":"title","value":"Hello"}`)
	frames := out.take()
	if len(frames) != 2 {
		t.Fatalf("set produced %d frames, want ack + changed", len(frames))
	}

	ack := decode(t, frames[0])
	if frames[0].to != "c1" || ack.To != "c1" || ack.RequestID != "r1" || ack.Type != TypeAck {
		t.Errorf("ack = %+v to %q", ack, frames[0].to)
	}
	changed := decode(t, frames[1])
	if frames[1].to != "" || changed.Type != TypeChanged || changed.To != "" {
		t.Errorf("changed = %+v to %q", changed, frames[1].to)
	}
	if frames[1].exclude != "c1" {
		t.Errorf("changed broadcast excludes %q, want the requester c1", frames[1].exclude)
	}
	var c struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(changed.Body), &c); err != nil || c.Key != "title" || c.Value != "Hello" {
		t.Errorf("changed body = %q (%v)", changed.Body, err)
	}

	receive(t, s, "c2", "S|r2|get|title")
	frames = out.take()
	if len(frames) != 1 {
		t.Fatalf("get produced %d frames", len(frames))
	}
	resp := decode(t, frames[0])
	if resp.To != "c2" || resp.Type != TypeResponse || resp.RequestID != "r2" {
		t.Errorf("response = %+v", resp)
	}
	var got getResponse
	if err := json.Unmarshal([]byte(resp.Body), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Found || string(got.Value) != `"Hello"` {
		t.Errorf("get = %+v", got)
	}

	receive(t, s, "c1", "S|r3|delete|title")
	frames = out.take()
	if len(frames) != 2 {
		t.Fatalf("delete produced %d frames", len(frames))
	}
	if m := decode(t, frames[1]); !strings.Contains(m.Body, `"deleted":true`) {
		t.Errorf("delete change = %q", m.Body)
	}
	if frames[1].exclude != "c1" {
		t.Errorf("delete broadcast excludes %q, want c1", frames[1].exclude)
	}

	receive(t, s, "c1", "S|r4|get|title")
	resp = decode(t, out.take()[0])
	got = getResponse{}
	if err := json.Unmarshal([]byte(resp.Body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Found {
		t.Errorf("deleted key still found: %+v", got)
	}
}

func TestStore_DeleteMissingKeyDoesNotBroadcast(t *testing.T) {
	s, out := startedStore(t, persister.NewMemory(), Options{})

	receive(t, s, "c1", "S|r1|delete|nothing")
	frames := out.take()
	if len(frames) != 1 || decode(t, frames[0]).Type != TypeAck {
		t.Errorf("frames = %+v, want a single ack", frames)
	}
	if s.Dirty() {
		t.Error("deleting a missing key marked the store dirty")
	}
}

func TestStore_QueryGetAll(t *testing.T) {
	s, out := startedStore(t, persister.NewMemory(), Options{})

	receive(t, s, "c1", `S|a|set|{"key":"a","value":1}`)
	receive(t, s, "c1", `S|b|set|{"key":"b","value":{"nested":true}}`)
	out.take()

	receive(t, s, "c1", "S|q|query|getAll")
	resp := decode(t, out.take()[0])
	var all map[string]json.RawMessage
	if err := json.Unmarshal([]byte(resp.Body), &all); err != nil {
		t.Fatalf("decode getAll: %v", err)
	}
	if len(all) != 2 || string(all["a"]) != "1" {
		t.Errorf("getAll = %v", all)
	}
}

func TestStore_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantMsg string
	}{
		{name: "unknown type", payload: "S|r|rename|x", wantMsg: "unknown message type"},
		{name: "unknown query", payload: "S|r|query|keys", wantMsg: "unknown query"},
		{name: "set not json", payload: "S|r|set|title", wantMsg: "set body"},
		{name: "set without key", payload: `S|r|set|{"value":1}`, wantMsg: "set requires a key"},
		{name: "get without key", payload: "S|r|get", wantMsg: "get requires a key"},
		{name: "delete without key", payload: "S|r|delete", wantMsg: "delete requires a key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, out := startedStore(t, persister.NewMemory(), Options{})
			receive(t, s, "c1", tt.payload)

			frames := out.take()
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			m := decode(t, frames[0])
			if m.Type != TypeError || m.To != "c1" {
				t.Fatalf("reply = %+v", m)
			}
			var body errorBody
			if err := json.Unmarshal([]byte(m.Body), &body); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(body.Error, tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", body.Error, tt.wantMsg)
			}
		})
	}
}

func TestStore_SeparatorEscapedInBodies(t *testing.T) {
	s, out := startedStore(t, persister.NewMemory(), Options{})

	// The client escapes the separator itself; the store must not reintroduce it.
	receive(t, s, "c1", `S|r|set|{"key":"k","value":"a\u007cb"}`)
	for _, f := range out.take() {
		_, payload, _ := protocol.SplitEnvelope(f.frame)
		if n := strings.Count(payload, protocol.Separator); n > 3 {
			t.Errorf("frame %q has %d separators", payload, n)
		}
		m := decode(t, f)
		if m.Type == TypeChanged && !strings.Contains(m.Body, `\u007c`) {
			t.Errorf("changed body %q lost the escaped separator", m.Body)
		}
	}
}

func TestStore_LoadsAndSavesOnStop(t *testing.T) {
	backend := persister.NewMemory()
	ctx := context.Background()
	if err := backend.Save(ctx, "rooms/1", persister.Document{"seed": json.RawMessage(`"x"`)}); err != nil {
		t.Fatal(err)
	}

	s := New("rooms/1", backend, Options{})
	s.Bind(&recordingOutbound{})
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() after load = %d, want 1", s.Len())
	}

	receive(t, s, "c1", `S|r|set|{"key":"added","value":2}`)
	if !s.Dirty() {
		t.Fatal("set did not mark the store dirty")
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	doc, err := backend.Load(ctx, "rooms/1")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc) != 2 || string(doc["added"]) != "2" {
		t.Errorf("saved document = %v", doc)
	}
}

type countingBackend struct {
	*persister.Memory
	saves   atomic.Int32
	loadErr error
	saveErr error
}

func (b *countingBackend) Load(ctx context.Context, pathID string) (persister.Document, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.Memory.Load(ctx, pathID)
}

func (b *countingBackend) Save(ctx context.Context, pathID string, doc persister.Document) error {
	b.saves.Add(1)
	if b.saveErr != nil {
		return b.saveErr
	}
	return b.Memory.Save(ctx, pathID, doc)
}

func TestStore_AutosaveOnlyWhenDirty(t *testing.T) {
	backend := &countingBackend{Memory: persister.NewMemory()}
	s, _ := startedStore(t, backend, Options{SaveInterval: 10 * time.Millisecond})

	time.Sleep(50 * time.Millisecond)
	if n := backend.saves.Load(); n != 0 {
		t.Fatalf("autosave wrote %d times without changes", n)
	}

	receive(t, s, "c1", `S|r|set|{"key":"k","value":true}`)

	deadline := time.Now().Add(time.Second)
	for s.Dirty() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Dirty() {
		t.Fatal("autosave did not flush the change")
	}
	if n := backend.saves.Load(); n != 1 {
		t.Errorf("saves = %d, want 1", n)
	}
}

func TestStore_FailedSaveStaysDirty(t *testing.T) {
	backend := &countingBackend{Memory: persister.NewMemory(), saveErr: errors.New("disk full")}
	s := New("rooms/1", backend, Options{})
	s.Bind(&recordingOutbound{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	receive(t, s, "c1", `S|r|set|{"key":"k","value":1}`)
	if err := s.Stop(context.Background()); err == nil {
		t.Fatal("Stop() error = nil, want save failure")
	}
	if !s.Dirty() {
		t.Error("failed save cleared the dirty flag")
	}
}

func TestStore_LoadFailureMakesStoreUnavailable(t *testing.T) {
	backend := &countingBackend{Memory: persister.NewMemory(), loadErr: errors.New("connection refused")}
	s := New("rooms/1", backend, Options{SaveInterval: time.Millisecond})
	out := &recordingOutbound{}
	s.Bind(out)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want load failure")
	}

	receive(t, s, "c1", `S|r|set|{"key":"k","value":1}`)
	frames := out.take()
	if len(frames) != 1 || decode(t, frames[0]).Type != TypeError {
		t.Fatalf("frames = %+v, want a single error reply", frames)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := backend.saves.Load(); n != 0 {
		t.Errorf("unavailable store saved %d times", n)
	}
}

func TestStore_OnChange(t *testing.T) {
	var changes atomic.Int32
	s, _ := startedStore(t, persister.NewMemory(), Options{
		OnChange: func(pathID string) {
			if pathID == "rooms/1" {
				changes.Add(1)
			}
		},
	})

	receive(t, s, "c1", `S|r|set|{"key":"k","value":1}`)
	receive(t, s, "c1", "S|r|get|k")
	receive(t, s, "c1", "S|r|delete|k")

	if n := changes.Load(); n != 2 {
		t.Errorf("OnChange called %d times, want 2", n)
	}
}

func TestStore_ReceiveWithoutOutbound(t *testing.T) {
	s := New("rooms/1", persister.NewMemory(), Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background()) //nolint:errcheck

	if err := s.Receive(context.Background(), "c1|S|r|get|k"); err == nil {
		t.Error("Receive() without Bind returned nil error")
	}
}

func TestStore_MalformedEnvelope(t *testing.T) {
	s, _ := startedStore(t, persister.NewMemory(), Options{})
	if err := s.Receive(context.Background(), "no-separator"); err == nil {
		t.Error("Receive(malformed) returned nil error")
	}
}
