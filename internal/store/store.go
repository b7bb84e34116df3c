// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package store implements the server-side client of a path.
//
// A Store owns the key/value document of one path. Clients address it with
// the server target, for example:
//
//	S|req1|get|title
//	S|req2|set|{"key":"title","value":"Hello"}
//	S|req3|delete|title
//	S|req4|query|getAll
//
// It answers the sender with response, ack or error frames and broadcasts a
// changed frame to the other clients of the path after each mutation. The document is loaded
// from a persister.Backend on Start, flushed periodically while dirty and
// saved a last time on Stop.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/persister"
	"github.com/tomtom215/syncrelay/internal/protocol"
)

// Message types understood and emitted by the store.
const (
	TypeGet      = "get"
	TypeSet      = "set"
	TypeDelete   = "delete"
	TypeQuery    = "query"
	TypeResponse = "response"
	TypeAck      = "ack"
	TypeChanged  = "changed"
	TypeError    = "error"

	QueryGetAll = "getAll"
)

// ErrUnavailable is reported to clients when the document could not be loaded.
var ErrUnavailable = errors.New("store unavailable")

// Outbound delivers frames from the store to clients of its path.
type Outbound interface {
	SendToClient(ctx context.Context, clientID, pathID, payload string) bool
	BroadcastToPath(ctx context.Context, from, pathID, payload string) bool
}

// Options configures stores built by a factory.
type Options struct {
	// SaveInterval is the autosave period. Zero disables autosave; the
	// document is then only saved on Stop.
	SaveInterval time.Duration

	// SaveTimeout bounds each autosave write.
	SaveTimeout time.Duration

	// OnChange is called after every mutation, outside the store lock.
	OnChange func(pathID string)
}

// Store is the document and request handler of one path.
type Store struct {
	pathID  string
	backend persister.Backend
	opts    Options

	mu        sync.Mutex
	doc       persister.Document
	dirty     bool
	loaded    bool
	stopped   bool
	out       Outbound
	cancel    context.CancelFunc
	autosaved chan struct{}
}

// New creates an unstarted store for pathID.
func New(pathID string, backend persister.Backend, opts Options) *Store {
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 10 * time.Second
	}
	return &Store{
		pathID:  pathID,
		backend: backend,
		opts:    opts,
		doc:     make(persister.Document),
	}
}

// PathID returns the path served by the store.
func (s *Store) PathID() string { return s.pathID }

// Bind attaches the capability used to reply and broadcast.
func (s *Store) Bind(out Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = out
}

// Start loads the document and starts autosave. If loading fails the store
// stays unavailable and never writes, so stored data is not overwritten.
func (s *Store) Start(ctx context.Context) error {
	doc, err := s.backend.Load(ctx, s.pathID)
	if err != nil {
		return fmt.Errorf("load document for %q: %w", s.pathID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.doc = doc
	s.loaded = true

	if s.opts.SaveInterval > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.autosaved = make(chan struct{})
		go s.autosaveLoop(loopCtx, s.autosaved)
	}

	logging.Debug().Str("path_id", s.pathID).Int("keys", len(doc)).Msg("Store started")
	return nil
}

// Stop ends autosave and saves the document if it changed. Calling Stop
// more than once is safe.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, done := s.cancel, s.autosaved
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if err := s.flush(ctx); err != nil {
		return err
	}
	logging.Debug().Str("path_id", s.pathID).Msg("Store stopped")
	return nil
}

// Dirty reports whether there are unsaved changes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Len returns the number of keys in the document.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc)
}

func (s *Store) autosaveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveCtx, cancel := context.WithTimeout(ctx, s.opts.SaveTimeout)
			if err := s.flush(saveCtx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn().Err(err).Str("path_id", s.pathID).Msg("Autosave failed")
			}
			cancel()
		}
	}
}

// flush saves a snapshot of the document when dirty. A failed save leaves
// the store dirty for the next attempt.
func (s *Store) flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded || !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := s.doc.Clone()
	s.dirty = false
	s.mu.Unlock()

	if err := s.backend.Save(ctx, s.pathID, snapshot); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("save document for %q: %w", s.pathID, err)
	}
	return nil
}

// Receive handles one enveloped server-targeted frame.
func (s *Store) Receive(ctx context.Context, envelope string) error {
	msg, err := protocol.ParseEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("store %q: %w", s.pathID, err)
	}

	s.mu.Lock()
	out, loaded := s.out, s.loaded
	s.mu.Unlock()
	if out == nil {
		return fmt.Errorf("store %q: no outbound bound", s.pathID)
	}
	if !loaded {
		s.replyError(ctx, out, msg, ErrUnavailable.Error())
		return nil
	}

	switch msg.Type {
	case TypeGet:
		s.handleGet(ctx, out, msg)
	case TypeSet:
		s.handleSet(ctx, out, msg)
	case TypeDelete:
		s.handleDelete(ctx, out, msg)
	case TypeQuery:
		s.handleQuery(ctx, out, msg)
	default:
		s.replyError(ctx, out, msg, fmt.Sprintf("unknown message type %q", msg.Type))
	}
	return nil
}

type getResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Found bool            `json:"found"`
}

type setRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type keyAck struct {
	Key string `json:"key"`
}

type change struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Store) handleGet(ctx context.Context, out Outbound, msg protocol.Message) {
	if msg.Body == "" {
		s.replyError(ctx, out, msg, "get requires a key")
		return
	}

	s.mu.Lock()
	value, found := s.doc[msg.Body]
	s.mu.Unlock()

	if !found {
		value = json.RawMessage("null")
	}
	s.reply(ctx, out, msg, TypeResponse, getResponse{Key: msg.Body, Value: value, Found: found})
}

func (s *Store) handleSet(ctx context.Context, out Outbound, msg protocol.Message) {
	var req setRequest
	if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
		s.replyError(ctx, out, msg, "set body must be {\"key\",\"value\"}")
		return
	}
	if req.Key == "" {
		s.replyError(ctx, out, msg, "set requires a key")
		return
	}
	if len(req.Value) == 0 {
		req.Value = json.RawMessage("null")
	}

	s.mu.Lock()
	s.doc[req.Key] = req.Value
	s.dirty = true
	s.mu.Unlock()

	s.reply(ctx, out, msg, TypeAck, keyAck{Key: req.Key})
	s.broadcastChange(ctx, out, msg.From, change{Key: req.Key, Value: req.Value})
}

func (s *Store) handleDelete(ctx context.Context, out Outbound, msg protocol.Message) {
	if msg.Body == "" {
		s.replyError(ctx, out, msg, "delete requires a key")
		return
	}

	s.mu.Lock()
	_, existed := s.doc[msg.Body]
	delete(s.doc, msg.Body)
	if existed {
		s.dirty = true
	}
	s.mu.Unlock()

	s.reply(ctx, out, msg, TypeAck, keyAck{Key: msg.Body})
	if existed {
		s.broadcastChange(ctx, out, msg.From, change{Key: msg.Body, Deleted: true})
	}
}

func (s *Store) handleQuery(ctx context.Context, out Outbound, msg protocol.Message) {
	if msg.Body != QueryGetAll {
		s.replyError(ctx, out, msg, fmt.Sprintf("unknown query %q", msg.Body))
		return
	}

	s.mu.Lock()
	snapshot := s.doc.Clone()
	s.mu.Unlock()

	s.reply(ctx, out, msg, TypeResponse, map[string]json.RawMessage(snapshot))
}

// broadcastChange notifies every client of the path except requester, which
// already got its ack.
func (s *Store) broadcastChange(ctx context.Context, out Outbound, requester string, c change) {
	body, err := encodeBody(c)
	if err != nil {
		logging.Error().Err(err).Str("path_id", s.pathID).Msg("Failed to encode change")
		return
	}
	frame := protocol.CreateRawEnvelope(protocol.ServerTarget,
		protocol.Serialize(protocol.Message{Type: TypeChanged, Body: body}))
	out.BroadcastToPath(ctx, requester, s.pathID, frame)

	if s.opts.OnChange != nil {
		s.opts.OnChange(s.pathID)
	}
}

func (s *Store) reply(ctx context.Context, out Outbound, req protocol.Message, typ string, v interface{}) {
	body, err := encodeBody(v)
	if err != nil {
		logging.Error().Err(err).Str("path_id", s.pathID).Str("type", typ).Msg("Failed to encode reply")
		return
	}
	frame := protocol.CreateRawEnvelope(protocol.ServerTarget, protocol.Serialize(protocol.Message{
		To:        req.From,
		RequestID: req.RequestID,
		Type:      typ,
		Body:      body,
	}))
	if !out.SendToClient(ctx, req.From, s.pathID, frame) {
		logging.Debug().Str("path_id", s.pathID).Str("client_id", req.From).Msg("Store reply not delivered")
	}
}

func (s *Store) replyError(ctx context.Context, out Outbound, req protocol.Message, reason string) {
	s.reply(ctx, out, req, TypeError, errorBody{Error: reason})
}

// encodeBody marshals v as JSON with the frame separator escaped, which is
// only legal inside JSON strings.
func encodeBody(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), protocol.Separator, `\u007c`), nil
}
