// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package relay ties the connection registry, the router and the path
// resource manager together.
//
// HandleConnection owns one client socket from registration to cleanup:
//
//  1. register the connection, closing duplicates right away
//  2. obtain the path resource, closing the socket if the path is not served
//  3. configure and start the resource when this client is the first one
//  4. read frames, routing them once the resource is ready and buffering
//     them per client before that
//  5. unregister, stop the resource when the path empties, close the socket
//
// Stop cancels every read loop through the relay-wide context.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/protocol"
	"github.com/tomtom215/syncrelay/internal/registry"
	"github.com/tomtom215/syncrelay/internal/resource"
	"github.com/tomtom215/syncrelay/internal/router"
	"github.com/tomtom215/syncrelay/internal/store"
)

var (
	// ErrNotRunning is returned by HandleConnection before Start or after Stop.
	ErrNotRunning = errors.New("relay not running")

	// ErrResourceStart wraps the start failure returned to the first client.
	ErrResourceStart = errors.New("path resource failed to start")
)

// maxAcquireAttempts bounds retries when a resource is stopped while a new
// client is attaching to it.
const maxAcquireAttempts = 3

// Conn is a client socket as seen by the relay.
type Conn interface {
	registry.Transport

	// Receive blocks until the next text frame arrives. It returns an error
	// once the socket is closed.
	Receive(ctx context.Context) (string, error)
}

// Listener is the listening transport opened by Start and closed by Stop.
type Listener interface {
	Listen(ctx context.Context) error
	Close(ctx context.Context) error
}

// Receiver is implemented by persisters that consume server-targeted frames.
type Receiver interface {
	Receive(ctx context.Context, envelope string) error
}

// Binder is implemented by persisters that push frames back to clients.
type Binder interface {
	Bind(out store.Outbound)
}

// Config configures a Service.
type Config struct {
	// MaxConnectionsPerPath caps clients on one path. Zero means unlimited.
	MaxConnectionsPerPath int

	// AutoCleanup stops a path's resource when its last client leaves.
	AutoCleanup bool

	// OperationTimeout bounds resource creation, start and stop.
	OperationTimeout time.Duration

	// MessageRate and MessageBurst configure the per-connection inbound
	// token bucket. A zero rate disables it.
	MessageRate  float64
	MessageBurst int

	// MaxBufferedMessages caps each per-client pending buffer and the
	// server-targeted buffer of each path resource.
	MaxBufferedMessages int

	// OnError receives errors that are absorbed rather than returned.
	OnError resource.ErrorHandler

	// OnSendFailed observes failed deliveries.
	OnSendFailed func(router.SendFailure)
}

// ConfigFrom maps the relay section of the application config.
func ConfigFrom(rc config.RelayConfig) Config {
	return Config{
		MaxConnectionsPerPath: rc.MaxConnectionsPerPath,
		AutoCleanup:           rc.AutoCleanup,
		OperationTimeout:      rc.OperationTimeout,
		MessageRate:           rc.MessageRate,
		MessageBurst:          rc.MessageBurst,
		MaxBufferedMessages:   rc.MaxBufferedMessages,
	}
}

// Service is the relay.
type Service struct {
	cfg       Config
	registry  *registry.Registry
	resources *resource.Manager
	router    *router.Router
	listeners *listeners

	mu       sync.Mutex
	running  bool
	baseCtx  context.Context
	cancel   context.CancelFunc
	listener Listener
	active   sync.WaitGroup
}

// New creates a stopped relay whose path resources come from factory.
func New(factory resource.Factory, cfg Config) *Service {
	s := &Service{
		cfg:       cfg,
		listeners: newListeners(),
	}
	s.registry = registry.New(s.onRegistryEvent)
	s.resources = resource.NewManager(factory, resource.ManagerConfig{
		OperationTimeout: cfg.OperationTimeout,
		MaxPending:       cfg.MaxBufferedMessages,
		OnError:          s.onError,
	})
	s.router = router.New(s.registry, s.resources, router.Config{
		MaxBuffered:  cfg.MaxBufferedMessages,
		OnSendFailed: cfg.OnSendFailed,
	})
	return s
}

// SetListener sets the transport opened by Start. It must be called before Start.
func (s *Service) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Start opens the listener and accepts connections. Starting a running
// relay is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	listener := s.listener
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	cancel := s.cancel
	s.mu.Unlock()

	// Running is set first so that clients accepted as soon as the listener
	// binds are not turned away.
	if listener != nil {
		if err := listener.Listen(ctx); err != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			cancel()
			return fmt.Errorf("open listener: %w", err)
		}
	}

	logging.Info().Msg("Relay started")
	s.emitServer(ServerStarted)
	return nil
}

// Stop cancels all read loops, stops every path resource, clears the
// registry and closes the listener. Stopping a stopped relay is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, listener := s.cancel, s.listener
	s.mu.Unlock()

	cancel()
	s.resources.StopAll(ctx)
	s.registry.Clear()

	var errs []error
	if listener != nil {
		if err := listener.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for connections: %w", ctx.Err()))
	}
	// Handlers still attaching during the first pass may have created resources.
	s.resources.StopAll(ctx)

	logging.Info().Msg("Relay stopped")
	s.emitServer(ServerStopped)
	return errors.Join(errs...)
}

// Running reports whether the relay accepts connections.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// connContext derives the context of one connection from the caller's
// context and the relay-wide context.
func (s *Service) connContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, nil, ErrNotRunning
	}
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.baseCtx, cancel)
	s.active.Add(1)
	return cctx, func() {
		stop()
		cancel()
		s.active.Done()
	}, nil
}

// HandleConnection serves conn until it closes or the relay stops. Only a
// start failure of the path's resource, seen by the client that triggered
// it, is returned.
func (s *Service) HandleConnection(ctx context.Context, conn Conn, pathID, clientID string) error {
	cctx, release, err := s.connContext(ctx)
	if err != nil {
		metrics.RecordRejected("not_running")
		_ = conn.Close(websocket.CloseGoingAway, "server not running")
		return err
	}
	defer release()
	cctx = logging.ContextWithConnection(cctx, pathID, clientID)
	log := logging.Ctx(cctx)

	if clientID == "" || clientID == protocol.ServerTarget || strings.Contains(clientID, protocol.Separator) {
		metrics.RecordRejected("invalid_client_id")
		_ = conn.Close(websocket.ClosePolicyViolation, "invalid client id")
		return nil
	}

	c := registry.NewConnection(pathID, clientID, conn)
	switch s.registry.AddWithLimit(pathID, clientID, c, s.cfg.MaxConnectionsPerPath) {
	case registry.PathFull:
		metrics.RecordRejected("path_full")
		log.Warn().Int("limit", s.cfg.MaxConnectionsPerPath).Msg("Path full, rejecting connection")
		_ = conn.Close(websocket.CloseTryAgainLater, "path full")
		return nil
	case registry.Duplicate:
		metrics.RecordRejected("duplicate")
		log.Warn().Msg("Duplicate client, rejecting connection")
		_ = conn.Close(websocket.ClosePolicyViolation, "duplicate client")
		return nil
	}
	log.Debug().Msg("Client connected")

	closeCode, closeReason := websocket.CloseNormalClosure, ""
	defer func() {
		s.cleanup(cctx, c, closeCode, closeReason)
	}()

	res, err := s.acquire(cctx, pathID, clientID)
	if err != nil {
		if errors.Is(err, ErrResourceStart) {
			closeCode, closeReason = websocket.CloseInternalServerErr, "resource start failed"
			return err
		}
		metrics.RecordRejected("resource_unavailable")
		log.Warn().Err(err).Msg("Path resource unavailable, closing connection")
		closeCode, closeReason = websocket.CloseInternalServerErr, "resource unavailable"
		return nil
	}

	s.readLoop(cctx, conn, res, pathID, clientID)
	if cctx.Err() != nil && ctx.Err() == nil {
		closeCode, closeReason = websocket.CloseGoingAway, "server shutting down"
	}
	return nil
}

var errNoResource = errors.New("path not served")

// acquire returns a started resource for pathID, configuring and starting
// it when this client wins the startup claim.
func (s *Service) acquire(ctx context.Context, pathID, clientID string) (*resource.PathResource, error) {
	for attempt := 1; ; attempt++ {
		res, err := s.resources.GetOrCreate(ctx, pathID)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, errNoResource
		}
		if !res.ClaimStartup() {
			return res, nil
		}

		err = s.startResource(ctx, pathID, res)
		if errors.Is(err, resource.ErrStopped) && attempt < maxAcquireAttempts {
			logging.Ctx(ctx).Debug().Int("attempt", attempt).Msg("Resource stopped during startup, retrying")
			continue
		}
		if err != nil {
			// Drop the failed resource so the next client builds a fresh one.
			s.resources.Stop(ctx, pathID)
			return nil, fmt.Errorf("%w: %w", ErrResourceStart, err)
		}
		return res, nil
	}
}

func (s *Service) startResource(ctx context.Context, pathID string, res *resource.PathResource) error {
	p := res.Persister()

	send := func(ctx context.Context, envelope string) error {
		logging.Ctx(ctx).Debug().Msg("Persister does not receive frames, dropping")
		return nil
	}
	if r, ok := p.(Receiver); ok {
		send = r.Receive
	}

	onLoad := func(p resource.Persister) error {
		if b, ok := p.(Binder); ok {
			b.Bind(s)
		}
		return nil
	}

	if err := s.resources.Configure(pathID, res, send, onLoad); err != nil {
		return err
	}
	return s.resources.Start(ctx, pathID, res)
}

// readLoop pumps frames until the socket closes or ctx ends.
func (s *Service) readLoop(ctx context.Context, conn Conn, res *resource.PathResource, pathID, clientID string) {
	log := logging.Ctx(ctx)

	frames := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			raw, err := conn.Receive(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	var limiter *rate.Limiter
	if s.cfg.MessageRate > 0 {
		burst := s.cfg.MessageBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessageRate), burst)
	}

	readyC := res.ReadyC()
	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Msg("Connection closed unexpectedly")
			}
			return

		case <-readyC:
			readyC = nil
			s.flushBuffered(ctx, pathID, clientID)

		case raw := <-frames:
			metrics.RecordInbound(len(raw))
			if limiter != nil && !limiter.Allow() {
				metrics.RateLimited.Inc()
				log.Debug().Msg("Inbound rate limit exceeded, dropping frame")
				continue
			}

			if res.Removed() {
				next, err := s.acquire(ctx, pathID, clientID)
				if err != nil {
					log.Warn().Err(err).Msg("Path resource lost, closing connection")
					return
				}
				res = next
				readyC = res.ReadyC()
			}

			if !res.IsReady() {
				s.router.BufferMessage(pathID, clientID, raw)
				continue
			}
			s.flushBuffered(ctx, pathID, clientID)
			s.router.Handle(ctx, clientID, pathID, raw)
		}
	}
}

// flushBuffered routes frames the client sent before the resource was ready.
func (s *Service) flushBuffered(ctx context.Context, pathID, clientID string) {
	for _, raw := range s.router.DrainBuffer(pathID, clientID) {
		s.router.Handle(ctx, clientID, pathID, raw)
	}
}

func (s *Service) cleanup(ctx context.Context, c *registry.Connection, code int, reason string) {
	pathID, clientID := c.PathID, c.ClientID

	s.registry.Remove(pathID, clientID)
	if dropped := len(s.router.DrainBuffer(pathID, clientID)); dropped > 0 {
		logging.Ctx(ctx).Debug().Int("dropped", dropped).Msg("Discarding frames of departed client")
	}

	if !s.registry.HasAny(pathID) {
		s.router.DropBuffers(pathID)
		if s.cfg.AutoCleanup {
			s.resources.Stop(ctx, pathID)
		}
	}

	_ = c.Close(code, reason)
	metrics.RecordConnectionClosed(c.ConnectedAt)
	logging.Ctx(ctx).Debug().Msg("Client disconnected")
}

// SendToClient sends payload to one client of pathID.
func (s *Service) SendToClient(ctx context.Context, clientID, pathID, payload string) bool {
	return s.router.SendToClient(ctx, clientID, pathID, payload)
}

// BroadcastToPath sends payload to every client of pathID except from.
func (s *Service) BroadcastToPath(ctx context.Context, from, pathID, payload string) bool {
	return s.router.BroadcastToPath(ctx, from, pathID, payload)
}

// Stats returns path and client counts.
func (s *Service) Stats() registry.Stats {
	return s.registry.Stats()
}

// PathIDs lists the active paths.
func (s *Service) PathIDs() []string {
	return s.registry.PathIDs()
}

// ClientIDs lists the clients of pathID.
func (s *Service) ClientIDs(pathID string) []string {
	return s.registry.ClientIDs(pathID)
}

// Resources describes the registered path resources.
func (s *Service) Resources() []resource.Info {
	return s.resources.Snapshot()
}
