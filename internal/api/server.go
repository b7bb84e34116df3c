// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/syncrelay/internal/logging"
)

// Server is the relay's listening transport. Listen binds the address and
// serves in the background; Close shuts the HTTP server down. Upgraded
// sockets are hijacked and closed by the relay, not by Close.
type Server struct {
	addr    string
	handler http.Handler
	timeout time.Duration

	mu    sync.Mutex
	srv   *http.Server
	ln    net.Listener
	errCh chan error
}

// NewServer creates a Server for addr. timeout bounds request headers and
// idle keep-alive connections.
func NewServer(addr string, handler http.Handler, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{addr: addr, handler: handler, timeout: timeout}
}

// Listen binds the address and starts serving. A Server may listen again
// after Close.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("server already listening")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.timeout,
		IdleTimeout:       2 * s.timeout,
		ErrorLog:          logging.NewStdLogger("http"),
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.srv, s.ln, s.errCh = srv, ln, errCh
	logging.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
	return nil
}

// Close stops accepting connections and waits for in-flight API requests.
// Closing a server that is not listening is a no-op.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	srv, errCh := s.srv, s.errCh
	s.srv, s.ln, s.errCh = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-errCh
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Errors reports a serve failure after Listen. It is nil while not listening
// and is closed when serving ends.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCh
}
