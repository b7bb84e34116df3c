// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package events

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerConfig configures the embedded NATS server. Port -1 picks a free
// port.
type ServerConfig struct {
	Host         string
	Port         int
	ReadyTimeout time.Duration
	NoLog        bool
}

// ServerConfigFromURL derives the listen address from a client URL such
// as nats://127.0.0.1:4222.
func ServerConfigFromURL(rawURL string) (ServerConfig, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("parse NATS url: %w", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("NATS url %q needs host:port: %w", rawURL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("NATS url port %q: %w", portStr, err)
	}
	return ServerConfig{Host: host, Port: port, ReadyTimeout: 10 * time.Second}, nil
}

// EmbeddedServer is an in-process NATS server without JetStream.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer starts a NATS server and waits until it accepts
// connections.
func NewEmbeddedServer(cfg ServerConfig) (*EmbeddedServer, error) {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	opts := &server.Options{
		ServerName: "syncrelay-events",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      cfg.NoLog,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	if !cfg.NoLog {
		ns.ConfigureLogger()
	}

	go ns.Start()

	if !ns.ReadyForConnections(cfg.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", cfg.ReadyTimeout)
	}

	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// IsRunning reports server health.
func (s *EmbeddedServer) IsRunning() bool {
	return s.server.Running()
}

// Shutdown stops the server and waits for it, bounded by ctx.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.server.Shutdown()
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
