// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/syncrelay/internal/api"
	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/events"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/persister"
	"github.com/tomtom215/syncrelay/internal/relay"
	"github.com/tomtom215/syncrelay/internal/store"
	"github.com/tomtom215/syncrelay/internal/supervisor"
	"github.com/tomtom215/syncrelay/internal/supervisor/services"
	"github.com/tomtom215/syncrelay/internal/websocket"
)

// app holds the wired components between startup and shutdown.
type app struct {
	cfg       *config.Config
	backend   persister.Backend
	relay     *relay.Service
	server    *api.Server
	publisher *events.Publisher
	tree      *supervisor.Tree
}

func listenAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

// newApp opens the persister and builds the relay, HTTP server, optional
// event publishing and the supervisor tree. Nothing listens until run.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	backend, err := persister.Open(ctx, &cfg.Persister)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, backend: backend}

	factory, err := store.NewFactory(backend, store.FactoryOptions{
		Store: store.Options{
			SaveInterval: cfg.Persister.SaveInterval,
			SaveTimeout:  cfg.Relay.OperationTimeout,
		},
		PathPattern:   cfg.Relay.PathPattern,
		MaxPathLength: cfg.Relay.MaxPathLength,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.relay = relay.New(factory, relay.ConfigFrom(cfg.Relay))

	upgrade := websocket.NewHandler(a.relay, websocket.UpgradeOptions{
		Client:           websocket.OptionsFrom(cfg.Relay),
		ReadBufferSize:   cfg.Server.ReadBufferSize,
		WriteBufferSize:  cfg.Server.WriteBufferSize,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		AllowedOrigins:   cfg.Server.CORSOrigins,
	})

	mwCfg := api.DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mwCfg.UpgradeRequests = cfg.Server.UpgradeRateLimit
	router := api.NewRouter(api.NewHandler(a.relay), api.NewChiMiddleware(mwCfg), upgrade)

	a.server = api.NewServer(listenAddr(cfg), router, cfg.Server.Timeout)
	a.relay.SetListener(a.server)

	a.tree = supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if err := a.initEvents(); err != nil {
		a.close()
		return nil, err
	}

	shutdownTimeout := cfg.Relay.OperationTimeout + cfg.Server.Timeout
	if _, err := a.tree.Add(supervisor.API, services.NewRelayService(a.relay, a.server, shutdownTimeout)); err != nil {
		a.close()
		return nil, err
	}
	logging.Info().Str("addr", listenAddr(cfg)).Msg("Relay service added")

	return a, nil
}

// initEvents wires lifecycle event publishing when NATS is enabled.
func (a *app) initEvents() error {
	if !a.cfg.NATS.Enabled {
		logging.Info().Msg("Lifecycle event publishing disabled (NATS_ENABLED=false)")
		return nil
	}

	if a.cfg.NATS.EmbeddedServer {
		scfg, err := events.ServerConfigFromURL(a.cfg.NATS.URL)
		if err != nil {
			return err
		}
		if _, err := a.tree.Add(supervisor.Messaging, services.NewNATSServerService(scfg, 10*time.Second)); err != nil {
			return err
		}
		logging.Info().Str("url", a.cfg.NATS.URL).Msg("Embedded NATS server added to supervisor tree")
	}

	pub, err := events.NewPublisher(events.PublisherConfigFrom(a.cfg.NATS), logging.NewWatermillAdapter())
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	pub.Attach(a.relay)
	a.publisher = pub
	if _, err := a.tree.Add(supervisor.Messaging, services.NewEventPublisherService(pub)); err != nil {
		return err
	}
	logging.Info().Str("prefix", a.cfg.NATS.SubjectPrefix).Msg("Event publisher added to supervisor tree")
	return nil
}

// run serves the supervisor tree until ctx is canceled and reports
// services that missed the shutdown timeout.
func (a *app) run(ctx context.Context) error {
	logging.Info().Msg("Starting supervisor tree...")
	err := <-a.tree.ServeBackground(ctx)

	unstopped, _ := a.tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	return err
}

// close releases what outlives the tree: queued events and the backend.
func (a *app) close() {
	if a.publisher != nil {
		a.publisher.Detach(a.relay)
		a.publisher.Flush()
		if err := a.publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event publisher")
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing persister backend")
		}
	}
}
