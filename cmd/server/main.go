// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("addr", listenAddr(cfg)).
		Str("persister", cfg.Persister.Backend).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting SyncRelay")

	watchLogLevel()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialize")
		cancel()
		os.Exit(1)
	}

	if err := app.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}
	app.close()

	logging.Info().Msg("Application stopped gracefully")
}

// watchLogLevel reloads the configuration when the config file changes and
// applies a new log level. Other settings need a restart.
func watchLogLevel() {
	path := config.ConfigFilePath()
	if path == "" {
		return
	}
	err := config.WatchConfigFile(path, func() {
		cfg, err := config.Load()
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Ignoring invalid config change")
			return
		}
		if cfg.Logging.Level != logging.GetLevel().String() {
			logging.SetLevelString(cfg.Logging.Level)
			logging.Info().Str("level", cfg.Logging.Level).Msg("Log level changed")
		}
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch disabled")
	}
}
