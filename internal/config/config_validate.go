// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package config

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/tomtom215/syncrelay/internal/validation"
)

// Validate checks struct tags first, then rules spanning several fields.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	validators := []func() error{
		c.validateRelay,
		c.validatePersister,
		c.validateNATS,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateRelay() error {
	if c.Relay.MessageRate > 0 && c.Relay.MessageBurst < 1 {
		return fmt.Errorf("%s must be at least 1 when %s is set",
			envNameFor("relay.message_burst"), envNameFor("relay.message_rate"))
	}
	if c.Relay.PathPattern != "" {
		if _, err := regexp.Compile(c.Relay.PathPattern); err != nil {
			return fmt.Errorf("%s is not a valid regular expression: %w", envNameFor("relay.path_pattern"), err)
		}
	}
	if c.Relay.WriteTimeout >= c.Relay.PingInterval*2 {
		return fmt.Errorf("%s (%s) must be shorter than twice %s (%s)",
			envNameFor("relay.write_timeout"), c.Relay.WriteTimeout,
			envNameFor("relay.ping_interval"), c.Relay.PingInterval)
	}
	return nil
}

// validatePersister checks the settings required by the selected backend.
func (c *Config) validatePersister() error {
	p := c.Persister
	switch p.Backend {
	case "memory":
		return nil
	case "badger":
		if p.Badger.Path == "" && !p.Badger.InMemory {
			return fmt.Errorf("%s is required when %s=badger", envNameFor("persister.badger.path"), envNameFor("persister.backend"))
		}
	case "sqlite":
		if p.SQLite.Path == "" {
			return fmt.Errorf("%s is required when %s=sqlite", envNameFor("persister.sqlite.path"), envNameFor("persister.backend"))
		}
	case "duckdb":
		if p.DuckDB.Path == "" {
			return fmt.Errorf("%s is required when %s=duckdb", envNameFor("persister.duckdb.path"), envNameFor("persister.backend"))
		}
	case "postgres":
		if p.Postgres.DSN == "" {
			return fmt.Errorf("%s is required when %s=postgres", envNameFor("persister.postgres.dsn"), envNameFor("persister.backend"))
		}
		if p.Postgres.MinConns > p.Postgres.MaxConns {
			return fmt.Errorf("%s must not exceed %s", envNameFor("persister.postgres.min_conns"), envNameFor("persister.postgres.max_conns"))
		}
	case "mongo":
		if p.Mongo.URI == "" || p.Mongo.Database == "" || p.Mongo.Collection == "" {
			return fmt.Errorf("%s, %s and %s are required when %s=mongo",
				envNameFor("persister.mongo.uri"), envNameFor("persister.mongo.database"),
				envNameFor("persister.mongo.collection"), envNameFor("persister.backend"))
		}
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("%s is required when NATS_ENABLED=true", envNameFor("nats.subject_prefix"))
	}
	if c.NATS.EmbeddedServer {
		return nil
	}
	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	return nil
}

// validateNATSURL accepts nats, tls, ws and wss URLs with a host.
func validateNATSURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:4222)")
	}
	return nil
}
