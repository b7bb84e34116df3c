// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultPostgresImage is the PostgreSQL image used by integration tests
	DefaultPostgresImage = "postgres:16-alpine"

	// DefaultMongoImage is the MongoDB image used by integration tests
	DefaultMongoImage = "mongo:7"

	postgresPort = "5432"
	mongoPort    = "27017"

	postgresUser     = "syncrelay"
	postgresPassword = "syncrelay"
	postgresDatabase = "syncrelay"
)

// PostgresContainer is a running PostgreSQL server.
type PostgresContainer struct {
	testcontainers.Container
	DSN string
}

// NewPostgresContainer starts a PostgreSQL server with an empty database.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	env := map[string]string{
		"POSTGRES_USER":     postgresUser,
		"POSTGRES_PASSWORD": postgresPassword,
		"POSTGRES_DB":       postgresDatabase,
	}
	// The server logs readiness twice: once for the init run and once for the real start.
	waitFor := wait.ForAll(
		wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		wait.ForListeningPort(postgresPort+"/tcp"),
	).WithStartupTimeout(90 * time.Second)

	container, endpoint, err := startContainer(ctx, DefaultPostgresImage, postgresPort, env, waitFor)
	if err != nil {
		return nil, err
	}

	return &PostgresContainer{
		Container: container,
		DSN: fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
			postgresUser, postgresPassword, endpoint, postgresDatabase),
	}, nil
}

// MongoContainer is a running standalone MongoDB server.
type MongoContainer struct {
	testcontainers.Container
	URI string
}

// NewMongoContainer starts a MongoDB server without authentication.
func NewMongoContainer(ctx context.Context) (*MongoContainer, error) {
	waitFor := wait.ForAll(
		wait.ForLog("Waiting for connections"),
		wait.ForListeningPort(mongoPort+"/tcp"),
	).WithStartupTimeout(90 * time.Second)

	container, endpoint, err := startContainer(ctx, DefaultMongoImage, mongoPort, nil, waitFor)
	if err != nil {
		return nil, err
	}

	return &MongoContainer{
		Container: container,
		URI:       "mongodb://" + endpoint,
	}, nil
}
