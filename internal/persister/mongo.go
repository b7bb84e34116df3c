// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package persister

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
)

type mongoDocument struct {
	PathID    string    `bson:"_id"`
	Body      string    `bson:"body"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Mongo stores one MongoDB document per path, keyed by path id.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// OpenMongo connects to cfg.URI and verifies the server with a ping.
func OpenMongo(ctx context.Context, cfg config.MongoConfig) (*Mongo, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI).SetAppName("syncrelay")
	if cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	clientOptions.SetConnectTimeout(cfg.Timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background()) //nolint:errcheck
		return nil, fmt.Errorf("ping: %w", err)
	}

	logging.Info().
		Str("database", cfg.Database).
		Str("collection", cfg.Collection).
		Msg("MongoDB document store opened")

	return &Mongo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
	}, nil
}

func (m *Mongo) Name() string { return "mongo" }

func (m *Mongo) Load(ctx context.Context, pathID string) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var stored mongoDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": pathID}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return make(Document), nil
	}
	if err != nil {
		return nil, wrapMongoErr("find document", err)
	}
	return UnmarshalDocument([]byte(stored.Body))
}

func (m *Mongo) Save(ctx context.Context, pathID string, doc Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err = m.collection.ReplaceOne(ctx,
		bson.M{"_id": pathID},
		mongoDocument{PathID: pathID, Body: string(data), UpdatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return wrapMongoErr("replace document", err)
	}
	return nil
}

func (m *Mongo) Delete(ctx context.Context, pathID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": pathID}); err != nil {
		return wrapMongoErr("delete document", err)
	}
	return nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func wrapMongoErr(op string, err error) error {
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return ErrClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}
