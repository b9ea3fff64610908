// Package storage is the MongoDB-backed persistence layer: configured
// sources, discovered-but-not-yet-enqueued article links, the fixed prompt
// set the pipeline depends on, and the final archive of enriched articles.
// It replaces the crawler's generic Storage/MongoStorage fan-out interface
// (which only knew how to bulk-insert opaque items) with typed, purpose-built
// collections the rest of the system calls directly.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store wraps a Mongo connection and exposes the collections each domain
// component needs.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	logger     *slog.Logger
}

// Connect dials MongoDB and pings it, returning a ready Store.
func Connect(ctx context.Context, uri, database string, logger *slog.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &Store{
		client: client,
		db:     client.Database(database),
		logger: logger.With("component", "storage"),
	}, nil
}

// Close disconnects the Mongo client.
func (s *Store) Close(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Disconnect(closeCtx)
}

func (s *Store) sources() *mongo.Collection            { return s.db.Collection("sources") }
func (s *Store) discoveredArticles() *mongo.Collection { return s.db.Collection("discovered_articles") }
func (s *Store) archivedArticles() *mongo.Collection   { return s.db.Collection("archived_articles") }
func (s *Store) deletedArticles() *mongo.Collection    { return s.db.Collection("deleted_articles") }
func (s *Store) prompts() *mongo.Collection            { return s.db.Collection("prompts") }

// mongoFindOptions returns the options used by listing queries: newest first,
// capped at limit.
func mongoFindOptions(limit int64) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "processed_at", Value: -1}}).
		SetLimit(limit)
}
