package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names are the contract between the ingestion core and the HTTP
// read surfaces; renaming one is a breaking change.
const (
	CollProviderTitles = "provider_titles"
	CollTitles         = "titles"
	CollChannels       = "channels"
	CollPrograms       = "programs"
	CollProviders      = "iptv_providers"
	CollUsers          = "users"
	CollSettings       = "settings"
	CollJobHistory     = "job_history"
)

// Connect opens the document store and verifies it is reachable. Failure here
// is fatal at boot.
func Connect(ctx context.Context, url, dbName string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("store connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	db := client.Database(dbName)
	if err := EnsureIndexes(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

// collectionIndexes declares the schema the stores rely on. The unique index
// on provider_titles enforces the identity key the upsert filters assume;
// the provider_id indexes back the per-provider scans in channel and program
// rebuilds.
func collectionIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		CollProviderTitles: {
			{
				Keys:    bson.D{{Key: "provider_id", Value: 1}, {Key: "media_type", Value: 1}, {Key: "upstream_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "media_type", Value: 1}, {Key: "tmdb_id", Value: 1}},
			},
		},
		CollChannels: {
			{Keys: bson.D{{Key: "provider_id", Value: 1}}},
		},
		CollPrograms: {
			{Keys: bson.D{{Key: "provider_id", Value: 1}}},
		},
	}
}

// EnsureIndexes provisions indexes at boot. CreateMany is idempotent for
// indexes that already exist with the same spec.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for coll, idx := range collectionIndexes() {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", coll, err)
		}
	}
	return nil
}
