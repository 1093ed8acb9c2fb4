package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SettingsStore is a small key/value collection the core shares with the
// read surfaces. The reconciler keeps its enabled-provider snapshot here.
type SettingsStore struct {
	coll *mongo.Collection
}

func NewSettingsStore(db *mongo.Database) *SettingsStore {
	return &SettingsStore{coll: db.Collection(CollSettings)}
}

func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var row struct {
		Value string `bson:"value"`
	}
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value, "lastUpdated": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}
