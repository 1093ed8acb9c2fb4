package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/streamarc/streamarc/internal/models"
)

type ProviderStore struct {
	coll *mongo.Collection
}

func NewProviderStore(db *mongo.Database) *ProviderStore {
	return &ProviderStore{coll: db.Collection(CollProviders)}
}

func (s *ProviderStore) Get(ctx context.Context, id string) (*models.Provider, error) {
	var p models.Provider
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("provider %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActive returns providers that are enabled and not deleted, the only
// ones ingestion touches.
func (s *ProviderStore) ListActive(ctx context.Context) ([]*models.Provider, error) {
	return s.list(ctx, bson.M{"enabled": true, "deleted": false})
}

func (s *ProviderStore) ListAll(ctx context.Context) ([]*models.Provider, error) {
	return s.list(ctx, bson.M{})
}

func (s *ProviderStore) list(ctx context.Context, filter bson.M) ([]*models.Provider, error) {
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.Provider
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
