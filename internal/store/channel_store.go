package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/streamarc/streamarc/internal/models"
)

type ChannelStore struct {
	coll *mongo.Collection
}

func NewChannelStore(db *mongo.Database) *ChannelStore {
	return &ChannelStore{coll: db.Collection(CollChannels)}
}

func (s *ChannelStore) ListByProvider(ctx context.Context, providerID string) ([]*models.Channel, error) {
	cur, err := s.coll.Find(ctx, bson.M{"provider_id": providerID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.Channel
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TvgIDSet returns the tvg ids of a provider's channels, the filter the EPG
// writer applies to incoming programs.
func (s *ChannelStore) TvgIDSet(ctx context.Context, providerID string) (map[string]struct{}, error) {
	cur, err := s.coll.Find(ctx, bson.M{"provider_id": providerID},
		options.Find().SetProjection(bson.M{"tvg_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]struct{})
	for cur.Next(ctx) {
		var row struct {
			TvgID string `bson:"tvg_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		if row.TvgID != "" {
			out[row.TvgID] = struct{}{}
		}
	}
	return out, cur.Err()
}

// ApplyDiff commits a channel-list diff as a single bulk write.
func (s *ChannelStore) ApplyDiff(ctx context.Context, inserts []*models.Channel, urlUpdates map[string]string, deleteKeys []string) error {
	if len(inserts) == 0 && len(urlUpdates) == 0 && len(deleteKeys) == 0 {
		return nil
	}
	now := time.Now().UTC()
	var ops []mongo.WriteModel
	for _, ch := range inserts {
		ch.CreatedAt = now
		ch.LastUpdated = now
		ops = append(ops, mongo.NewInsertOneModel().SetDocument(ch))
	}
	for key, url := range urlUpdates {
		ops = append(ops, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": key}).
			SetUpdate(bson.M{"$set": bson.M{"url": url, "lastUpdated": now}}))
	}
	if len(deleteKeys) > 0 {
		ops = append(ops, mongo.NewDeleteManyModel().
			SetFilter(bson.M{"_id": bson.M{"$in": deleteKeys}}))
	}
	_, err := s.coll.BulkWrite(ctx, ops, options.BulkWrite().SetOrdered(false))
	return err
}
