package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/streamarc/streamarc/internal/models"
)

type TitleStore struct {
	coll *mongo.Collection
}

func NewTitleStore(db *mongo.Database) *TitleStore {
	return &TitleStore{coll: db.Collection(CollTitles)}
}

func (s *TitleStore) Get(ctx context.Context, key string) (*models.Title, error) {
	var t models.Title
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdatedByKey returns title_key → lastUpdated for every canonical title: the
// M side of gap detection.
func (s *TitleStore) UpdatedByKey(ctx context.Context) (map[string]time.Time, error) {
	cur, err := s.coll.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 1, "lastUpdated": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]time.Time)
	for cur.Next(ctx) {
		var row struct {
			Key         string    `bson:"_id"`
			LastUpdated time.Time `bson:"lastUpdated"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.Key] = row.LastUpdated
	}
	return out, cur.Err()
}

// PriorTitle is the slice of an existing canonical record a rebuild must
// preserve.
type PriorTitle struct {
	CreatedAt time.Time `bson:"createdAt"`
	Similar   []string  `bson:"similar"`
}

// PriorByKey loads creation stamps and similar lists for a set of keys, so
// rebuilds keep them instead of resetting them.
func (s *TitleStore) PriorByKey(ctx context.Context, keys []string) (map[string]*PriorTitle, error) {
	out := make(map[string]*PriorTitle, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": keys}},
		options.Find().SetProjection(bson.M{"_id": 1, "createdAt": 1, "similar": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var row struct {
			Key        string `bson:"_id"`
			PriorTitle `bson:",inline"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.Key] = &PriorTitle{CreatedAt: row.CreatedAt, Similar: row.Similar}
	}
	return out, cur.Err()
}

// BulkUpsert replaces whole canonical documents keyed by title_key.
func (s *TitleStore) BulkUpsert(ctx context.Context, titles []*models.Title) error {
	if len(titles) == 0 {
		return nil
	}
	ops := make([]mongo.WriteModel, 0, len(titles))
	for _, t := range titles {
		ops = append(ops, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": t.Key}).
			SetReplacement(t).
			SetUpsert(true))
	}
	_, err := s.coll.BulkWrite(ctx, ops, options.BulkWrite().SetOrdered(false))
	return err
}

func (s *TitleStore) DeleteKeys(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// AllKeys returns the set of stored title keys, for similar-list projection.
func (s *TitleStore) AllKeys(ctx context.Context) (map[string]struct{}, error) {
	cur, err := s.coll.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]struct{})
	for cur.Next(ctx) {
		var row struct {
			Key string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.Key] = struct{}{}
	}
	return out, cur.Err()
}

// ListUnenriched returns titles the similar enricher has never processed:
// similar is absent/null and the record has not been rebuilt since creation.
func (s *TitleStore) ListUnenriched(ctx context.Context) ([]*models.Title, error) {
	cur, err := s.coll.Find(ctx, bson.M{
		"similar": nil,
		"$expr":   bson.M{"$eq": bson.A{"$createdAt", "$lastUpdated"}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.Title
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSimilar stores the enrichment result. An empty slice is persisted as an
// empty array, marking the title as processed with no matches.
func (s *TitleStore) SetSimilar(ctx context.Context, key string, similar []string) error {
	if similar == nil {
		similar = []string{}
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": key}, bson.M{"$set": bson.M{
		"similar":     similar,
		"lastUpdated": time.Now().UTC(),
	}})
	return err
}

// CleanupProvider removes a provider's sources from every canonical title,
// then drops media items left without sources, then deletes titles left
// without media. Returns the number of deleted titles.
func (s *TitleStore) CleanupProvider(ctx context.Context, providerID string) (int64, error) {
	if _, err := s.coll.UpdateMany(ctx,
		bson.M{"media.sources.provider_id": providerID},
		bson.M{"$pull": bson.M{"media.$[].sources": bson.M{"provider_id": providerID}}},
	); err != nil {
		return 0, err
	}
	if _, err := s.coll.UpdateMany(ctx,
		bson.M{"media.sources": bson.M{"$size": 0}},
		bson.M{"$pull": bson.M{"media": bson.M{"sources": bson.M{"$size": 0}}}},
	); err != nil {
		return 0, err
	}
	res, err := s.coll.DeleteMany(ctx, bson.M{"media": bson.M{"$size": 0}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
