package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/streamarc/streamarc/internal/models"
)

type ProviderTitleStore struct {
	coll *mongo.Collection
}

func NewProviderTitleStore(db *mongo.Database) *ProviderTitleStore {
	return &ProviderTitleStore{coll: db.Collection(CollProviderTitles)}
}

func keyFilter(pt *models.ProviderTitle) bson.M {
	return bson.M{
		"provider_id": pt.ProviderID,
		"media_type":  pt.MediaType,
		"upstream_id": pt.UpstreamID,
	}
}

// upsertUpdate builds the update document for one provider title. A path may
// appear under only one operator, so ignored and its reason always live in
// $set and $setOnInsert carries nothing but createdAt. The ignored flag is
// written from the incoming document even when false, so a title whose
// extended info later fetches cleanly recovers.
func upsertUpdate(pt *models.ProviderTitle, now time.Time) bson.M {
	set := bson.M{
		"name":           pt.Name,
		"release_date":   pt.ReleaseDate,
		"streams":        pt.Streams,
		"ignored":        pt.Ignored,
		"ignored_reason": pt.IgnoredReason,
		"lastUpdated":    now,
	}
	if pt.TMDBID != 0 {
		set["tmdb_id"] = pt.TMDBID
	}
	return bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": now},
	}
}

// BulkUpsert writes a batch of provider titles keyed by
// (provider_id, media_type, upstream_id). createdAt is only set on insert;
// lastUpdated is stamped for every document in the batch, so callers must
// filter out unchanged documents first to keep re-ingestion idempotent.
func (s *ProviderTitleStore) BulkUpsert(ctx context.Context, batch []*models.ProviderTitle) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now().UTC()
	ops := make([]mongo.WriteModel, 0, len(batch))
	for _, pt := range batch {
		ops = append(ops, mongo.NewUpdateOneModel().
			SetFilter(keyFilter(pt)).
			SetUpdate(upsertUpdate(pt, now)).
			SetUpsert(true))
	}
	_, err := s.coll.BulkWrite(ctx, ops, options.BulkWrite().SetOrdered(false))
	return err
}

// Get returns the stored document for one upstream title, or nil.
func (s *ProviderTitleStore) Get(ctx context.Context, providerID string, mediaType models.MediaType, upstreamID string) (*models.ProviderTitle, error) {
	var pt models.ProviderTitle
	err := s.coll.FindOne(ctx, bson.M{
		"provider_id": providerID,
		"media_type":  mediaType,
		"upstream_id": upstreamID,
	}).Decode(&pt)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

// GetBatch loads existing documents for a set of upstream ids, for change
// detection before a bulk upsert.
func (s *ProviderTitleStore) GetBatch(ctx context.Context, providerID string, mediaType models.MediaType, upstreamIDs []string) (map[string]*models.ProviderTitle, error) {
	out := make(map[string]*models.ProviderTitle, len(upstreamIDs))
	if len(upstreamIDs) == 0 {
		return out, nil
	}
	cur, err := s.coll.Find(ctx, bson.M{
		"provider_id": providerID,
		"media_type":  mediaType,
		"upstream_id": bson.M{"$in": upstreamIDs},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var pt models.ProviderTitle
		if err := cur.Decode(&pt); err != nil {
			return nil, err
		}
		out[pt.UpstreamID] = &pt
	}
	return out, cur.Err()
}

// DeleteMissing removes provider titles the upstream no longer offers.
func (s *ProviderTitleStore) DeleteMissing(ctx context.Context, providerID string, mediaType models.MediaType, upstreamIDs []string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{
		"provider_id": providerID,
		"media_type":  mediaType,
		"upstream_id": bson.M{"$nin": upstreamIDs},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ListUnmatched returns non-ignored titles the matcher has not resolved.
func (s *ProviderTitleStore) ListUnmatched(ctx context.Context) ([]*models.ProviderTitle, error) {
	cur, err := s.coll.Find(ctx, bson.M{
		"ignored": false,
		"$or": bson.A{
			bson.M{"tmdb_id": bson.M{"$exists": false}},
			bson.M{"tmdb_id": 0},
		},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.ProviderTitle
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetTMDBID records the matcher's resolution for one title.
func (s *ProviderTitleStore) SetTMDBID(ctx context.Context, pt *models.ProviderTitle, tmdbID int) error {
	_, err := s.coll.UpdateOne(ctx, keyFilter(pt), bson.M{"$set": bson.M{
		"tmdb_id":     tmdbID,
		"lastUpdated": time.Now().UTC(),
	}})
	return err
}

// MarkIgnoredByCanonical flags every non-ignored provider title for one
// canonical pair, used when canonical metadata cannot be fetched.
func (s *ProviderTitleStore) MarkIgnoredByCanonical(ctx context.Context, mediaType models.MediaType, tmdbID int, reason string) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"media_type": mediaType, "tmdb_id": tmdbID, "ignored": false},
		bson.M{"$set": bson.M{
			"ignored":        true,
			"ignored_reason": reason,
			"lastUpdated":    time.Now().UTC(),
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ListByCanonical returns every non-ignored provider title feeding one
// canonical pair. The reconciler always re-reads this full set before
// composing sources.
func (s *ProviderTitleStore) ListByCanonical(ctx context.Context, mediaType models.MediaType, tmdbID int) ([]*models.ProviderTitle, error) {
	cur, err := s.coll.Find(ctx, bson.M{
		"media_type": mediaType,
		"tmdb_id":    tmdbID,
		"ignored":    false,
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.ProviderTitle
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CanonicalUpdates aggregates max(lastUpdated) over non-ignored, resolved
// provider titles grouped by canonical pair: the P side of gap detection.
func (s *ProviderTitleStore) CanonicalUpdates(ctx context.Context) (map[string]time.Time, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"ignored": false, "tmdb_id": bson.M{"$gt": 0}}}},
		{{Key: "$group", Value: bson.M{
			"_id":         bson.M{"media_type": "$media_type", "tmdb_id": "$tmdb_id"},
			"lastUpdated": bson.M{"$max": "$lastUpdated"},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]time.Time)
	for cur.Next(ctx) {
		var row struct {
			ID struct {
				MediaType models.MediaType `bson:"media_type"`
				TMDBID    int              `bson:"tmdb_id"`
			} `bson:"_id"`
			LastUpdated time.Time `bson:"lastUpdated"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[models.TitleKey(row.ID.MediaType, row.ID.TMDBID)] = row.LastUpdated
	}
	return out, cur.Err()
}
