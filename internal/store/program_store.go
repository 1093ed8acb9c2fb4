package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/streamarc/streamarc/internal/models"
)

// programInsertBatch bounds a single InsertMany; big guides arrive in chunks.
const programInsertBatch = 5000

type ProgramStore struct {
	coll *mongo.Collection
}

func NewProgramStore(db *mongo.Database) *ProgramStore {
	return &ProgramStore{coll: db.Collection(CollPrograms)}
}

// ReplaceProvider rebuilds the provider's guide unconditionally: delete
// everything, insert the new batch.
func (s *ProgramStore) ReplaceProvider(ctx context.Context, providerID string, programs []*models.Program) (int64, error) {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"provider_id": providerID}); err != nil {
		return 0, err
	}
	var inserted int64
	for start := 0; start < len(programs); start += programInsertBatch {
		end := start + programInsertBatch
		if end > len(programs) {
			end = len(programs)
		}
		docs := make([]any, 0, end-start)
		for _, p := range programs[start:end] {
			docs = append(docs, p)
		}
		res, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err != nil {
			return inserted, err
		}
		inserted += int64(len(res.InsertedIDs))
	}
	return inserted, nil
}

// CountByProvider reports stored guide size, for run summaries.
func (s *ProgramStore) CountByProvider(ctx context.Context, providerID string) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{"provider_id": providerID})
}
