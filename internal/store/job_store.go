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

// JobStore persists job run records. The stored status is the only source
// of truth for "is this job running"; the admission gate goes through
// TryAcquire.
type JobStore struct {
	coll *mongo.Collection
}

func NewJobStore(db *mongo.Database) *JobStore {
	return &JobStore{coll: db.Collection(CollJobHistory)}
}

// Get returns the run record, or a zero idle record when the job has never
// run.
func (s *JobStore) Get(ctx context.Context, name string) (*models.JobRecord, error) {
	var rec models.JobRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": name}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.JobRecord{Name: name, Status: models.JobIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// IsRunning reports whether the stored status is running.
func (s *JobStore) IsRunning(ctx context.Context, name string) (bool, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return false, err
	}
	return rec.Status == models.JobRunning, nil
}

// TryAcquire atomically promotes the record to running. It is a single
// conditional update: the filter excludes records already running, and a
// duplicate-key error from the upsert path means another acquisition won.
func (s *JobStore) TryAcquire(ctx context.Context, name, runID string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": name, "status": bson.M{"$ne": models.JobRunning}},
		bson.M{
			"$set": bson.M{
				"status":         models.JobRunning,
				"last_execution": now,
				"last_run_id":    runID,
				"last_error":     "",
				"lastUpdated":    now,
			},
			"$inc":         bson.M{"execution_count": 1},
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

// Finish records the terminal status of a run.
func (s *JobStore) Finish(ctx context.Context, name string, status models.JobStatus, result, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": bson.M{
			"status":      status,
			"last_result": result,
			"last_error":  errMsg,
			"lastUpdated": now,
		}},
	)
	return err
}

// ReconcileOrphans marks records stuck in running as failed. Called once at
// boot; a record can only be running at that point if a previous process died
// mid-job.
func (s *JobStore) ReconcileOrphans(ctx context.Context) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"status": models.JobRunning},
		bson.M{"$set": bson.M{
			"status":      models.JobFailed,
			"last_error":  "orphaned by restart",
			"lastUpdated": time.Now().UTC(),
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// List returns every run record, for the admin surface.
func (s *JobStore) List(ctx context.Context) ([]*models.JobRecord, error) {
	cur, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var recs []*models.JobRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
