package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamarc/streamarc/internal/models"
)

const progressTTL = 24 * time.Hour

// ProgressEntry is one (provider, media type) ingestion counter pair.
type ProgressEntry struct {
	ProviderID string           `json:"provider_id"`
	MediaType  models.MediaType `json:"media_type"`
	Total      int              `json:"total"`
	Remaining  int              `json:"remaining"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Progress publishes pipeline counters to Redis so observers can sample
// ingestion state without touching the document store.
type Progress struct {
	rdb *redis.Client
}

func NewProgress(rdb *redis.Client) *Progress {
	return &Progress{rdb: rdb}
}

func progressKey(providerID string, mt models.MediaType) string {
	return fmt.Sprintf("progress:%s:%s", providerID, mt)
}

// Set records the current counters. Failures are returned but callers treat
// them as non-fatal; progress is advisory.
func (p *Progress) Set(ctx context.Context, providerID string, mt models.MediaType, total, remaining int) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	entry := ProgressEntry{
		ProviderID: providerID,
		MediaType:  mt,
		Total:      total,
		Remaining:  remaining,
		UpdatedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return p.rdb.Set(ctx, progressKey(providerID, mt), data, progressTTL).Err()
}

// Snapshot returns every live counter, keyed by "provider:type".
func (p *Progress) Snapshot(ctx context.Context) (map[string]ProgressEntry, error) {
	out := make(map[string]ProgressEntry)
	if p == nil || p.rdb == nil {
		return out, nil
	}
	iter := p.rdb.Scan(ctx, 0, "progress:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := p.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var entry ProgressEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		out[fmt.Sprintf("%s:%s", entry.ProviderID, entry.MediaType)] = entry
	}
	return out, iter.Err()
}
