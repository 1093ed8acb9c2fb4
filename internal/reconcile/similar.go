package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/models"
	"github.com/streamarc/streamarc/internal/store"
)

const (
	similarMaxPages    = 10
	similarMaxFailures = 3
)

// SimilarSource is the recommendation slice of the metadata client.
type SimilarSource interface {
	Similar(ctx context.Context, mediaType models.MediaType, tmdbID, page int) ([]int, int, error)
}

// Enricher fills the similar list of freshly created canonical titles.
// Titles rebuilt after creation are skipped; once processed a title is never
// revisited, even when it matched nothing.
type Enricher struct {
	titles    *store.TitleStore
	authority SimilarSource
	log       *logrus.Logger
}

func NewEnricher(titles *store.TitleStore, authority SimilarSource, log *logrus.Logger) *Enricher {
	return &Enricher{titles: titles, authority: authority, log: log}
}

// Run enriches every unprocessed title against the current canonical key set.
func (e *Enricher) Run(ctx context.Context) (string, error) {
	pending, err := e.titles.ListUnenriched(ctx)
	if err != nil {
		return "", fmt.Errorf("list unenriched: %w", err)
	}
	if len(pending) == 0 {
		return "no titles to enrich", nil
	}
	local, err := e.titles.AllKeys(ctx)
	if err != nil {
		return "", fmt.Errorf("canonical key set: %w", err)
	}

	enriched := 0
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ids, err := e.collect(ctx, t)
		if err != nil {
			e.log.WithError(err).WithField("title", t.Key).Warn("Enricher: recommendation fetch failed")
			continue
		}
		similar := ProjectSimilar(t.Key, t.MediaType, ids, local)
		if err := e.titles.SetSimilar(ctx, t.Key, similar); err != nil {
			e.log.WithError(err).WithField("title", t.Key).Error("Enricher: persist failed")
			continue
		}
		enriched++
	}
	return fmt.Sprintf("enriched %d/%d titles", enriched, len(pending)), nil
}

// collect pages through the authority's recommendations, giving up after
// three consecutive page failures. Pages that failed are simply absent from
// the result.
func (e *Enricher) collect(ctx context.Context, t *models.Title) ([]int, error) {
	var ids []int
	failures := 0
	totalPages := 1
	for page := 1; page <= totalPages && page <= similarMaxPages; page++ {
		pageIDs, total, err := e.authority.Similar(ctx, t.MediaType, t.TMDBID, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failures++
			if failures >= similarMaxFailures {
				if page == failures {
					// Nothing fetched at all; treat the title as unprocessed.
					return nil, err
				}
				break
			}
			continue
		}
		failures = 0
		totalPages = total
		ids = append(ids, pageIDs...)
	}
	return ids, nil
}

// ProjectSimilar maps recommendation ids through the local catalog, dropping
// ids not present locally and the title itself. Order follows the authority's
// ranking.
func ProjectSimilar(selfKey string, mt models.MediaType, ids []int, local map[string]struct{}) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, id := range ids {
		key := models.TitleKey(mt, id)
		if key == selfKey || seen[key] {
			continue
		}
		if _, ok := local[key]; !ok {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
