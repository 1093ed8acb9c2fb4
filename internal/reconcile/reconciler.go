package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/models"
	"github.com/streamarc/streamarc/internal/store"
	"github.com/streamarc/streamarc/internal/tmdb"
)

const (
	rebuildWorkers = 8
	saveInterval   = 30 * time.Second

	reasonNoMetadata = "no canonical metadata"

	// settingEnabledProviders is the stored snapshot of the enabled-provider
	// set; a change triggers disabled-provider cleanup before gap detection.
	settingEnabledProviders = "reconcile.enabled_providers"
)

// Authority is the slice of the metadata client the reconciler needs.
type Authority interface {
	Details(ctx context.Context, mediaType models.MediaType, tmdbID int) (*tmdb.TitleDetails, error)
	Season(ctx context.Context, tmdbID, season int) ([]tmdb.Episode, error)
}

// Reconciler closes the gap between provider_titles and the canonical titles
// collection.
type Reconciler struct {
	titles         *store.TitleStore
	providerTitles *store.ProviderTitleStore
	providers      *store.ProviderStore
	settings       *store.SettingsStore
	authority      Authority
	log            *logrus.Logger
}

func New(titles *store.TitleStore, providerTitles *store.ProviderTitleStore, providers *store.ProviderStore, settings *store.SettingsStore, authority Authority, log *logrus.Logger) *Reconciler {
	return &Reconciler{
		titles:         titles,
		providerTitles: providerTitles,
		providers:      providers,
		settings:       settings,
		authority:      authority,
		log:            log,
	}
}

// Run executes one full reconciliation pass: disabled-provider cleanup, gap
// detection, deletions, then bounded-concurrency rebuilds with periodic bulk
// saves.
func (r *Reconciler) Run(ctx context.Context) (string, error) {
	if err := r.cleanupDisabled(ctx); err != nil {
		return "", fmt.Errorf("disabled-provider cleanup: %w", err)
	}

	m, err := r.titles.UpdatedByKey(ctx)
	if err != nil {
		return "", fmt.Errorf("canonical snapshot: %w", err)
	}
	p, err := r.providerTitles.CanonicalUpdates(ctx)
	if err != nil {
		return "", fmt.Errorf("provider snapshot: %w", err)
	}
	gaps := DetectGaps(m, p)
	r.log.WithFields(logrus.Fields{
		"delete": len(gaps.ToDelete),
		"create": len(gaps.ToCreate),
		"update": len(gaps.ToUpdate),
	}).Info("Reconciler: gaps detected")

	deleted, err := r.titles.DeleteKeys(ctx, gaps.ToDelete)
	if err != nil {
		return "", fmt.Errorf("delete stale titles: %w", err)
	}

	rebuildKeys := make([]string, 0, len(gaps.ToCreate)+len(gaps.ToUpdate))
	rebuildKeys = append(rebuildKeys, gaps.ToCreate...)
	rebuildKeys = append(rebuildKeys, gaps.ToUpdate...)
	sort.Strings(rebuildKeys)

	built, err := r.rebuild(ctx, rebuildKeys)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted %d, rebuilt %d/%d canonical titles", deleted, built, len(rebuildKeys)), nil
}

// cleanupDisabled compares the enabled-provider set against the stored
// snapshot. On change it strips every inactive provider's sources from the
// catalog, then records the new snapshot.
func (r *Reconciler) cleanupDisabled(ctx context.Context) error {
	all, err := r.providers.ListAll(ctx)
	if err != nil {
		return err
	}
	var enabled []string
	for _, p := range all {
		if p.Active() {
			enabled = append(enabled, p.ID)
		}
	}
	sort.Strings(enabled)
	snapshot := strings.Join(enabled, ",")

	prev, err := r.settings.Get(ctx, settingEnabledProviders)
	if err != nil {
		return err
	}
	if prev == snapshot {
		return nil
	}

	for _, p := range all {
		if p.Active() {
			continue
		}
		removed, err := r.titles.CleanupProvider(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
		if removed > 0 {
			r.log.WithFields(logrus.Fields{
				"provider": p.ID,
				"titles":   removed,
			}).Info("Reconciler: removed titles of inactive provider")
		}
	}
	return r.settings.Set(ctx, settingEnabledProviders, snapshot)
}

// rebuild materializes canonical titles for the given keys, flushing
// accumulated documents every save interval and once at the end.
func (r *Reconciler) rebuild(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	prior, err := r.titles.PriorByKey(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("prior records: %w", err)
	}

	var (
		mu      sync.Mutex
		pending []*models.Title
		built   atomic.Int64
	)
	flush := func() error {
		mu.Lock()
		batch := pending
		pending = nil
		mu.Unlock()
		return r.titles.BulkUpsert(ctx, batch)
	}

	stop := make(chan struct{})
	var flusher sync.WaitGroup
	flusher.Add(1)
	go func() {
		defer flusher.Done()
		ticker := time.NewTicker(saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := flush(); err != nil {
					r.log.WithError(err).Warn("Reconciler: periodic save failed")
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	sem := make(chan struct{}, rebuildWorkers)
	var wg sync.WaitGroup
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()
			t := r.buildOne(ctx, key, prior[key])
			if t == nil {
				return
			}
			mu.Lock()
			pending = append(pending, t)
			mu.Unlock()
			built.Add(1)
		}(key)
	}
	wg.Wait()
	close(stop)
	flusher.Wait()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, fmt.Errorf("final save: %w", err)
	}
	return int(built.Load()), nil
}

// buildOne materializes one canonical title. It always re-reads the full
// provider-title set for the key so a rebuild triggered by one provider's
// change cannot drop another provider's sources. Returns nil when the title
// should not exist.
func (r *Reconciler) buildOne(ctx context.Context, key string, prior *store.PriorTitle) *models.Title {
	log := r.log.WithField("title", key)

	mt, tmdbID, err := ParseTitleKey(key)
	if err != nil {
		log.WithError(err).Error("Reconciler: bad title key")
		return nil
	}

	details, err := r.authority.Details(ctx, mt, tmdbID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("Reconciler: canonical metadata unavailable")
		if _, err := r.providerTitles.MarkIgnoredByCanonical(ctx, mt, tmdbID, reasonNoMetadata); err != nil {
			log.WithError(err).Error("Reconciler: mark ignored failed")
		}
		return nil
	}

	pts, err := r.providerTitles.ListByCanonical(ctx, mt, tmdbID)
	if err != nil {
		log.WithError(err).Error("Reconciler: provider-title read failed")
		return nil
	}
	if len(pts) == 0 {
		return nil
	}

	var media []models.MediaItem
	if mt == models.MediaTypeTVShows {
		media = AssembleTVMedia(details, tmdbID, pts, r.seasonEpisodes(ctx, details, tmdbID, pts))
	} else {
		media = AssembleMovieMedia(details, tmdbID, pts)
	}
	if len(media) == 0 {
		return nil
	}
	return ComposeTitle(details, mt, tmdbID, media, prior, time.Now().UTC())
}

// seasonEpisodes fetches authority episode data for every season the
// providers reference. A failed season fetch degrades that season's items to
// bare names.
func (r *Reconciler) seasonEpisodes(ctx context.Context, details *tmdb.TitleDetails, tmdbID int, pts []*models.ProviderTitle) map[[2]int]tmdb.Episode {
	out := make(map[[2]int]tmdb.Episode)
	for _, season := range NeededSeasons(details, pts) {
		eps, err := r.authority.Season(ctx, tmdbID, season)
		if err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"tmdb_id": tmdbID,
				"season":  season,
			}).Warn("Reconciler: season fetch failed")
			continue
		}
		for _, ep := range eps {
			out[[2]int{ep.SeasonNumber, ep.EpisodeNumber}] = ep
		}
	}
	return out
}

// ComposeTitle fills a canonical record from authority details and assembled
// media. prior carries the previous record's creation stamp and similar list,
// both preserved across rebuilds; a nil prior marks a brand-new title, whose
// createdAt equals lastUpdated until something changes it.
func ComposeTitle(d *tmdb.TitleDetails, mt models.MediaType, tmdbID int, media []models.MediaItem, prior *store.PriorTitle, now time.Time) *models.Title {
	t := &models.Title{
		Key:         models.TitleKey(mt, tmdbID),
		TMDBID:      tmdbID,
		MediaType:   mt,
		Name:        d.DisplayName(),
		ReleaseDate: d.Released(),
		VoteAverage: d.VoteAverage,
		VoteCount:   d.VoteCount,
		Overview:    d.Overview,
		Poster:      d.PosterPath,
		Backdrop:    d.BackdropPath,
		Runtime:     d.Runtime,
		IMDBID:      d.ExternalID(),
		Media:       media,
		CreatedAt:   now,
		LastUpdated: now,
	}
	for _, g := range d.Genres {
		t.Genres = append(t.Genres, g.Name)
	}
	if prior != nil {
		t.CreatedAt = prior.CreatedAt
		t.Similar = prior.Similar
	}
	return t
}
