package providers

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/diskcache"
	"github.com/streamarc/streamarc/internal/fetch"
	"github.com/streamarc/streamarc/internal/models"
	"github.com/streamarc/streamarc/internal/store"
)

const (
	flushInterval = 30 * time.Second
	maxBatchSize  = 100

	reasonInfoFailed = "extended info fetch failed"
)

// CatalogEntry is one upstream title as listed by a provider's catalog, before
// extended info has been fetched. M3U entries carry their streams already;
// Xtream entries get them during the extended-info stage.
type CatalogEntry struct {
	UpstreamID  string
	Name        string
	CategoryID  string
	ReleaseDate string
	Ext         string
	Streams     map[string]string
}

// Pipeline ingests every active provider's catalog into provider_titles.
type Pipeline struct {
	providers *store.ProviderStore
	titles    *store.ProviderTitleStore
	fetcher   *fetch.Client
	policy    *diskcache.PolicyHolder
	progress  *Progress
	log       *logrus.Logger
}

func NewPipeline(providers *store.ProviderStore, titles *store.ProviderTitleStore, fetcher *fetch.Client, policy *diskcache.PolicyHolder, progress *Progress, log *logrus.Logger) *Pipeline {
	return &Pipeline{providers: providers, titles: titles, fetcher: fetcher, policy: policy, progress: progress, log: log}
}

func concurrencyFor(p *models.Provider) int {
	if p.MaxConcurrent > 0 {
		return p.MaxConcurrent
	}
	if p.Kind == models.ProviderM3U {
		return fetch.DefaultM3UConcurrency
	}
	return fetch.DefaultXtreamConcurrency
}

func batchSize(concurrent int) int {
	b := 2 * concurrent
	if b > maxBatchSize {
		b = maxBatchSize
	}
	if b < 1 {
		b = 1
	}
	return b
}

// ApplyNameRules runs the provider's regex cleanups in order. Rules that do
// not compile are skipped.
func ApplyNameRules(name string, rules []models.NameRule) string {
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			continue
		}
		name = re.ReplaceAllString(name, r.Replace)
	}
	return name
}

// Run syncs every active provider's movie and series catalogs. A provider
// failure is logged and does not stop the remaining passes.
func (p *Pipeline) Run(ctx context.Context) (string, error) {
	provs, err := p.providers.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("list providers: %w", err)
	}

	var passes, failed int
	var errs []error
	for _, prov := range provs {
		p.fetcher.SetLimit(prov.ID, concurrencyFor(prov))
		for _, mt := range models.MediaTypes {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			passes++
			if err := p.syncOne(ctx, prov, mt); err != nil {
				failed++
				errs = append(errs, fmt.Errorf("%s/%s: %w", prov.ID, mt, err))
				p.log.WithError(err).WithFields(logrus.Fields{
					"provider": prov.ID,
					"type":     mt,
				}).Error("Pipeline: provider pass failed")
			}
		}
	}

	summary := fmt.Sprintf("synced %d/%d provider passes", passes-failed, passes)
	if failed > 0 {
		return summary, errors.Join(errs...)
	}
	return summary, nil
}

// syncOne runs a single (provider, media type) pass: catalog listing, category
// and name-rule filtering, batched extended-info fetches, periodic flushes,
// then removal of titles the upstream no longer lists.
func (p *Pipeline) syncOne(ctx context.Context, prov *models.Provider, mt models.MediaType) error {
	log := p.log.WithFields(logrus.Fields{"provider": prov.ID, "type": mt})

	entries, xc, err := p.catalog(ctx, prov, mt)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	entries = p.filterEntries(prov, mt, entries)
	log.WithField("count", len(entries)).Info("Pipeline: catalog listed")

	total := len(entries)
	var remaining atomic.Int64
	remaining.Store(int64(total))
	if err := p.progress.Set(ctx, prov.ID, mt, total, total); err != nil {
		log.WithError(err).Debug("Pipeline: progress update failed")
	}

	acc := &accumulator{}
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.flush(ctx, prov, mt, acc.drain()); err != nil {
					log.WithError(err).Warn("Pipeline: periodic flush failed")
				}
				if err := p.progress.Set(ctx, prov.ID, mt, total, int(remaining.Load())); err != nil {
					log.WithError(err).Debug("Pipeline: progress update failed")
				}
			case <-ctx.Done():
				return
			case <-acc.closed():
				return
			}
		}
	}()

	seen := make([]string, 0, len(entries))
	for _, e := range entries {
		seen = append(seen, e.UpstreamID)
	}

	b := batchSize(concurrencyFor(prov))
	for start := 0; start < len(entries); start += b {
		if err := ctx.Err(); err != nil {
			acc.close()
			<-flushDone
			return err
		}
		end := start + b
		if end > len(entries) {
			end = len(entries)
		}
		var wg sync.WaitGroup
		for _, e := range entries[start:end] {
			wg.Add(1)
			go func(e CatalogEntry) {
				defer wg.Done()
				defer remaining.Add(-1)
				acc.add(p.buildTitle(ctx, prov, mt, xc, e))
			}(e)
		}
		wg.Wait()
	}

	acc.close()
	<-flushDone
	if err := p.flush(ctx, prov, mt, acc.drain()); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	if err := p.progress.Set(ctx, prov.ID, mt, total, 0); err != nil {
		log.WithError(err).Debug("Pipeline: progress update failed")
	}

	deleted, err := p.titles.DeleteMissing(ctx, prov.ID, mt, seen)
	if err != nil {
		return fmt.Errorf("delete missing: %w", err)
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("Pipeline: removed titles no longer offered")
	}
	return nil
}

// catalog lists the upstream titles for one pass. The Xtream client is
// returned alongside so the extended-info stage can reuse it.
func (p *Pipeline) catalog(ctx context.Context, prov *models.Provider, mt models.MediaType) ([]CatalogEntry, *XtreamClient, error) {
	switch prov.Kind {
	case models.ProviderXtream:
		xc := NewXtreamClient(prov, p.fetcher, p.policy)
		if mt == models.MediaTypeMovies {
			streams, err := xc.VODStreams(ctx)
			if err != nil {
				return nil, nil, err
			}
			out := make([]CatalogEntry, 0, len(streams))
			for _, s := range streams {
				out = append(out, CatalogEntry{
					UpstreamID: s.StreamID.String(),
					Name:       s.Name,
					CategoryID: s.CategoryID.String(),
					Ext:        s.ContainerExtension,
				})
			}
			return out, xc, nil
		}
		series, err := xc.Series(ctx)
		if err != nil {
			return nil, nil, err
		}
		out := make([]CatalogEntry, 0, len(series))
		for _, s := range series {
			out = append(out, CatalogEntry{
				UpstreamID:  s.SeriesID.String(),
				Name:        s.Name,
				CategoryID:  s.CategoryID.String(),
				ReleaseDate: s.ReleaseDate,
			})
		}
		return out, xc, nil

	case models.ProviderM3U:
		mc := NewM3UClient(prov, p.fetcher, p.policy)
		playlist, err := mc.Playlist(ctx)
		if err != nil {
			return nil, nil, err
		}
		return m3uCatalog(playlist, mt), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown provider kind %q", prov.Kind)
}

// m3uCatalog folds playlist lines into catalog entries. Episode lines of the
// same show collapse into one series entry carrying all episode streams; the
// show name doubles as the upstream id since playlists have no stable ids.
func m3uCatalog(playlist []M3UEntry, mt models.MediaType) []CatalogEntry {
	if mt == models.MediaTypeMovies {
		var out []CatalogEntry
		for _, e := range playlist {
			if !IsVOD(e) {
				continue
			}
			if _, _, ok := SeasonEpisode(e.Name); ok {
				continue
			}
			out = append(out, CatalogEntry{
				UpstreamID: e.Name,
				Name:       e.Name,
				CategoryID: e.GroupTitle,
				Streams:    map[string]string{"main": e.URL},
			})
		}
		return out
	}

	byShow := make(map[string]*CatalogEntry)
	var order []string
	for _, e := range playlist {
		season, episode, ok := SeasonEpisode(e.Name)
		if !ok {
			continue
		}
		base := SeriesBase(e.Name)
		if base == "" {
			continue
		}
		entry, exists := byShow[base]
		if !exists {
			entry = &CatalogEntry{
				UpstreamID: base,
				Name:       base,
				CategoryID: e.GroupTitle,
				Streams:    make(map[string]string),
			}
			byShow[base] = entry
			order = append(order, base)
		}
		entry.Streams[episodeKey(season, episode)] = e.URL
	}
	out := make([]CatalogEntry, 0, len(order))
	for _, base := range order {
		out = append(out, *byShow[base])
	}
	return out
}

func episodeKey(season, episode int) string {
	return fmt.Sprintf("S%02d-E%02d", season, episode)
}

// filterEntries applies category gating, name rules, and drops entries with
// no usable id.
func (p *Pipeline) filterEntries(prov *models.Provider, mt models.MediaType, entries []CatalogEntry) []CatalogEntry {
	var keepCategory map[string]bool
	if cats := prov.EnabledCategories[mt]; len(cats) > 0 {
		keepCategory = make(map[string]bool, len(cats))
		for _, c := range cats {
			keepCategory[c] = true
		}
	}

	out := entries[:0]
	for _, e := range entries {
		if e.UpstreamID == "" {
			continue
		}
		if keepCategory != nil && !keepCategory[e.CategoryID] {
			continue
		}
		e.Name = ApplyNameRules(e.Name, prov.NameRules)
		if e.Name == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// buildTitle turns one catalog entry into a provider title, fetching extended
// info for Xtream entries. A failed info fetch yields an ignored document so
// the entry is not retried on every flush but the failure stays visible.
func (p *Pipeline) buildTitle(ctx context.Context, prov *models.Provider, mt models.MediaType, xc *XtreamClient, e CatalogEntry) *models.ProviderTitle {
	pt := &models.ProviderTitle{
		ProviderID:  prov.ID,
		UpstreamID:  e.UpstreamID,
		MediaType:   mt,
		Name:        e.Name,
		ReleaseDate: e.ReleaseDate,
		Streams:     e.Streams,
	}

	if xc == nil {
		if len(pt.Streams) == 0 {
			pt.Ignored = true
			pt.IgnoredReason = reasonInfoFailed
		}
		return pt
	}

	if mt == models.MediaTypeMovies {
		info, err := xc.VODInfo(ctx, e.UpstreamID)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"provider": prov.ID,
				"upstream": e.UpstreamID,
			}).Warn("Pipeline: vod info failed")
			pt.Ignored = true
			pt.IgnoredReason = reasonInfoFailed
			return pt
		}
		ext := info.MovieData.ContainerExtension
		if ext == "" {
			ext = e.Ext
		}
		if info.Info.ReleaseDate != "" {
			pt.ReleaseDate = info.Info.ReleaseDate
		}
		pt.Streams = map[string]string{"main": xc.MovieURL(e.UpstreamID, ext)}
		return pt
	}

	info, err := xc.SeriesInfo(ctx, e.UpstreamID)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"provider": prov.ID,
			"upstream": e.UpstreamID,
		}).Warn("Pipeline: series info failed")
		pt.Ignored = true
		pt.IgnoredReason = reasonInfoFailed
		return pt
	}
	if info.Info.ReleaseDate != "" {
		pt.ReleaseDate = info.Info.ReleaseDate
	}
	pt.Streams = make(map[string]string)
	for seasonKey, eps := range info.Episodes {
		for _, ep := range eps {
			season, err := strconv.Atoi(ep.Season.String())
			if err != nil || season == 0 {
				season, _ = strconv.Atoi(seasonKey)
			}
			episode, err := strconv.Atoi(ep.EpisodeNum.String())
			if err != nil {
				continue
			}
			pt.Streams[episodeKey(season, episode)] = xc.EpisodeURL(ep.ID.String(), ep.ContainerExtension)
		}
	}
	if len(pt.Streams) == 0 {
		pt.Ignored = true
		pt.IgnoredReason = reasonInfoFailed
	}
	return pt
}

// flush persists a drained batch, writing only documents that are new or
// differ from what is stored so unchanged titles keep their lastUpdated.
func (p *Pipeline) flush(ctx context.Context, prov *models.Provider, mt models.MediaType, batch []*models.ProviderTitle) error {
	if len(batch) == 0 {
		return nil
	}
	ids := make([]string, 0, len(batch))
	for _, pt := range batch {
		ids = append(ids, pt.UpstreamID)
	}
	existing, err := p.titles.GetBatch(ctx, prov.ID, mt, ids)
	if err != nil {
		return err
	}
	changed := batch[:0]
	for _, pt := range batch {
		if titleChanged(existing[pt.UpstreamID], pt) {
			changed = append(changed, pt)
		}
	}
	return p.titles.BulkUpsert(ctx, changed)
}

// titleChanged reports whether an incoming document differs from the stored
// one in any upstream-owned field. An entry that previously failed its info
// fetch counts as changed once a fetch succeeds.
func titleChanged(old, incoming *models.ProviderTitle) bool {
	if old == nil {
		return true
	}
	if incoming.Ignored {
		// A repeat failure rewrites nothing; a first failure is recorded.
		return !old.Ignored
	}
	return old.Ignored ||
		old.Name != incoming.Name ||
		old.ReleaseDate != incoming.ReleaseDate ||
		!maps.Equal(old.Streams, incoming.Streams)
}

// ──────── Accumulator ────────

// accumulator collects finished documents between flushes.
type accumulator struct {
	mu      sync.Mutex
	pending []*models.ProviderTitle
	done    chan struct{}
	once    sync.Once
}

func (a *accumulator) add(pt *models.ProviderTitle) {
	if pt == nil {
		return
	}
	a.mu.Lock()
	a.pending = append(a.pending, pt)
	a.mu.Unlock()
}

func (a *accumulator) drain() []*models.ProviderTitle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}

func (a *accumulator) closed() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		a.done = make(chan struct{})
	}
	return a.done
}

func (a *accumulator) close() {
	ch := a.closed()
	a.once.Do(func() { close(ch) })
}
