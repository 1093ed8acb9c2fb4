package matcher

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/models"
	"github.com/streamarc/streamarc/internal/store"
)

const matchWorkers = 8

// Authority is the slice of the metadata client the matcher needs.
type Authority interface {
	FindByIMDB(ctx context.Context, mediaType models.MediaType, imdbID string) (int, error)
	Search(ctx context.Context, mediaType models.MediaType, query string, year int) (int, error)
}

// Matcher resolves provider titles to canonical ids. Unresolvable titles stay
// at id 0 and remain invisible to the reconciler; they are retried on the next
// run.
type Matcher struct {
	titles    *store.ProviderTitleStore
	authority Authority
	log       *logrus.Logger
}

func New(titles *store.ProviderTitleStore, authority Authority, log *logrus.Logger) *Matcher {
	return &Matcher{titles: titles, authority: authority, log: log}
}

// Run matches every unresolved, non-ignored provider title.
func (m *Matcher) Run(ctx context.Context) (string, error) {
	pending, err := m.titles.ListUnmatched(ctx)
	if err != nil {
		return "", fmt.Errorf("list unmatched: %w", err)
	}
	if len(pending) == 0 {
		return "no unmatched titles", nil
	}

	var matched atomic.Int64
	sem := make(chan struct{}, matchWorkers)
	var wg sync.WaitGroup
	for _, pt := range pending {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(pt *models.ProviderTitle) {
			defer wg.Done()
			defer func() { <-sem }()
			id := m.Resolve(ctx, pt)
			if id == 0 {
				return
			}
			if err := m.titles.SetTMDBID(ctx, pt, id); err != nil {
				m.log.WithError(err).WithField("name", pt.Name).Error("Matcher: persist failed")
				return
			}
			matched.Add(1)
		}(pt)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("matched %d/%d titles", matched.Load(), len(pending)), nil
}

// Resolve runs the match strategies in order and returns the canonical id, or
// 0 when no strategy produced one.
func (m *Matcher) Resolve(ctx context.Context, pt *models.ProviderTitle) int {
	log := m.log.WithFields(logrus.Fields{"provider": pt.ProviderID, "name": pt.Name})

	// Strategy A: the upstream id already is an external id.
	if strings.HasPrefix(pt.UpstreamID, "tt") {
		id, err := m.authority.FindByIMDB(ctx, pt.MediaType, pt.UpstreamID)
		if err != nil {
			log.WithError(err).Debug("Matcher: external-id lookup failed, falling back to search")
		} else if id > 0 {
			return id
		}
	}

	// Strategy B: title plus year, then title alone.
	query, year := TitleQuery(pt.Name, pt.ReleaseDate)
	if query == "" {
		return 0
	}
	if year > 0 {
		id, err := m.authority.Search(ctx, pt.MediaType, query, year)
		if err != nil {
			log.WithError(err).Debug("Matcher: year search failed")
		} else if id > 0 {
			return id
		}
	}
	id, err := m.authority.Search(ctx, pt.MediaType, query, 0)
	if err != nil {
		log.WithError(err).Debug("Matcher: search failed")
		return 0
	}
	return id
}

var (
	yearSuffixRe = regexp.MustCompile(`\s*\((\d{4})\)\s*$`)
	spaceRunRe   = regexp.MustCompile(`\s{2,}`)
)

// TitleQuery normalizes a display name into a search query plus a year hint.
// The year comes from a parenthesized suffix first, then from the release
// date.
func TitleQuery(name, releaseDate string) (string, int) {
	year := 0
	if m := yearSuffixRe.FindStringSubmatch(name); m != nil {
		year, _ = strconv.Atoi(m[1])
		name = name[:len(name)-len(m[0])]
	}
	if year == 0 && len(releaseDate) >= 4 {
		if y, err := strconv.Atoi(releaseDate[:4]); err == nil {
			year = y
		}
	}
	name = strings.TrimSpace(strings.Trim(name, " -"))
	name = spaceRunRe.ReplaceAllString(name, " ")
	return name, year
}
