package providers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/streamarc/streamarc/internal/diskcache"
	"github.com/streamarc/streamarc/internal/fetch"
	"github.com/streamarc/streamarc/internal/models"
)

const maxM3ULineSize = 1 << 20 // 1 MiB per line

// M3UEntry is one #EXTINF directive plus its following URL line.
type M3UEntry struct {
	TvgID      string
	TvgName    string
	GroupTitle string
	Name       string
	URL        string
}

// M3UClient fetches and parses a provider's playlist.
type M3UClient struct {
	provider *models.Provider
	fetcher  *fetch.Client
	policy   *diskcache.PolicyHolder
}

func NewM3UClient(p *models.Provider, fetcher *fetch.Client, policy *diskcache.PolicyHolder) *M3UClient {
	return &M3UClient{provider: p, fetcher: fetcher, policy: policy}
}

// Playlist downloads the provider's M3U and parses it line by line.
func (c *M3UClient) Playlist(ctx context.Context) ([]M3UEntry, error) {
	cachePath := fmt.Sprintf("m3u/%s/playlist.m3u", c.provider.ID)
	body, err := c.fetcher.Fetch(ctx, c.provider.ID, http.MethodGet, c.provider.M3UURL, fetch.Options{
		CachePath: cachePath,
		CacheTTL:  cacheTTL(c.policy, cachePath),
	})
	if err != nil {
		return nil, err
	}
	return ParseM3U(strings.NewReader(body.Text()))
}

var extinfAttrRe = regexp.MustCompile(`([a-zA-Z0-9-]+)="([^"]*)"`)

// ParseM3U reads a playlist in a streaming fashion. Directives without a
// following URL line are dropped.
func ParseM3U(r io.Reader) ([]M3UEntry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxM3ULineSize)

	var entries []M3UEntry
	var pending *M3UEntry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line == "#EXTM3U" {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			e := parseEXTINF(line)
			pending = &e
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if pending != nil {
			pending.URL = line
			entries = append(entries, *pending)
			pending = nil
		}
	}
	return entries, sc.Err()
}

func parseEXTINF(line string) M3UEntry {
	e := M3UEntry{}
	for _, m := range extinfAttrRe.FindAllStringSubmatch(line, -1) {
		switch strings.ToLower(m[1]) {
		case "tvg-id":
			e.TvgID = m[2]
		case "tvg-name":
			e.TvgName = m[2]
		case "group-title":
			e.GroupTitle = m[2]
		}
	}
	if i := strings.LastIndex(line, ","); i >= 0 {
		e.Name = strings.TrimSpace(line[i+1:])
	}
	if e.Name == "" {
		e.Name = e.TvgName
	}
	return e
}

// ──────── Entry classification ────────

var (
	seasonEpisodeRe = regexp.MustCompile(`(?i)\bS(\d{1,2})[ .-]?E(\d{1,3})\b`)
	yearSuffixRe    = regexp.MustCompile(`\((\d{4})\)\s*$`)
)

// SeasonEpisode extracts SxxEyy markers from an entry name. ok is false for
// names without one.
func SeasonEpisode(name string) (season, episode int, ok bool) {
	m := seasonEpisodeRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	season, _ = strconv.Atoi(m[1])
	episode, _ = strconv.Atoi(m[2])
	return season, episode, true
}

// IsVOD reports whether a playlist entry looks like on-demand content rather
// than a live channel: it carries a year suffix or an episode marker.
func IsVOD(e M3UEntry) bool {
	if _, _, ok := SeasonEpisode(e.Name); ok {
		return true
	}
	return yearSuffixRe.MatchString(e.Name)
}

// SeriesBase strips the episode marker and everything after it, yielding the
// show name an episode entry belongs to.
func SeriesBase(name string) string {
	loc := seasonEpisodeRe.FindStringIndex(name)
	if loc == nil {
		return name
	}
	return strings.TrimSpace(strings.Trim(name[:loc[0]], " -"))
}
