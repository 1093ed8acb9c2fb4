package reconcile

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/streamarc/streamarc/internal/models"
	"github.com/streamarc/streamarc/internal/tmdb"
)

var (
	episodeKeyRe   = regexp.MustCompile(`^S(\d+)-E(\d+)$`)
	unsafePathChar = regexp.MustCompile(`[\\/:*?"<>|]`)
)

// ParseEpisodeKey splits a "S{nn}-E{nn}" stream key. ok is false for the
// movie "main" key or anything malformed.
func ParseEpisodeKey(key string) (season, episode int, ok bool) {
	m := episodeKeyRe.FindStringSubmatch(key)
	if m == nil {
		return 0, 0, false
	}
	season, _ = strconv.Atoi(m[1])
	episode, _ = strconv.Atoi(m[2])
	return season, episode, true
}

func sanitizePathPart(s string) string {
	return strings.TrimSpace(unsafePathChar.ReplaceAllString(s, ""))
}

// folderName renders the library folder for one canonical title, e.g.
// "Heat (1995) [imdbid=tt0113277]". Without an external id the canonical id
// is used instead.
func folderName(d *tmdb.TitleDetails, tmdbID int) string {
	name := sanitizePathPart(d.DisplayName())
	year := releaseYear(d.Released())
	tag := fmt.Sprintf("[tmdbid=%d]", tmdbID)
	if ext := d.ExternalID(); ext != "" {
		tag = fmt.Sprintf("[imdbid=%s]", ext)
	}
	if year != "" {
		return fmt.Sprintf("%s (%s) %s", name, year, tag)
	}
	return fmt.Sprintf("%s %s", name, tag)
}

func releaseYear(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}

func baseName(d *tmdb.TitleDetails) string {
	name := sanitizePathPart(d.DisplayName())
	if year := releaseYear(d.Released()); year != "" {
		return fmt.Sprintf("%s (%s)", name, year)
	}
	return name
}

// MovieProxyPath builds the synthetic .strm path for a movie's single media
// item.
func MovieProxyPath(d *tmdb.TitleDetails, tmdbID int) string {
	return fmt.Sprintf("%s/%s/%s.strm", models.MediaTypeMovies, folderName(d, tmdbID), baseName(d))
}

// EpisodeProxyPath builds the synthetic .strm path for one episode, grouped
// under a "Season {n}" directory.
func EpisodeProxyPath(d *tmdb.TitleDetails, tmdbID, season, episode int) string {
	return fmt.Sprintf("%s/%s/Season %d/%s - S%02dE%02d.strm",
		models.MediaTypeTVShows, folderName(d, tmdbID), season, baseName(d), season, episode)
}

// AssembleMovieMedia folds every provider's "main" stream into the single
// movie media item. Provider titles without a main stream contribute nothing.
func AssembleMovieMedia(d *tmdb.TitleDetails, tmdbID int, pts []*models.ProviderTitle) []models.MediaItem {
	var sources []models.Source
	for _, pt := range pts {
		url := pt.Streams["main"]
		if url == "" {
			continue
		}
		sources = append(sources, models.Source{
			ProviderID: pt.ProviderID,
			UpstreamID: pt.UpstreamID,
			URL:        url,
		})
	}
	if len(sources) == 0 {
		return nil
	}
	return []models.MediaItem{{
		Name:      "main",
		ProxyPath: MovieProxyPath(d, tmdbID),
		Sources:   sources,
	}}
}

// AssembleTVMedia builds one media item per distinct episode key across all
// providers, ordered by season then episode. episodes carries authority
// enrichment keyed by (season, episode); entries missing from it keep bare
// names.
func AssembleTVMedia(d *tmdb.TitleDetails, tmdbID int, pts []*models.ProviderTitle, episodes map[[2]int]tmdb.Episode) []models.MediaItem {
	type slot struct {
		season, episode int
		sources         []models.Source
	}
	slots := make(map[[2]int]*slot)
	for _, pt := range pts {
		for key, url := range pt.Streams {
			season, episode, ok := ParseEpisodeKey(key)
			if !ok || url == "" {
				continue
			}
			k := [2]int{season, episode}
			s, exists := slots[k]
			if !exists {
				s = &slot{season: season, episode: episode}
				slots[k] = s
			}
			s.sources = append(s.sources, models.Source{
				ProviderID: pt.ProviderID,
				UpstreamID: pt.UpstreamID,
				URL:        url,
			})
		}
	}

	keys := make([][2]int, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	out := make([]models.MediaItem, 0, len(keys))
	for _, k := range keys {
		s := slots[k]
		item := models.MediaItem{
			Name:      fmt.Sprintf("S%02dE%02d", s.season, s.episode),
			ProxyPath: EpisodeProxyPath(d, tmdbID, s.season, s.episode),
			Season:    s.season,
			Episode:   s.episode,
			Sources:   s.sources,
		}
		if ep, ok := episodes[k]; ok {
			if ep.Name != "" {
				item.Name = ep.Name
			}
			item.AirDate = ep.AirDate
			item.Overview = ep.Overview
			item.Still = ep.StillPath
		}
		out = append(out, item)
	}
	return out
}

// NeededSeasons returns the sorted season numbers present in the providers'
// episode keys, intersected with the seasons the authority reports, so
// season fetches never chase numbers the authority does not have.
func NeededSeasons(d *tmdb.TitleDetails, pts []*models.ProviderTitle) []int {
	reported := make(map[int]bool, len(d.Seasons))
	for _, s := range d.Seasons {
		reported[s.SeasonNumber] = true
	}
	seen := make(map[int]bool)
	var out []int
	for _, pt := range pts {
		for key := range pt.Streams {
			season, _, ok := ParseEpisodeKey(key)
			if !ok || seen[season] || !reported[season] {
				continue
			}
			seen[season] = true
			out = append(out, season)
		}
	}
	sort.Ints(out)
	return out
}
