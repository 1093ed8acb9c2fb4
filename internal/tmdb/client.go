package tmdb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/diskcache"
	"github.com/streamarc/streamarc/internal/fetch"
	"github.com/streamarc/streamarc/internal/models"
)

const apiBase = "https://api.themoviedb.org/3"

// Client talks to the metadata authority through the shared fetcher. Every
// GET is bound to a disk-cache path whose freshness window comes from the
// cache policy, so repeated reconciliations stay off the network.
type Client struct {
	apiKey  string
	fetcher *fetch.Client
	policy  *diskcache.PolicyHolder
	log     *logrus.Logger
}

func NewClient(apiKey string, fetcher *fetch.Client, policy *diskcache.PolicyHolder, log *logrus.Logger) *Client {
	return &Client{apiKey: apiKey, fetcher: fetcher, policy: policy, log: log}
}

// searchPath maps a media type to the authority's endpoint segment.
func searchPath(t models.MediaType) string {
	if t == models.MediaTypeTVShows {
		return "tv"
	}
	return "movie"
}

func (c *Client) get(ctx context.Context, cachePath, rawURL string, out any) error {
	opts := fetch.Options{CachePath: cachePath}
	if cachePath != "" && c.policy != nil {
		if ttl, ok := c.policy.Current().Resolve(cachePath); ok {
			opts.CacheTTL = ttl
		}
	}
	body, err := c.fetcher.Fetch(ctx, fetch.MetadataProvider, http.MethodGet, rawURL, opts)
	if err != nil {
		return err
	}
	if err := body.JSON(out); err != nil {
		return fmt.Errorf("tmdb response: %w", err)
	}
	return nil
}

// ──────── Details ────────

// TitleDetails is the subset of the authority's movie/TV details the catalog
// stores.
type TitleDetails struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	Runtime      int     `json:"runtime"`
	IMDBID       string  `json:"imdb_id"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Seasons []struct {
		SeasonNumber int `json:"season_number"`
		EpisodeCount int `json:"episode_count"`
	} `json:"seasons"`
	ExternalIDs *struct {
		IMDBID string `json:"imdb_id"`
	} `json:"external_ids"`
}

// DisplayName returns the movie title or TV name, whichever is set.
func (d *TitleDetails) DisplayName() string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}

func (d *TitleDetails) Released() string {
	if d.ReleaseDate != "" {
		return d.ReleaseDate
	}
	return d.FirstAirDate
}

// ExternalID returns the IMDb id from whichever field the endpoint filled.
func (d *TitleDetails) ExternalID() string {
	if d.IMDBID != "" {
		return d.IMDBID
	}
	if d.ExternalIDs != nil {
		return d.ExternalIDs.IMDBID
	}
	return ""
}

// Details fetches canonical metadata for one title. TV details append
// external_ids so series get their IMDb id in the same round trip.
func (c *Client) Details(ctx context.Context, mediaType models.MediaType, tmdbID int) (*TitleDetails, error) {
	kind := searchPath(mediaType)
	u := fmt.Sprintf("%s/%s/%d?api_key=%s", apiBase, kind, tmdbID, c.apiKey)
	if kind == "tv" {
		u += "&append_to_response=external_ids"
	}
	var out TitleDetails
	cachePath := fmt.Sprintf("tmdb/%s/details/%d.json", kind, tmdbID)
	if err := c.get(ctx, cachePath, u, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, fmt.Errorf("tmdb %s/%d: empty details", kind, tmdbID)
	}
	return &out, nil
}

// ──────── Find by external id ────────

type findResult struct {
	MovieResults []struct {
		ID int `json:"id"`
	} `json:"movie_results"`
	TVResults []struct {
		ID int `json:"id"`
	} `json:"tv_results"`
}

// FindByIMDB resolves an IMDb id to a TMDB id for the given media type.
// Returns 0 when the authority has no mapping.
func (c *Client) FindByIMDB(ctx context.Context, mediaType models.MediaType, imdbID string) (int, error) {
	u := fmt.Sprintf("%s/find/%s?api_key=%s&external_source=imdb_id", apiBase, url.PathEscape(imdbID), c.apiKey)
	var out findResult
	cachePath := fmt.Sprintf("tmdb/find/%s.json", imdbID)
	if err := c.get(ctx, cachePath, u, &out); err != nil {
		return 0, err
	}
	if mediaType == models.MediaTypeTVShows {
		if len(out.TVResults) > 0 {
			return out.TVResults[0].ID, nil
		}
		return 0, nil
	}
	if len(out.MovieResults) > 0 {
		return out.MovieResults[0].ID, nil
	}
	return 0, nil
}

// ──────── Search ────────

type searchResult struct {
	Results []struct {
		ID int `json:"id"`
	} `json:"results"`
}

// Search runs a title query, optionally scoped to a year, and returns the
// first result id, or 0 on no results. Ties go to the authority's ordering.
func (c *Client) Search(ctx context.Context, mediaType models.MediaType, query string, year int) (int, error) {
	kind := searchPath(mediaType)
	u := fmt.Sprintf("%s/search/%s?api_key=%s&query=%s", apiBase, kind, c.apiKey, url.QueryEscape(query))
	if year > 0 {
		if kind == "tv" {
			u += fmt.Sprintf("&first_air_date_year=%d", year)
		} else {
			u += fmt.Sprintf("&year=%d", year)
		}
	}
	var out searchResult
	// Search responses are not cached on disk: queries are high-cardinality
	// and the hot layer absorbs immediate repeats.
	if err := c.get(ctx, "", u, &out); err != nil {
		return 0, err
	}
	if len(out.Results) > 0 {
		return out.Results[0].ID, nil
	}
	return 0, nil
}

// ──────── Similar ────────

type similarPage struct {
	Page    int `json:"page"`
	Results []struct {
		ID int `json:"id"`
	} `json:"results"`
	TotalPages int `json:"total_pages"`
}

// Similar returns recommendation ids for one title, one page at a time.
func (c *Client) Similar(ctx context.Context, mediaType models.MediaType, tmdbID, page int) ([]int, int, error) {
	kind := searchPath(mediaType)
	u := fmt.Sprintf("%s/%s/%d/similar?api_key=%s&page=%d", apiBase, kind, tmdbID, c.apiKey, page)
	var out similarPage
	cachePath := fmt.Sprintf("tmdb/%s/similar/%d/%d.json", kind, tmdbID, page)
	if err := c.get(ctx, cachePath, u, &out); err != nil {
		return nil, 0, err
	}
	ids := make([]int, 0, len(out.Results))
	for _, r := range out.Results {
		ids = append(ids, r.ID)
	}
	return ids, out.TotalPages, nil
}

// ──────── TV seasons ────────

// Episode is one entry of a season payload.
type Episode struct {
	EpisodeNumber int    `json:"episode_number"`
	SeasonNumber  int    `json:"season_number"`
	Name          string `json:"name"`
	AirDate       string `json:"air_date"`
	Overview      string `json:"overview"`
	StillPath     string `json:"still_path"`
}

type seasonResult struct {
	SeasonNumber int       `json:"season_number"`
	Episodes     []Episode `json:"episodes"`
}

// Season fetches one season's episode list.
func (c *Client) Season(ctx context.Context, tmdbID, season int) ([]Episode, error) {
	u := fmt.Sprintf("%s/tv/%d/season/%d?api_key=%s", apiBase, tmdbID, season, c.apiKey)
	var out seasonResult
	cachePath := fmt.Sprintf("tmdb/tv/season/%d/%d.json", tmdbID, season)
	if err := c.get(ctx, cachePath, u, &out); err != nil {
		return nil, err
	}
	return out.Episodes, nil
}
