package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/streamarc/streamarc/internal/diskcache"
	"github.com/streamarc/streamarc/internal/fetch"
	"github.com/streamarc/streamarc/internal/models"
)

// cacheTTL resolves the freshness window for a cache path from the active
// policy. A zero return means any present entry is a hit, so every provider
// call must pass through here to keep the policy authoritative.
func cacheTTL(policy *diskcache.PolicyHolder, path string) time.Duration {
	if policy == nil {
		return 0
	}
	if ttl, ok := policy.Current().Resolve(path); ok {
		return ttl
	}
	return 0
}

// FlexID tolerates the Xtream panel habit of sending ids as either numbers
// or strings.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = FlexID(v)
		return nil
	}
	var v json.Number
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexID(v.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// XtreamClient wraps one provider's player_api.php endpoints. All calls go
// through the shared fetcher under the provider's concurrency slot, with
// responses cached per endpoint class.
type XtreamClient struct {
	provider *models.Provider
	fetcher  *fetch.Client
	policy   *diskcache.PolicyHolder
}

func NewXtreamClient(p *models.Provider, fetcher *fetch.Client, policy *diskcache.PolicyHolder) *XtreamClient {
	return &XtreamClient{provider: p, fetcher: fetcher, policy: policy}
}

func (c *XtreamClient) apiURL(action string, params url.Values) string {
	base := strings.TrimSuffix(c.provider.BaseURL, "/")
	u := fmt.Sprintf("%s/player_api.php?username=%s&password=%s&action=%s",
		base, url.QueryEscape(c.provider.Username), url.QueryEscape(c.provider.Password), action)
	if len(params) > 0 {
		u += "&" + params.Encode()
	}
	return u
}

func (c *XtreamClient) get(ctx context.Context, action, cacheLeaf string, params url.Values, out any) error {
	cachePath := fmt.Sprintf("xtream/%s/%s", c.provider.ID, cacheLeaf)
	body, err := c.fetcher.Fetch(ctx, c.provider.ID, http.MethodGet, c.apiURL(action, params), fetch.Options{
		CachePath: cachePath,
		CacheTTL:  cacheTTL(c.policy, cachePath),
	})
	if err != nil {
		return err
	}
	if err := body.JSON(out); err != nil {
		return fmt.Errorf("xtream %s: %w", action, err)
	}
	return nil
}

// ──────── Catalog listings ────────

// VODStream is one entry of get_vod_streams.
type VODStream struct {
	StreamID           FlexID `json:"stream_id"`
	Name               string `json:"name"`
	CategoryID         FlexID `json:"category_id"`
	ContainerExtension string `json:"container_extension"`
	Added              string `json:"added"`
}

func (c *XtreamClient) VODStreams(ctx context.Context) ([]VODStream, error) {
	var out []VODStream
	err := c.get(ctx, "get_vod_streams", "get_vod_streams.json", nil, &out)
	return out, err
}

// SeriesEntry is one entry of get_series.
type SeriesEntry struct {
	SeriesID    FlexID `json:"series_id"`
	Name        string `json:"name"`
	CategoryID  FlexID `json:"category_id"`
	ReleaseDate string `json:"releaseDate"`
}

func (c *XtreamClient) Series(ctx context.Context) ([]SeriesEntry, error) {
	var out []SeriesEntry
	err := c.get(ctx, "get_series", "get_series.json", nil, &out)
	return out, err
}

// LiveStream is one entry of get_live_streams.
type LiveStream struct {
	StreamID     FlexID `json:"stream_id"`
	Name         string `json:"name"`
	CategoryID   FlexID `json:"category_id"`
	EPGChannelID string `json:"epg_channel_id"`
	StreamIcon   string `json:"stream_icon"`
}

func (c *XtreamClient) LiveStreams(ctx context.Context) ([]LiveStream, error) {
	var out []LiveStream
	err := c.get(ctx, "get_live_streams", "get_live_streams.json", nil, &out)
	return out, err
}

// ──────── Extended info ────────

// VODInfo is the get_vod_info payload.
type VODInfo struct {
	Info struct {
		ReleaseDate string `json:"releasedate"`
		Plot        string `json:"plot"`
	} `json:"info"`
	MovieData struct {
		StreamID           FlexID `json:"stream_id"`
		ContainerExtension string `json:"container_extension"`
	} `json:"movie_data"`
}

func (c *XtreamClient) VODInfo(ctx context.Context, vodID string) (*VODInfo, error) {
	params := url.Values{"vod_id": {vodID}}
	var out VODInfo
	err := c.get(ctx, "get_vod_info", fmt.Sprintf("vod_info/%s.json", vodID), params, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SeriesEpisode is one episode of a get_series_info payload.
type SeriesEpisode struct {
	ID                 FlexID `json:"id"`
	EpisodeNum         FlexID `json:"episode_num"`
	Season             FlexID `json:"season"`
	Title              string `json:"title"`
	ContainerExtension string `json:"container_extension"`
}

// SeriesInfo is the get_series_info payload. Episodes are keyed by season
// number as a string.
type SeriesInfo struct {
	Info struct {
		ReleaseDate string `json:"releaseDate"`
		Plot        string `json:"plot"`
	} `json:"info"`
	Episodes map[string][]SeriesEpisode `json:"episodes"`
}

func (c *XtreamClient) SeriesInfo(ctx context.Context, seriesID string) (*SeriesInfo, error) {
	params := url.Values{"series_id": {seriesID}}
	var out SeriesInfo
	err := c.get(ctx, "get_series_info", fmt.Sprintf("series_info/%s.json", seriesID), params, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ──────── Playback URLs ────────

// MovieURL builds the direct VOD playback URL.
func (c *XtreamClient) MovieURL(streamID, ext string) string {
	if ext == "" {
		ext = "mp4"
	}
	base := strings.TrimSuffix(c.provider.BaseURL, "/")
	return fmt.Sprintf("%s/movie/%s/%s/%s.%s", base, c.provider.Username, c.provider.Password, streamID, ext)
}

// EpisodeURL builds the direct series-episode playback URL.
func (c *XtreamClient) EpisodeURL(episodeID, ext string) string {
	if ext == "" {
		ext = "mp4"
	}
	base := strings.TrimSuffix(c.provider.BaseURL, "/")
	return fmt.Sprintf("%s/series/%s/%s/%s.%s", base, c.provider.Username, c.provider.Password, episodeID, ext)
}

// GuideURL builds the panel's XMLTV endpoint.
func (c *XtreamClient) GuideURL() string {
	base := strings.TrimSuffix(c.provider.BaseURL, "/")
	return fmt.Sprintf("%s/xmltv.php?username=%s&password=%s",
		base, url.QueryEscape(c.provider.Username), url.QueryEscape(c.provider.Password))
}

// LiveURL builds the live-channel playback URL.
func (c *XtreamClient) LiveURL(streamID string) string {
	base := strings.TrimSuffix(c.provider.BaseURL, "/")
	return fmt.Sprintf("%s/live/%s/%s/%s.m3u8", base, c.provider.Username, c.provider.Password, streamID)
}
