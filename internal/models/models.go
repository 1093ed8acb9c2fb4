package models

import (
	"fmt"
	"time"
)

// ──────────────────── Enums ────────────────────

type MediaType string

const (
	MediaTypeMovies  MediaType = "movies"
	MediaTypeTVShows MediaType = "tvshows"
)

// MediaTypes lists every type the ingestion pipeline handles, in pass order.
var MediaTypes = []MediaType{MediaTypeMovies, MediaTypeTVShows}

func (t MediaType) Valid() bool {
	return t == MediaTypeMovies || t == MediaTypeTVShows
}

type ProviderKind string

const (
	ProviderXtream ProviderKind = "xtream"
	ProviderM3U    ProviderKind = "m3u"
)

type JobStatus string

const (
	JobIdle    JobStatus = "idle"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// ──────────────────── Provider ────────────────────

// NameRule is a provider-configured regex cleanup applied to upstream display
// names before matching.
type NameRule struct {
	Pattern string `json:"pattern" bson:"pattern"`
	Replace string `json:"replace" bson:"replace"`
}

// Provider is one upstream IPTV source (collection iptv_providers).
type Provider struct {
	ID            string       `json:"id" bson:"_id"`
	Name          string       `json:"name" bson:"name"`
	Kind          ProviderKind `json:"kind" bson:"kind"`
	BaseURL       string       `json:"base_url,omitempty" bson:"base_url,omitempty"`
	Username      string       `json:"username,omitempty" bson:"username,omitempty"`
	Password      string       `json:"-" bson:"password,omitempty"`
	M3UURL        string       `json:"m3u_url,omitempty" bson:"m3u_url,omitempty"`
	EPGURL        string       `json:"epg_url,omitempty" bson:"epg_url,omitempty"`
	Enabled       bool         `json:"enabled" bson:"enabled"`
	Deleted       bool         `json:"deleted" bson:"deleted"`
	MaxConcurrent int          `json:"max_concurrent,omitempty" bson:"max_concurrent,omitempty"`

	// EnabledCategories maps media type → category ids kept during ingestion.
	// An absent or empty list keeps everything.
	EnabledCategories map[MediaType][]string `json:"enabled_categories,omitempty" bson:"enabled_categories,omitempty"`
	NameRules         []NameRule             `json:"name_rules,omitempty" bson:"name_rules,omitempty"`

	CreatedAt   time.Time `json:"created_at" bson:"createdAt"`
	LastUpdated time.Time `json:"last_updated" bson:"lastUpdated"`
}

// Active reports whether the provider participates in ingestion.
func (p *Provider) Active() bool {
	return p.Enabled && !p.Deleted
}

// ──────────────────── Provider title ────────────────────

// ProviderTitle is one upstream movie or series as a single provider offers it
// (collection provider_titles). Identity: (provider_id, media_type, upstream_id).
type ProviderTitle struct {
	ProviderID  string    `json:"provider_id" bson:"provider_id"`
	UpstreamID  string    `json:"upstream_id" bson:"upstream_id"`
	MediaType   MediaType `json:"media_type" bson:"media_type"`
	Name        string    `json:"name" bson:"name"`
	ReleaseDate string    `json:"release_date,omitempty" bson:"release_date,omitempty"`

	// TMDBID is the resolved canonical id; 0 means the matcher has not
	// resolved this title yet (it is invisible to the reconciler).
	TMDBID int `json:"tmdb_id,omitempty" bson:"tmdb_id,omitempty"`

	Ignored       bool   `json:"ignored" bson:"ignored"`
	IgnoredReason string `json:"ignored_reason,omitempty" bson:"ignored_reason,omitempty"`

	// Streams maps "main" (movies) or "S{nn}-E{nn}" (episodes) to the
	// provider's playback URL.
	Streams map[string]string `json:"streams" bson:"streams"`

	CreatedAt   time.Time `json:"created_at" bson:"createdAt"`
	LastUpdated time.Time `json:"last_updated" bson:"lastUpdated"`
}

// TitleKey returns the canonical key this provider title feeds, or "" while
// unresolved.
func (pt *ProviderTitle) TitleKey() string {
	if pt.TMDBID == 0 {
		return ""
	}
	return TitleKey(pt.MediaType, pt.TMDBID)
}

// ──────────────────── Canonical title ────────────────────

// TitleKey builds the canonical title identity, e.g. "movies-101".
func TitleKey(t MediaType, tmdbID int) string {
	return fmt.Sprintf("%s-%d", t, tmdbID)
}

// Source is one provider stream backing a media item.
type Source struct {
	ProviderID string `json:"provider_id" bson:"provider_id"`
	UpstreamID string `json:"upstream_title_id" bson:"upstream_title_id"`
	URL        string `json:"provider_url" bson:"provider_url"`
}

// MediaItem is one playable unit of a canonical title: the single "main"
// entry for movies, one entry per episode for TV.
type MediaItem struct {
	Name      string   `json:"name" bson:"name"`
	ProxyPath string   `json:"proxy_path" bson:"proxy_path"`
	Season    int      `json:"season,omitempty" bson:"season,omitempty"`
	Episode   int      `json:"episode,omitempty" bson:"episode,omitempty"`
	AirDate   string   `json:"air_date,omitempty" bson:"air_date,omitempty"`
	Overview  string   `json:"overview,omitempty" bson:"overview,omitempty"`
	Still     string   `json:"still,omitempty" bson:"still,omitempty"`
	Sources   []Source `json:"sources" bson:"sources"`
}

// Title is a unified catalog record aggregating every provider source for one
// TMDB id (collection titles).
type Title struct {
	Key         string    `json:"key" bson:"_id"`
	TMDBID      int       `json:"tmdb_id" bson:"tmdb_id"`
	MediaType   MediaType `json:"media_type" bson:"media_type"`
	Name        string    `json:"name" bson:"name"`
	ReleaseDate string    `json:"release_date,omitempty" bson:"release_date,omitempty"`
	VoteAverage float64   `json:"vote_average,omitempty" bson:"vote_average,omitempty"`
	VoteCount   int       `json:"vote_count,omitempty" bson:"vote_count,omitempty"`
	Overview    string    `json:"overview,omitempty" bson:"overview,omitempty"`
	Poster      string    `json:"poster,omitempty" bson:"poster,omitempty"`
	Backdrop    string    `json:"backdrop,omitempty" bson:"backdrop,omitempty"`
	Genres      []string  `json:"genres,omitempty" bson:"genres,omitempty"`
	Runtime     int       `json:"runtime,omitempty" bson:"runtime,omitempty"`
	IMDBID      string    `json:"imdb_id,omitempty" bson:"imdb_id,omitempty"`

	Media []MediaItem `json:"media" bson:"media"`

	// Similar is nil until the enricher has processed the title; an empty
	// (non-nil) slice means "processed, no local matches".
	Similar []string `json:"similar" bson:"similar"`

	CreatedAt   time.Time `json:"created_at" bson:"createdAt"`
	LastUpdated time.Time `json:"last_updated" bson:"lastUpdated"`
}

// ──────────────────── Live TV ────────────────────

// ChannelKey builds the live-channel identity, e.g. "live-px-447".
func ChannelKey(providerID, channelID string) string {
	return fmt.Sprintf("live-%s-%s", providerID, channelID)
}

// Channel is one live TV channel from one provider (collection channels).
// Channel ids are strings everywhere, whatever shape the upstream sends.
type Channel struct {
	Key        string `json:"key" bson:"_id"`
	ProviderID string `json:"provider_id" bson:"provider_id"`
	ChannelID  string `json:"channel_id" bson:"channel_id"`
	Name       string `json:"name" bson:"name"`
	Category   string `json:"category,omitempty" bson:"category,omitempty"`
	TvgID      string `json:"tvg_id,omitempty" bson:"tvg_id,omitempty"`
	URL        string `json:"url" bson:"url"`

	CreatedAt   time.Time `json:"created_at" bson:"createdAt"`
	LastUpdated time.Time `json:"last_updated" bson:"lastUpdated"`
}

// Program is one EPG entry (collection programs). Start/Stop are UTC.
type Program struct {
	ProviderID  string    `json:"provider_id" bson:"provider_id"`
	ChannelID   string    `json:"channel_id" bson:"channel_id"`
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Category    string    `json:"category,omitempty" bson:"category,omitempty"`
	Icon        string    `json:"icon,omitempty" bson:"icon,omitempty"`
	Episode     string    `json:"episode,omitempty" bson:"episode,omitempty"`
	Start       time.Time `json:"start" bson:"start"`
	Stop        time.Time `json:"stop" bson:"stop"`
}

// ──────────────────── Job run record ────────────────────

// JobRecord is the durable run history for one job name (collection
// job_history). It is the single source of truth for "is this job running".
type JobRecord struct {
	Name           string    `json:"name" bson:"_id"`
	Status         JobStatus `json:"status" bson:"status"`
	LastExecution  time.Time `json:"last_execution,omitempty" bson:"last_execution,omitempty"`
	ExecutionCount int       `json:"execution_count" bson:"execution_count"`
	LastRunID      string    `json:"last_run_id,omitempty" bson:"last_run_id,omitempty"`
	LastResult     string    `json:"last_result,omitempty" bson:"last_result,omitempty"`
	LastError      string    `json:"last_error,omitempty" bson:"last_error,omitempty"`

	CreatedAt   time.Time `json:"created_at" bson:"createdAt"`
	LastUpdated time.Time `json:"last_updated" bson:"lastUpdated"`
}
