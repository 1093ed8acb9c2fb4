package diskcache

import (
	"testing"
	"time"
)

func mustPolicy(t *testing.T, src string) *Policy {
	t.Helper()
	p, err := ParsePolicy([]byte(src))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	return p
}

func TestResolve_placeholders(t *testing.T) {
	p := mustPolicy(t, `{
		"tmdb/movie/details/{tmdbId}.json": 24,
		"xtream/{providerId}/get_vod_streams.json": 12,
		"tmdb/config.json": null
	}`)

	tests := []struct {
		path      string
		ttl       time.Duration
		evictable bool
	}{
		{"tmdb/movie/details/123.json", 24 * time.Hour, true},
		{"tmdb/movie/details/tt0133093.json", 24 * time.Hour, true},
		{"xtream/px/get_vod_streams.json", 12 * time.Hour, true},
		{"tmdb/config.json", 0, false},                // null TTL: never evict
		{"tmdb/movie/details/a/b.json", 0, false},     // placeholder must not cross a slash
		{"tmdb/tv/details/123.json", 0, false},        // no matching pattern
		{"xtream/px/get_series.json", 0, false},
	}
	for _, tt := range tests {
		ttl, evictable := p.Resolve(tt.path)
		if evictable != tt.evictable || ttl != tt.ttl {
			t.Errorf("Resolve(%q) = (%v, %v), want (%v, %v)", tt.path, ttl, evictable, tt.ttl, tt.evictable)
		}
	}
}

func TestResolve_firstMatchWins(t *testing.T) {
	p := mustPolicy(t, `{
		"tmdb/{tmdbId}.json": 1,
		"tmdb/config.json": 48
	}`)
	ttl, evictable := p.Resolve("tmdb/config.json")
	// Exact pattern text beats earlier placeholder patterns.
	if !evictable || ttl != 48*time.Hour {
		t.Errorf("exact match should win: got (%v, %v)", ttl, evictable)
	}
	ttl, evictable = p.Resolve("tmdb/999.json")
	if !evictable || ttl != time.Hour {
		t.Errorf("placeholder match: got (%v, %v)", ttl, evictable)
	}
}

func TestResolve_directoryPattern(t *testing.T) {
	// A pattern naming only the directory applies to files beneath it.
	p := mustPolicy(t, `{"epg/{providerId}": 6}`)
	ttl, evictable := p.Resolve("epg/px/guide.xml")
	if !evictable || ttl != 6*time.Hour {
		t.Errorf("directory pattern: got (%v, %v)", ttl, evictable)
	}
}

func TestParsePolicy_rejectsMalformed(t *testing.T) {
	if _, err := ParsePolicy([]byte(`["not","an","object"]`)); err == nil {
		t.Error("array should be rejected")
	}
	if _, err := ParsePolicy([]byte(`{"a": "soon"}`)); err == nil {
		t.Error("non-integer TTL should be rejected")
	}
}
