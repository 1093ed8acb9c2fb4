package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/diskcache"
	"github.com/streamarc/streamarc/internal/fetch"
	"github.com/streamarc/streamarc/internal/models"
)

func testPolicy(t *testing.T, src string) *diskcache.PolicyHolder {
	t.Helper()
	p, err := diskcache.ParsePolicy([]byte(src))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	return diskcache.NewPolicyHolder(p)
}

// A catalog response older than its policy TTL must be refetched, not served
// from disk.
func TestXtreamCatalogCacheExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[{"stream_id": 7, "name": "Fresh Movie", "category_id": "1"}]`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	disk, err := diskcache.New(dir)
	if err != nil {
		t.Fatalf("diskcache.New: %v", err)
	}
	entry := filepath.Join(dir, "xtream", "p1", "get_vod_streams.json")
	if err := os.MkdirAll(filepath.Dir(entry), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(entry, []byte(`[{"stream_id": 1, "name": "Stale Movie", "category_id": "1"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-100 * time.Hour)
	if err := os.Chtimes(entry, stale, stale); err != nil {
		t.Fatal(err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	prov := &models.Provider{ID: "p1", Kind: models.ProviderXtream, BaseURL: srv.URL, Username: "u", Password: "pw"}
	policy := testPolicy(t, `{"xtream/{providerId}/{action}.json": 6}`)

	xc := NewXtreamClient(prov, fetch.NewClient(disk, log), policy)
	streams, err := xc.VODStreams(context.Background())
	if err != nil {
		t.Fatalf("VODStreams: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("upstream hits = %d, want 1 (stale entry served from cache)", got)
	}
	if len(streams) != 1 || streams[0].Name != "Fresh Movie" {
		t.Fatalf("got %+v, want the refetched catalog", streams)
	}

	// The refetch replaced the entry; a second client within the TTL stays
	// off the network.
	xc2 := NewXtreamClient(prov, fetch.NewClient(disk, log), policy)
	streams, err = xc2.VODStreams(context.Background())
	if err != nil {
		t.Fatalf("VODStreams cached: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("upstream hits = %d, want 1 (fresh entry refetched)", got)
	}
	if len(streams) != 1 || streams[0].Name != "Fresh Movie" {
		t.Fatalf("cached read got %+v", streams)
	}
}

func TestM3UPlaylistCacheExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("#EXTM3U\n#EXTINF:-1,New Channel\nhttp://host/new.m3u8\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	disk, err := diskcache.New(dir)
	if err != nil {
		t.Fatalf("diskcache.New: %v", err)
	}
	entry := filepath.Join(dir, "m3u", "p1", "playlist.m3u")
	if err := os.MkdirAll(filepath.Dir(entry), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(entry, []byte("#EXTM3U\n#EXTINF:-1,Old Channel\nhttp://host/old.m3u8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(entry, stale, stale); err != nil {
		t.Fatal(err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	prov := &models.Provider{ID: "p1", Kind: models.ProviderM3U, M3UURL: srv.URL}
	policy := testPolicy(t, `{"m3u/{providerId}/playlist.m3u": 6}`)

	mc := NewM3UClient(prov, fetch.NewClient(disk, log), policy)
	entries, err := mc.Playlist(context.Background())
	if err != nil {
		t.Fatalf("Playlist: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("upstream hits = %d, want 1 (stale playlist served from cache)", got)
	}
	if len(entries) != 1 || entries[0].Name != "New Channel" {
		t.Fatalf("got %+v, want the refetched playlist", entries)
	}
}

func TestCacheTTLResolution(t *testing.T) {
	policy := testPolicy(t, `{"xtream/{providerId}/{action}.json": 6, "tmdb/find/{imdbId}.json": null}`)

	if got := cacheTTL(policy, "xtream/p1/get_series.json"); got != 6*time.Hour {
		t.Errorf("catalog ttl = %v, want 6h", got)
	}
	// Null policy entries never evict; a zero window falls through to
	// presence-only hits.
	if got := cacheTTL(policy, "tmdb/find/tt0113277.json"); got != 0 {
		t.Errorf("null ttl = %v, want 0", got)
	}
	if got := cacheTTL(nil, "xtream/p1/get_series.json"); got != 0 {
		t.Errorf("nil holder ttl = %v, want 0", got)
	}
}
