package diskcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func writeAged(t *testing.T, root, rel string, age time.Duration) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(full, old, old); err != nil {
		t.Fatal(err)
	}
	return full
}

func TestSweep_deletesExpiredOnly(t *testing.T) {
	root := t.TempDir()
	cache, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	policy := mustPolicy(t, `{"tmdb/movie/details/{tmdbId}.json": 24}`)

	expired := writeAged(t, root, "tmdb/movie/details/123.json", 25*time.Hour)
	fresh := writeAged(t, root, "tmdb/movie/details/456.json", 1*time.Hour)
	unmatched := writeAged(t, root, "tmdb/tv/details/9.json", 500*time.Hour)

	sw := NewSweeper(cache, NewPolicyHolder(policy), true, testLogger())
	stats, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired entry should be deleted")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh entry should be retained")
	}
	if _, err := os.Stat(unmatched); err != nil {
		t.Error("entry with no policy match should be retained")
	}
	if stats.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", stats.Deleted)
	}
}

func TestSweep_dryRunKeepsFiles(t *testing.T) {
	root := t.TempDir()
	cache, _ := New(root)
	policy := mustPolicy(t, `{"tmdb/movie/details/{tmdbId}.json": 24}`)

	expired := writeAged(t, root, "tmdb/movie/details/123.json", 25*time.Hour)

	sw := NewSweeper(cache, NewPolicyHolder(policy), false, testLogger())
	stats, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(expired); err != nil {
		t.Error("dry run must not delete")
	}
	if stats.Expired != 1 || stats.Deleted != 0 {
		t.Errorf("stats = %+v, want 1 expired / 0 deleted", stats)
	}
}

func TestSweep_prunesEmptyDirs(t *testing.T) {
	root := t.TempDir()
	cache, _ := New(root)
	policy := mustPolicy(t, `{"tmdb/movie/details/{tmdbId}.json": 24}`)

	writeAged(t, root, "tmdb/movie/details/123.json", 25*time.Hour)
	kept := writeAged(t, root, "tmdb/movie/other/1.json", time.Minute)

	sw := NewSweeper(cache, NewPolicyHolder(policy), true, testLogger())
	if _, err := sw.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(root, "tmdb/movie/details")); !os.IsNotExist(err) {
		t.Error("emptied directory should be removed")
	}
	if _, err := os.Stat(kept); err != nil {
		t.Error("non-empty sibling tree must survive pruning")
	}
}

func TestSweep_keepsEntryRefreshedAfterWalk(t *testing.T) {
	// The sweeper re-stats before deleting; an entry touched after the policy
	// threshold as re-read at delete time must survive.
	root := t.TempDir()
	cache, _ := New(root)
	policy := mustPolicy(t, `{"x/{tmdbId}.json": 24}`)

	path := writeAged(t, root, "x/1.json", time.Minute)

	sw := NewSweeper(cache, NewPolicyHolder(policy), true, testLogger())
	if _, err := sw.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("fresh mtime at delete time must be honored")
	}
}

func TestCache_writeReadRoundTrip(t *testing.T) {
	cache, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Write("tmdb/movie/details/603.json", []byte(`{"id":603}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, ok := cache.Read("tmdb/movie/details/603.json")
	if !ok || string(data) != `{"id":603}` {
		t.Errorf("Read = (%q, %v)", data, ok)
	}
	if !cache.Fresh("tmdb/movie/details/603.json", time.Hour) {
		t.Error("just-written entry should be fresh")
	}
	if _, ok := cache.Read("missing.json"); ok {
		t.Error("miss should report !ok")
	}
}

func TestCache_neutralizesTraversal(t *testing.T) {
	root := t.TempDir()
	cache, _ := New(root)
	if err := cache.Write("../outside.json", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "outside.json")); err != nil {
		t.Error("traversal path should be confined to the cache root")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside.json")); !os.IsNotExist(err) {
		t.Error("nothing may be written outside the cache root")
	}
}
