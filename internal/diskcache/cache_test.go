package diskcache

import (
	"bytes"
	"testing"
)

// A configured root with a trailing slash must behave like the clean form;
// the prefix guard in abs would otherwise reject every path.
func TestNewCleansRoot(t *testing.T) {
	dir := t.TempDir()
	cache, err := New(dir + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cache.Root() != dir {
		t.Errorf("Root() = %q, want %q", cache.Root(), dir)
	}

	if err := cache.Write("tmdb/find/tt0113277.json", []byte(`{"id": 1}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, ok := cache.Read("tmdb/find/tt0113277.json")
	if !ok {
		t.Fatal("Read missed an entry just written")
	}
	if !bytes.Equal(data, []byte(`{"id": 1}`)) {
		t.Errorf("Read = %q", data)
	}
	if !cache.Fresh("tmdb/find/tt0113277.json", 0) {
		t.Error("Fresh = false for a present entry with no ttl")
	}
}
