package diskcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache is a path-addressed blob cache rooted at a single directory. Callers
// compose the relative path (e.g. "tmdb/movie/details/603.json"); the
// filesystem is the index and mtime is the freshness clock.
type Cache struct {
	root string
}

// New creates the cache root if needed. The root is cleaned first: the
// traversal guard in abs compares against root + separator, so a trailing
// slash in the configured directory would reject every path.
func New(root string) (*Cache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root is empty")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Cache{root: root}, nil
}

func (c *Cache) Root() string { return c.root }

// abs resolves relPath under the root, rejecting traversal outside it.
func (c *Cache) abs(relPath string) (string, error) {
	clean := filepath.Clean("/" + relPath)
	if clean == "/" {
		return "", fmt.Errorf("empty cache path")
	}
	full := filepath.Join(c.root, clean)
	if !strings.HasPrefix(full, c.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("cache path escapes root: %s", relPath)
	}
	return full, nil
}

// Read returns the cached blob and true on a hit. Freshness is the caller's
// concern; Read only reports presence.
func (c *Cache) Read(relPath string) ([]byte, bool) {
	full, err := c.abs(relPath)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Fresh reports whether the entry exists and its mtime is within ttl.
// ttl <= 0 means any present entry is fresh.
func (c *Cache) Fresh(relPath string, ttl time.Duration) bool {
	full, err := c.abs(relPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	if err != nil {
		return false
	}
	if ttl <= 0 {
		return true
	}
	return time.Since(info.ModTime()) < ttl
}

// Write persists a blob, creating parent directories. The write goes through
// a temp file and rename so the sweeper never sees a partial entry.
func (c *Cache) Write(relPath string, data []byte) error {
	full, err := c.abs(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".partial-*")
	if err != nil {
		return fmt.Errorf("create cache temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}
