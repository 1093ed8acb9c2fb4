package diskcache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepStats summarizes one eviction pass.
type SweepStats struct {
	Scanned     int `json:"scanned"`
	Expired     int `json:"expired"`
	Deleted     int `json:"deleted"`
	DirsRemoved int `json:"dirs_removed"`
}

// Sweeper walks the cache root and deletes entries older than their policy
// TTL. Unless purge is enabled it only logs what it would delete.
type Sweeper struct {
	cache  *Cache
	policy *PolicyHolder
	purge  bool
	log    *logrus.Logger
}

func NewSweeper(cache *Cache, policy *PolicyHolder, purge bool, log *logrus.Logger) *Sweeper {
	return &Sweeper{cache: cache, policy: policy, purge: purge, log: log}
}

// Sweep runs one eviction pass. Concurrent writers are tolerated: the mtime
// is re-read immediately before each delete, so an entry refreshed after the
// walk is kept.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	stats := SweepStats{}
	policy := s.policy.Current()
	root := s.cache.Root()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish mid-walk when writers race the sweep.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".partial-") {
			return nil
		}
		stats.Scanned++

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		ttl, evictable := policy.Resolve(rel)
		if !evictable {
			return nil
		}

		// Re-stat at decision time; the walk snapshot may be stale.
		info, err := os.Stat(path)
		if err != nil {
			return nil
		}
		if time.Since(info.ModTime()) < ttl {
			return nil
		}
		stats.Expired++

		if !s.purge {
			s.log.WithFields(logrus.Fields{"path": rel, "ttl": ttl}).Info("Sweep: would delete (dry run)")
			return nil
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				s.log.WithError(err).WithField("path", rel).Warn("Sweep: delete failed")
			}
			return nil
		}
		stats.Deleted++
		return nil
	})
	if err != nil {
		return stats, err
	}

	if s.purge {
		stats.DirsRemoved = s.pruneEmptyDirs(root)
	}

	s.log.WithFields(logrus.Fields{
		"scanned": stats.Scanned,
		"expired": stats.Expired,
		"deleted": stats.Deleted,
		"pruned":  stats.DirsRemoved,
		"purge":   s.purge,
	}).Info("Sweep: pass complete")
	return stats, nil
}

// pruneEmptyDirs removes empty directories beneath root, deepest first. The
// root itself is kept.
func (s *Sweeper) pruneEmptyDirs(root string) int {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	removed := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if os.Remove(dir) == nil {
			removed++
		}
	}
	return removed
}
