package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/streamarc/streamarc/internal/models"
)

// Gaps is the outcome of comparing the canonical side against the provider
// side: keys to delete, create, and rebuild.
type Gaps struct {
	ToDelete []string
	ToCreate []string
	ToUpdate []string
}

// DetectGaps compares M (title_key → canonical lastUpdated) with P
// (title_key → max provider-title lastUpdated). Keys only in M are stale,
// keys only in P are new, shared keys where the provider side moved forward
// need a rebuild. Results are sorted for deterministic batching.
func DetectGaps(m, p map[string]time.Time) Gaps {
	var g Gaps
	for key := range m {
		if _, ok := p[key]; !ok {
			g.ToDelete = append(g.ToDelete, key)
		}
	}
	for key, pUpdated := range p {
		mUpdated, ok := m[key]
		if !ok {
			g.ToCreate = append(g.ToCreate, key)
			continue
		}
		if pUpdated.After(mUpdated) {
			g.ToUpdate = append(g.ToUpdate, key)
		}
	}
	sort.Strings(g.ToDelete)
	sort.Strings(g.ToCreate)
	sort.Strings(g.ToUpdate)
	return g
}

// ParseTitleKey splits "movies-101" back into its parts.
func ParseTitleKey(key string) (models.MediaType, int, error) {
	i := strings.LastIndex(key, "-")
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed title key %q", key)
	}
	mt := models.MediaType(key[:i])
	if !mt.Valid() {
		return "", 0, fmt.Errorf("title key %q: unknown media type", key)
	}
	id, err := strconv.Atoi(key[i+1:])
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("title key %q: bad canonical id", key)
	}
	return mt, id, nil
}
