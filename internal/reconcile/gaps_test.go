package reconcile

import (
	"reflect"
	"testing"
	"time"

	"github.com/streamarc/streamarc/internal/models"
)

func TestDetectGaps(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	m := map[string]time.Time{
		"movies-1": t0, // stale: no provider side
		"movies-2": t0, // up to date
		"movies-3": t0, // provider side moved forward
	}
	p := map[string]time.Time{
		"movies-2":  t0,
		"movies-3":  t1,
		"movies-4":  t0, // new
		"tvshows-5": t0, // new
	}

	g := DetectGaps(m, p)
	if want := []string{"movies-1"}; !reflect.DeepEqual(g.ToDelete, want) {
		t.Errorf("ToDelete = %v, want %v", g.ToDelete, want)
	}
	if want := []string{"movies-4", "tvshows-5"}; !reflect.DeepEqual(g.ToCreate, want) {
		t.Errorf("ToCreate = %v, want %v", g.ToCreate, want)
	}
	if want := []string{"movies-3"}; !reflect.DeepEqual(g.ToUpdate, want) {
		t.Errorf("ToUpdate = %v, want %v", g.ToUpdate, want)
	}
}

func TestDetectGaps_providerSideOlderIsNoUpdate(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := map[string]time.Time{"movies-1": t0.Add(time.Hour)}
	p := map[string]time.Time{"movies-1": t0}

	g := DetectGaps(m, p)
	if len(g.ToDelete)+len(g.ToCreate)+len(g.ToUpdate) != 0 {
		t.Errorf("expected no gaps, got %+v", g)
	}
}

func TestDetectGaps_emptyStores(t *testing.T) {
	g := DetectGaps(nil, nil)
	if len(g.ToDelete)+len(g.ToCreate)+len(g.ToUpdate) != 0 {
		t.Errorf("expected no gaps, got %+v", g)
	}
}

// A provider-title deletion empties the P side, so the canonical key lands in
// ToDelete.
func TestDetectGaps_deleteAfterProviderTitleGone(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := map[string]time.Time{"movies-101": t0}

	g := DetectGaps(m, map[string]time.Time{})
	if want := []string{"movies-101"}; !reflect.DeepEqual(g.ToDelete, want) {
		t.Errorf("ToDelete = %v, want %v", g.ToDelete, want)
	}
}

func TestParseTitleKey(t *testing.T) {
	tests := []struct {
		key     string
		mt      models.MediaType
		id      int
		wantErr bool
	}{
		{"movies-101", models.MediaTypeMovies, 101, false},
		{"tvshows-42", models.MediaTypeTVShows, 42, false},
		{"movies-0", "", 0, true},
		{"music-7", "", 0, true},
		{"movies", "", 0, true},
		{"", "", 0, true},
	}
	for _, tt := range tests {
		mt, id, err := ParseTitleKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTitleKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			continue
		}
		if mt != tt.mt || id != tt.id {
			t.Errorf("ParseTitleKey(%q) = (%q, %d), want (%q, %d)", tt.key, mt, id, tt.mt, tt.id)
		}
	}
}

func TestTitleKeyRoundTrip(t *testing.T) {
	key := models.TitleKey(models.MediaTypeMovies, 101)
	if key != "movies-101" {
		t.Fatalf("key = %q", key)
	}
	mt, id, err := ParseTitleKey(key)
	if err != nil || mt != models.MediaTypeMovies || id != 101 {
		t.Fatalf("round trip = (%q, %d, %v)", mt, id, err)
	}
}
