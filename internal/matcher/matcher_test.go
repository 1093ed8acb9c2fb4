package matcher

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/models"
)

type fakeAuthority struct {
	findByIMDB map[string]int
	search     map[string]int // "query|year" → id
	findErr    error
	searchErr  error

	findCalls   []string
	searchCalls []string
}

func (f *fakeAuthority) FindByIMDB(_ context.Context, _ models.MediaType, imdbID string) (int, error) {
	f.findCalls = append(f.findCalls, imdbID)
	if f.findErr != nil {
		return 0, f.findErr
	}
	return f.findByIMDB[imdbID], nil
}

func (f *fakeAuthority) Search(_ context.Context, _ models.MediaType, query string, year int) (int, error) {
	key := searchKey(query, year)
	f.searchCalls = append(f.searchCalls, key)
	if f.searchErr != nil {
		return 0, f.searchErr
	}
	return f.search[key], nil
}

func searchKey(query string, year int) string {
	if year == 0 {
		return query
	}
	return query + "|" + strconv.Itoa(year)
}

func newMatcher(a Authority) *Matcher {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(nil, a, log)
}

func TestResolve_externalID(t *testing.T) {
	a := &fakeAuthority{findByIMDB: map[string]int{"tt0113277": 949}}
	m := newMatcher(a)

	id := m.Resolve(context.Background(), &models.ProviderTitle{
		UpstreamID: "tt0113277",
		MediaType:  models.MediaTypeMovies,
		Name:       "Heat (1995)",
	})
	if id != 949 {
		t.Fatalf("id = %d, want 949", id)
	}
	if len(a.searchCalls) != 0 {
		t.Errorf("search should not run when external-id lookup hits: %v", a.searchCalls)
	}
}

func TestResolve_externalIDMissFallsBack(t *testing.T) {
	a := &fakeAuthority{
		search: map[string]int{"Heat|1995": 949},
	}
	m := newMatcher(a)

	id := m.Resolve(context.Background(), &models.ProviderTitle{
		UpstreamID: "tt9999999",
		MediaType:  models.MediaTypeMovies,
		Name:       "Heat (1995)",
	})
	if id != 949 {
		t.Fatalf("id = %d, want 949", id)
	}
	if len(a.findCalls) != 1 {
		t.Errorf("external-id lookup should have been tried: %v", a.findCalls)
	}
}

func TestResolve_searchWithThenWithoutYear(t *testing.T) {
	a := &fakeAuthority{
		search: map[string]int{"Heat": 949},
	}
	m := newMatcher(a)

	id := m.Resolve(context.Background(), &models.ProviderTitle{
		UpstreamID: "42",
		MediaType:  models.MediaTypeMovies,
		Name:       "Heat (1995)",
	})
	if id != 949 {
		t.Fatalf("id = %d, want 949", id)
	}
	want := []string{"Heat|1995", "Heat"}
	if len(a.searchCalls) != 2 || a.searchCalls[0] != want[0] || a.searchCalls[1] != want[1] {
		t.Errorf("searchCalls = %v, want %v", a.searchCalls, want)
	}
}

func TestResolve_yearFromReleaseDate(t *testing.T) {
	a := &fakeAuthority{
		search: map[string]int{"Heat|1995": 949},
	}
	m := newMatcher(a)

	id := m.Resolve(context.Background(), &models.ProviderTitle{
		UpstreamID:  "42",
		MediaType:   models.MediaTypeMovies,
		Name:        "Heat",
		ReleaseDate: "1995-12-15",
	})
	if id != 949 {
		t.Fatalf("id = %d, want 949", id)
	}
}

func TestResolve_allStrategiesFail(t *testing.T) {
	a := &fakeAuthority{}
	m := newMatcher(a)

	id := m.Resolve(context.Background(), &models.ProviderTitle{
		UpstreamID: "42",
		MediaType:  models.MediaTypeMovies,
		Name:       "Completely Unknown",
	})
	if id != 0 {
		t.Fatalf("id = %d, want 0", id)
	}
}

func TestResolve_searchErrorLeavesUnresolved(t *testing.T) {
	a := &fakeAuthority{searchErr: errors.New("upstream down")}
	m := newMatcher(a)

	id := m.Resolve(context.Background(), &models.ProviderTitle{
		UpstreamID: "42",
		MediaType:  models.MediaTypeMovies,
		Name:       "Heat (1995)",
	})
	if id != 0 {
		t.Fatalf("id = %d, want 0", id)
	}
}

func TestTitleQuery(t *testing.T) {
	tests := []struct {
		name, releaseDate string
		wantQuery         string
		wantYear          int
	}{
		{"Heat (1995)", "", "Heat", 1995},
		{"Heat (1995)", "2001-01-01", "Heat", 1995},
		{"Heat", "1995-12-15", "Heat", 1995},
		{"Heat", "", "Heat", 0},
		{"The  Wire   ", "", "The Wire", 0},
		{"- Heat - (1995)", "", "Heat", 1995},
		{"(1995)", "", "", 1995},
	}
	for _, tt := range tests {
		query, year := TitleQuery(tt.name, tt.releaseDate)
		if query != tt.wantQuery || year != tt.wantYear {
			t.Errorf("TitleQuery(%q, %q) = (%q, %d), want (%q, %d)",
				tt.name, tt.releaseDate, query, year, tt.wantQuery, tt.wantYear)
		}
	}
}
