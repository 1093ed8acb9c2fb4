package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/models"
)

func TestProjectSimilar(t *testing.T) {
	local := map[string]struct{}{
		"movies-1": {},
		"movies-2": {},
		"movies-3": {},
	}
	got := ProjectSimilar("movies-1", models.MediaTypeMovies, []int{2, 99, 1, 3, 2}, local)
	want := []string{"movies-2", "movies-3"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestProjectSimilar_noMatchesIsEmptyNotNil(t *testing.T) {
	got := ProjectSimilar("movies-1", models.MediaTypeMovies, []int{99}, map[string]struct{}{})
	if got == nil || len(got) != 0 {
		t.Errorf("got %#v, want empty non-nil slice", got)
	}
}

type fakeSimilarSource struct {
	pages      map[int][]int // page → ids
	totalPages int
	failPages  map[int]bool
	calls      []int
}

func (f *fakeSimilarSource) Similar(_ context.Context, _ models.MediaType, _ int, page int) ([]int, int, error) {
	f.calls = append(f.calls, page)
	if f.failPages[page] {
		return nil, 0, errors.New("upstream error")
	}
	return f.pages[page], f.totalPages, nil
}

func newEnricher(src SimilarSource) *Enricher {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewEnricher(nil, src, log)
}

func TestCollect_paginates(t *testing.T) {
	src := &fakeSimilarSource{
		pages:      map[int][]int{1: {10, 11}, 2: {12}, 3: {13}},
		totalPages: 3,
	}
	ids, err := newEnricher(src).collect(context.Background(), &models.Title{TMDBID: 5})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ids) != 4 {
		t.Errorf("ids = %v", ids)
	}
}

func TestCollect_capsAtTenPages(t *testing.T) {
	src := &fakeSimilarSource{pages: map[int][]int{}, totalPages: 50}
	if _, err := newEnricher(src).collect(context.Background(), &models.Title{TMDBID: 5}); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(src.calls) != similarMaxPages {
		t.Errorf("made %d calls, want %d", len(src.calls), similarMaxPages)
	}
}

func TestCollect_stopsAfterThreeConsecutiveFailures(t *testing.T) {
	src := &fakeSimilarSource{
		pages:      map[int][]int{1: {10}},
		totalPages: 20,
		failPages:  map[int]bool{2: true, 3: true, 4: true, 5: true},
	}
	ids, err := newEnricher(src).collect(context.Background(), &models.Title{TMDBID: 5})
	if err != nil {
		t.Fatalf("partial results should not error: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("ids = %v", ids)
	}
	if len(src.calls) != 4 {
		t.Errorf("calls = %v, want stop after page 4", src.calls)
	}
}

func TestCollect_allPagesFailingErrors(t *testing.T) {
	src := &fakeSimilarSource{
		totalPages: 20,
		failPages:  map[int]bool{1: true, 2: true, 3: true},
	}
	if _, err := newEnricher(src).collect(context.Background(), &models.Title{TMDBID: 5}); err == nil {
		t.Fatal("expected error when nothing could be fetched")
	}
}
