package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/config"
	"github.com/streamarc/streamarc/internal/models"
)

// fakeRecords is an in-memory RunRecords with the same atomicity contract as
// the store: TryAcquire flips idle to running in one step.
type fakeRecords struct {
	mu       sync.Mutex
	status   map[string]models.JobStatus
	acquires int
	finishes []string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{status: make(map[string]models.JobStatus)}
}

func (f *fakeRecords) IsRunning(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[name] == models.JobRunning, nil
}

func (f *fakeRecords) TryAcquire(_ context.Context, name, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status[name] == models.JobRunning {
		return false, nil
	}
	f.status[name] = models.JobRunning
	f.acquires++
	return true, nil
}

func (f *fakeRecords) Finish(_ context.Context, name string, status models.JobStatus, _, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[name] = status
	f.finishes = append(f.finishes, name+":"+string(status)+":"+errMsg)
	return nil
}

// syncQueue executes admitted runs inline, standing in for the Redis workers.
type syncQueue struct {
	sched *Scheduler
	runs  []string
}

func (q *syncQueue) EnqueueRun(name, _ string) error {
	q.runs = append(q.runs, name)
	if q.sched != nil {
		q.sched.Execute(name)
	}
	return nil
}

func newTestScheduler(t *testing.T, defs []config.JobDefinition, records RunRecords) (*Scheduler, *syncQueue) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	q := &syncQueue{}
	s := NewScheduler(defs, records, q, log)
	q.sched = s
	return s, q
}

func TestDispatch_blockedByOtherJob(t *testing.T) {
	defs := []config.JobDefinition{
		{Name: "A", Interval: 1000, SkipIfOtherInProgress: []string{"B"}},
		{Name: "B"},
	}
	records := newFakeRecords()
	s, _ := newTestScheduler(t, defs, records)
	s.Register("A", func(context.Context, map[string]any) (string, error) { return "", nil })
	s.Register("B", func(context.Context, map[string]any) (string, error) { return "", nil })

	records.status["B"] = models.JobRunning

	_, err := s.Dispatch(context.Background(), "A", nil)
	denied, ok := IsAdmissionDenied(err)
	if !ok {
		t.Fatalf("want AdmissionDenied, got %v", err)
	}
	want := "Job 'A' cannot run because the following job(s) are currently running: B"
	if denied.Reason != want {
		t.Errorf("reason = %q, want %q", denied.Reason, want)
	}
	if records.acquires != 0 {
		t.Errorf("A's run record must not change on denial, acquires = %d", records.acquires)
	}
}

func TestDispatch_selfAlreadyRunning(t *testing.T) {
	defs := []config.JobDefinition{{Name: "A"}}
	records := newFakeRecords()
	s, _ := newTestScheduler(t, defs, records)
	s.Register("A", func(context.Context, map[string]any) (string, error) { return "", nil })

	records.status["A"] = models.JobRunning

	_, err := s.Dispatch(context.Background(), "A", nil)
	denied, ok := IsAdmissionDenied(err)
	if !ok {
		t.Fatalf("want AdmissionDenied, got %v", err)
	}
	if denied.Reason != "self already running" {
		t.Errorf("reason = %q", denied.Reason)
	}
}

func TestDispatch_unknownJob(t *testing.T) {
	s, _ := newTestScheduler(t, nil, newFakeRecords())
	if _, err := s.Dispatch(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestDispatch_runsAndRecordsSuccess(t *testing.T) {
	defs := []config.JobDefinition{{Name: "A"}}
	records := newFakeRecords()
	s, q := newTestScheduler(t, defs, records)
	ran := false
	s.Register("A", func(context.Context, map[string]any) (string, error) {
		ran = true
		return "did the thing", nil
	})

	runID, err := s.Dispatch(context.Background(), "A", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if runID == "" {
		t.Error("empty run id")
	}
	if !ran || len(q.runs) != 1 {
		t.Fatalf("body did not run: runs = %v", q.runs)
	}
	if records.status["A"] != models.JobSuccess {
		t.Errorf("status = %q, want success", records.status["A"])
	}
}

func TestDispatch_historyNameIsGateKey(t *testing.T) {
	defs := []config.JobDefinition{
		{Name: "A", JobHistoryName: "shared"},
		{Name: "B", JobHistoryName: "shared", SkipIfOtherInProgress: []string{}},
	}
	records := newFakeRecords()
	s, _ := newTestScheduler(t, defs, records)
	s.Register("A", func(context.Context, map[string]any) (string, error) { return "", nil })
	s.Register("B", func(context.Context, map[string]any) (string, error) { return "", nil })

	records.status["shared"] = models.JobRunning
	if _, err := s.Dispatch(context.Background(), "B", nil); err == nil {
		t.Fatal("expected denial via shared history name")
	}
}

func TestExecute_failureRecordsError(t *testing.T) {
	defs := []config.JobDefinition{{Name: "A"}}
	records := newFakeRecords()
	s, _ := newTestScheduler(t, defs, records)
	s.Register("A", func(context.Context, map[string]any) (string, error) {
		return "", errors.New("boom")
	})

	if _, err := s.Dispatch(context.Background(), "A", nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if records.status["A"] != models.JobFailed {
		t.Errorf("status = %q, want failed", records.status["A"])
	}
	if len(records.finishes) != 1 || records.finishes[0] != "A:failed:boom" {
		t.Errorf("finishes = %v", records.finishes)
	}
}

func TestExecute_timeoutRecordsTimeout(t *testing.T) {
	defs := []config.JobDefinition{{Name: "A", Timeout: 20}}
	records := newFakeRecords()
	s, _ := newTestScheduler(t, defs, records)
	s.Register("A", func(ctx context.Context, _ map[string]any) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "", nil
		}
	})

	if _, err := s.Dispatch(context.Background(), "A", nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(records.finishes) != 1 || records.finishes[0] != "A:failed:timeout" {
		t.Errorf("finishes = %v", records.finishes)
	}
}

func TestExecute_postExecuteChain(t *testing.T) {
	defs := []config.JobDefinition{
		{Name: "A", PostExecute: []string{"B"}},
		{Name: "B"},
	}
	records := newFakeRecords()
	s, q := newTestScheduler(t, defs, records)
	var got map[string]any
	s.Register("A", func(context.Context, map[string]any) (string, error) { return "", nil })
	s.Register("B", func(_ context.Context, data map[string]any) (string, error) {
		got = data
		return "", nil
	})

	if _, err := s.Dispatch(context.Background(), "A", map[string]any{"scope": "full"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(q.runs) != 2 || q.runs[1] != "B" {
		t.Fatalf("runs = %v", q.runs)
	}
	if got == nil || got["scope"] != "full" {
		t.Errorf("post-execute data = %v", got)
	}
	// Worker data is cleared after the chain.
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.workerData) != 0 {
		t.Errorf("worker data not cleared: %v", s.workerData)
	}
}

func TestExecute_postExecuteSkippedOnFailure(t *testing.T) {
	defs := []config.JobDefinition{
		{Name: "A", PostExecute: []string{"B"}},
		{Name: "B"},
	}
	records := newFakeRecords()
	s, q := newTestScheduler(t, defs, records)
	s.Register("A", func(context.Context, map[string]any) (string, error) {
		return "", errors.New("boom")
	})
	s.Register("B", func(context.Context, map[string]any) (string, error) { return "", nil })

	if _, err := s.Dispatch(context.Background(), "A", nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(q.runs) != 1 {
		t.Errorf("post-execute must not run after failure: runs = %v", q.runs)
	}
}
