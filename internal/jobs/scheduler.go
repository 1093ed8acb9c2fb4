package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/config"
	"github.com/streamarc/streamarc/internal/models"
)

// JobFunc is one job body. It returns a human-readable result summary for
// the run record. data carries the dispatch parameters, if any.
type JobFunc func(ctx context.Context, data map[string]any) (string, error)

// RunRecords is the slice of the job store the scheduler depends on. The
// stored record is the single source of truth for "is this job running".
type RunRecords interface {
	IsRunning(ctx context.Context, name string) (bool, error)
	TryAcquire(ctx context.Context, name, runID string) (bool, error)
	Finish(ctx context.Context, name string, status models.JobStatus, result, errMsg string) error
}

// TaskQueue hands admitted runs to worker goroutines.
type TaskQueue interface {
	EnqueueRun(name, runID string) error
}

// Scheduler owns dispatch: interval and cron fires, manual triggers, the
// admission gate, and the post-execution chain.
type Scheduler struct {
	defs    map[string]*config.JobDefinition
	order   []string
	bodies  map[string]JobFunc
	records RunRecords
	queue   TaskQueue
	cron    *cron.Cron
	log     *logrus.Logger

	mu         sync.Mutex
	workerData map[string]map[string]any

	baseCtx context.Context
	stop    chan struct{}
	stopped sync.Once
}

func NewScheduler(defs []config.JobDefinition, records RunRecords, queue TaskQueue, log *logrus.Logger) *Scheduler {
	s := &Scheduler{
		defs:       make(map[string]*config.JobDefinition, len(defs)),
		bodies:     make(map[string]JobFunc),
		records:    records,
		queue:      queue,
		cron:       cron.New(),
		log:        log,
		workerData: make(map[string]map[string]any),
		baseCtx:    context.Background(),
		stop:       make(chan struct{}),
	}
	for i := range defs {
		d := &defs[i]
		s.defs[d.Name] = d
		s.order = append(s.order, d.Name)
	}
	return s
}

// Register binds a body to a job name. Definitions without a body fail at
// Start.
func (s *Scheduler) Register(name string, fn JobFunc) {
	s.bodies[name] = fn
}

// Known reports whether a job name is configured.
func (s *Scheduler) Known(name string) bool {
	_, ok := s.defs[name]
	return ok
}

// Definitions returns the configured jobs in file order.
func (s *Scheduler) Definitions() []*config.JobDefinition {
	out := make([]*config.JobDefinition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.defs[name])
	}
	return out
}

// Start validates registration, wires the queue handler, and launches the
// interval tickers and cron entries.
func (s *Scheduler) Start(ctx context.Context) error {
	for name := range s.defs {
		if _, ok := s.bodies[name]; !ok {
			return fmt.Errorf("job %q has no registered body", name)
		}
	}
	s.baseCtx = ctx

	if q, ok := s.queue.(*Queue); ok {
		q.RegisterHandler(asynq.HandlerFunc(s.handleTask))
		if err := q.Start(); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}

	for _, name := range s.order {
		def := s.defs[name]
		if interval := def.IntervalDuration(); interval > 0 {
			go s.tick(name, interval)
		}
		if def.Schedule != "" {
			if _, err := cron.ParseStandard(def.Schedule); err == nil {
				if _, err := s.cron.AddFunc(def.Schedule, func() { s.fire(name) }); err != nil {
					return fmt.Errorf("job %q: cron entry: %w", name, err)
				}
			}
			// Non-cron schedules are descriptive labels only.
		}
	}
	s.cron.Start()
	s.log.WithField("jobs", len(s.defs)).Info("Scheduler: started")
	return nil
}

func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		close(s.stop)
		s.cron.Stop()
	})
}

func (s *Scheduler) tick(name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.fire(name)
		case <-s.stop:
			return
		}
	}
}

// fire is a scheduled trigger: admission denials are routine and logged at
// debug.
func (s *Scheduler) fire(name string) {
	if _, err := s.Dispatch(s.baseCtx, name, nil); err != nil {
		if denied, ok := IsAdmissionDenied(err); ok {
			s.log.WithFields(logrus.Fields{"job": name, "reason": denied.Reason}).Debug("Scheduler: fire skipped")
			return
		}
		s.log.WithError(err).WithField("job", name).Error("Scheduler: fire failed")
	}
}

// Dispatch runs the admission gate and, on success, enqueues the run. The
// returned run id identifies the admitted execution.
func (s *Scheduler) Dispatch(ctx context.Context, name string, data map[string]any) (string, error) {
	def, ok := s.defs[name]
	if !ok {
		return "", fmt.Errorf("unknown job %q", name)
	}

	running, err := s.records.IsRunning(ctx, def.HistoryName())
	if err != nil {
		return "", fmt.Errorf("job %q: run-record read: %w", name, err)
	}
	if running {
		return "", deniedSelf(name)
	}

	var blockers []string
	for _, other := range def.SkipIfOtherInProgress {
		otherDef, ok := s.defs[other]
		if !ok {
			continue
		}
		running, err := s.records.IsRunning(ctx, otherDef.HistoryName())
		if err != nil {
			return "", fmt.Errorf("job %q: run-record read: %w", name, err)
		}
		if running {
			blockers = append(blockers, other)
		}
	}
	if len(blockers) > 0 {
		return "", deniedBlocked(name, blockers)
	}

	runID := uuid.NewString()
	acquired, err := s.records.TryAcquire(ctx, def.HistoryName(), runID)
	if err != nil {
		return "", fmt.Errorf("job %q: acquire: %w", name, err)
	}
	if !acquired {
		return "", deniedSelf(name)
	}

	if data != nil {
		s.mu.Lock()
		s.workerData[name] = data
		s.mu.Unlock()
	}

	if err := s.queue.EnqueueRun(name, runID); err != nil {
		// The record was acquired but the run will never happen; release it.
		if ferr := s.records.Finish(ctx, def.HistoryName(), models.JobFailed, "", err.Error()); ferr != nil {
			s.log.WithError(ferr).WithField("job", name).Error("Scheduler: release after enqueue failure")
		}
		s.clearWorkerData(name)
		return "", fmt.Errorf("job %q: enqueue: %w", name, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "run_id": runID}).Info("Scheduler: dispatched")
	return runID, nil
}

func (s *Scheduler) handleTask(ctx context.Context, task *asynq.Task) error {
	var payload runPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("run payload: %w", err)
	}
	s.Execute(payload.Name)
	return nil
}

func (s *Scheduler) takeWorkerData(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workerData[name]
}

func (s *Scheduler) clearWorkerData(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workerData, name)
}

// Execute runs one admitted job body to completion and records the outcome.
// On success the post-execution chain is dispatched with the same worker
// data.
func (s *Scheduler) Execute(name string) {
	def, ok := s.defs[name]
	if !ok {
		s.log.WithField("job", name).Error("Scheduler: execute for unknown job")
		return
	}
	body := s.bodies[name]
	data := s.takeWorkerData(name)
	defer s.clearWorkerData(name)

	ctx := s.baseCtx
	if timeout := def.TimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := s.log.WithField("job", name)
	started := time.Now()
	result, err := body(ctx, data)
	elapsed := time.Since(started).Round(time.Millisecond)

	if err != nil {
		reason := err.Error()
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, context.Canceled):
			reason = "canceled"
		}
		log.WithError(err).WithField("elapsed", elapsed).Error("Scheduler: job failed")
		if ferr := s.records.Finish(s.baseCtx, def.HistoryName(), models.JobFailed, result, reason); ferr != nil {
			log.WithError(ferr).Error("Scheduler: record finish failed")
		}
		return
	}

	log.WithFields(logrus.Fields{"elapsed": elapsed, "result": result}).Info("Scheduler: job finished")
	if ferr := s.records.Finish(s.baseCtx, def.HistoryName(), models.JobSuccess, result, ""); ferr != nil {
		log.WithError(ferr).Error("Scheduler: record finish failed")
	}

	for _, next := range def.PostExecute {
		if _, err := s.Dispatch(s.baseCtx, next, data); err != nil {
			if denied, ok := IsAdmissionDenied(err); ok {
				log.WithFields(logrus.Fields{"next": next, "reason": denied.Reason}).Info("Scheduler: post-execute skipped")
				continue
			}
			log.WithError(err).WithField("next", next).Error("Scheduler: post-execute dispatch failed")
		}
	}
}
