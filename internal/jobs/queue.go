package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const taskRunJob = "job:run"

// runPayload is the wire form of one dispatched run.
type runPayload struct {
	Name  string `json:"name"`
	RunID string `json:"run_id"`
}

// Queue is the execution substrate: dispatched runs travel through Redis so
// job bodies execute on worker goroutines, decoupled from the control loop.
// The run-record store, not the queue, decides what may run.
type Queue struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logrus.Logger
}

func NewQueue(redisAddr string, concurrency int, log *logrus.Logger) *Queue {
	if concurrency <= 0 {
		concurrency = 2
	}
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Logger:      log,
	})
	return &Queue{
		client: asynq.NewClient(redisOpt),
		server: server,
		mux:    asynq.NewServeMux(),
		log:    log,
	}
}

// EnqueueRun hands one admitted run to the workers. Retries are disabled:
// failure semantics belong to the scheduler, not the queue.
func (q *Queue) EnqueueRun(name, runID string) error {
	data, err := json.Marshal(runPayload{Name: name, RunID: runID})
	if err != nil {
		return fmt.Errorf("marshal run payload: %w", err)
	}
	task := asynq.NewTask(taskRunJob, data, asynq.MaxRetry(0), asynq.TaskID(runID))
	if _, err := q.client.Enqueue(task); err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

func (q *Queue) RegisterHandler(handler asynq.Handler) {
	q.mux.Handle(taskRunJob, handler)
}

func (q *Queue) Start() error {
	q.log.Info("Queue: worker starting")
	return q.server.Start(q.mux)
}

func (q *Queue) Stop() {
	q.server.Shutdown()
	q.client.Close()
}
