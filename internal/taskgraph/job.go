// Package taskgraph is the distributed job runtime: named Redis-backed
// queues, workers with per-queue priority, retry backoff schedules, and
// dependency edges. Job outputs live in the result cache; the dependency
// mechanism orders execution but the cache is authoritative for data.
package taskgraph

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueName identifies one of the three named queues.
type QueueName string

const (
	// QueueHigh serves leaf fetches.
	QueueHigh QueueName = "high"
	// QueueBatch serves bulk fetches and PnL sub-batches.
	QueueBatch QueueName = "batch"
	// QueueCompute serves coordinators and aggregators. Keeping them off
	// the leaf queues prevents deadlock where coordinators occupy every
	// worker while waiting for leaves.
	QueueCompute QueueName = "compute"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusDeferred Status = "deferred"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s == StatusFinished || s == StatusFailed }

// Dependency is an edge to a job that must reach a terminal state first.
// With AllowFailure the dependent proceeds even when the dependency failed,
// reading whatever partial result reached the cache.
type Dependency struct {
	JobID        string `json:"job_id"`
	AllowFailure bool   `json:"allow_failure"`
}

// Backoff schedules per queue, seconds between retry attempts.
var (
	BackoffHigh  = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}
	BackoffBatch = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
)

// DefaultJobTimeout is the per-job wall-clock limit.
const DefaultJobTimeout = time.Hour

// Job is one unit of work. Handlers are idempotent: replaying a job with
// the same ID overwrites its cached result deterministically.
type Job struct {
	ID         string          `json:"id"`
	Queue      QueueName       `json:"queue"`
	Func       string          `json:"func"`
	Args       json.RawMessage `json:"args"`
	Status     Status          `json:"status"`
	Retries    int             `json:"retries"`
	Attempt    int             `json:"attempt"`
	Deps       []Dependency    `json:"deps,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Error      string          `json:"error,omitempty"`
}

// NewJob builds a queued job with a fresh ID and the default retry budget.
func NewJob(queue QueueName, fn string, args interface{}) (*Job, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Func:       fn,
		Args:       raw,
		Status:     StatusQueued,
		Retries:    3,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// DependsOn appends a dependency edge.
func (j *Job) DependsOn(id string, allowFailure bool) *Job {
	j.Deps = append(j.Deps, Dependency{JobID: id, AllowFailure: allowFailure})
	return j
}

// backoffFor returns the wait before the given retry attempt (1-based).
func backoffFor(queue QueueName, attempt int) time.Duration {
	sched := BackoffBatch
	if queue == QueueHigh {
		sched = BackoffHigh
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(sched) {
		attempt = len(sched)
	}
	return sched[attempt-1]
}
