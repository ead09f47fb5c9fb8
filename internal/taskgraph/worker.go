package taskgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solrunner/walletrank/internal/metrics"
)

// HandlerFunc executes one job. The returned value is written to the result
// cache under the job's ID before the job is marked finished.
type HandlerFunc func(ctx context.Context, job *Job) (interface{}, error)

// ResultSink is the slice of the result cache the worker needs.
type ResultSink interface {
	SaveJobResult(ctx context.Context, jobID string, result interface{}) error
}

// Worker consumes jobs from its configured queues in declared priority
// order and executes registered handlers.
type Worker struct {
	broker     Broker
	results    ResultSink
	handlers   map[string]HandlerFunc
	queues     []QueueName
	jobTimeout time.Duration
	popWait    time.Duration
}

// NewWorker builds a worker over the given queues; earlier queues win.
func NewWorker(broker Broker, results ResultSink, queues []QueueName) *Worker {
	return &Worker{
		broker:     broker,
		results:    results,
		handlers:   make(map[string]HandlerFunc),
		queues:     queues,
		jobTimeout: DefaultJobTimeout,
		popWait:    2 * time.Second,
	}
}

// Register binds a handler to a function name. Must be called before Run.
func (w *Worker) Register(fn string, h HandlerFunc) {
	w.handlers[fn] = h
}

// SetJobTimeout overrides the per-job wall-clock limit.
func (w *Worker) SetJobTimeout(d time.Duration) { w.jobTimeout = d }

// Run consumes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Interface("queues", w.queues).Int("handlers", len(w.handlers)).
		Msg("worker started")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.broker.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("delayed-job promotion failed")
		}

		job, err := w.broker.Pop(ctx, w.queues, w.popWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("queue pop failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

// process runs one job through the dependency gate, handler, and retry
// policy.
func (w *Worker) process(ctx context.Context, job *Job) {
	ready, failedDep := w.depsState(ctx, job)
	if failedDep != "" {
		job.Status = StatusFailed
		job.Error = fmt.Sprintf("dependency %s failed", failedDep)
		w.broker.Update(ctx, job)
		log.Warn().Str("job", job.ID).Str("func", job.Func).Str("dep", failedDep).
			Msg("job failed on hard dependency")
		return
	}
	if !ready {
		// Dependencies still running; defer without touching the budget.
		if err := w.broker.PushDelayed(ctx, job, 2*time.Second); err != nil {
			log.Error().Err(err).Str("job", job.ID).Msg("deferral failed")
		}
		return
	}

	handler, ok := w.handlers[job.Func]
	if !ok {
		job.Status = StatusFailed
		job.Error = "no handler registered for " + job.Func
		w.broker.Update(ctx, job)
		log.Error().Str("job", job.ID).Str("func", job.Func).Msg("unknown job function")
		return
	}

	job.Status = StatusStarted
	job.Attempt++
	w.broker.Update(ctx, job)

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	result, err := runSafely(jobCtx, handler, job)
	cancel()

	if err != nil {
		w.retryOrFail(ctx, job, err)
		if job.Status.Terminal() {
			metrics.ObserveJob(string(job.Queue), job.Func, time.Since(start), string(job.Status))
		}
		return
	}

	// Result lands in the cache before the status flips; a crash between
	// the two leaves dependents able to read the data via allow_failure.
	if serr := w.results.SaveJobResult(ctx, job.ID, result); serr != nil {
		w.retryOrFail(ctx, job, fmt.Errorf("save result: %w", serr))
		if job.Status.Terminal() {
			metrics.ObserveJob(string(job.Queue), job.Func, time.Since(start), string(job.Status))
		}
		return
	}
	job.Status = StatusFinished
	job.Error = ""
	w.broker.Update(ctx, job)
	metrics.ObserveJob(string(job.Queue), job.Func, time.Since(start), string(job.Status))
	log.Debug().Str("job", job.ID).Str("func", job.Func).Int("attempt", job.Attempt).
		Msg("job finished")
}

// runSafely converts handler panics into errors so one bad payload cannot
// take the worker down.
func runSafely(ctx context.Context, h HandlerFunc, job *Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (w *Worker) retryOrFail(ctx context.Context, job *Job, cause error) {
	job.Error = cause.Error()
	if job.Retries > 0 {
		job.Retries--
		delay := backoffFor(job.Queue, job.Attempt)
		log.Warn().Str("job", job.ID).Str("func", job.Func).Err(cause).
			Dur("backoff", delay).Int("retries_left", job.Retries).
			Msg("job failed, requeueing")
		if err := w.broker.PushDelayed(ctx, job, delay); err != nil {
			log.Error().Err(err).Str("job", job.ID).Msg("retry requeue failed")
		}
		return
	}
	job.Status = StatusFailed
	w.broker.Update(ctx, job)
	log.Error().Str("job", job.ID).Str("func", job.Func).Err(cause).
		Msg("job failed permanently")
}

// depsState reports whether all dependencies are terminal and, when a hard
// dependency failed, which one. Missing dependency records count as failed:
// their results may still be in the cache, which is exactly the case
// allow_failure exists for.
func (w *Worker) depsState(ctx context.Context, job *Job) (ready bool, failedDep string) {
	for _, dep := range job.Deps {
		depJob, err := w.broker.Load(ctx, dep.JobID)
		if err != nil {
			if !dep.AllowFailure {
				return false, dep.JobID
			}
			continue
		}
		if !depJob.Status.Terminal() {
			return false, ""
		}
		if depJob.Status == StatusFailed && !dep.AllowFailure {
			return false, dep.JobID
		}
	}
	return true, ""
}
