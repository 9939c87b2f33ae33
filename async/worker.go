package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sortitionfoundation/opendlp/errors"
)

const (
	// MaxStaleJobsToFail limits how many stale running jobs are failed on
	// startup, to bound the recovery pass after a crash
	MaxStaleJobsToFail = 1000
)

// WorkerPool manages a pool of workers that process async jobs. Workers
// wake on queue notifications when a job is enqueued and fall back to
// tick polling, so a freshly submitted job does not wait out a full poll
// interval.
type WorkerPool struct {
	queue     *Queue
	config    WorkerPoolConfig
	workers   int
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	registry  *HandlerRegistry
	logger    *zap.SugaredLogger
	mu        sync.Mutex
	wake      chan *Job
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often to check for new jobs
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: 1 * time.Second,
	}
}

// NewWorkerPool creates a new worker pool with an empty handler registry.
// Callers must register handlers via Registry() before calling Start().
//
// The pool derives its context from the given parent so that cancelling the
// parent during shutdown also stops the workers.
func NewWorkerPool(ctx context.Context, db *sql.DB, cfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &WorkerPool{
		queue:     NewQueue(db),
		config:    cfg,
		workers:   workers,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		registry:  NewHandlerRegistry(),
		logger:    logger.Named("async"),
	}
}

// Start begins processing jobs with the worker pool.
// Jobs left in "running" state by a dead process are failed first so that
// health reconciliation sees them as terminal rather than live.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// Recreate the context if the pool was stopped before (must happen
	// before spawning workers to avoid races)
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}
	wp.wake = wp.queue.Subscribe()
	wp.mu.Unlock()

	if err := wp.failStaleRunningJobs(); err != nil {
		wp.logger.Warnw("Failed to reconcile stale running jobs", "error", err)
		// Continue starting workers even if recovery fails
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i, wp.wake)
	}
	wp.logger.Infow("Worker pool started", "workers", wp.workers, "poll_interval", wp.config.PollInterval)
}

// failStaleRunningJobs marks jobs still "running" from a previous process
// as failed. There are no automatic retries: a selection run that lost its
// worker must be re-dispatched, so the stale job is terminal, not re-queued.
func (wp *WorkerPool) failStaleRunningJobs() error {
	runningStatus := JobStatusRunning
	stale, err := wp.queue.ListJobs(&runningStatus, MaxStaleJobsToFail)
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}

	if len(stale) == 0 {
		return nil
	}

	wp.logger.Warnw("Found stale running jobs from previous process", "count", len(stale))

	for _, job := range stale {
		if err := wp.queue.FailJob(job.ID, errors.New("worker process died before the job finished")); err != nil {
			wp.logger.Warnw("Failed to fail stale job", "job_id", job.ID, "error", err)
			continue
		}
		wp.logger.Infow("Failed stale job", "job_id", job.ID, "handler", job.HandlerName)
	}

	return nil
}

// Stop gracefully stops the worker pool.
// Uses a 30-second timeout so a blocking external call cannot stall
// shutdown indefinitely.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	wp.mu.Lock()
	if wp.wake != nil {
		wp.queue.Unsubscribe(wp.wake)
	}
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped, all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Warnw("Worker pool stop timeout, workers may still be finishing", "timeout", timeout)
	}
}

// worker processes jobs from the queue. An enqueue notification wakes it
// immediately; the ticker covers jobs whose notification was dropped or
// consumed by another worker.
func (wp *WorkerPool) worker(id int, wake <-chan *Job) {
	defer wp.wg.Done()

	interval := wp.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case job := <-wake:
			if job == nil || job.Status != JobStatusQueued {
				continue
			}
		case <-ticker.C:
		}

		if err := wp.processNextJob(); err != nil {
			// Suppress errors caused by shutdown (context cancelled
			// or database closed underneath us)
			select {
			case <-wp.ctx.Done():
				return
			default:
				if errors.Is(err, sql.ErrConnDone) {
					return
				}
				wp.logger.Errorw("Worker error processing job",
					"worker_id", id,
					"error", err)
			}
		}
	}
}

// processNextJob gets the next job from the queue and processes it
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil // Shutting down - don't pick up new jobs
	default:
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "failed to dequeue job")
	}

	if job == nil {
		return nil // No jobs available
	}

	result, err := wp.registry.Execute(wp.ctx, job)
	if err != nil {
		return wp.queue.FailJob(job.ID, err)
	}

	return wp.queue.CompleteJob(job.ID, result)
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Registry returns the handler registry for registering job handlers.
// Use this to register handlers before calling Start():
//
//	pool := async.NewWorkerPool(ctx, db, cfg, logger)
//	pool.Registry().Register(selectionHandler)
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}
