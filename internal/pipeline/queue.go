package pipeline

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/foker/tgflats-sub000/internal/platform/logger"
)

// RetryPolicy bounds per-stage retries. BaseDelay doubles per attempt unless
// Fixed is set; either way a little jitter spreads concurrent retries out.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Fixed     bool
}

// Delay returns the wait before the given retry (attempt starts at 1 for the
// first retry).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	if !p.Fixed {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	}
	if delay <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// Handler processes one job. A nil error completes the job; an error
// triggers the stage's retry policy.
type Handler func(ctx context.Context, job *Job) error

// QueueObserver is notified when a job completes or is terminally dropped.
type QueueObserver func(stage Stage, ok bool, duration time.Duration)

// Queue is one stage's buffered job channel plus its worker pool. Jobs run
// in parallel across workers with no ordering guarantee beyond the channel's
// FIFO intake; a failing job retries on the same worker and never blocks the
// rest of the queue.
type Queue struct {
	stage   Stage
	jobs    chan *Job
	handler Handler
	retry   RetryPolicy
	workers int
	log     logger.Logger
	observe QueueObserver

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewQueue(stage Stage, workers, size int, retry RetryPolicy, handler Handler, log logger.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 64
	}
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	return &Queue{
		stage:   stage,
		jobs:    make(chan *Job, size),
		handler: handler,
		retry:   retry,
		workers: workers,
		log:     log,
	}
}

// SetObserver installs an optional completion callback (metrics).
func (q *Queue) SetObserver(fn QueueObserver) { q.observe = fn }

func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx)
		}
	})
}

// Enqueue adds a job without blocking. A full queue drops the job with a
// logged terminal failure, which keeps backpressure from stalling upstream
// stages.
func (q *Queue) Enqueue(job *Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		q.log.Errorf("%s queue full, dropping job %s", q.stage, job.ID)
		q.emit(false, 0)
		return false
	}
}

// Stop closes intake and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.jobs)
	})
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.process(ctx, job)
	}
}

// process drives one job through the stage's retry budget. Exhausted retries
// log and drop; the failure stays isolated to this job.
func (q *Queue) process(ctx context.Context, job *Job) {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= q.retry.Attempts; attempt++ {
		lastErr = q.handler(ctx, job)
		if lastErr == nil {
			job.SetProgress(100)
			q.emit(true, time.Since(start))
			return
		}
		if attempt < q.retry.Attempts {
			delay := q.retry.Delay(attempt)
			q.log.Warnf("%s job %s failed (attempt %d/%d): %v, retrying in %v",
				q.stage, job.ID, attempt, q.retry.Attempts, lastErr, delay)
			select {
			case <-ctx.Done():
				q.log.Warnf("%s job %s abandoned during shutdown", q.stage, job.ID)
				q.emit(false, time.Since(start))
				return
			case <-time.After(delay):
			}
		}
	}

	q.log.Errorf("%s job %s dropped after %d attempts: %v", q.stage, job.ID, q.retry.Attempts, lastErr)
	q.emit(false, time.Since(start))
}

func (q *Queue) emit(ok bool, duration time.Duration) {
	if q.observe != nil {
		q.observe(q.stage, ok, duration)
	}
}
