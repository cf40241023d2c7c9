// Package queue is the bounded in-process job queue behind asynchronous task
// execution. Jobs retry with a delay and run under a per-attempt timeout.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"peeragent/app/pkg/logger"
)

var (
	ErrQueueStarted = errors.New("queue: already started")
	ErrQueueStopped = errors.New("queue: stopped")
	ErrQueueFull    = errors.New("queue: full")
)

// Job is one unit of asynchronous work. ID is informational; execution is
// fully described by Run.
type Job struct {
	ID             string
	MaxRetries     int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	Run            func(context.Context) error
}

type queuedJob struct {
	job     Job
	attempt int
}

// Queue fans jobs out to a fixed worker pool.
type Queue struct {
	mu       sync.Mutex
	jobs     chan queuedJob
	started  bool
	stopping bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	nextID    atomic.Uint64
	inFlight  atomic.Int64
	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
}

type Stats struct {
	Started   bool   `json:"started"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	InFlight  int64  `json:"in_flight"`
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
}

func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{jobs: make(chan queuedJob, buffer)}
}

// Enqueue adds a job without blocking; a full buffer is an error so callers
// can shed load instead of hanging the submission path.
func (q *Queue) Enqueue(job Job) (string, error) {
	if job.Run == nil {
		return "", fmt.Errorf("queue: job run func is required")
	}
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", q.nextID.Add(1))
	}

	q.mu.Lock()
	stopping := q.stopping
	started := q.started
	q.mu.Unlock()
	if stopping || !started {
		return "", ErrQueueStopped
	}

	select {
	case q.jobs <- queuedJob{job: job}:
		q.enqueued.Add(1)
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

func (q *Queue) Start(parent context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return ErrQueueStarted
	}
	ctx, cancel := context.WithCancel(parent)
	q.cancel = cancel
	q.started = true
	q.stopping = false
	q.mu.Unlock()

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	logger.Info("Queue started with %d workers, buffer %d", workers, cap(q.jobs))
	return nil
}

// Stop drains in-flight and buffered jobs up to the timeout, then cancels
// whatever is left.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	q.cancel = nil
	q.started = false
	q.stopping = true
	q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	timedOut := false
	for len(q.jobs) > 0 || q.inFlight.Load() > 0 {
		if timeout > 0 && time.Now().After(deadline) {
			timedOut = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	q.wg.Wait()

	q.mu.Lock()
	q.stopping = false
	q.mu.Unlock()

	if timedOut {
		return fmt.Errorf("queue: stop timeout after %s", timeout)
	}
	return nil
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()

	return Stats{
		Started:   started,
		Depth:     len(q.jobs),
		Capacity:  cap(q.jobs),
		InFlight:  q.inFlight.Load(),
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Retried:   q.retried.Load(),
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.jobs:
			q.inFlight.Add(1)
			q.runOnce(ctx, item)
			q.inFlight.Add(-1)
		}
	}
}

func (q *Queue) runOnce(parent context.Context, item queuedJob) {
	attempt := item.attempt + 1
	runCtx := parent
	cancel := func() {}
	if item.job.AttemptTimeout > 0 {
		runCtx, cancel = context.WithTimeout(parent, item.job.AttemptTimeout)
	}
	err := item.job.Run(runCtx)
	cancel()
	if err == nil {
		q.completed.Add(1)
		return
	}

	if parent.Err() != nil {
		return
	}

	if attempt >= item.job.MaxRetries+1 {
		q.failed.Add(1)
		logger.Error("Job %s failed after %d attempts: %v", item.job.ID, attempt, err)
		return
	}

	q.retried.Add(1)
	logger.Warn("Job %s attempt %d failed, retrying: %v", item.job.ID, attempt, err)

	delay := item.job.RetryDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-parent.Done():
			return
		case <-timer.C:
		}
		select {
		case q.jobs <- queuedJob{job: item.job, attempt: attempt}:
		case <-parent.Done():
		}
	}()
}
