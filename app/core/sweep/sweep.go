// Package sweep runs the periodic maintenance jobs: task store cleanup and
// session eviction. Each job ticks on its own interval with a per-run
// timeout.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peeragent/app/core/memory"
	"peeragent/app/core/taskstore"
	"peeragent/app/pkg/logger"
)

var (
	ErrJobExists  = errors.New("sweep: job already exists")
	ErrSweepStart = errors.New("sweep: already started")
)

// Job is one recurring maintenance task.
type Job struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
	Run        func(context.Context) error
}

// JobStatus is the last observed state of a job, for the status endpoint.
type JobStatus struct {
	Name      string    `json:"name"`
	Runs      int64     `json:"runs"`
	LastRunAt time.Time `json:"last_run_at"`
	LastError string    `json:"last_error,omitempty"`
}

type Sweeper struct {
	mu      sync.Mutex
	jobs    map[string]Job
	status  map[string]*JobStatus
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Sweeper {
	return &Sweeper{
		jobs:   make(map[string]Job),
		status: make(map[string]*JobStatus),
	}
}

func (s *Sweeper) Register(job Job) error {
	if job.Name == "" || job.Run == nil || job.Interval <= 0 {
		return fmt.Errorf("sweep: job name, interval and run func are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	s.jobs[job.Name] = job
	s.status[job.Name] = &JobStatus{Name: job.Name}
	return nil
}

func (s *Sweeper) Start(parent context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSweepStart
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.started = true
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	logger.Info("Sweeper started with %d jobs", len(jobs))
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Status reports every registered job's last run.
func (s *Sweeper) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	return out
}

func (s *Sweeper) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	if job.RunOnStart {
		s.runJob(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, job)
		}
	}
}

func (s *Sweeper) runJob(ctx context.Context, job Job) {
	runCtx := ctx
	cancel := func() {}
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	err := job.Run(runCtx)
	cancel()

	s.mu.Lock()
	if st, ok := s.status[job.Name]; ok {
		st.Runs++
		st.LastRunAt = time.Now()
		if err != nil {
			st.LastError = err.Error()
		} else {
			st.LastError = ""
		}
	}
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		logger.Warn("Sweep job %s failed: %v", job.Name, err)
	}
}

// RegisterMaintenance wires the standard maintenance jobs: reaping expired
// task records and stale index entries, and evicting idle sessions.
func RegisterMaintenance(s *Sweeper, store taskstore.Store, sessions *memory.Store, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	if err := s.Register(Job{
		Name:     "taskstore-cleanup",
		Interval: interval,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			reaped, err := store.Cleanup(ctx)
			if err != nil {
				return err
			}
			if reaped > 0 {
				logger.Info("Reaped %d stale task index entries", reaped)
			}
			return nil
		},
	}); err != nil {
		return err
	}

	return s.Register(Job{
		Name:     "session-sweep",
		Interval: interval,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			sessions.Sweep()
			return nil
		},
	})
}
