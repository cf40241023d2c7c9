// Package worker bridges task submission and execution: it records each task
// in the store, hands asynchronous work to the queue, and writes handler
// results back.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"peeragent/app/core/orchestrator"
	"peeragent/app/core/queue"
	"peeragent/app/core/taskstore"
	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

// Runner executes tasks against the orchestrator and keeps the task store in
// sync with their lifecycle.
type Runner struct {
	queue   *queue.Queue
	orch    *orchestrator.Orchestrator
	store   taskstore.Store
	timeout time.Duration
}

func NewRunner(q *queue.Queue, orch *orchestrator.Orchestrator, store taskstore.Store, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{queue: q, orch: orch, store: store, timeout: timeout}
}

// Submit records the task as pending and queues it for asynchronous
// execution, returning the task ID immediately.
func (r *Runner) Submit(ctx context.Context, task, sessionID string, taskContext map[string]interface{}) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", types.ErrEmptyTask
	}

	id := uuid.NewString()
	record := &taskstore.Record{
		ID:        id,
		SessionID: sessionID,
		Text:      task,
		Status:    types.StatusPending,
		Meta:      taskContext,
	}
	if err := r.store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to record task: %w", err)
	}

	_, err := r.queue.Enqueue(queue.Job{
		ID:             id,
		AttemptTimeout: r.timeout,
		Run: func(jobCtx context.Context) error {
			return r.run(jobCtx, id, task, sessionID, taskContext)
		},
	})
	if err != nil {
		r.writeFailure(ctx, id, "", fmt.Sprintf("could not queue task: %v", err))
		return "", fmt.Errorf("failed to queue task: %w", err)
	}
	return id, nil
}

// ExecuteSync records the task, runs it inline, and writes the result back
// before returning. Used by the synchronous submission path.
func (r *Runner) ExecuteSync(ctx context.Context, task, sessionID string, taskContext map[string]interface{}) (string, orchestrator.Result, error) {
	if strings.TrimSpace(task) == "" {
		return "", orchestrator.Result{}, types.ErrEmptyTask
	}

	id := uuid.NewString()
	record := &taskstore.Record{
		ID:        id,
		SessionID: sessionID,
		Text:      task,
		Status:    types.StatusPending,
		Meta:      taskContext,
	}
	if err := r.store.Create(ctx, record); err != nil {
		return "", orchestrator.Result{}, fmt.Errorf("failed to record task: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.run(runCtx, id, task, sessionID, taskContext); err != nil {
		result := orchestrator.Result{Err: err}
		if got, getErr := r.store.Get(ctx, id); getErr == nil {
			result.Category = got.Category
		}
		return id, result, nil
	}

	got, err := r.store.Get(ctx, id)
	if err != nil {
		return id, orchestrator.Result{}, fmt.Errorf("failed to read back result: %w", err)
	}
	return id, orchestrator.Result{Category: got.Category, Output: got.Result}, nil
}

func (r *Runner) run(ctx context.Context, id, task, sessionID string, taskContext map[string]interface{}) error {
	if _, err := r.store.Update(ctx, id, map[string]interface{}{
		"status": string(types.StatusProcessing),
	}); err != nil {
		logger.Warn("Could not mark task %s processing: %v", id, err)
	}

	result := r.orch.Execute(ctx, task, sessionID, id, taskContext)
	if result.Failed() {
		r.writeFailure(ctx, id, result.Category, result.Err.Error())
		return result.Err
	}

	now := time.Now()
	if _, err := r.store.Update(ctx, id, map[string]interface{}{
		"status":       string(types.StatusCompleted),
		"category":     string(result.Category),
		"result":       result.Output,
		"completed_at": now,
	}); err != nil {
		logger.Error("Could not write result for task %s: %v", id, err)
		return err
	}
	return nil
}

func (r *Runner) writeFailure(ctx context.Context, id string, category types.Category, message string) {
	fields := map[string]interface{}{
		"status":       string(types.StatusFailed),
		"error":        message,
		"completed_at": time.Now(),
	}
	if category != "" {
		fields["category"] = string(category)
	}
	if _, err := r.store.Update(ctx, id, fields); err != nil {
		logger.Error("Could not mark task %s failed: %v", id, err)
	}
}
