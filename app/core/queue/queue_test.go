package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func startQueue(t *testing.T, buffer, workers int) *Queue {
	t.Helper()
	q := New(buffer)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := q.Start(ctx, workers); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = q.Stop(time.Second) })
	return q
}

func TestRunsJob(t *testing.T) {
	q := startQueue(t, 8, 2)

	done := make(chan struct{})
	if _, err := q.Enqueue(Job{Run: func(context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	q := startQueue(t, 8, 1)

	var attempts atomic.Int32
	done := make(chan struct{}, 1)
	if _, err := q.Enqueue(Job{
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			done <- struct{}{}
			return nil
		},
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFailsAfterMaxRetries(t *testing.T) {
	q := startQueue(t, 8, 1)

	var attempts atomic.Int32
	if _, err := q.Enqueue(Job{
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
		Run: func(context.Context) error {
			attempts.Add(1)
			return errors.New("permanent")
		},
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.Stats().Failed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never marked failed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if q.Stats().Retried != 1 {
		t.Fatalf("expected 1 retry, got %d", q.Stats().Retried)
	}
}

func TestAttemptTimeout(t *testing.T) {
	q := startQueue(t, 8, 1)

	done := make(chan struct{}, 1)
	if _, err := q.Enqueue(Job{
		AttemptTimeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			done <- struct{}{}
			return nil
		},
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("attempt timeout never fired")
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	q := New(8)
	if _, err := q.Enqueue(Job{Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueStopped) {
		t.Fatalf("expected ErrQueueStopped, got %v", err)
	}
}

func TestEnqueueFullBuffer(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx, 1); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer q.Stop(time.Second)

	block := make(chan struct{})
	defer close(block)

	// occupy the single worker
	if _, err := q.Enqueue(Job{Run: func(context.Context) error {
		<-block
		return nil
	}}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// fill the buffer, then overflow it
	deadline := time.Now().Add(time.Second)
	sawFull := false
	for time.Now().Before(deadline) {
		_, err := q.Enqueue(Job{Run: func(context.Context) error { return nil }})
		if errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
		if err != nil {
			t.Fatalf("unexpected enqueue error: %v", err)
		}
	}
	if !sawFull {
		t.Fatal("expected ErrQueueFull once the buffer filled")
	}
}

func TestDoubleStart(t *testing.T) {
	q := startQueue(t, 8, 1)
	if err := q.Start(context.Background(), 1); !errors.Is(err, ErrQueueStarted) {
		t.Fatalf("expected ErrQueueStarted, got %v", err)
	}
}

func TestStopDrainsPendingJobs(t *testing.T) {
	q := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx, 1); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(Job{Run: func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
			return nil
		}}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	if err := q.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := ran.Load(); got != 5 {
		t.Fatalf("expected all jobs drained, got %d", got)
	}
}
