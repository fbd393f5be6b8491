package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeExecutor struct {
	err     error
	calls   int32
	release chan struct{}
	mu      sync.Mutex
	seen    []string
}

func (f *fakeExecutor) ExecuteBatch(ctx context.Context, job *Job) error {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.seen = append(f.seen, job.ID)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestDispatcherExecutesJob(t *testing.T) {
	executor := &fakeExecutor{}
	d, err := New(1, 8, executor)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	d.Start()
	defer d.Stop(time.Second)

	job := NewBatchJob(1, "go-basics-ab12", "u1", 2)
	if err := d.Enqueue(job); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&executor.calls) == 1 })
	waitFor(t, func() bool { return !d.IsActive(1) })
}

func TestDispatcherRejectsSecondJobForSameSyllabus(t *testing.T) {
	executor := &fakeExecutor{release: make(chan struct{})}
	d, _ := New(2, 8, executor)
	d.Start()
	defer d.Stop(time.Second)

	if err := d.Enqueue(NewBatchJob(7, "s", "u1", 1)); err != nil {
		t.Fatalf("first enqueue error: %v", err)
	}
	if err := d.Enqueue(NewBatchJob(7, "s", "u1", 1)); !errors.Is(err, ErrSyllabusBusy) {
		t.Fatalf("expected ErrSyllabusBusy, got %v", err)
	}
	if err := d.Enqueue(NewBatchJob(8, "other", "u1", 1)); err != nil {
		t.Fatalf("other syllabus should be accepted, got %v", err)
	}

	close(executor.release)
	waitFor(t, func() bool { return atomic.LoadInt32(&executor.calls) == 2 })
	waitFor(t, func() bool { return !d.IsActive(7) })

	if err := d.Enqueue(NewBatchJob(7, "s", "u1", 1)); err != nil {
		t.Fatalf("syllabus should accept a new batch after completion, got %v", err)
	}
}

func TestDispatcherReleasesSyllabusOnFailure(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("boom")}
	d, _ := New(1, 8, executor)
	d.Start()
	defer d.Stop(time.Second)

	if err := d.Enqueue(NewBatchJob(3, "s", "u1", 1)); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&executor.calls) == 1 && !d.IsActive(3) })
}

func TestDispatcherQueueFull(t *testing.T) {
	executor := &fakeExecutor{}
	d, _ := New(1, 1, executor)
	// 不启动分发循环，任务停留在队列中
	if err := d.Enqueue(NewBatchJob(1, "a", "u1", 1)); err != nil {
		t.Fatalf("first enqueue error: %v", err)
	}
	if err := d.Enqueue(NewBatchJob(2, "b", "u1", 1)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if d.IsActive(2) {
		t.Fatalf("rejected job should not hold the syllabus")
	}
	if status := d.GetQueueStatus(); status.QueueLength != 1 || status.ActiveSyllabi != 1 {
		t.Fatalf("unexpected queue status: %+v", status)
	}
	d.pool.Release()
}

func TestDispatcherStopRejectsNewJobs(t *testing.T) {
	executor := &fakeExecutor{release: make(chan struct{})}
	d, _ := New(1, 8, executor)
	d.Start()

	if err := d.Enqueue(NewBatchJob(1, "a", "u1", 1)); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&executor.calls) == 1 })

	d.Stop(time.Second)
	if err := d.Enqueue(NewBatchJob(2, "b", "u1", 1)); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("expected ErrDispatcherStopped, got %v", err)
	}
}
