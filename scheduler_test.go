package rxgo

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestImmediateSchedulerRunsSynchronously(t *testing.T) {
	ran := false
	ImmediateScheduler.Schedule(func() { ran = true })
	require.True(t, ran, "expected the task to have run before Schedule returned")
}

func TestCachedSchedulerScheduleRunsTask(t *testing.T) {
	s := NewCachedScheduler()
	defer s.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	s.Schedule(func() { wg.Done() })

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestCachedSchedulerShutdownRejectsFurtherWork(t *testing.T) {
	s := NewCachedScheduler()
	s.Shutdown()

	require.Equal(t, Rejected, s.Schedule(func() {}), "expected Schedule after Shutdown to return Rejected")
	w := s.CreateWorker()
	require.Equal(t, Rejected, w.Schedule(func() {}), "expected a post-shutdown Worker to reject every task")
}

func TestCachedSchedulerShutdownIsIdempotent(t *testing.T) {
	s := NewCachedScheduler()
	s.Shutdown()
	s.Shutdown() // must not panic (double close of evictorStop)
}

// TestCachedSchedulerEvictsIdleExecutorsPastTTL drives a fake clock.Clock
// past the TTL and asserts the idle executor pool is evicted, grounded on
// CachedScheduler's TTL-based idle reclamation.
func TestCachedSchedulerEvictsIdleExecutorsPastTTL(t *testing.T) {
	mock := clock.NewMock()
	s := NewCachedScheduler(WithTTL(time.Minute), WithClock(mock))
	defer s.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	s.Schedule(func() { wg.Done() })
	wg.Wait()

	// give the worker goroutine a moment to call release() after wrapper runs
	time.Sleep(50 * time.Millisecond)

	s.mu.Lock()
	idleBefore := len(s.idle)
	s.mu.Unlock()
	require.Equal(t, 1, idleBefore, "expected the released executor to sit in the idle pool")

	mock.Add(2 * time.Minute) // fires the TTL ticker past expiry
	time.Sleep(50 * time.Millisecond)

	s.mu.Lock()
	idleAfter := len(s.idle)
	s.mu.Unlock()
	require.Equal(t, 0, idleAfter, "expected the idle executor to be evicted past its TTL")
}

func TestCachedWorkerShutdownCancelsPendingTasks(t *testing.T) {
	s := NewCachedScheduler()
	defer s.Shutdown()
	w := s.CreateWorker()

	started := make(chan struct{})
	block := make(chan struct{})
	w.Schedule(func() { close(started); <-block })
	<-started

	d := w.Schedule(func() { t.Fatal("a task queued behind a shutdown worker must never run") })
	w.Shutdown()
	close(block)

	time.Sleep(50 * time.Millisecond)
	require.True(t, d.IsDisposed(), "expected the pending task's Disposable to report disposed after Shutdown")
}

func TestCachedTaskDisposeBeforeRunPreventsExecution(t *testing.T) {
	w := &cachedWorker{exec: newCachedExecutor(), tasks: make(map[*cachedTask]struct{})}
	defer w.exec.shutdown()

	ran := false
	ct := &cachedTask{id: uuid.New(), fn: func() { ran = true }, worker: w}
	ct.Dispose()
	ct.run()

	require.False(t, ran, "a disposed-before-run task must never execute its function")
	require.True(t, ct.IsDisposed())
}
