// Scheduler implementations for RxGo
// 任务调度与线程池缓存：Worker生命周期、任务状态机、TTL回收策略
package rxgo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Scheduler yields Workers that accept Runnable-style tasks, per §4.9/§6.
type Scheduler interface {
	CreateWorker() Worker
	Schedule(task func()) Disposable
	Shutdown()
}

// Worker accepts tasks and returns Disposable handles; Shutdown releases
// all pending tasks and returns the underlying resource to the scheduler's
// TTL-cached pool.
type Worker interface {
	Schedule(task func()) Disposable
	Shutdown()
}

// rejectedDisposable is the process-lifetime singleton sentinel returned
// when a Worker or Scheduler has already been shut down, mirroring
// CachedScheduler.java's static REJECTED/SHUTDOWN fields (§4.9, §6).
type rejectedDisposable struct{}

func (rejectedDisposable) Dispose()         {}
func (rejectedDisposable) IsDisposed() bool { return true }

// Rejected is returned by Schedule calls made against an already-shutdown
// Worker or Scheduler.
var Rejected Disposable = rejectedDisposable{}

func safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			Log.Error().Interface("panic", r).Msg("rxgo: scheduled task panicked")
		}
	}()
	task()
}

// --- task state machine -----------------------------------------------

// taskState mirrors CachedWorker.CachedTask's PENDING/RUNNING/FINISHED/
// CANCELLED cell from CachedScheduler.java, resolved with a single CAS
// rather than the source's AtomicReference<Future<?>> sentinel dance, since
// Go's task is the closure itself rather than a java.util.concurrent.Future.
type taskState int32

const (
	taskPending   taskState = 0
	taskRunning   taskState = 1
	taskFinished  taskState = 2
	taskCancelled taskState = 3
)

type cachedTask struct {
	id     uuid.UUID
	fn     func()
	worker *cachedWorker
	state  atomic.Int32
}

func (t *cachedTask) run() {
	if !t.state.CompareAndSwap(int32(taskPending), int32(taskRunning)) {
		return // already cancelled before it got a chance to run
	}
	defer func() {
		if r := recover(); r != nil {
			Log.Error().Interface("panic", r).Str("task", t.id.String()).Msg("rxgo: worker task panicked")
		}
		t.state.Store(int32(taskFinished))
		t.worker.remove(t)
	}()
	t.fn()
}

// Dispose cancels the task if it has not yet started running; once
// running, it is left to finish (the same best-effort semantics as the
// source's Future.cancel(true), which cannot force an already-running
// task to stop in Go either).
func (t *cachedTask) Dispose() {
	t.state.CompareAndSwap(int32(taskPending), int32(taskCancelled))
}

func (t *cachedTask) IsDisposed() bool {
	s := taskState(t.state.Load())
	return s == taskFinished || s == taskCancelled
}

// --- single-goroutine pooled executor -----------------------------------

// cachedExecutor is a single-goroutine task runner, the Go analogue of the
// source's single-thread ExecutorService created by THREAD_FACTORY.
type cachedExecutor struct {
	id    uuid.UUID
	tasks chan func()
	stop  chan struct{}
}

func newCachedExecutor() *cachedExecutor {
	e := &cachedExecutor{
		id:    uuid.New(),
		tasks: make(chan func(), 256),
		stop:  make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *cachedExecutor) loop() {
	for {
		select {
		case t := <-e.tasks:
			safeRun(t)
		case <-e.stop:
			return
		}
	}
}

// submit enqueues fn, returning false (a "rejected execution") if the
// executor's queue is saturated.
func (e *cachedExecutor) submit(fn func()) bool {
	select {
	case e.tasks <- fn:
		return true
	default:
		return false
	}
}

func (e *cachedExecutor) shutdown() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// --- CachedScheduler -----------------------------------------------------

const defaultTTL = 60 * time.Second

type expiringExecutor struct {
	exec     *cachedExecutor
	expireAt time.Time
}

// CachedScheduler dynamically creates single-goroutine Workers and caches
// the underlying executors, reusing them once a Worker shuts down, per
// §4.9. Grounded directly on rsc.scheduler.CachedScheduler: unbounded idle
// capacity, a configurable TTL (default 60s) after which an idle executor
// is evicted, and a terminal shutdown state after which every pick()
// returns the Rejected sentinel.
type CachedScheduler struct {
	ttl   time.Duration
	clock clock.Clock

	mu   sync.Mutex
	idle []expiringExecutor
	live map[*cachedExecutor]struct{}

	shutdownFlag atomic.Bool
	evictorStop  chan struct{}
}

// CachedSchedulerOption configures a CachedScheduler.
type CachedSchedulerOption func(*CachedScheduler)

// WithTTL overrides the default 60s idle-executor time-to-live.
func WithTTL(ttl time.Duration) CachedSchedulerOption {
	return func(s *CachedScheduler) { s.ttl = ttl }
}

// WithClock injects a clock.Clock, letting tests drive TTL eviction with a
// fake clock instead of real 60-second sleeps — grounded on
// filecoin-project-lassie's pervasive use of github.com/benbjohnson/clock
// for exactly this purpose.
func WithClock(c clock.Clock) CachedSchedulerOption {
	return func(s *CachedScheduler) { s.clock = c }
}

// NewCachedScheduler constructs a CachedScheduler and starts its eviction
// loop.
func NewCachedScheduler(opts ...CachedSchedulerOption) *CachedScheduler {
	s := &CachedScheduler{
		ttl:         defaultTTL,
		clock:       clock.New(),
		live:        make(map[*cachedExecutor]struct{}),
		evictorStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.evictionLoop()
	return s
}

func (s *CachedScheduler) evictionLoop() {
	ticker := s.clock.Ticker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evict()
		case <-s.evictorStop:
			return
		}
	}
}

func (s *CachedScheduler) evict() {
	now := s.clock.Now()
	s.mu.Lock()
	kept := s.idle[:0]
	var expired []*cachedExecutor
	for _, e := range s.idle {
		if e.expireAt.Before(now) {
			expired = append(expired, e.exec)
		} else {
			kept = append(kept, e)
		}
	}
	s.idle = kept
	s.mu.Unlock()
	for _, e := range expired {
		s.mu.Lock()
		delete(s.live, e)
		s.mu.Unlock()
		e.shutdown()
	}
}

func (s *CachedScheduler) pick() *cachedExecutor {
	if s.shutdownFlag.Load() {
		return nil
	}
	s.mu.Lock()
	if n := len(s.idle); n > 0 {
		e := s.idle[n-1].exec
		s.idle = s.idle[:n-1]
		s.mu.Unlock()
		return e
	}
	s.mu.Unlock()

	e := newCachedExecutor()
	s.mu.Lock()
	s.live[e] = struct{}{}
	shuttingDown := s.shutdownFlag.Load()
	if shuttingDown {
		delete(s.live, e)
	}
	s.mu.Unlock()
	if shuttingDown {
		e.shutdown()
		return nil
	}
	return e
}

func (s *CachedScheduler) release(e *cachedExecutor) {
	if s.shutdownFlag.Load() {
		s.mu.Lock()
		delete(s.live, e)
		s.mu.Unlock()
		e.shutdown()
		return
	}
	s.mu.Lock()
	s.idle = append(s.idle, expiringExecutor{exec: e, expireAt: s.clock.Now().Add(s.ttl)})
	s.mu.Unlock()
}

// Schedule submits a one-off task directly to a pooled executor (no
// durable Worker), mirroring CachedScheduler.schedule(Runnable).
func (s *CachedScheduler) Schedule(task func()) Disposable {
	e := s.pick()
	if e == nil {
		return Rejected
	}
	var disposed atomic.Bool
	wrapper := func() {
		defer s.release(e)
		if disposed.Load() {
			return
		}
		safeRun(task)
	}
	if !e.submit(wrapper) {
		Log.Warn().Msg("rxgo: scheduler rejected task submission")
		return Rejected
	}
	return &onceDisposable{disposeFn: func() { disposed.Store(true) }}
}

// CreateWorker returns a durable Worker backed by a pooled executor, per
// §4.9/§6.
func (s *CachedScheduler) CreateWorker() Worker {
	e := s.pick()
	if e == nil {
		return shutdownWorker{}
	}
	return &cachedWorker{exec: e, parent: s, tasks: make(map[*cachedTask]struct{})}
}

// Shutdown transitions the scheduler to its terminal state: every idle and
// live executor is shut down, and further CreateWorker/Schedule calls
// return the Rejected sentinel (via a shutdownWorker or Rejected directly).
func (s *CachedScheduler) Shutdown() {
	if !s.shutdownFlag.CompareAndSwap(false, true) {
		return
	}
	close(s.evictorStop)

	s.mu.Lock()
	idle := s.idle
	s.idle = nil
	live := s.live
	s.live = nil
	s.mu.Unlock()

	for _, e := range idle {
		e.exec.shutdown()
	}
	for e := range live {
		e.shutdown()
	}
}

type shutdownWorker struct{}

func (shutdownWorker) Schedule(func()) Disposable { return Rejected }
func (shutdownWorker) Shutdown()                  {}

// cachedWorker is a single-executor Worker that tracks its in-flight tasks
// so Shutdown can cancel them, grounded on CachedScheduler.CachedWorker.
type cachedWorker struct {
	exec   *cachedExecutor
	parent *CachedScheduler

	mu       sync.Mutex
	tasks    map[*cachedTask]struct{}
	shutdown bool
}

func (w *cachedWorker) Schedule(task func()) Disposable {
	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return Rejected
	}
	ct := &cachedTask{id: uuid.New(), fn: task, worker: w}
	w.tasks[ct] = struct{}{}
	w.mu.Unlock()

	if !w.exec.submit(ct.run) {
		w.remove(ct)
		return Rejected
	}
	return ct
}

func (w *cachedWorker) remove(ct *cachedTask) {
	w.mu.Lock()
	if !w.shutdown {
		delete(w.tasks, ct)
	}
	w.mu.Unlock()
}

func (w *cachedWorker) Shutdown() {
	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return
	}
	w.shutdown = true
	tasks := w.tasks
	w.tasks = nil
	w.mu.Unlock()

	for ct := range tasks {
		ct.Dispose()
	}
	w.parent.release(w.exec)
}

// --- immediate scheduler --------------------------------------------------

// ImmediateScheduler runs every task synchronously on the calling
// goroutine, grounded on the teacher's immediateScheduler in scheduler.go.
var ImmediateScheduler Scheduler = immediateScheduler{}

type immediateScheduler struct{}

func (immediateScheduler) CreateWorker() Worker { return immediateWorker{} }
func (immediateScheduler) Schedule(task func()) Disposable {
	safeRun(task)
	return &alreadyDisposed{}
}
func (immediateScheduler) Shutdown() {}

type immediateWorker struct{}

func (immediateWorker) Schedule(task func()) Disposable {
	safeRun(task)
	return &alreadyDisposed{}
}
func (immediateWorker) Shutdown() {}

type alreadyDisposed struct{ d atomic.Bool }

func (a *alreadyDisposed) Dispose()         { a.d.Store(true) }
func (a *alreadyDisposed) IsDisposed() bool { return true }

type onceDisposable struct {
	disposeFn func()
	done      atomic.Bool
}

func (o *onceDisposable) Dispose() {
	if o.done.CompareAndSwap(false, true) && o.disposeFn != nil {
		o.disposeFn()
	}
}
func (o *onceDisposable) IsDisposed() bool { return o.done.Load() }
