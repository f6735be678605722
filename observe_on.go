package rxgo

import "sync/atomic"

// pollQueue is the unified view the ObserveOn drain loop polls from,
// whether the queue is owned (NONE-mode, a ringQueue) or borrowed from a
// fused upstream (SYNC/ASYNC mode, the upstream QueueSubscription itself).
type pollQueue[T any] interface {
	poll() (T, bool)
	isEmpty() bool
	clear()
}

type fusedQueueAdapter[T any] struct{ qs QueueSubscription[T] }

func (f fusedQueueAdapter[T]) poll() (T, bool) { return f.qs.Poll() }
func (f fusedQueueAdapter[T]) isEmpty() bool   { return f.qs.IsEmpty() }
func (f fusedQueueAdapter[T]) clear()          { f.qs.Clear() }

// observeOnPublisher wraps a source so subscribing moves emission onto a
// Worker drawn from a Scheduler, per §4.5.
type observeOnPublisher[T any] struct {
	source Publisher[T]
	config *coordinatorConfig
}

// NewObserveOn moves the emission thread for source from upstream's thread
// to a Worker supplied by the coordinator's Scheduler, grounded directly on
// reactivestreams.commons.publisher.PublisherObserveOn.
func NewObserveOn[T any](source Publisher[T], opts ...CoordinatorOption) Publisher[T] {
	return &observeOnPublisher[T]{source: source, config: applyCoordinatorOptions(opts...)}
}

func (p *observeOnPublisher[T]) Subscribe(sub Subscriber[T]) {
	worker := p.config.scheduler.CreateWorker()
	var inner Subscriber[T]
	if cs, ok := sub.(ConditionalSubscriber[T]); ok {
		inner = newObserveOnConditionalSubscriber[T](cs, worker, p.config)
	} else {
		inner = newObserveOnSubscriber[T](sub, worker, p.config)
	}
	p.source.Subscribe(inner)
}

// observeOnSubscriber is both the Subscriber consuming upstream and the
// Subscription/QueueSubscription handed to downstream, grounded on
// PublisherObserveOnSubscriber.
type observeOnSubscriber[T any] struct {
	downstream Subscriber[T]
	worker     Worker
	delayError bool
	prefetch   int64
	limit      int64

	upstream   Subscription
	upstreamQS QueueSubscription[T]
	queue      pollQueue[T]
	sourceMode FusionMode

	cancelled atomic.Bool
	done      atomic.Bool
	errSlot   atomicError

	wip       atomic.Int32
	requested atomic.Int64

	produced int64 // single-writer: only mutated inside run()
}

func newObserveOnSubscriber[T any](downstream Subscriber[T], worker Worker, cfg *coordinatorConfig) *observeOnSubscriber[T] {
	limit := prefetchLimit(cfg.prefetch)
	return &observeOnSubscriber[T]{
		downstream: downstream,
		worker:     worker,
		delayError: cfg.delayError,
		prefetch:   int64(cfg.prefetch),
		limit:      limit,
	}
}

func (o *observeOnSubscriber[T]) OnSubscribe(s Subscription) {
	o.upstream = s
	if qs, ok := IsQueueSubscription[T](s); ok {
		mode := qs.RequestFusion(FusionAny)
		switch mode {
		case FusionSync:
			o.sourceMode = FusionSync
			o.upstreamQS = qs
			o.queue = fusedQueueAdapter[T]{qs: qs}
			o.done.Store(true)
			o.downstream.OnSubscribe(o)
			return
		case FusionAsync:
			o.sourceMode = FusionAsync
			o.upstreamQS = qs
			o.queue = fusedQueueAdapter[T]{qs: qs}
		}
	}
	if o.queue == nil {
		o.queue = newRingQueue[T](int(o.prefetch))
	}
	o.downstream.OnSubscribe(o)
	if o.prefetch == MaxDemand {
		s.Request(MaxDemand)
	} else {
		s.Request(o.prefetch)
	}
}

func (o *observeOnSubscriber[T]) OnNext(v T) {
	if o.sourceMode == FusionAsync {
		o.trySchedule()
		return
	}
	if q, ok := o.queue.(*ringQueue[T]); ok {
		if !q.offer(v) {
			o.upstream.Cancel()
			o.errSlot.Add(ErrQueueFull)
			o.done.Store(true)
		}
	}
	o.trySchedule()
}

func (o *observeOnSubscriber[T]) OnError(err error) {
	o.errSlot.Add(err)
	o.done.Store(true)
	o.trySchedule()
}

func (o *observeOnSubscriber[T]) OnComplete() {
	o.done.Store(true)
	o.trySchedule()
}

func (o *observeOnSubscriber[T]) Request(n int64) {
	if !ValidateRequest(n) {
		o.Cancel()
		o.downstream.OnError(ErrNegativeRequest)
		return
	}
	addAndGetCap(&o.requested, n)
	o.trySchedule()
}

// Cancel releases the worker immediately, even before a drain owns the
// critical section — matching PublisherObserveOnSubscriber.cancel(), which
// calls scheduler.accept(null) (here: worker.Shutdown()) up front rather
// than deferring it to the drain, since an explicit Worker.Shutdown is the
// rewrite this spec's §9 Open Question calls for in place of that
// null-payload idiom.
func (o *observeOnSubscriber[T]) Cancel() {
	if !o.cancelled.CompareAndSwap(false, true) {
		return
	}
	o.worker.Shutdown()
	if o.wip.Add(1) == 1 {
		o.upstream.Cancel()
		o.queue.clear()
	}
}

func (o *observeOnSubscriber[T]) RequestFusion(mode FusionMode) FusionMode {
	return FusionNone // ObserveOn is an execution boundary; it never re-exposes fusion downstream.
}

func (o *observeOnSubscriber[T]) Poll() (T, bool) {
	var zero T
	return zero, false
}
func (o *observeOnSubscriber[T]) IsEmpty() bool { return true }
func (o *observeOnSubscriber[T]) Clear()        {}

// trySchedule is the wip-ticket idiom from trySchedule() in the source: the
// winner submits a drain run to the worker, losers just bump the counter so
// the already-scheduled run notices more work on its next loop pass.
func (o *observeOnSubscriber[T]) trySchedule() {
	if o.wip.Add(1) != 1 {
		return
	}
	o.worker.Schedule(o.run)
}

func (o *observeOnSubscriber[T]) run() {
	if o.sourceMode == FusionSync {
		o.runSync()
	} else {
		o.runAsync()
	}
}

func (o *observeOnSubscriber[T]) runSync() {
	missed := int32(1)
	a := o.downstream
	e := o.produced
	for {
		r := o.requested.Load()
		for e != r {
			v, ok := o.queue.poll()
			if o.cancelled.Load() {
				o.worker.Shutdown()
				return
			}
			if !ok {
				o.worker.Shutdown()
				a.OnComplete()
				return
			}
			a.OnNext(v)
			e++
		}
		if o.cancelled.Load() {
			o.worker.Shutdown()
			return
		}
		if o.queue.isEmpty() {
			o.worker.Shutdown()
			a.OnComplete()
			return
		}
		w := o.wip.Load()
		if missed == w {
			o.produced = e
			missed = o.wip.Add(-missed)
			if missed == 0 {
				return
			}
		} else {
			missed = w
		}
	}
}

func (o *observeOnSubscriber[T]) runAsync() {
	missed := int32(1)
	a := o.downstream
	e := o.produced
	for {
		r := o.requested.Load()
		for e != r {
			d := o.done.Load()
			v, ok := o.queue.poll()
			empty := !ok
			if o.checkTerminated(d, empty, a) {
				return
			}
			if empty {
				break
			}
			a.OnNext(v)
			e++
			if e == o.limit {
				if r != MaxDemand {
					r = addGetSub(&o.requested, e)
				}
				o.upstream.Request(e)
				e = 0
			}
		}
		if o.checkTerminated(o.done.Load(), o.queue.isEmpty(), a) {
			return
		}
		w := o.wip.Load()
		if missed == w {
			o.produced = e
			missed = o.wip.Add(-missed)
			if missed == 0 {
				return
			}
		} else {
			missed = w
		}
	}
}

// checkTerminated implements the delayError-aware termination check from
// PublisherObserveOnSubscriber.checkTerminated, matching §4.5/§7 exactly:
// without delayError an error surfaces as soon as it's seen; with
// delayError it is only surfaced once the queue has drained empty.
func (o *observeOnSubscriber[T]) checkTerminated(done, empty bool, a Subscriber[T]) bool {
	if o.cancelled.Load() {
		o.upstream.Cancel()
		o.worker.Shutdown()
		o.queue.clear()
		return true
	}
	if done {
		if o.delayError {
			if empty {
				o.worker.Shutdown()
				if err := o.errSlot.Terminate(); err != nil {
					a.OnError(err)
				} else {
					a.OnComplete()
				}
				return true
			}
		} else {
			if err := o.errSlot.Terminate(); err != nil {
				o.worker.Shutdown()
				o.queue.clear()
				a.OnError(err)
				return true
			} else if empty {
				o.worker.Shutdown()
				a.OnComplete()
				return true
			}
		}
	}
	return false
}

// addGetSub subtracts n from the atomic slot (clamped at 0, unless already
// MaxDemand) and returns the resulting value, mirroring
// REQUESTED.addAndGet(this, -e) in the async drain loop.
func addGetSub(slot *atomic.Int64, n int64) int64 {
	for {
		old := slot.Load()
		if old == MaxDemand {
			return MaxDemand
		}
		next := old - n
		if next < 0 {
			next = 0
		}
		if slot.CompareAndSwap(old, next) {
			return next
		}
	}
}

// observeOnConditionalSubscriber is the ConditionalSubscriber variant from
// §4.5's last paragraph, grounded on
// PublisherObserveOnConditionalSubscriber: runSync/runAsync call
// TryOnNext instead of OnNext, and in the async drain the polled counter
// (driving upstream replenishment) advances independently of the emitted
// counter (which only counts accepted values), so a declined item still
// triggers the limit-based re-request.
type observeOnConditionalSubscriber[T any] struct {
	downstream ConditionalSubscriber[T]
	worker     Worker
	delayError bool
	prefetch   int64
	limit      int64

	upstream   Subscription
	upstreamQS QueueSubscription[T]
	queue      pollQueue[T]
	sourceMode FusionMode

	cancelled atomic.Bool
	done      atomic.Bool
	errSlot   atomicError

	wip       atomic.Int32
	requested atomic.Int64

	produced int64
	polled   int64 // single-writer: only mutated inside runAsync()
}

func newObserveOnConditionalSubscriber[T any](downstream ConditionalSubscriber[T], worker Worker, cfg *coordinatorConfig) *observeOnConditionalSubscriber[T] {
	return &observeOnConditionalSubscriber[T]{
		downstream: downstream,
		worker:     worker,
		delayError: cfg.delayError,
		prefetch:   int64(cfg.prefetch),
		limit:      prefetchLimit(cfg.prefetch),
	}
}

func (o *observeOnConditionalSubscriber[T]) OnSubscribe(s Subscription) {
	o.upstream = s
	if qs, ok := IsQueueSubscription[T](s); ok {
		mode := qs.RequestFusion(FusionAny)
		switch mode {
		case FusionSync:
			o.sourceMode = FusionSync
			o.queue = fusedQueueAdapter[T]{qs: qs}
			o.done.Store(true)
			o.downstream.OnSubscribe(o)
			return
		case FusionAsync:
			o.sourceMode = FusionAsync
			o.queue = fusedQueueAdapter[T]{qs: qs}
		}
	}
	if o.queue == nil {
		o.queue = newRingQueue[T](int(o.prefetch))
	}
	o.downstream.OnSubscribe(o)
	if o.prefetch == MaxDemand {
		s.Request(MaxDemand)
	} else {
		s.Request(o.prefetch)
	}
}

func (o *observeOnConditionalSubscriber[T]) OnNext(v T) {
	if o.sourceMode == FusionAsync {
		o.trySchedule()
		return
	}
	if q, ok := o.queue.(*ringQueue[T]); ok {
		if !q.offer(v) {
			o.upstream.Cancel()
			o.errSlot.Add(ErrQueueFull)
			o.done.Store(true)
		}
	}
	o.trySchedule()
}

func (o *observeOnConditionalSubscriber[T]) OnError(err error) {
	o.errSlot.Add(err)
	o.done.Store(true)
	o.trySchedule()
}

func (o *observeOnConditionalSubscriber[T]) OnComplete() {
	o.done.Store(true)
	o.trySchedule()
}

func (o *observeOnConditionalSubscriber[T]) Request(n int64) {
	if !ValidateRequest(n) {
		o.Cancel()
		o.downstream.OnError(ErrNegativeRequest)
		return
	}
	addAndGetCap(&o.requested, n)
	o.trySchedule()
}

func (o *observeOnConditionalSubscriber[T]) Cancel() {
	if !o.cancelled.CompareAndSwap(false, true) {
		return
	}
	o.worker.Shutdown()
	if o.wip.Add(1) == 1 {
		o.upstream.Cancel()
		o.queue.clear()
	}
}

func (o *observeOnConditionalSubscriber[T]) RequestFusion(mode FusionMode) FusionMode {
	return FusionNone
}
func (o *observeOnConditionalSubscriber[T]) Poll() (T, bool) { var z T; return z, false }
func (o *observeOnConditionalSubscriber[T]) IsEmpty() bool   { return true }
func (o *observeOnConditionalSubscriber[T]) Clear()          {}

func (o *observeOnConditionalSubscriber[T]) trySchedule() {
	if o.wip.Add(1) != 1 {
		return
	}
	o.worker.Schedule(o.run)
}

func (o *observeOnConditionalSubscriber[T]) run() {
	if o.sourceMode == FusionSync {
		o.runSync()
	} else {
		o.runAsync()
	}
}

func (o *observeOnConditionalSubscriber[T]) runSync() {
	missed := int32(1)
	a := o.downstream
	e := o.produced
	for {
		r := o.requested.Load()
		for e != r {
			v, ok := o.queue.poll()
			if o.cancelled.Load() {
				o.worker.Shutdown()
				return
			}
			if !ok {
				o.worker.Shutdown()
				a.OnComplete()
				return
			}
			if a.TryOnNext(v) {
				e++
			}
		}
		if o.cancelled.Load() {
			o.worker.Shutdown()
			return
		}
		if o.queue.isEmpty() {
			o.worker.Shutdown()
			a.OnComplete()
			return
		}
		w := o.wip.Load()
		if missed == w {
			o.produced = e
			missed = o.wip.Add(-missed)
			if missed == 0 {
				return
			}
		} else {
			missed = w
		}
	}
}

func (o *observeOnConditionalSubscriber[T]) runAsync() {
	missed := int32(1)
	a := o.downstream
	e := o.produced
	polled := o.polled
	for {
		r := o.requested.Load()
		for e != r {
			d := o.done.Load()
			v, ok := o.queue.poll()
			empty := !ok
			if o.checkTerminated(d, empty, a) {
				return
			}
			if empty {
				break
			}
			polled++
			if a.TryOnNext(v) {
				e++
			}
			if polled == o.limit {
				o.upstream.Request(polled)
				polled = 0
			}
		}
		if o.checkTerminated(o.done.Load(), o.queue.isEmpty(), a) {
			return
		}
		w := o.wip.Load()
		if missed == w {
			o.produced = e
			o.polled = polled
			missed = o.wip.Add(-missed)
			if missed == 0 {
				return
			}
		} else {
			missed = w
		}
	}
}

func (o *observeOnConditionalSubscriber[T]) checkTerminated(done, empty bool, a Subscriber[T]) bool {
	if o.cancelled.Load() {
		o.upstream.Cancel()
		o.worker.Shutdown()
		o.queue.clear()
		return true
	}
	if done {
		if o.delayError {
			if empty {
				o.worker.Shutdown()
				if err := o.errSlot.Terminate(); err != nil {
					a.OnError(err)
				} else {
					a.OnComplete()
				}
				return true
			}
		} else {
			if err := o.errSlot.Terminate(); err != nil {
				o.worker.Shutdown()
				o.queue.clear()
				a.OnError(err)
				return true
			} else if empty {
				o.worker.Shutdown()
				a.OnComplete()
				return true
			}
		}
	}
	return false
}
