package rxgo

import "sync/atomic"

// Zipper combines one value from each of N sources into a single result.
type Zipper[T, R any] func(values []T) R

// scalarSource is the marker interface a Publisher can implement to tell
// Zip it will produce exactly one value, synchronously, with no
// subscription bookkeeping required — the Go analogue of the source's
// instanceof-Supplier check in PublisherZip/PublisherFlatMap, generalized
// here as an explicit interface rather than a reflective type test. Just
// is the only constructor in this package that implements it.
type scalarSource[T any] interface {
	scalarValue() (T, bool)
}

// scalarPublisher is a Publisher that emits exactly one known-in-advance
// value then completes, implemented on top of DeferredScalar so it still
// honors Request/Cancel like any other Publisher.
type scalarPublisher[T any] struct {
	value T
}

// Just builds a Publisher that emits v once Requested, then completes. It
// also satisfies scalarSource, letting Zip recognize it at Subscribe time
// and skip allocating a ringQueue or a zipInner subscription for it.
func Just[T any](v T) Publisher[T] {
	return &scalarPublisher[T]{value: v}
}

func (s *scalarPublisher[T]) Subscribe(sub Subscriber[T]) {
	ds := NewDeferredScalar[T](sub)
	sub.OnSubscribe(ds)
	ds.Complete(s.value)
}

func (s *scalarPublisher[T]) scalarValue() (T, bool) { return s.value, true }

// zipPublisher pairs values positionally across multiple sources, grounded
// on rsc.publisher.PublisherZip, per §4.6.
type zipPublisher[T, R any] struct {
	sources []Publisher[T]
	zipper  Zipper[T, R]
	config  *coordinatorConfig
}

// NewZip builds a Publisher that emits zipper(values) each time every
// source in sources has produced one more value than previously consumed.
// It completes (or errors, per WithDelayError) as soon as any source
// completes and its buffered backlog is exhausted.
//
// Three paths are chosen at Subscribe time, per §4.6/§8: if every source is
// a scalarSource, the result is computed and emitted immediately through a
// single DeferredScalar with no rail subscriptions or queues allocated at
// all ("All-scalar"). If only some sources are scalarSource, those values
// are precomputed once and only the remaining sources get a ringQueue-
// backed rail ("Mixed"). Otherwise every source gets a full rail
// ("general").
func NewZip[T, R any](zipper Zipper[T, R], opts []CoordinatorOption, sources ...Publisher[T]) Publisher[R] {
	return &zipPublisher[T, R]{sources: sources, zipper: zipper, config: applyCoordinatorOptions(opts...)}
}

func (p *zipPublisher[T, R]) Subscribe(sub Subscriber[R]) {
	n := len(p.sources)
	if n == 0 {
		sub.OnSubscribe(noopSubscription{})
		sub.OnComplete()
		return
	}

	scalars := make([]T, n)
	isScalar := make([]bool, n)
	allScalar := true
	anyScalar := false
	for i, src := range p.sources {
		if ss, ok := src.(scalarSource[T]); ok {
			if v, has := ss.scalarValue(); has {
				scalars[i] = v
				isScalar[i] = true
				anyScalar = true
				continue
			}
		}
		allScalar = false
	}

	if allScalar {
		// All-scalar fast path: no coordinator, no rails, no queues.
		ds := NewDeferredScalar[R](sub)
		sub.OnSubscribe(ds)
		ds.Complete(p.zipper(scalars))
		return
	}

	coord := newZipCoordinator[T, R](sub, p.zipper, n, p.config)
	if anyScalar {
		coord.scalarValues = scalars
	}
	// Every non-scalar rail is built and installed into coord.rails before
	// any of them is subscribed: a synchronous source (e.g. FromSlice) can
	// drain through the coordinator the instant it is subscribed, and drain
	// reads every rails[i] slot to decide readiness — a not-yet-built rail
	// must never be visible as "not yet populated" rather than "scalar".
	for i := range p.sources {
		if isScalar[i] {
			continue // Mixed path: no rail, no queue for a known scalar source.
		}
		coord.rails[i] = newZipInner[T, R](coord, i, int64(p.config.prefetch))
	}
	sub.OnSubscribe(coord)
	for i, src := range p.sources {
		if isScalar[i] {
			continue
		}
		src.Subscribe(coord.rails[i])
	}
}

type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}

// zipCoordinator is the ZipCoordinator of the source: it holds one
// zipInner per non-scalar rail and drains whenever every such rail's queue
// is non-empty; a nil rails[i] means that position is filled from
// scalarValues[i] instead (the Mixed path).
type zipCoordinator[T, R any] struct {
	downstream   Subscriber[R]
	zipper       Zipper[T, R]
	rails        []*zipInner[T, R]
	scalarValues []T
	delayError   bool

	requested  atomic.Int64
	wip        atomic.Int32
	cancelled  atomic.Bool
	terminated atomic.Bool
	errSlot    atomicError
}

func newZipCoordinator[T, R any](downstream Subscriber[R], zipper Zipper[T, R], n int, cfg *coordinatorConfig) *zipCoordinator[T, R] {
	return &zipCoordinator[T, R]{
		downstream: downstream,
		zipper:     zipper,
		rails:      make([]*zipInner[T, R], n),
		delayError: cfg.delayError,
	}
}

func (c *zipCoordinator[T, R]) Request(n int64) {
	if !ValidateRequest(n) {
		c.Cancel()
		c.downstream.OnError(ErrNegativeRequest)
		return
	}
	addAndGetCap(&c.requested, n)
	c.drain()
}

func (c *zipCoordinator[T, R]) Cancel() {
	if c.cancelled.CompareAndSwap(false, true) {
		c.cancelAll()
	}
}

func (c *zipCoordinator[T, R]) cancelAll() {
	for _, s := range c.rails {
		if s != nil {
			s.cancel()
		}
	}
}

func (c *zipCoordinator[T, R]) innerError(err error) {
	if c.errSlot.Add(err) {
		c.drain()
	}
}

// fatalTerminate reports whether any non-scalar rail is both done and
// drained dry, meaning the zip can never produce another row.
func (c *zipCoordinator[T, R]) fatalTerminate() bool {
	for _, s := range c.rails {
		if s != nil && s.done.Load() && s.queue.isEmpty() {
			return true
		}
	}
	return false
}

func (c *zipCoordinator[T, R]) terminate(a Subscriber[R]) {
	c.cancelAll()
	if !c.terminated.CompareAndSwap(false, true) {
		return
	}
	if c.delayError {
		if err := c.errSlot.Terminate(); err != nil {
			a.OnError(err)
			return
		}
	}
	a.OnComplete()
}

func (c *zipCoordinator[T, R]) drain() {
	if c.terminated.Load() {
		return
	}
	if c.wip.Add(1) != 1 {
		return
	}
	missed := int32(1)
	a := c.downstream
	rails := c.rails
	n := len(rails)
	row := make([]T, n)
	for {
		r := c.requested.Load()
		e := int64(0)
		for e != r {
			if c.cancelled.Load() {
				return
			}
			if !c.delayError {
				if err := c.errSlot.Load(); err != nil {
					c.cancelAll()
					if c.terminated.CompareAndSwap(false, true) {
						a.OnError(c.errSlot.Terminate())
					}
					return
				}
			}
			if c.fatalTerminate() {
				c.terminate(a)
				return
			}

			ready := true
			for _, s := range rails {
				if s != nil && s.queue.isEmpty() {
					ready = false
					break
				}
			}
			if !ready {
				break
			}

			for i, s := range rails {
				if s == nil {
					row[i] = c.scalarValues[i]
					continue
				}
				v, _ := s.queue.poll()
				row[i] = v
				s.afterPoll()
			}
			a.OnNext(c.zipper(append([]T(nil), row...)))
			e++
		}

		if e == r {
			if c.cancelled.Load() {
				return
			}
			if !c.delayError {
				if err := c.errSlot.Load(); err != nil {
					c.cancelAll()
					if c.terminated.CompareAndSwap(false, true) {
						a.OnError(c.errSlot.Terminate())
					}
					return
				}
			}
			if c.fatalTerminate() {
				c.terminate(a)
				return
			}
		}

		if e != 0 && r != MaxDemand {
			addGetSub(&c.requested, e)
		}

		missed = c.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

// zipInner is PublisherZipInner: one per non-scalar source rail, buffering
// its own prefetch window in a ringQueue. Its queue is only ever polled
// from inside the coordinator's single-threaded drain, so no extra
// synchronization is needed around afterPoll's replenishment counter.
type zipInner[T, R any] struct {
	parent   *zipCoordinator[T, R]
	index    int
	prefetch int64
	limit    int64

	subscription Subscription
	queue        *ringQueue[T]

	done     atomic.Bool
	produced int64
}

func newZipInner[T, R any](parent *zipCoordinator[T, R], index int, prefetch int64) *zipInner[T, R] {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	return &zipInner[T, R]{
		parent:   parent,
		index:    index,
		prefetch: prefetch,
		limit:    prefetchLimit(int(prefetch)),
		queue:    newRingQueue[T](int(prefetch)),
	}
}

func (z *zipInner[T, R]) OnSubscribe(s Subscription) {
	z.subscription = s
	s.Request(z.prefetch)
}

func (z *zipInner[T, R]) OnNext(v T) {
	if !z.queue.offer(v) {
		z.parent.innerError(ErrQueueFull)
		return
	}
	z.parent.drain()
}

func (z *zipInner[T, R]) OnError(err error) {
	z.done.Store(true)
	z.parent.innerError(err)
}

func (z *zipInner[T, R]) OnComplete() {
	z.done.Store(true)
	z.parent.drain()
}

func (z *zipInner[T, R]) cancel() {
	if z.subscription != nil {
		z.subscription.Cancel()
	}
}

// afterPoll tracks consumption against this rail's replenishment limit,
// mirroring PublisherZipInner's own produced counter: once it reaches the
// 3/4-prefetch limit, request that many more values from upstream.
func (z *zipInner[T, R]) afterPoll() {
	z.produced++
	if z.produced >= z.limit {
		z.produced -= z.limit
		z.subscription.Request(z.limit)
	}
}
