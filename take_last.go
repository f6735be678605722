package rxgo

import "sync/atomic"

// takeLastPublisher retains only the most recent n values from source and
// emits them, in original order, once source completes — grounded on
// `PublisherTakeLast.java`'s ring-buffer-tail-retention design (§4.12).
type takeLastPublisher[T any] struct {
	source Publisher[T]
	n      int
}

// NewTakeLast buffers the last n values of source in a fixed circular
// buffer and drains them downstream, honoring requested demand, once source
// completes. Upstream is requested unbounded immediately: retention does
// not depend on downstream's pace, only emission of the retained tail does.
func NewTakeLast[T any](source Publisher[T], n int) Publisher[T] {
	return &takeLastPublisher[T]{source: source, n: n}
}

func (p *takeLastPublisher[T]) Subscribe(sub Subscriber[T]) {
	if p.n <= 0 {
		sub.OnSubscribe(noopSubscription{})
		sub.OnComplete()
		return
	}
	ts := newTakeLastSubscriber[T](sub, p.n)
	p.source.Subscribe(ts)
}

// takeLastSubscriber is both the Subscriber consuming source and the
// Subscription handed to downstream. MultiSubscription arbitrates the
// single upstream subscription — the same base reactor-core's real
// FluxTakeLast/MonoTakeLastOne subscribers use
// (Operators.MultiSubscriptionSubscriber), even though this operator never
// actually switches subscriptions; it is still the idiomatic "I am a
// Subscriber that must also expose a cancellable upstream handle to my own
// Cancel" arbiter, per §4.3.
type takeLastSubscriber[T any] struct {
	upstream MultiSubscription

	downstream Subscriber[T]
	n          int

	buf  []T
	pos  int
	size int

	done      atomic.Bool
	cancelled atomic.Bool
	completed atomic.Bool
	wip       atomic.Int32
	requested atomic.Int64
}

func newTakeLastSubscriber[T any](downstream Subscriber[T], n int) *takeLastSubscriber[T] {
	t := &takeLastSubscriber[T]{downstream: downstream, n: n, buf: make([]T, n)}
	t.upstream.OnInvalidRequest = func(err error) { downstream.OnError(err) }
	return t
}

func (t *takeLastSubscriber[T]) OnSubscribe(s Subscription) {
	t.upstream.Set(s)
	t.downstream.OnSubscribe(t)
	s.Request(MaxDemand)
}

func (t *takeLastSubscriber[T]) OnNext(v T) {
	if t.done.Load() {
		return
	}
	t.buf[t.pos] = v
	t.pos = (t.pos + 1) % t.n
	if t.size < t.n {
		t.size++
	}
}

func (t *takeLastSubscriber[T]) OnError(err error) {
	if t.done.CompareAndSwap(false, true) {
		t.downstream.OnError(err)
	}
}

func (t *takeLastSubscriber[T]) OnComplete() {
	if t.done.CompareAndSwap(false, true) {
		t.drain()
	}
}

// Request implements Subscription for downstream. It only governs how much
// of the already-retained tail is released; it never reaches upstream,
// which was already given unbounded demand in OnSubscribe.
func (t *takeLastSubscriber[T]) Request(n int64) {
	if !ValidateRequest(n) {
		t.Cancel()
		t.downstream.OnError(ErrNegativeRequest)
		return
	}
	addAndGetCap(&t.requested, n)
	t.drain()
}

func (t *takeLastSubscriber[T]) Cancel() {
	if t.cancelled.CompareAndSwap(false, true) {
		t.upstream.Cancel()
	}
}

func (t *takeLastSubscriber[T]) drain() {
	if t.wip.Add(1) != 1 {
		return
	}
	missed := int32(1)
	for {
		t.drainOnce()
		missed = t.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

// drainOnce releases buffered values in FIFO (oldest-first) order once
// source has completed, one per unit of requested demand, until either the
// buffer is empty (then OnComplete) or demand is exhausted (then it waits
// for the next Request to resume).
func (t *takeLastSubscriber[T]) drainOnce() {
	if !t.done.Load() || t.cancelled.Load() || t.completed.Load() {
		return
	}
	for t.size > 0 {
		if t.requested.Load() <= 0 {
			return
		}
		start := (t.pos - t.size + t.n) % t.n
		v := t.buf[start]
		var zero T
		t.buf[start] = zero
		t.size--
		t.downstream.OnNext(v)
		t.requested.Add(-1)
		if t.cancelled.Load() {
			return
		}
	}
	if t.completed.CompareAndSwap(false, true) {
		t.downstream.OnComplete()
	}
}
