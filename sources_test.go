package rxgo

import (
	"errors"
	"sync/atomic"
)

var errBoom = errors.New("rxgo_test: boom")

// erroringAfterValuesSource emits every element of values, honoring
// backpressure exactly like slicePublisher, then OnErrors with err instead
// of completing — used to exercise delayError and error-propagation paths.
type erroringAfterValuesSource[T any] struct {
	values []T
	err    error
}

func (s *erroringAfterValuesSource[T]) Subscribe(sub Subscriber[T]) {
	sub.OnSubscribe(&erroringSubscription[T]{values: s.values, err: s.err, downstream: sub})
}

type erroringSubscription[T any] struct {
	values     []T
	err        error
	downstream Subscriber[T]
	index      int

	requested atomic.Int64
	wip       atomic.Int32
	cancelled atomic.Bool
}

func (s *erroringSubscription[T]) Request(n int64) {
	if !ValidateRequest(n) {
		s.Cancel()
		s.downstream.OnError(ErrNegativeRequest)
		return
	}
	addAndGetCap(&s.requested, n)
	s.drain()
}

func (s *erroringSubscription[T]) Cancel() { s.cancelled.Store(true) }

func (s *erroringSubscription[T]) drain() {
	if s.wip.Add(1) != 1 {
		return
	}
	missed := int32(1)
	for {
		r := s.requested.Load()
		e := int64(0)
		for e != r && s.index < len(s.values) {
			if s.cancelled.Load() {
				return
			}
			v := s.values[s.index]
			s.index++
			s.downstream.OnNext(v)
			e++
		}
		if s.cancelled.Load() {
			return
		}
		if s.index >= len(s.values) {
			s.downstream.OnError(s.err)
			return
		}
		if e != 0 && r != MaxDemand {
			addGetSub(&s.requested, e)
		}
		missed = s.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

// neverPublisher never emits anything and never terminates on its own; the
// Subscription it hands out ignores both Request and Cancel.
type neverPublisher[T any] struct{}

func (neverPublisher[T]) Subscribe(sub Subscriber[T]) {
	sub.OnSubscribe(noopSubscription{})
}

// manualPublisher hands the test the Subscriber it was given, so the test
// can drive OnNext/OnComplete/OnError directly from its own goroutines —
// used for spec §8 scenario 6 (cancel races with completion).
type manualPublisher[T any] struct {
	subscribed chan Subscriber[T]
}

func newManualPublisher[T any]() *manualPublisher[T] {
	return &manualPublisher[T]{subscribed: make(chan Subscriber[T], 1)}
}

func (m *manualPublisher[T]) Subscribe(sub Subscriber[T]) {
	sub.OnSubscribe(noopSubscription{})
	m.subscribed <- sub
}
