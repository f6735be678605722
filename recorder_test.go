package rxgo

import (
	"sync"
)

// recorder is a Subscriber[T] that records every signal it observes, for
// assertions against the protocol invariants and concrete scenarios in
// spec §8. Safe for concurrent OnNext/OnError/OnComplete, since §8
// scenario 6 requires observing signals that may race across goroutines.
type recorder[T any] struct {
	mu sync.Mutex

	subscribeCount int
	sub            Subscription
	values         []T
	err            error
	completed      bool
	errored        bool
}

func (r *recorder[T]) OnSubscribe(s Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribeCount++
	r.sub = s
}

func (r *recorder[T]) OnNext(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed || r.errored {
		return
	}
	r.values = append(r.values, v)
}

func (r *recorder[T]) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed || r.errored {
		return
	}
	r.errored = true
	r.err = err
}

func (r *recorder[T]) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed || r.errored {
		return
	}
	r.completed = true
}

func (r *recorder[T]) snapshotValues() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

func (r *recorder[T]) isTerminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed || r.errored
}

func (r *recorder[T]) request(n int64) {
	r.mu.Lock()
	s := r.sub
	r.mu.Unlock()
	s.Request(n)
}

func (r *recorder[T]) cancel() {
	r.mu.Lock()
	s := r.sub
	r.mu.Unlock()
	s.Cancel()
}
