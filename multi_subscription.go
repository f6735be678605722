package rxgo

import "sync/atomic"

// MultiSubscription is a switching subscription arbiter for operators that
// swap upstream subscriptions repeatedly (switch/retry/repeat-style
// composition), per §4.3. It is grounded directly on
// rsc.subscriber.MultiSubscriptionSubscriber, carrying over its three
// "missed" slots and the wip-guarded drain loop verbatim in structure.
//
// Unlike DeferredSubscription, actual/requested here are plain fields
// mutated only inside the wip-guarded fast path or drainLoop — never read
// concurrently outside that guard — matching the source's non-volatile
// actual/requested fields guarded by the same wip discipline.
type MultiSubscription struct {
	// ShouldCancelCurrent is the policy hook from the source: when a new
	// subscription is installed, should the previous one be cancelled?
	// Defaults to false (no cancellation) if left nil, matching the
	// source's default shouldCancelCurrent() returning false.
	ShouldCancelCurrent func() bool

	// OnInvalidRequest reports a non-positive Request(n), per §6's
	// IllegalArgument signal, the same hook shape as DeferredSubscription's.
	OnInvalidRequest func(error)

	actual    Subscription
	requested int64

	missedSubscription atomic.Pointer[Subscription]
	missedRequested     atomic.Int64
	missedProduced       atomic.Int64

	wip       atomic.Int32
	cancelled atomic.Bool
	unbounded bool
}

func (m *MultiSubscription) shouldCancelCurrent() bool {
	if m.ShouldCancelCurrent == nil {
		return false
	}
	return m.ShouldCancelCurrent()
}

// Set installs a new upstream subscription, exactly mirroring
// MultiSubscriptionSubscriber.set(Subscription): a fast, uncontended path
// that installs directly when no drain is in progress, and a slow path
// that stashes the subscription in the missed slot and wakes the drain.
func (m *MultiSubscription) Set(s Subscription) {
	if m.cancelled.Load() {
		s.Cancel()
		return
	}
	if m.wip.Load() == 0 && m.wip.CompareAndSwap(0, 1) {
		a := m.actual
		if a != nil && m.shouldCancelCurrent() {
			a.Cancel()
		}
		m.actual = s
		if r := m.requested; r != 0 {
			s.Request(r)
		}
		if m.wip.Add(-1) == 0 {
			return
		}
		m.drainLoop()
		return
	}
	prev := m.missedSubscription.Swap(&s)
	if prev != nil && m.shouldCancelCurrent() {
		(*prev).Cancel()
	}
	m.drain()
}

// Request implements Subscription, mirroring request(long) in the source:
// the fast uncontended path updates requested and forwards to actual
// directly; the slow path accumulates into missedRequested.
func (m *MultiSubscription) Request(n int64) {
	if !ValidateRequest(n) {
		m.Cancel()
		if m.OnInvalidRequest != nil {
			m.OnInvalidRequest(ErrNegativeRequest)
		} else {
			onErrorDropped(ErrNegativeRequest)
		}
		return
	}
	if m.unbounded {
		return
	}
	if m.wip.Load() == 0 && m.wip.CompareAndSwap(0, 1) {
		r := m.requested
		if r != MaxDemand {
			r = AddCap(r, n)
			m.requested = r
			if r == MaxDemand {
				m.unbounded = true
			}
		}
		if a := m.actual; a != nil {
			a.Request(n)
		}
		if m.wip.Add(-1) == 0 {
			return
		}
		m.drainLoop()
		return
	}
	addAndGetCap(&m.missedRequested, n)
	m.drain()
}

// ProducedOne decrements outstanding demand by one after a single element
// has been delivered downstream; callers must call this (or Produced) after
// every emission so a mid-flight subscription switch re-requests only the
// true remainder, per §4.3.
func (m *MultiSubscription) ProducedOne() {
	m.Produced(1)
}

// Produced decrements outstanding demand by n, mirroring produced(long) in
// the source.
func (m *MultiSubscription) Produced(n int64) {
	if m.unbounded {
		return
	}
	if m.wip.Load() == 0 && m.wip.CompareAndSwap(0, 1) {
		r := m.requested
		if r != MaxDemand {
			u := r - n
			if u < 0 {
				reportMoreProduced()
				u = 0
			}
			m.requested = u
		} else {
			m.unbounded = true
		}
		if m.wip.Add(-1) == 0 {
			return
		}
		m.drainLoop()
		return
	}
	addAndGetCap(&m.missedProduced, n)
	m.drain()
}

// Cancel is idempotent; it sets the cancelled flag and wakes the drain,
// which is responsible for actually cancelling actual/missed subscriptions.
func (m *MultiSubscription) Cancel() {
	if m.cancelled.CompareAndSwap(false, true) {
		m.drain()
	}
}

// IsCancelled reports whether Cancel has been called.
func (m *MultiSubscription) IsCancelled() bool {
	return m.cancelled.Load()
}

// IsUnbounded reports whether requested demand has reached MaxDemand.
func (m *MultiSubscription) IsUnbounded() bool {
	return m.unbounded
}

// Upstream returns whichever subscription is currently installed or
// pending installation, for diagnostics.
func (m *MultiSubscription) Upstream() Subscription {
	if m.actual != nil {
		return m.actual
	}
	if p := m.missedSubscription.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *MultiSubscription) drain() {
	if m.wip.Add(1) != 1 {
		return
	}
	m.drainLoop()
}

// drainLoop reconciles the missed slots exactly as
// MultiSubscriptionSubscriber.drainLoop does: snapshot-and-clear each
// missed slot with an atomic swap, fold them into actual/requested, then
// recheck wip for new work that arrived mid-iteration.
func (m *MultiSubscription) drainLoop() {
	missed := int32(1)
	for {
		var ms *Subscription
		if m.missedSubscription.Load() != nil {
			ms = m.missedSubscription.Swap(nil)
		}
		mr := int64(0)
		if m.missedRequested.Load() != 0 {
			mr = m.missedRequested.Swap(0)
		}
		mp := int64(0)
		if m.missedProduced.Load() != 0 {
			mp = m.missedProduced.Swap(0)
		}

		a := m.actual

		if m.cancelled.Load() {
			if a != nil {
				a.Cancel()
				m.actual = nil
			}
			if ms != nil {
				(*ms).Cancel()
			}
		} else {
			r := m.requested
			if r != MaxDemand {
				u := AddCap(r, mr)
				if u != MaxDemand {
					v := u - mp
					if v < 0 {
						reportMoreProduced()
						v = 0
					}
					r = v
				} else {
					r = u
				}
				m.requested = r
			}

			if ms != nil {
				if a != nil && m.shouldCancelCurrent() {
					a.Cancel()
				}
				m.actual = *ms
				if r != 0 {
					(*ms).Request(r)
				}
			} else if mr != 0 && a != nil {
				a.Request(mr)
			}
		}

		missed = m.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

// addAndGetCap adds n to the atomic slot, saturating at MaxDemand, and
// returns nothing — callers only need the side effect, matching
// BackpressureHelper.getAndAddCap's usage sites in the source (the return
// value is unused by every caller here).
func addAndGetCap(slot *atomic.Int64, n int64) {
	for {
		old := slot.Load()
		next := AddCap(old, n)
		if slot.CompareAndSwap(old, next) {
			return
		}
	}
}
