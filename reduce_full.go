package rxgo

import "sync"

// Reducer combines two values of the same type into one, used to fold an
// entire parallel fan-out down to a single result. Callers must supply an
// associative and (for a deterministic result) commutative function, since
// rails finish in whatever order their sources produce.
type Reducer[T any] func(a, b T) T

// reduceFullCoordinator folds each rail's own stream down to one value,
// then folds across rails, emitting the single combined result through a
// DeferredScalar once every rail has reported in. Grounded on
// rsc.parallel.ParallelReduceFull's per-rail fold plus cross-rail combine.
//
// DEVIATION from §4.8/§5: the source's lock-free SlotPair{first, second,
// acquireIndex, releaseIndex} CAS pairing tournament is NOT implemented.
// This coordinator instead guards the running cross-rail fold and the
// rails-done count with a plain sync.Mutex. §5 requires lock-freedom for
// every drain loop without exception, and §4.8 specifies the CAS tournament
// as the design, not an interchangeable implementation detail — this
// substitution does not meet that requirement and should be read as a
// known gap, not as an equivalent alternative. It was chosen because the
// SlotPair protocol pairs rails two at a time and re-enters the pairing
// pool with the combined "carry" value; reproducing its exact acquire/
// release CAS choreography (including the carry-becomes-a-new-entrant
// case) correctly for an arbitrary, possibly-empty-rail mix needs the
// surrounding base class this pack does not carry, and a first attempt at
// it here produced a real bug (a lone unpaired value from a mostly-empty
// rail set could be silently dropped). The mutex fold is correctness-first
// scaffolding, not a sanctioned redesign; replacing it with the literal
// SlotPair tournament remains open work.
type reduceFullCoordinator[T any] struct {
	reducer    Reducer[T]
	totalRails int

	mu        sync.Mutex
	doneRails int
	hasResult bool
	result    T
	finished  bool

	errSlot   atomicError
	cancelled bool

	scalar *DeferredScalar[T]
	inner  []*reduceFullInner[T]
}

// NewReduceFull builds a Publisher that subscribes to every Publisher in
// rails concurrently, reduces each rail's stream of values down to one
// value with reducer (a rail that never emits contributes nothing), then
// reduces across rails the same way, emitting the single combined result
// per §4.8. With zero rails, or rails that all turn out empty, it emits
// OnComplete with no value.
func NewReduceFull[T any](reducer Reducer[T], rails ...Publisher[T]) Publisher[T] {
	return &reduceFullPublisher[T]{reducer: reducer, rails: rails}
}

type reduceFullPublisher[T any] struct {
	reducer Reducer[T]
	rails   []Publisher[T]
}

func (p *reduceFullPublisher[T]) Subscribe(sub Subscriber[T]) {
	n := len(p.rails)
	c := &reduceFullCoordinator[T]{
		reducer:    p.reducer,
		totalRails: n,
		inner:      make([]*reduceFullInner[T], n),
	}
	c.scalar = NewDeferredScalar[T](sub)
	sub.OnSubscribe(c.scalar)
	if n == 0 {
		c.scalar.OnComplete()
		return
	}
	for i, src := range p.rails {
		in := &reduceFullInner[T]{parent: c, reducer: p.reducer}
		c.inner[i] = in
		src.Subscribe(in)
	}
}

// addValue folds v into the running cross-rail result.
func (c *reduceFullCoordinator[T]) addValue(v T) {
	c.mu.Lock()
	if c.cancelled || c.finished {
		c.mu.Unlock()
		return
	}
	if !c.hasResult {
		c.hasResult = true
		c.result = v
	} else {
		c.result = c.reducer(c.result, v)
	}
	c.mu.Unlock()
}

// railDone records that one rail has finished, and completes the
// coordinator once every rail has.
func (c *reduceFullCoordinator[T]) railDone() {
	c.mu.Lock()
	c.doneRails++
	allDone := c.doneRails == c.totalRails
	already := c.finished
	var hasResult bool
	var result T
	if allDone && !already {
		c.finished = true
		hasResult = c.hasResult
		result = c.result
	}
	c.mu.Unlock()
	if !allDone || already {
		return
	}
	if err := c.errSlot.Load(); err != nil {
		c.scalar.OnError(err)
		return
	}
	if hasResult {
		c.scalar.Complete(result)
	} else {
		c.scalar.OnComplete()
	}
}

func (c *reduceFullCoordinator[T]) innerError(err error) {
	if c.errSlot.Add(err) {
		c.mu.Lock()
		wasFinished := c.finished
		c.cancelled = true
		c.finished = true
		c.mu.Unlock()
		if !wasFinished {
			c.cancelAll()
			c.scalar.OnError(err)
		}
	}
}

func (c *reduceFullCoordinator[T]) cancelAll() {
	for _, in := range c.inner {
		in.cancel()
	}
}

// reduceFullInner is one per rail, folding that rail's own stream of
// values down to a single value before handing it to the coordinator's
// cross-rail fold.
type reduceFullInner[T any] struct {
	parent  *reduceFullCoordinator[T]
	reducer Reducer[T]

	subscription Subscription
	hasValue     bool
	value        T
}

func (r *reduceFullInner[T]) OnSubscribe(s Subscription) {
	r.subscription = s
	s.Request(MaxDemand)
}

func (r *reduceFullInner[T]) OnNext(v T) {
	if !r.hasValue {
		r.hasValue = true
		r.value = v
		return
	}
	r.value = r.reducer(r.value, v)
}

func (r *reduceFullInner[T]) OnError(err error) {
	r.parent.innerError(err)
}

func (r *reduceFullInner[T]) OnComplete() {
	if r.hasValue {
		r.parent.addValue(r.value)
	}
	r.parent.railDone()
}

func (r *reduceFullInner[T]) cancel() {
	if r.subscription != nil {
		r.subscription.Cancel()
	}
}
