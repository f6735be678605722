package rxgo

import (
	"sync"
	"sync/atomic"
)

// JoinSelector combines one live left value with one live right value into a
// result, called once per live overlap, per §4.7.
type JoinSelector[L, R, Res any] func(l L, r R) Res

type joinTag int

const (
	joinLeftValue joinTag = iota
	joinRightValue
	joinLeftClose
	joinRightClose
)

type joinItem[L, R any] struct {
	tag   joinTag
	index int
	left  L
	right R
}

// joinPublisher correlates left and right sources by window overlap,
// grounded on rsc.publisher.PublisherJoin. leftEnd/rightEnd open a window
// publisher per value; while that window has not yet produced or
// completed, the value is "live" and paired against every live value from
// the other side.
type joinPublisher[L, R, LW, RW, Res any] struct {
	left     Publisher[L]
	right    Publisher[R]
	leftEnd  func(L) Publisher[LW]
	rightEnd func(R) Publisher[RW]
	selector JoinSelector[L, R, Res]
}

// NewJoin builds a Publisher that emits selector(l, r) for every (l, r) pair
// whose windows overlap, per §4.7's LEFT_VALUE/RIGHT_VALUE/LEFT_CLOSE/
// RIGHT_CLOSE drain protocol.
func NewJoin[L, R, LW, RW, Res any](
	left Publisher[L], right Publisher[R],
	leftEnd func(L) Publisher[LW], rightEnd func(R) Publisher[RW],
	selector JoinSelector[L, R, Res],
) Publisher[Res] {
	return &joinPublisher[L, R, LW, RW, Res]{
		left: left, right: right,
		leftEnd: leftEnd, rightEnd: rightEnd,
		selector: selector,
	}
}

func (p *joinPublisher[L, R, LW, RW, Res]) Subscribe(sub Subscriber[Res]) {
	coord := newJoinCoordinator[L, R, Res](sub, p.selector)
	sub.OnSubscribe(coord)

	leftSub := &joinSourceSubscriber[L, R, LW, RW, Res]{coord: coord, isLeft: true, p: p}
	rightSub := &joinSourceSubscriber[L, R, LW, RW, Res]{coord: coord, isLeft: false, p: p}
	coord.leftCancel = leftSub.cancel
	coord.rightCancel = rightSub.cancel
	p.left.Subscribe(leftSubAdapter[L, R, LW, RW, Res]{leftSub})
	p.right.Subscribe(rightSubAdapter[L, R, LW, RW, Res]{rightSub})
}

// joinSourceSubscriber is shared machinery for both primary-source
// subscribers; the two thin adapters below select which typed Subscriber
// method set (OnNext(L) vs OnNext(R)) it presents to Subscribe.
type joinSourceSubscriber[L, R, LW, RW, Res any] struct {
	coord  *joinCoordinator[L, R, Res]
	isLeft bool
	p      *joinPublisher[L, R, LW, RW, Res]
	sub    DeferredSubscription
}

func (s *joinSourceSubscriber[L, R, LW, RW, Res]) onSubscribe(sub Subscription) {
	s.sub.Set(sub)
	sub.Request(MaxDemand) // upstream inputs are MAX-requested, per §4.7.
}

// The value is pushed (and fully drained into the live-lefts map) before the
// window-end source is subscribed, so a window that closes synchronously
// inside Subscribe (e.g. an already-completed source) still observes its
// own value as live for the instant the window is open, rather than racing
// a CLOSE for an index the drain loop hasn't registered yet.
func (s *joinSourceSubscriber[L, R, LW, RW, Res]) onLeftNext(v L) {
	idx := s.coord.nextLeftIndex()
	s.coord.push(joinItem[L, R]{tag: joinLeftValue, index: idx, left: v})
	end := &joinWindowEndSubscriber[LW]{onClose: func() { s.coord.push(joinItem[L, R]{tag: joinLeftClose, index: idx}) }}
	s.coord.storeLeftWindow(idx, end)
	s.p.leftEnd(v).Subscribe(end)
}

func (s *joinSourceSubscriber[L, R, LW, RW, Res]) onRightNext(v R) {
	idx := s.coord.nextRightIndex()
	s.coord.push(joinItem[L, R]{tag: joinRightValue, index: idx, right: v})
	end := &joinWindowEndSubscriber[RW]{onClose: func() { s.coord.push(joinItem[L, R]{tag: joinRightClose, index: idx}) }}
	s.coord.storeRightWindow(idx, end)
	s.p.rightEnd(v).Subscribe(end)
}

func (s *joinSourceSubscriber[L, R, LW, RW, Res]) onError(err error) {
	s.coord.innerError(err)
}

func (s *joinSourceSubscriber[L, R, LW, RW, Res]) onComplete() {
	s.coord.sourceDone()
}

func (s *joinSourceSubscriber[L, R, LW, RW, Res]) cancel() {
	s.sub.Cancel()
}

// leftSubAdapter/rightSubAdapter present the shared joinSourceSubscriber as
// a properly typed Subscriber[L]/Subscriber[R] to Publisher.Subscribe.
type leftSubAdapter[L, R, LW, RW, Res any] struct {
	*joinSourceSubscriber[L, R, LW, RW, Res]
}

func (a leftSubAdapter[L, R, LW, RW, Res]) OnSubscribe(s Subscription) { a.onSubscribe(s) }
func (a leftSubAdapter[L, R, LW, RW, Res]) OnNext(v L)                 { a.onLeftNext(v) }
func (a leftSubAdapter[L, R, LW, RW, Res]) OnError(err error)          { a.onError(err) }
func (a leftSubAdapter[L, R, LW, RW, Res]) OnComplete()                { a.onComplete() }

type rightSubAdapter[L, R, LW, RW, Res any] struct {
	*joinSourceSubscriber[L, R, LW, RW, Res]
}

func (a rightSubAdapter[L, R, LW, RW, Res]) OnSubscribe(s Subscription) { a.onSubscribe(s) }
func (a rightSubAdapter[L, R, LW, RW, Res]) OnNext(v R)                 { a.onRightNext(v) }
func (a rightSubAdapter[L, R, LW, RW, Res]) OnError(err error)          { a.onError(err) }
func (a rightSubAdapter[L, R, LW, RW, Res]) OnComplete()                { a.onComplete() }

// joinWindowEndSubscriber observes a single window publisher and fires
// onClose on its first signal (value or completion), whichever comes
// first — it never needs a second value, so it Requests exactly 1.
// DeferredSubscription arbitrates the window's subscription here exactly
// as §4.2 intends: an embeddable, set-once arbiter rather than an
// inheritance base, wired into a real coordinator per §4.7.
type joinWindowEndSubscriber[W any] struct {
	DeferredSubscription
	onClose func()
	fired   atomic.Bool
}

func (w *joinWindowEndSubscriber[W]) OnSubscribe(s Subscription) {
	w.Set(s)
	s.Request(1)
}

func (w *joinWindowEndSubscriber[W]) OnNext(W)      { w.fire() }
func (w *joinWindowEndSubscriber[W]) OnComplete()   { w.fire() }
func (w *joinWindowEndSubscriber[W]) OnError(error) { w.fire() } // a window-end error just closes the window early.

func (w *joinWindowEndSubscriber[W]) fire() {
	if w.fired.CompareAndSwap(false, true) {
		w.Cancel()
		w.onClose()
	}
}

// joinCoordinator is the JoinSubscription of the source: a single MPSC
// queue carrying all four tags, drained under a wip guard. The queue's
// mutex is the "lock... to preserve the dual-insert atomicity" the spec
// explicitly permits as an alternative to a dual-CAS structure, per §5's
// "can be replaced... or kept as a small critical section." lefts/rights
// are touched only from inside drain, so despite being plain (non-atomic)
// maps they are safe: drain is wip-serialized to at most one goroutine at
// a time. The window maps are written by the source subscribers as each
// window opens, so every access to them, inside drain or not, holds queueMu.
type joinCoordinator[L, R, Res any] struct {
	downstream Subscriber[Res]
	selector   JoinSelector[L, R, Res]

	requested  atomic.Int64
	wip        atomic.Int32
	cancelled  atomic.Bool
	terminated atomic.Bool
	active     atomic.Int32 // starts at 2 (left source, right source); decremented as each completes.
	errSlot    atomicError

	queueMu sync.Mutex
	queue   []joinItem[L, R]

	leftCancel  func()
	rightCancel func()

	leftCounter  atomic.Int64
	rightCounter atomic.Int64

	// lefts/rights are confined to the drain loop by wip serialization, per
	// §5's shared-resource policy for Join's lefts/rights maps; the window
	// maps are guarded by queueMu.
	lefts        map[int]L
	rights       map[int]R
	leftWindows  map[int]interface{ Cancel() }
	rightWindows map[int]interface{ Cancel() }
}

func newJoinCoordinator[L, R, Res any](downstream Subscriber[Res], selector JoinSelector[L, R, Res]) *joinCoordinator[L, R, Res] {
	c := &joinCoordinator[L, R, Res]{
		downstream:   downstream,
		selector:     selector,
		lefts:        make(map[int]L),
		rights:       make(map[int]R),
		leftWindows:  make(map[int]interface{ Cancel() }),
		rightWindows: make(map[int]interface{ Cancel() }),
	}
	c.active.Store(2)
	return c
}

func (c *joinCoordinator[L, R, Res]) nextLeftIndex() int  { return int(c.leftCounter.Add(1)) }
func (c *joinCoordinator[L, R, Res]) nextRightIndex() int { return int(c.rightCounter.Add(1)) }

func (c *joinCoordinator[L, R, Res]) storeLeftWindow(idx int, w interface{ Cancel() }) {
	c.queueMu.Lock()
	c.leftWindows[idx] = w
	c.queueMu.Unlock()
}

func (c *joinCoordinator[L, R, Res]) storeRightWindow(idx int, w interface{ Cancel() }) {
	c.queueMu.Lock()
	c.rightWindows[idx] = w
	c.queueMu.Unlock()
}

func (c *joinCoordinator[L, R, Res]) push(item joinItem[L, R]) {
	c.queueMu.Lock()
	c.queue = append(c.queue, item)
	c.queueMu.Unlock()
	c.drain()
}

func (c *joinCoordinator[L, R, Res]) pop() (joinItem[L, R], bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		var zero joinItem[L, R]
		return zero, false
	}
	item := c.queue[0]
	c.queue = c.queue[1:]
	return item, true
}

func (c *joinCoordinator[L, R, Res]) sourceDone() {
	c.active.Add(-1)
	c.drain()
}

func (c *joinCoordinator[L, R, Res]) innerError(err error) {
	if c.errSlot.Add(err) {
		c.drain()
	}
}

func (c *joinCoordinator[L, R, Res]) Request(n int64) {
	if !ValidateRequest(n) {
		c.Cancel()
		c.downstream.OnError(ErrNegativeRequest)
		return
	}
	addAndGetCap(&c.requested, n)
	c.drain()
}

func (c *joinCoordinator[L, R, Res]) Cancel() {
	if c.cancelled.CompareAndSwap(false, true) {
		c.drain()
	}
}

// cancelAllWindows tears down both primary source subscriptions and every
// still-open window subscription — the full "cancel all" §4.7 demands on
// any error or on downstream Cancel.
func (c *joinCoordinator[L, R, Res]) cancelAllWindows() {
	if c.leftCancel != nil {
		c.leftCancel()
	}
	if c.rightCancel != nil {
		c.rightCancel()
	}
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	for _, w := range c.leftWindows {
		w.Cancel()
	}
	for _, w := range c.rightWindows {
		w.Cancel()
	}
}

func (c *joinCoordinator[L, R, Res]) drain() {
	if c.wip.Add(1) != 1 {
		return
	}
	missed := int32(1)
	for {
		c.drainOnce()
		missed = c.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (c *joinCoordinator[L, R, Res]) drainOnce() {
	a := c.downstream
	for {
		if c.terminated.Load() {
			return
		}
		if c.cancelled.Load() {
			c.cancelAllWindows()
			return
		}
		if err := c.errSlot.Load(); err != nil {
			c.cancelAllWindows()
			if c.terminated.CompareAndSwap(false, true) {
				a.OnError(c.errSlot.Terminate())
			}
			return
		}

		item, ok := c.pop()
		if !ok {
			if c.active.Load() <= 0 && c.terminated.CompareAndSwap(false, true) {
				c.lefts = map[int]L{}
				c.rights = map[int]R{}
				a.OnComplete()
			}
			return
		}

		switch item.tag {
		case joinLeftValue:
			c.lefts[item.index] = item.left
			for _, rv := range c.rights {
				if !c.emit(item.left, rv) {
					return
				}
			}
		case joinRightValue:
			c.rights[item.index] = item.right
			for _, lv := range c.lefts {
				if !c.emit(lv, item.right) {
					return
				}
			}
		case joinLeftClose:
			delete(c.lefts, item.index)
			c.queueMu.Lock()
			if w, ok := c.leftWindows[item.index]; ok {
				w.Cancel()
				delete(c.leftWindows, item.index)
			}
			c.queueMu.Unlock()
		case joinRightClose:
			delete(c.rights, item.index)
			c.queueMu.Lock()
			if w, ok := c.rightWindows[item.index]; ok {
				w.Cancel()
				delete(c.rightWindows, item.index)
			}
			c.queueMu.Unlock()
		}
	}
}

// emit reports false (having already cancelled and errored downstream) when
// requested demand is exhausted mid-iteration, per §4.7's "mark error
// insufficient requests, cancel all, error downstream."
func (c *joinCoordinator[L, R, Res]) emit(l L, r R) bool {
	if c.requested.Load() <= 0 {
		c.errSlot.Add(ErrInsufficientRequests)
		c.cancelled.Store(true)
		c.cancelAllWindows()
		if c.terminated.CompareAndSwap(false, true) {
			c.downstream.OnError(c.errSlot.Terminate())
		}
		return false
	}
	c.downstream.OnNext(c.selector(l, r))
	c.requested.Add(-1)
	return true
}
