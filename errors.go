package rxgo

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Log is the package-wide structured logger. It defaults to a no-op zerolog
// logger (silent unless the host process configures one via SetLogger);
// callers embedding rxgo in a larger service should call SetLogger once at
// startup, the way the teacher's Config/Option pattern lets callers override
// defaults rather than mutating globals ad hoc.
var Log = zerolog.Nop()

// SetLogger overrides the package-wide logger.
func SetLogger(l zerolog.Logger) {
	Log = l
}

// onErrorDropped is the "unsignalled exception sink" named throughout the
// source: errors that arrive after a stream has already terminated, and so
// cannot be delivered through OnError, land here instead of being lost
// silently.
func onErrorDropped(err error) {
	if err == nil {
		return
	}
	Log.Warn().Err(err).Msg("rxgo: error dropped after terminal signal")
}

// onNextDropped reports a value that could not be delivered because the
// stream already terminated or because it raced with a cancellation.
func onNextDropped[T any](v T) {
	Log.Debug().Interface("value", v).Msg("rxgo: value dropped after terminal signal")
}

// atomicError is a lazily-initialized, CAS-updated composite error cell:
// the first Add wins and is the only one ever delivered through OnError;
// every later Add is funneled to the unsignalled sink. Terminate extracts
// and clears the slot atomically, guaranteeing the error is read out (and
// handed downstream) exactly once. This models the ERROR
// AtomicReferenceFieldUpdater<Throwable> pattern used by every coordinator
// in the source (PublisherZip, PublisherJoin, PublisherObserveOn,
// ParallelReduceFull) without needing a multi-error aggregation library —
// the policy is "first wins, rest dropped," not "collect all."
type atomicError struct {
	v atomic.Pointer[error]
}

// Add attempts to install err as the terminal error. Returns true if this
// call won the race and installed the error; false means an error was
// already present and err was routed to the unsignalled sink.
func (a *atomicError) Add(err error) bool {
	if err == nil {
		return false
	}
	if a.v.CompareAndSwap(nil, &err) {
		return true
	}
	onErrorDropped(err)
	return false
}

// Load returns the current error without clearing it, or nil.
func (a *atomicError) Load() error {
	p := a.v.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Terminate atomically reads and clears the slot, so a concurrent drain
// never observes the same error delivered twice.
func (a *atomicError) Terminate() error {
	p := a.v.Swap(nil)
	if p == nil {
		return nil
	}
	return *p
}
