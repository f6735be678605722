package rxgo

// DefaultPrefetch is the default upstream request window used by ObserveOn
// and Zip's inner subscribers when no explicit prefetch Option is supplied.
const DefaultPrefetch = 128

// coordinatorConfig collects the options accepted by the coordinator
// constructors that take them (NewObserveOn and NewZip), following the teacher's
// functional-options Config/Option pattern in core.go, generalized to the
// per-coordinator constructors named in SPEC_FULL.md §4.10.
type coordinatorConfig struct {
	prefetch     int
	delayError   bool
	scheduler    Scheduler
	queueFactory func() any
}

func defaultCoordinatorConfig() *coordinatorConfig {
	return &coordinatorConfig{
		prefetch:  DefaultPrefetch,
		scheduler: ImmediateScheduler,
	}
}

// CoordinatorOption configures a multi-source coordinator constructor.
type CoordinatorOption func(*coordinatorConfig)

// WithPrefetch overrides the upstream request window.
func WithPrefetch(n int) CoordinatorOption {
	return func(c *coordinatorConfig) {
		if n > 0 {
			c.prefetch = n
		}
	}
}

// WithDelayError makes the coordinator hold a terminal error until all
// already-buffered items have drained, emitting it in place of OnComplete,
// per §4.5/§7.
func WithDelayError(delay bool) CoordinatorOption {
	return func(c *coordinatorConfig) { c.delayError = delay }
}

// WithCoordinatorScheduler supplies the Scheduler a coordinator (currently
// only ObserveOn) uses to create its drain Worker.
func WithCoordinatorScheduler(s Scheduler) CoordinatorOption {
	return func(c *coordinatorConfig) {
		if s != nil {
			c.scheduler = s
		}
	}
}

func applyCoordinatorOptions(opts ...CoordinatorOption) *coordinatorConfig {
	c := defaultCoordinatorConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// prefetchLimit computes the "request limit -1/4" replenishment threshold
// used throughout the source (PublisherZipInner, PublisherObserveOnSubscriber):
// limit = prefetch - prefetch/4, or MaxDemand itself when prefetch is
// already unbounded.
func prefetchLimit(prefetch int) int64 {
	if int64(prefetch) == MaxDemand {
		return MaxDemand
	}
	p := int64(prefetch)
	return p - p/4
}
