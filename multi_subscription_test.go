package rxgo

import "testing"

func TestMultiSubscriptionSetForwardsAccumulatedRequest(t *testing.T) {
	var m MultiSubscription
	m.Request(5)
	fake := &fakeSubscription{}
	m.Set(fake)

	if len(fake.requests) != 1 || fake.requests[0] != 5 {
		t.Fatalf("expected Set to forward accumulated demand, got %v", fake.requests)
	}
}

func TestMultiSubscriptionRequestForwardsToActual(t *testing.T) {
	var m MultiSubscription
	fake := &fakeSubscription{}
	m.Set(fake)
	m.Request(3)

	if len(fake.requests) != 1 || fake.requests[0] != 3 {
		t.Fatalf("expected a direct forward, got %v", fake.requests)
	}
}

// TestMultiSubscriptionDefaultPolicyKeepsPreviousAlive covers the default
// shouldCancelCurrent()==false: switching subscriptions must not cancel the
// one being replaced unless the policy hook says so.
func TestMultiSubscriptionDefaultPolicyKeepsPreviousAlive(t *testing.T) {
	var m MultiSubscription
	first := &fakeSubscription{}
	second := &fakeSubscription{}
	m.Set(first)
	m.Set(second)

	if first.cancelled {
		t.Fatal("default policy must not cancel the previous subscription on switch")
	}
}

func TestMultiSubscriptionCancelPolicyCancelsPrevious(t *testing.T) {
	m := MultiSubscription{ShouldCancelCurrent: func() bool { return true }}
	first := &fakeSubscription{}
	second := &fakeSubscription{}
	m.Set(first)
	m.Set(second)

	if !first.cancelled {
		t.Fatal("expected the previous subscription to be cancelled under the cancel-current policy")
	}
}

func TestMultiSubscriptionCancelCancelsInstalled(t *testing.T) {
	var m MultiSubscription
	fake := &fakeSubscription{}
	m.Set(fake)
	m.Cancel()

	if !fake.cancelled {
		t.Fatal("Cancel must cancel the currently installed subscription")
	}
	if !m.IsCancelled() {
		t.Fatal("IsCancelled must report true")
	}
}

func TestMultiSubscriptionCancelBeforeSetCancelsOnArrival(t *testing.T) {
	var m MultiSubscription
	m.Cancel()
	fake := &fakeSubscription{}
	m.Set(fake)

	if !fake.cancelled {
		t.Fatal("a subscription arriving after Cancel must be cancelled immediately")
	}
}

func TestMultiSubscriptionUnboundedOnceMaxDemandRequested(t *testing.T) {
	var m MultiSubscription
	fake := &fakeSubscription{}
	m.Set(fake)
	m.Request(MaxDemand)

	if !m.IsUnbounded() {
		t.Fatal("expected IsUnbounded after requesting MaxDemand")
	}
	m.Produced(1) // must be a no-op once unbounded
	if !m.IsUnbounded() {
		t.Fatal("Produced must not clear the unbounded flag")
	}
}

func TestMultiSubscriptionProducedDecrementsRequested(t *testing.T) {
	var m MultiSubscription
	fake := &fakeSubscription{}
	m.Set(fake)
	m.Request(3)
	m.ProducedOne()
	m.ProducedOne()

	// No direct accessor for requested: producing all 3 requested values
	// must leave the arbiter usable, so a later Request(2) is still
	// forwarded to the installed subscription.
	m.ProducedOne()
	m.Request(2)
	if len(fake.requests) != 2 {
		t.Fatalf("expected two Request forwards, got %v", fake.requests)
	}
}

func TestMultiSubscriptionNegativeRequestReportsViolation(t *testing.T) {
	var got error
	m := MultiSubscription{OnInvalidRequest: func(err error) { got = err }}
	m.Request(-1)

	if got != ErrNegativeRequest {
		t.Fatalf("OnInvalidRequest = %v, want ErrNegativeRequest", got)
	}
	if !m.IsCancelled() {
		t.Fatal("a negative request must cancel the arbiter")
	}
}

func TestMultiSubscriptionUpstreamReportsInstalled(t *testing.T) {
	var m MultiSubscription
	if m.Upstream() != nil {
		t.Fatal("expected nil Upstream before Set")
	}
	fake := &fakeSubscription{}
	m.Set(fake)
	if m.Upstream() != fake {
		t.Fatal("expected Upstream to report the installed subscription")
	}
}
