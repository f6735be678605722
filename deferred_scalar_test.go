package rxgo

import "testing"

func TestDeferredScalarRequestThenComplete(t *testing.T) {
	rec := &recorder[int]{}
	ds := NewDeferredScalar[int](rec)
	rec.OnSubscribe(ds)
	rec.request(1)
	ds.Complete(42)

	got := rec.snapshotValues()
	if len(got) != 1 || got[0] != 42 {
		t.Fatalf("got %v, want [42]", got)
	}
	if !rec.isTerminated() || rec.errored {
		t.Fatal("expected OnComplete with no error")
	}
}

func TestDeferredScalarCompleteThenRequest(t *testing.T) {
	rec := &recorder[int]{}
	ds := NewDeferredScalar[int](rec)
	ds.Complete(7)
	rec.OnSubscribe(ds)
	rec.request(1)

	got := rec.snapshotValues()
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("got %v, want [7]", got)
	}
	if !rec.isTerminated() {
		t.Fatal("expected OnComplete")
	}
}

func TestDeferredScalarCompleteTwiceIsNoop(t *testing.T) {
	rec := &recorder[int]{}
	ds := NewDeferredScalar[int](rec)
	rec.OnSubscribe(ds)
	rec.request(1)
	ds.Complete(1)
	ds.Complete(2) // must be dropped silently; state already past NN/RN

	got := rec.snapshotValues()
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1] (second Complete must be a no-op)", got)
	}
}

func TestDeferredScalarCancelSuppressesEmission(t *testing.T) {
	rec := &recorder[int]{}
	ds := NewDeferredScalar[int](rec)
	ds.Cancel()
	rec.OnSubscribe(ds)
	rec.request(1)
	ds.Complete(99)

	if len(rec.snapshotValues()) != 0 {
		t.Fatal("a cancelled DeferredScalar must never emit")
	}
	if !ds.IsCancelled() {
		t.Fatal("expected IsCancelled to report true")
	}
}

func TestDeferredScalarNegativeRequestSignalsError(t *testing.T) {
	rec := &recorder[int]{}
	ds := NewDeferredScalar[int](rec)
	rec.OnSubscribe(ds)
	rec.request(-1)

	if !rec.errored || rec.err != ErrNegativeRequest {
		t.Fatalf("expected ErrNegativeRequest, got errored=%v err=%v", rec.errored, rec.err)
	}
}

func TestDeferredScalarAsyncFusionPoll(t *testing.T) {
	rec := &recorder[int]{}
	ds := NewDeferredScalar[int](rec)
	if mode := ds.RequestFusion(FusionAsync); mode != FusionAsync {
		t.Fatalf("RequestFusion(ASYNC) = %v, want ASYNC", mode)
	}
	ds.Complete(5)
	if ds.IsEmpty() {
		t.Fatal("expected a value to be available after Complete")
	}
	v, ok := ds.Poll()
	if !ok || v != 5 {
		t.Fatalf("Poll() = (%d, %v), want (5, true)", v, ok)
	}
	if _, ok := ds.Poll(); ok {
		t.Fatal("a second Poll must report no value")
	}
}
