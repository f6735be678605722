package rxgo

import (
	"fmt"
	"testing"
)

// TestZipLockstep is spec §8 scenario 1: A=[1,2,3], B=["a","b"], prefetch 1;
// B's exhaustion ends the zip even though A has an unread item left.
func TestZipLockstep(t *testing.T) {
	a := FromSlice([]any{1, 2, 3})
	b := FromSlice([]any{"a", "b"})
	zipper := func(vs []any) string { return fmt.Sprintf("%d%s", vs[0].(int), vs[1].(string)) }

	rec := &recorder[string]{}
	NewZip[any, string](zipper, []CoordinatorOption{WithPrefetch(1)}, a, b).Subscribe(rec)
	rec.request(MaxDemand)

	got := rec.snapshotValues()
	want := []string{"1a", "2b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if !rec.isTerminated() || rec.errored {
		t.Fatalf("expected OnComplete, got errored=%v err=%v", rec.errored, rec.err)
	}
}

// TestZipAllScalarFastPath is spec §8 scenario 2: two scalar sources, a
// single Request(1) yields OnNext(30); OnComplete, with the coordinator
// bypassed entirely (no rails, no ringQueue — verified by asserting the
// Subscription handed to downstream is a *DeferredScalar, not a
// *zipCoordinator).
func TestZipAllScalarFastPath(t *testing.T) {
	rec := &recorder[int]{}
	NewZip[int, int](func(vs []int) int { return vs[0] + vs[1] }, nil, Just(10), Just(20)).Subscribe(rec)

	if _, ok := rec.sub.(*DeferredScalar[int]); !ok {
		t.Fatalf("expected the all-scalar fast path to hand downstream a *DeferredScalar, got %T", rec.sub)
	}
	rec.request(1)
	if got := rec.snapshotValues(); len(got) != 1 || got[0] != 30 {
		t.Fatalf("got %v, want [30]", got)
	}
	if !rec.isTerminated() || rec.errored {
		t.Fatal("expected OnComplete with no error")
	}
}

// TestZipMixedFastPath covers §4.6's "Mixed" path: one scalar source paired
// with one streamed source still produces the right zipped rows without
// requiring every source to be scalar.
func TestZipMixedFastPath(t *testing.T) {
	rec := &recorder[int]{}
	stream := FromSlice([]int{1, 2, 3})
	NewZip[int, int](func(vs []int) int { return vs[0] + vs[1] }, nil, Just(100), stream).Subscribe(rec)

	if _, ok := rec.sub.(*zipCoordinator[int, int]); !ok {
		t.Fatalf("expected the mixed path to use a zipCoordinator, got %T", rec.sub)
	}
	rec.request(MaxDemand)
	got := rec.snapshotValues()
	want := []int{101, 102, 103}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if !rec.isTerminated() || rec.errored {
		t.Fatal("expected OnComplete with no error")
	}
}

func TestZipEmptySourcesCompletesImmediately(t *testing.T) {
	rec := &recorder[int]{}
	NewZip[int, int](func(vs []int) int { return 0 }, nil).Subscribe(rec)
	rec.request(1)
	if !rec.isTerminated() || rec.errored {
		t.Fatal("zip with zero sources must complete immediately")
	}
}

func TestZipNegativeRequestSignalsError(t *testing.T) {
	rec := &recorder[int]{}
	NewZip[int, int](func(vs []int) int { return vs[0] + vs[1] }, nil, FromSlice([]int{1}), FromSlice([]int{2})).Subscribe(rec)
	rec.request(-1)
	if !rec.errored || rec.err != ErrNegativeRequest {
		t.Fatalf("expected ErrNegativeRequest, got errored=%v err=%v", rec.errored, rec.err)
	}
}

func TestZipErrorCancelsOtherRail(t *testing.T) {
	good := FromSlice([]int{1, 2, 3})
	bad := &erroringAfterValuesSource[int]{values: nil, err: errBoom}
	rec := &recorder[int]{}
	NewZip[int, int](func(vs []int) int { return vs[0] + vs[1] }, nil, good, bad).Subscribe(rec)
	rec.request(MaxDemand)
	if !rec.errored || rec.err != errBoom {
		t.Fatalf("expected errBoom, got errored=%v err=%v", rec.errored, rec.err)
	}
	if len(rec.snapshotValues()) != 0 {
		t.Fatalf("expected no values before the immediate error, got %v", rec.snapshotValues())
	}
}
