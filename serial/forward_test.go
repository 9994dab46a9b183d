package serial

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestSerialize_ForwardRefResolvesLater(t *testing.T) {
	p := NewPromise()
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Resolve("done")
	}()

	c, res := roundTrip(t, ObjectOf("p", p))
	if res.ForwardRefs != 1 {
		t.Errorf("ForwardRefs: got %d, want 1", res.ForwardRefs)
	}
	if !strings.HasSuffix(res.State, ",2,[1]]") {
		t.Errorf("state should end with the forward reference table: %s", res.State)
	}

	got, ok := prop(t, root(t, c, 0), "p").(*Promise)
	if !ok {
		t.Fatalf("p is %T, want *Promise", prop(t, root(t, c, 0), "p"))
	}
	if !got.Settled() {
		t.Fatal("decoded promise should already be settled")
	}
	v, err := got.Await(context.Background())
	if err != nil || v != "done" {
		t.Errorf("Await: got (%v, %v), want (done, nil)", v, err)
	}
}

func TestSerialize_RejectedPromiseRoundTrips(t *testing.T) {
	c, _ := roundTrip(t, Rejected(errors.New("boom")))

	p, ok := root(t, c, 0).(*Promise)
	if !ok {
		t.Fatalf("root 0 is %T, want *Promise", root(t, c, 0))
	}
	_, err := p.Await(context.Background())
	if err == nil || err.Error() != "boom" {
		t.Errorf("Await error: got %v, want boom", err)
	}
}

func TestSerialize_ForwardRootsFollowSyncRoots(t *testing.T) {
	res := serialize(t, Resolved(1), ObjectOf("k", "v"), Resolved(2))

	if res.Roots != 5 {
		t.Fatalf("Roots: got %d, want 5", res.Roots)
	}
	c, err := NewContainer(res.State)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{1, 2} {
		p, ok := root(t, c, 2*i).(*Promise)
		if !ok {
			t.Fatalf("root %d is %T, want *Promise", 2*i, root(t, c, 2*i))
		}
		v, _ := p.Await(context.Background())
		if v != want {
			t.Errorf("promise %d: got %v, want %v", i, v, want)
		}
	}
}

func TestSerialize_ForwardResultReferencesInlineValueByPath(t *testing.T) {
	shared := ObjectOf("n", 1)
	res := serialize(t, ObjectOf("data", shared, "p", Resolved(shared)))

	want := `[15,[5,"data",15,[5,"n",4,1],5,"p",1,0],16,[3,2,0,"0 1"],2,[1]]`
	if res.State != want {
		t.Errorf("State:\n got %s\nwant %s", res.State, want)
	}

	c, err := NewContainer(res.State)
	if err != nil {
		t.Fatal(err)
	}
	// Resolve through the promise first so the path is followed before the
	// owning root is materialized.
	p := root(t, c, 1).(*Promise)
	viaPath, _ := p.Await(context.Background())
	viaRoot := prop(t, root(t, c, 0), "data")
	if viaPath != viaRoot {
		t.Error("path reference and owning root should yield the same instance")
	}
	byID, err := c.GetObjectByID("0 1")
	if err != nil || byID != viaRoot {
		t.Errorf("GetObjectByID(\"0 1\"): got (%v, %v)", byID, err)
	}
}

func TestSerialize_ResourceSettles(t *testing.T) {
	ok := &Resource{Promise: Resolved(ObjectOf("rows", 3))}
	failed := &Resource{Promise: Rejected(errors.New("offline"))}
	c, _ := roundTrip(t, NewStore(ok, 0), failed)

	store := root(t, c, 0).(*Store)
	target, err := store.Target()
	if err != nil {
		t.Fatal(err)
	}
	r, isRes := target.(*Resource)
	if !isRes {
		t.Fatalf("store target is %T, want *Resource", target)
	}
	if !r.Resolved || prop(t, r.Value, "rows") != 3.0 {
		t.Errorf("resource: got %+v, want resolved rows=3", r)
	}

	f := root(t, c, 1).(*Resource)
	if f.Resolved || f.Err == nil || f.Err.Error() != "offline" {
		t.Errorf("failed resource: got %+v, want rejected offline", f)
	}
}

func TestSerialize_ComputedSignal(t *testing.T) {
	compute := NewQRL("computed.js", "s_total", nil)
	done := &ComputedSignal{Compute: compute, Value: Resolved(42)}
	broken := &ComputedSignal{Compute: compute, Value: Rejected(errors.New("nope"))}
	stale := &ComputedSignal{Compute: compute, Value: 1, Invalid: true}

	c, _ := roundTrip(t, done, broken, stale)

	if got := root(t, c, 0).(*ComputedSignal); got.Value != 42.0 || got.Invalid {
		t.Errorf("done: got %+v, want value 42", got)
	}
	if got := root(t, c, 1).(*ComputedSignal); got.Value != NeedsComputation || !got.Invalid {
		t.Errorf("broken: got %+v, want NeedsComputation", got)
	}
	got := root(t, c, 2).(*ComputedSignal)
	if !got.Invalid {
		t.Error("stale: want Invalid")
	}
	if got.Compute == nil || got.Compute.Symbol != "s_total" {
		t.Errorf("Compute: got %v, want s_total", got.Compute)
	}
}

type doubler struct{}

func (doubler) Serialize(v any) any {
	if f, ok := v.(int); ok {
		return f * 2
	}
	return Rejected(errors.New("cannot double"))
}

func (doubler) Deserialize(data any) (any, error) {
	return data.(float64) / 2, nil
}

func TestSerialize_SerializerSignal(t *testing.T) {
	reg := NewSymbolRegistry()
	reg.Register("s_double", doubler{})

	sig := &SerializerSignal{Serializer: NewQRL("ser.js", "s_double", nil), Value: 5}
	res, err := Serialize(context.Background(), []any{sig}, WithRegistry(reg))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	c, err := NewContainer(res.State, WithSymbolRegistry(reg))
	if err != nil {
		t.Fatal(err)
	}
	got := root(t, c, 0).(*SerializerSignal)
	if got.Data != 10.0 {
		t.Errorf("Data: got %v, want 10", got.Data)
	}
	if got.Value != 5.0 {
		t.Errorf("Value: got %v, want 5", got.Value)
	}
}

func TestSerialize_SerializerRejectionIsFatal(t *testing.T) {
	reg := NewSymbolRegistry()
	reg.Register("s_double", doubler{})

	sig := &SerializerSignal{Serializer: NewQRL("ser.js", "s_double", nil), Value: "text"}
	_, err := Serialize(context.Background(), []any{sig}, WithRegistry(reg))
	if !errors.Is(err, ErrSerializerRejected) {
		t.Errorf("err: got %v, want ErrSerializerRejected", err)
	}
}

func TestSerialize_TimeoutWhileWaiting(t *testing.T) {
	_, err := Serialize(context.Background(), []any{NewPromise()}, WithTimeout(20*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err: got %v, want context.DeadlineExceeded", err)
	}
}

func TestSerialize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Serialize(ctx, []any{NewPromise()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err: got %v, want context.Canceled", err)
	}
}

func TestPromise_ZeroValueIsPending(t *testing.T) {
	var p Promise
	if p.Settled() {
		t.Fatal("zero promise should be pending")
	}
	p.Resolve(1)
	v, err := p.Await(context.Background())
	if err != nil || v != 1 {
		t.Errorf("Await: got (%v, %v), want (1, nil)", v, err)
	}

	var r Promise
	r.Reject(errors.New("nope"))
	if _, err := r.Await(context.Background()); err == nil || err.Error() != "nope" {
		t.Errorf("Await error: got %v, want nope", err)
	}
}

func TestSerialize_ZeroValuePromiseSettles(t *testing.T) {
	p := new(Promise)
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Resolve("late")
	}()

	c, res := roundTrip(t, p)
	if res.ForwardRefs != 1 {
		t.Fatalf("ForwardRefs: got %d, want 1", res.ForwardRefs)
	}
	got := root(t, c, 0).(*Promise)
	if v, err := got.Await(context.Background()); err != nil || v != "late" {
		t.Errorf("Await: got (%v, %v), want (late, nil)", v, err)
	}
}

// pendingState serializes to a promise that never settles.
type pendingState struct{ p *Promise }

func (s pendingState) SerializeState() any { return s.p }

// loopingState serializes to another StateSerializer, which is an error.
type loopingState struct{}

func (loopingState) SerializeState() any { return loopingState{} }

func TestSerialize_FailedRootStopsWatchers(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		_, err := Serialize(context.Background(), []any{pendingState{NewPromise()}, loopingState{}})
		if !errors.Is(err, ErrUnsupportedType) {
			t.Fatalf("err: got %v, want ErrUnsupportedType", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	after := runtime.NumGoroutine()
	for after > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		after = runtime.NumGoroutine()
	}
	if after > before {
		t.Errorf("goroutines: got %d after failed passes, want at most %d", after, before)
	}
}
