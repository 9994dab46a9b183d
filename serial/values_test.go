package serial

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTypeTag_String(t *testing.T) {
	tests := []struct {
		tag  TypeTag
		want string
	}{
		{TagRootRef, "RootRef"},
		{TagObject, "Object"},
		{TagEffectData, "EffectData"},
		{tagCount, "TypeTag(35)"},
	}
	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("TypeTag(%d).String() = %q, want %q", uint8(tt.tag), got, tt.want)
		}
	}
	for tag := TagRootRef; tag < tagCount; tag++ {
		if typeTagNames[tag] == "" {
			t.Errorf("tag %d has no name", uint8(tag))
		}
	}
}

func TestTypeTag_TwoPhase(t *testing.T) {
	if TagString.twoPhase() || TagBigInt.twoPhase() {
		t.Error("scalar tags should decode in one step")
	}
	if !TagError.twoPhase() || !TagObject.twoPhase() || !TagArray.twoPhase() {
		t.Error("container tags should be allocated before inflation")
	}
}

func TestConstant_String(t *testing.T) {
	for c := ConstUndefined; c < constantCount; c++ {
		if constantNames[c] == "" {
			t.Errorf("constant %d has no name", uint8(c))
		}
	}
	if got := ConstNaN.String(); got != "NaN" {
		t.Errorf("ConstNaN.String() = %q, want NaN", got)
	}
}

func TestSerialize_NumberConstants(t *testing.T) {
	res := serialize(t, math.NaN(), math.Inf(1), math.Inf(-1), maxSafeInt, int64(almostMaxSafeInt), minSafeInt, 1.5, uint8(7))

	want := `[3,11,3,12,3,13,3,14,3,15,3,16,4,1.5,4,7]`
	if res.State != want {
		t.Errorf("State:\n got %s\nwant %s", res.State, want)
	}

	c, err := NewContainer(res.State)
	if err != nil {
		t.Fatal(err)
	}
	if v := root(t, c, 0).(float64); !math.IsNaN(v) {
		t.Errorf("root 0: got %v, want NaN", v)
	}
	if v := root(t, c, 1).(float64); !math.IsInf(v, 1) {
		t.Errorf("root 1: got %v, want +Inf", v)
	}
	if v := root(t, c, 3); v != float64(maxSafeInt) {
		t.Errorf("root 3: got %v, want %v", v, float64(maxSafeInt))
	}
}

func TestSerialize_ScalarRoundTrip(t *testing.T) {
	u, _ := url.Parse("https://example.com/a?b=c#d")
	re := regexp.MustCompile(`^a+b*$`)
	big1, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	when := time.UnixMilli(1700000000123).UTC()
	query := url.Values{"q": {"go", "json"}, "page": {"2"}}
	data := []byte{0, 1, 2, 250, 251}

	c, _ := roundTrip(t, u, re, big1, when, time.Time{}, query, data, true, false, "")

	if got := root(t, c, 0).(*url.URL); got.String() != u.String() {
		t.Errorf("URL: got %s, want %s", got, u)
	}
	if got := root(t, c, 1).(*regexp.Regexp); got.String() != re.String() {
		t.Errorf("Regex: got %s, want %s", got, re)
	}
	if got := root(t, c, 2).(*big.Int); got.Cmp(big1) != 0 {
		t.Errorf("BigInt: got %s, want %s", got, big1)
	}
	if got := root(t, c, 3).(time.Time); !got.Equal(when) {
		t.Errorf("Date: got %s, want %s", got, when)
	}
	if got := root(t, c, 4).(time.Time); !got.IsZero() {
		t.Errorf("invalid Date: got %s, want zero", got)
	}
	if diff := cmp.Diff(query, root(t, c, 5).(url.Values)); diff != "" {
		t.Errorf("URLSearchParams mismatch (-want +got):\n%s", diff)
	}
	if got := root(t, c, 6).([]byte); !bytes.Equal(got, data) {
		t.Errorf("bytes: got %v, want %v", got, data)
	}
	if root(t, c, 7) != true || root(t, c, 8) != false || root(t, c, 9) != "" {
		t.Error("booleans and empty string should round-trip")
	}
}

func TestSerialize_BytesWithoutPadding(t *testing.T) {
	res := serialize(t, []byte{1})
	if strings.Contains(res.State, "=") {
		t.Errorf("base64 payload should not be padded: %s", res.State)
	}
}

func TestSerialize_CollectionsRoundTrip(t *testing.T) {
	set := NewSet(1, "two", 3)
	m := NewMap().Set("k", 1).Set(2.5, "v")
	form := NewFormData().Append("name", "ada").Append("name", "grace")
	custom := &Error{Message: "bad input", Fields: ObjectOf("code", 400)}

	c, _ := roundTrip(t, set, m, form, custom, errors.New("plain"), EmptyArray, EmptyObject)

	gotSet := root(t, c, 0).(*Set)
	if diff := cmp.Diff([]any{1.0, "two", 3.0}, gotSet.Values()); diff != "" {
		t.Errorf("Set mismatch (-want +got):\n%s", diff)
	}
	gotMap := root(t, c, 1).(*Map)
	if v, ok := gotMap.Get("k"); !ok || v != 1.0 {
		t.Errorf("Map[k]: got (%v, %v), want 1", v, ok)
	}
	if v, ok := gotMap.Get(2.5); !ok || v != "v" {
		t.Errorf("Map[2.5]: got (%v, %v), want v", v, ok)
	}
	gotForm := root(t, c, 2).(*FormData)
	if diff := cmp.Diff(form.Entries(), gotForm.Entries()); diff != "" {
		t.Errorf("FormData mismatch (-want +got):\n%s", diff)
	}
	gotErr := root(t, c, 3).(*Error)
	if gotErr.Message != "bad input" || prop(t, gotErr.Fields, "code") != 400.0 {
		t.Errorf("Error: got %+v", gotErr)
	}
	if got := root(t, c, 4).(*Error); got.Error() != "plain" {
		t.Errorf("plain error: got %q", got.Error())
	}
	if root(t, c, 5) != EmptyArray || root(t, c, 6) != EmptyObject {
		t.Error("empty singletons should keep their identity")
	}
}

func TestSerialize_PlainGoCollections(t *testing.T) {
	c, _ := roundTrip(t, map[string]any{"b": 2, "a": []string{"x", "y"}})

	obj := root(t, c, 0).(*Object)
	if diff := cmp.Diff([]string{"a", "b"}, obj.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	plain, err := Plain(obj)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"a": []any{"x", "y"}, "b": 2.0}
	if diff := cmp.Diff(want, plain); diff != "" {
		t.Errorf("Plain mismatch (-want +got):\n%s", diff)
	}
}

func TestSerialize_ReactiveRecords(t *testing.T) {
	host := &DomRef{ID: "q:3"}
	data := &EffectData{ScopedStyleIDPrefix: "⭐️abc", IsConst: true}
	sig := &Signal{Value: 1}
	sig.Effects = []*EffectSubscription{{Consumer: host, Property: "textContent", Data: data}}
	store := NewStore(NewArray("a", "b"), 3)
	store.Subscribe(StoreArrayPropKey, &EffectSubscription{Consumer: host})
	task := &Task{QRL: NewQRL("task.js", "s_task", nil), Flags: 2, Index: 1, Host: host, State: sig}
	node := &JSXNode{
		Type:       "div",
		VarProps:   ObjectOf("class", "x"),
		ConstProps: EmptyObject,
		Children:   NewArray("hi", Slot),
		Key:        "k1",
	}
	props := &PropsBag{VarProps: ObjectOf("n", 1)}
	comp := &Component{QRL: NewQRL("comp.js", "s_comp", nil)}

	c, _ := roundTrip(t, sig, store, task, node, props, comp, Fragment, &ElementRef{ID: "e1"})

	gotSig := root(t, c, 0).(*Signal)
	if gotSig.Value != 1.0 || len(gotSig.Effects) != 1 {
		t.Fatalf("Signal: got %+v", gotSig)
	}
	eff := gotSig.Effects[0]
	if eff.Property != "textContent" || eff.Data == nil || *eff.Data != *data {
		t.Errorf("effect: got %+v", eff)
	}
	if ref, ok := eff.Consumer.(*DomRef); !ok || ref.ID != "q:3" {
		t.Errorf("consumer: got %#v", eff.Consumer)
	}

	gotStore := root(t, c, 1).(*Store)
	if gotStore.Flags != 3 || len(gotStore.Effects[StoreArrayPropKey]) != 1 {
		t.Errorf("Store: got %+v", gotStore)
	}
	target, err := gotStore.Target()
	if err != nil {
		t.Fatal(err)
	}
	if arr, ok := target.(*Array); !ok || arr.Len() != 2 {
		t.Errorf("store target: got %#v", target)
	}

	gotTask := root(t, c, 2).(*Task)
	if gotTask.Flags != 2 || gotTask.Index != 1 || gotTask.State != gotSig || gotTask.QRL.Symbol != "s_task" {
		t.Errorf("Task: got %+v", gotTask)
	}
	if gotTask.Host != eff.Consumer {
		t.Error("task host and effect consumer should be the same instance")
	}

	gotNode := root(t, c, 3).(*JSXNode)
	if gotNode.Type != "div" || gotNode.Key != "k1" || gotNode.ConstProps != EmptyObject {
		t.Errorf("JSXNode: got %+v", gotNode)
	}
	if children := gotNode.Children.(*Array); children.At(1) != Slot {
		t.Errorf("children: got %v", children.Items())
	}

	gotProps := root(t, c, 4).(*PropsBag)
	if gotProps.ConstProps != nil || prop(t, gotProps.VarProps, "n") != 1.0 {
		t.Errorf("PropsBag: got %+v", gotProps)
	}
	if got := root(t, c, 5).(*Component); got.QRL == nil || got.QRL.Chunk != "comp.js" {
		t.Errorf("Component: got %+v", got)
	}
	if root(t, c, 6) != Fragment {
		t.Error("Fragment should keep its identity")
	}
	if ref := root(t, c, 7).(*ElementRef); ref.ID != "e1" {
		t.Errorf("ElementRef: got %+v", ref)
	}
}

func TestSerialize_WrappedSignalSharesSyncFn(t *testing.T) {
	inc := func(args ...any) any { return args[0].(float64) + 1 }
	a := &WrappedSignal{Func: &SyncFunc{Source: "(x)=>x+1", Args: 1, Fn: inc}, Args: []any{1}, Value: NeedsComputation}
	b := &WrappedSignal{Func: &SyncFunc{Source: "(x)=>x+1", Args: 1, Fn: inc}, Args: []any{41}, Value: NeedsComputation}

	c, res := roundTrip(t, a, b)
	if len(res.SyncFns) != 1 {
		t.Fatalf("SyncFns: got %d, want 1", len(res.SyncFns))
	}
	got := root(t, c, 1).(*WrappedSignal)
	if got.FnIndex != 0 || got.Func == nil {
		t.Fatalf("WrappedSignal: got %+v", got)
	}
	if v := got.Get(); v != 42.0 {
		t.Errorf("Get: got %v, want 42", v)
	}
}

type fakeDocument struct{}

func (fakeDocument) LocateVNode(id string) (any, error)   { return "vnode:" + id, nil }
func (fakeDocument) LocateElement(id string) (any, error) { return "element:" + id, nil }

func TestContainer_DocumentResolvesRefs(t *testing.T) {
	res := serialize(t, &DomRef{ID: "1"}, &ElementRef{ID: "2"})
	c, err := NewContainer(res.State, WithDocument(fakeDocument{}))
	if err != nil {
		t.Fatal(err)
	}
	if got := root(t, c, 0); got != "vnode:1" {
		t.Errorf("root 0: got %v", got)
	}
	if got := root(t, c, 1); got != "element:2" {
		t.Errorf("root 1: got %v", got)
	}
	if c.Element() == nil {
		t.Error("Element should return the document")
	}
}

func TestContainer_Errors(t *testing.T) {
	tests := []struct {
		name  string
		state string
		want  error
	}{
		{"not json", `[15,`, ErrCorruptData},
		{"odd slots", `[5]`, ErrCorruptData},
		{"unknown tag", `[99,1]`, ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewContainer(tt.state)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewContainer(%s): got %v, want %v", tt.state, err, tt.want)
			}
		})
	}

	c, err := NewContainer(`[0,5,0,"0 7"]`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.State().Get(0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("dangling root id: got %v, want ErrOutOfBounds", err)
	}
	if _, err := c.State().Get(1); !errors.Is(err, ErrMissingRoot) {
		t.Errorf("dangling path: got %v, want ErrMissingRoot", err)
	}
	if _, err := c.GetObjectByID(9); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("GetObjectByID(9): got %v, want ErrOutOfBounds", err)
	}
	if _, err := c.GetSyncFn(0); !errors.Is(err, ErrMissingSyncFn) {
		t.Errorf("GetSyncFn(0): got %v, want ErrMissingSyncFn", err)
	}
}

func TestLazyArray_SetOverridesSlot(t *testing.T) {
	c, _ := roundTrip(t, ObjectOf("a", 1))
	if err := c.State().Set(0, "seeded"); err != nil {
		t.Fatal(err)
	}
	if got := root(t, c, 0); got != "seeded" {
		t.Errorf("Get after Set: got %v, want seeded", got)
	}
	if c.Stats().Allocated != 0 {
		t.Error("Set should not decode the original slot")
	}
}

func TestPlain_Circular(t *testing.T) {
	o := NewObject()
	o.Set("self", o).Set("n", 1)

	got, err := Plain(o)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"self": "[circular]", "n": 1.0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plain mismatch (-want +got):\n%s", diff)
	}
}

func TestFromJSON(t *testing.T) {
	v, err := FromJSON([]byte(`{"z":[1,{"y":null}],"a":"s"}`))
	if err != nil {
		t.Fatal(err)
	}
	res, err := Serialize(context.Background(), []any{v})
	if err != nil {
		t.Fatal(err)
	}
	want := `[15,[5,"a",5,"s",5,"z",6,[4,1,15,[5,"y",3,1]]]]`
	if res.State != want {
		t.Errorf("State:\n got %s\nwant %s", res.State, want)
	}
}

func TestContainer_ConstantOutOfRange(t *testing.T) {
	for _, state := range []string{`[3,1e300]`, `[3,1.5]`, `[3,-1]`, `[3,17]`} {
		c, err := NewContainer(state)
		if err != nil {
			t.Fatalf("NewContainer(%s): %v", state, err)
		}
		if _, err := c.State().Get(0); !errors.Is(err, ErrCorruptData) {
			t.Errorf("Get(0) of %s: got %v, want ErrCorruptData", state, err)
		}
	}
}

func TestSerialize_PendingResourceRoundTrips(t *testing.T) {
	c, res := roundTrip(t, &Resource{}, &Resource{Value: "stale"})

	if want := `[23,[3,3,3,1,3,1],23,[3,3,3,1,3,1]]`; res.State != want {
		t.Errorf("State:\n got %s\nwant %s", res.State, want)
	}
	for i := 0; i < 2; i++ {
		r := root(t, c, i).(*Resource)
		if r.Resolved || r.Err != nil || r.Value != nil {
			t.Errorf("root %d: got %+v, want a pending resource", i, r)
		}
	}
}

func TestSerialize_SelfReferentialGoMap(t *testing.T) {
	m := map[string]any{}
	m["self"] = m

	c, res := roundTrip(t, m)
	if want := `[15,[5,"self",0,0]]`; res.State != want {
		t.Errorf("State: got %s, want %s", res.State, want)
	}
	obj := root(t, c, 0)
	if prop(t, obj, "self") != obj {
		t.Error("self should decode to the root object")
	}
}

func TestSerialize_SelfReferentialGoSlice(t *testing.T) {
	s := []any{nil}
	s[0] = s

	c, res := roundTrip(t, s)
	if want := `[6,[0,0]]`; res.State != want {
		t.Errorf("State: got %s, want %s", res.State, want)
	}
	arr := root(t, c, 0).(*Array)
	if arr.At(0) != arr {
		t.Error("item 0 should decode to the root array")
	}
}

func TestSerialize_SharedGoMapWrittenOnce(t *testing.T) {
	shared := map[string]any{"k": 1}

	c, res := roundTrip(t, ObjectOf("a", shared, "b", shared))
	if want := `[15,[5,"a",0,1,5,"b",0,1],15,[5,"k",4,1]]`; res.State != want {
		t.Errorf("State:\n got %s\nwant %s", res.State, want)
	}
	o := root(t, c, 0)
	if prop(t, o, "a") != prop(t, o, "b") {
		t.Error("both properties should decode to one object")
	}
}

func TestSerialize_DeepPositionIsElided(t *testing.T) {
	var v any = 1
	for i := 0; i < 200; i++ {
		v = NewArray(v)
	}
	_, err := Serialize(context.Background(), []any{v}, WithMaxDepth(100))
	if !errors.Is(err, ErrMaxDepth) {
		t.Fatalf("err: got %v, want ErrMaxDepth", err)
	}
	msg := err.Error()
	if n := strings.Count(msg, ">"); n > 2*positionEdge+1 {
		t.Errorf("position has %d segments, want at most %d: %s", n, 2*positionEdge+1, msg)
	}
	if !strings.Contains(msg, "more") {
		t.Errorf("elided position should say how many segments were dropped: %s", msg)
	}
}
