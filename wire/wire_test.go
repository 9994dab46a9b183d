package wire

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/resumable/serial"
)

func encode(t *testing.T, roots ...any) *serial.Result {
	t.Helper()
	res, err := serial.Serialize(context.Background(), roots)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return res
}

func TestSnapshot_CBORRoundTrip(t *testing.T) {
	sig := &serial.WrappedSignal{
		Func:  &serial.SyncFunc{Source: "(a)=>a*2", Args: 1},
		Args:  []any{4},
		Value: serial.NeedsComputation,
	}
	s := NewSnapshot(encode(t, serial.ObjectOf("title", "cart"), sig))

	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if err := got.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if len(got.SyncFns) != 1 || got.SyncFns[0].Source != "(a)=>a*2" {
		t.Errorf("SyncFns = %+v, want one (a)=>a*2 entry", got.SyncFns)
	}
}

func TestSnapshot_CanonicalEncoding(t *testing.T) {
	s := NewSnapshot(encode(t, "stable"))

	a, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding the same snapshot twice should give identical bytes")
	}
}

func TestSnapshot_VerifyDetectsTampering(t *testing.T) {
	s := NewSnapshot(encode(t, "original"))
	s.State = strings.Replace(s.State, "original", "modified", 1)

	if err := s.Verify(); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("Verify: got %v, want ErrHashMismatch", err)
	}
}

func TestSnapshot_VerifyRejectsVersion(t *testing.T) {
	s := NewSnapshot(encode(t, 1))
	s.Version = 9
	if err := s.Verify(); err == nil {
		t.Error("Verify should reject an unknown version")
	}
}

func TestSnapshot_Open(t *testing.T) {
	s := NewSnapshot(encode(t, serial.ObjectOf("n", 7)))

	c, err := s.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := c.State().Get(0)
	if err != nil {
		t.Fatal(err)
	}
	n, err := v.(*serial.Object).Get("n")
	if err != nil || n != 7.0 {
		t.Errorf("n = (%v, %v), want 7", n, err)
	}
}

func TestSnapshot_Functions(t *testing.T) {
	s := &Snapshot{SyncFns: []SyncFn{{Source: "(x)=>x", Args: 1}}}
	compile := func(source string, args int) (func(...any) any, error) {
		return func(a ...any) any { return a[0] }, nil
	}

	fns, err := s.Functions(compile)
	if err != nil {
		t.Fatal(err)
	}
	if len(fns) != 1 || fns[0].Fn == nil || fns[0].Fn("id") != "id" {
		t.Errorf("Functions = %+v", fns)
	}
}

func TestEmbedScript(t *testing.T) {
	res := encode(t, "</script><b>")
	html := EmbedScript(res.State)

	if !strings.HasPrefix(html, `<script type="qwik/state">`) || !strings.HasSuffix(html, "</script>") {
		t.Errorf("EmbedScript = %q", html)
	}
	if strings.Count(html, "</script") != 1 {
		t.Errorf("embedded state closes the script early: %q", html)
	}
}
