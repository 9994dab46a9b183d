package serial

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("resumable.serial")

// DefaultMaxDepth bounds payload nesting while discovering and writing.
const DefaultMaxDepth = 2048

// ChunkResolver maps a symbol to the chunk that defines it. It is consulted
// for QRLs created without a chunk.
type ChunkResolver func(symbol string) (string, error)

// Options configures a serialization pass.
type Options struct {
	ChunkResolver ChunkResolver
	Registry      *SymbolRegistry
	MaxDepth      int

	// Timeout bounds the whole pass, including waiting for forward
	// references. Zero means no limit beyond the caller's context.
	Timeout time.Duration

	Logger commonlog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithChunkResolver sets the resolver for QRLs without a chunk.
func WithChunkResolver(r ChunkResolver) Option {
	return func(o *Options) { o.ChunkResolver = r }
}

// WithRegistry sets the symbol registry. Live QRL values are registered in
// it, and when no chunk resolver is set its chunk table is used.
func WithRegistry(reg *SymbolRegistry) Option {
	return func(o *Options) { o.Registry = reg }
}

// WithMaxDepth sets the nesting limit.
func WithMaxDepth(n int) Option {
	return func(o *Options) { o.MaxDepth = n }
}

// WithTimeout bounds the serialization pass.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithLogger replaces the package logger.
func WithLogger(l commonlog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func buildOptions(opts []Option) Options {
	o := Options{MaxDepth: DefaultMaxDepth, Logger: log}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ChunkResolver == nil && o.Registry != nil {
		o.ChunkResolver = o.Registry.ResolveChunk
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Logger == nil {
		o.Logger = log
	}
	return o
}

// ---------------------------------------------------------------------------
// SerializationContext: state of one serialization pass
// ---------------------------------------------------------------------------

// SeenEntry records where a tracked value was first found. Parent is the
// nearest tracked container (nil for roots) and Index the value's slot in
// that container's payload. RootIndex stays -1 until the value is promoted.
type SeenEntry struct {
	Parent    any
	Index     int
	RootIndex int

	expanded bool
}

// Result is the output of a serialization pass.
type Result struct {
	// State is the encoded text.
	State string

	// SyncFns is the inline function table referenced by WrappedSignals.
	SyncFns []*SyncFunc

	Roots       int
	ForwardRefs int
}

// SerializationContext owns the root list, the seen map, the root path
// cache, the inline function table, and the output of a single pass. It is
// discarded after Encode.
type SerializationContext struct {
	opts Options

	roots []any
	seen  map[any]*SeenEntry
	paths map[any]string

	syncFns      []*SyncFunc
	syncBySource map[string]int
	syncByFunc   map[*SyncFunc]int

	captureIDs map[*QRL][]int
	replaced   map[any]any
	adopted    map[aliasKey]adoption

	forward forwardState

	discovered int
	written    int

	out   strings.Builder
	pos   []int
	depth int
}

// NewSerializationContext creates a context for one pass.
func NewSerializationContext(opts ...Option) *SerializationContext {
	return &SerializationContext{
		opts:         buildOptions(opts),
		seen:         make(map[any]*SeenEntry),
		paths:        make(map[any]string),
		syncBySource: make(map[string]int),
		syncByFunc:   make(map[*SyncFunc]int),
		captureIDs:   make(map[*QRL][]int),
		replaced:     make(map[any]any),
		adopted:      make(map[aliasKey]adoption),
		forward:      newForwardState(),
	}
}

// Serialize encodes roots in order. Equal root values share one payload; the
// later slots hold back-references.
func Serialize(ctx context.Context, roots []any, opts ...Option) (*Result, error) {
	s := NewSerializationContext(opts...)
	defer s.forward.close()
	for i, v := range roots {
		if _, err := s.pushRoot(v); err != nil {
			return nil, fmt.Errorf("root %d: %w", i, err)
		}
	}
	return s.Encode(ctx)
}

// pushRoot appends a declared entry point without deduplication.
func (s *SerializationContext) pushRoot(v any) (int, error) {
	v, err := s.normalize(v)
	if err != nil {
		return -1, err
	}
	idx := len(s.roots)
	s.roots = append(s.roots, v)
	if trackable(v) {
		if _, ok := s.seen[v]; !ok {
			s.seen[v] = &SeenEntry{Index: idx, RootIndex: idx}
		}
	}
	return idx, nil
}

// AddRoot makes v addressable by a root index and returns it. A value that
// is already a root keeps its index; a tracked value not yet written is
// promoted in place.
func (s *SerializationContext) AddRoot(v any, parent any) int {
	v, err := s.normalize(v)
	if err != nil {
		v = Undefined
	}
	if trackable(v) {
		if e, ok := s.seen[v]; ok {
			if e.RootIndex >= 0 {
				return e.RootIndex
			}
			if !s.isWritten(v) {
				return s.promote(v, e)
			}
			// Written inline in an earlier batch; the new slot holds a path
			// reference to it.
		} else {
			idx := len(s.roots)
			s.seen[v] = &SeenEntry{Parent: parent, Index: idx, RootIndex: idx}
			s.roots = append(s.roots, v)
			return idx
		}
	}
	idx := len(s.roots)
	s.roots = append(s.roots, v)
	return idx
}

func (s *SerializationContext) promote(v any, e *SeenEntry) int {
	e.RootIndex = len(s.roots)
	s.roots = append(s.roots, v)
	return e.RootIndex
}

func (s *SerializationContext) isWritten(v any) bool {
	if _, ok := s.paths[v]; ok {
		return true
	}
	e, ok := s.seen[v]
	return ok && e.RootIndex >= 0 && e.RootIndex < s.written
}

// AddSyncFn adds an inline function to the table and returns its index.
// Functions with the same non-empty source share an index.
func (s *SerializationContext) AddSyncFn(source string, argCount int, fn func(args ...any) any) int {
	if source != "" {
		if idx, ok := s.syncBySource[source]; ok {
			return idx
		}
	}
	idx := len(s.syncFns)
	s.syncFns = append(s.syncFns, &SyncFunc{Source: source, Args: argCount, Fn: fn})
	if source != "" {
		s.syncBySource[source] = idx
	}
	return idx
}

func (s *SerializationContext) syncFnIndex(f *SyncFunc) int {
	if idx, ok := s.syncByFunc[f]; ok {
		return idx
	}
	idx := s.AddSyncFn(f.Source, f.Args, f.Fn)
	s.syncByFunc[f] = idx
	return idx
}

// Roots returns the current root list.
func (s *SerializationContext) Roots() []any {
	return append([]any(nil), s.roots...)
}

// Seen returns the discovery record for v.
func (s *SerializationContext) Seen(v any) (SeenEntry, bool) {
	e, ok := s.seen[v]
	if !ok {
		return SeenEntry{}, false
	}
	return *e, true
}

// ---------------------------------------------------------------------------
// Value classification
// ---------------------------------------------------------------------------

// normalize folds the many Go spellings of a value into the forms the
// encoder dispatches on: typed nils become nil, numeric kinds become
// float64, non-serializable values become Undefined, and StateSerializers
// are replaced by their (memoized) serialized form.
func (s *SerializationContext) normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case NonSerializable:
		return Undefined, nil
	case StateSerializer:
		r, err := s.replace(x)
		if err != nil {
			return nil, err
		}
		return s.adopt(r), nil
	}
	return s.adopt(normalizeBasic(v)), nil
}

// aliasKey identifies the storage behind a Go map or slice.
type aliasKey struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// adoption keeps the original alive so its address is not reused while the
// pass runs.
type adoption struct {
	orig any
	v    any
}

// adopt gives plain Go maps and slices the identity of the storage they
// share: every occurrence of the same map, or of the same slice window, maps
// to one *Object or *Array, so cycles through them become back-references.
// Entries are converted shallowly; children are normalized when reached.
func (s *SerializationContext) adopt(v any) any {
	switch v.(type) {
	case []byte, url.Values, tuple:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
	case reflect.Slice:
		if rv.Len() == 0 {
			return v
		}
	default:
		return v
	}
	key := aliasKey{typ: rv.Type(), ptr: uintptr(rv.UnsafePointer()), len: rv.Len()}
	if rv.Kind() == reflect.Map {
		key.len = 0
	}
	if a, ok := s.adopted[key]; ok {
		return a.v
	}

	var out any
	if rv.Kind() == reflect.Map {
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		o := NewObject()
		for _, k := range keys {
			o.Set(k, rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
		}
		out = o
	} else {
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		out = &Array{items: items}
	}
	s.adopted[key] = adoption{orig: v, v: out}
	return out
}

func normalizeBasic(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return v
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case float32:
		return float64(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		if rv.IsNil() {
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

func (s *SerializationContext) replace(x StateSerializer) (any, error) {
	key := any(x)
	memo := reflect.TypeOf(x).Comparable()
	if memo {
		if r, ok := s.replaced[key]; ok {
			return r, nil
		}
	}
	r := x.SerializeState()
	if p, ok := r.(*Promise); ok && p != nil {
		fkey := key
		if !memo {
			fkey = p
		}
		r = forwardItem{id: s.resolvePromise(fkey, p, classifyCustom)}
	} else {
		if _, again := r.(StateSerializer); again {
			return nil, &UnsupportedTypeError{Type: typeName(x), Reason: "SerializeState returned another StateSerializer"}
		}
		r = normalizeBasic(r)
	}
	if memo {
		s.replaced[key] = r
	}
	return r, nil
}

// trackable reports whether v has identity worth recording in the seen map:
// pointers, and strings long enough that a back-reference saves space.
func trackable(v any) bool {
	switch x := v.(type) {
	case string:
		return len(x) > 1
	case nil:
		return false
	case *EffectSubscription:
		return false
	}
	if _, ok := constantOf(v); ok {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && !rv.IsNil()
}

// constantOf returns the constant-table entry for v, if any.
func constantOf(v any) (Constant, bool) {
	switch x := v.(type) {
	case nil:
		return ConstNull, true
	case undefinedValue:
		return ConstUndefined, true
	case bool:
		if x {
			return ConstTrue, true
		}
		return ConstFalse, true
	case string:
		if x == "" {
			return ConstEmptyString, true
		}
	case float64:
		return numberConstant(x)
	case *Sentinel:
		switch x {
		case NeedsComputation:
			return ConstNeedsComputation, true
		case StoreArrayProp:
			return ConstStoreArrayProp, true
		}
	case *Array:
		if x == EmptyArray {
			return ConstEmptyArray, true
		}
	case *Object:
		if x == EmptyObject {
			return ConstEmptyObject, true
		}
	case *Component:
		switch x {
		case Slot:
			return ConstSlot, true
		case Fragment:
			return ConstFragment, true
		}
	}
	return 0, false
}

func numberConstant(f float64) (Constant, bool) {
	switch {
	case math.IsNaN(f):
		return ConstNaN, true
	case math.IsInf(f, 1):
		return ConstPositiveInfinity, true
	case math.IsInf(f, -1):
		return ConstNegativeInfinity, true
	case f == maxSafeInt:
		return ConstMaxSafeInt, true
	case f == almostMaxSafeInt:
		return ConstAlmostMaxSafeInt, true
	case f == minSafeInt:
		return ConstMinSafeInt, true
	}
	return 0, false
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// ---------------------------------------------------------------------------
// Output positions
// ---------------------------------------------------------------------------

// pathString renders the current write position as a root path, "3 2 0".
func (s *SerializationContext) pathString() string {
	var b strings.Builder
	for i, p := range s.pos {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(p))
	}
	return b.String()
}

// positionEdge is how many leading and trailing segments a diagnostic
// position keeps.
const positionEdge = 8

// describePosition renders the current position for diagnostics. Deep
// positions are elided in the middle.
func (s *SerializationContext) describePosition() string {
	if len(s.pos) == 0 {
		return ""
	}
	parts := make([]string, 0, 2*positionEdge+1)
	for i, p := range s.pos {
		if len(s.pos) > 2*positionEdge && i == positionEdge {
			parts = append(parts, fmt.Sprintf("... %d more", len(s.pos)-2*positionEdge))
		}
		if len(s.pos) > 2*positionEdge && i >= positionEdge && i < len(s.pos)-positionEdge {
			continue
		}
		parts = append(parts, strconv.Itoa(p))
	}
	return "root " + strings.Join(parts, " > ")
}

func (s *SerializationContext) enter(i int) error {
	s.pos = append(s.pos, i)
	s.depth++
	if s.depth > s.opts.MaxDepth {
		return fmt.Errorf("serial: %w (%d) at %s", ErrMaxDepth, s.opts.MaxDepth, s.describePosition())
	}
	return nil
}

func (s *SerializationContext) leave() {
	s.pos = s.pos[:len(s.pos)-1]
	s.depth--
}
