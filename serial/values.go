package serial

import (
	"math"
	"reflect"
	"sort"
)

// ---------------------------------------------------------------------------
// Singletons
// ---------------------------------------------------------------------------

type undefinedValue struct{}

func (undefinedValue) String() string { return "undefined" }

// Undefined is the absent value. It is distinct from nil, which encodes null.
var Undefined = undefinedValue{}

// Sentinel is a named marker value with identity semantics.
type Sentinel struct {
	name string
}

func (s *Sentinel) String() string { return s.name }

var (
	// NeedsComputation marks a derived value that must be recomputed on the
	// resuming side.
	NeedsComputation = &Sentinel{name: "NEEDS_COMPUTATION"}

	// StoreArrayProp marks a store subscription that tracks every index of
	// an array-shaped store.
	StoreArrayProp = &Sentinel{name: "STORE_ARRAY_PROP"}
)

// StoreArrayPropKey is the Store.Effects key encoded as StoreArrayProp.
const StoreArrayPropKey = "$array$"

var (
	// EmptyArray and EmptyObject are shared immutable instances encoded as
	// constants. Do not mutate them.
	EmptyArray  = &Array{}
	EmptyObject = &Object{props: map[string]*cell{}}
)

// ---------------------------------------------------------------------------
// Non-serializable markers
// ---------------------------------------------------------------------------

// NonSerializable is implemented by values the application never wants
// written. They are replaced by Undefined.
type NonSerializable interface {
	NoSerialize()
}

type noSerialize struct {
	v any
}

func (noSerialize) NoSerialize() {}

// NoSerialize wraps v so the encoder writes Undefined in its place.
func NoSerialize(v any) any {
	return noSerialize{v: v}
}

// StateSerializer is implemented by values that provide their own
// serialized form. The result may be a *Promise, in which case the encoder
// waits for it; a rejection aborts serialization.
type StateSerializer interface {
	SerializeState() any
}

// ---------------------------------------------------------------------------
// Lazy cells
// ---------------------------------------------------------------------------

// cell holds a property value that may not be decoded yet. The first read
// runs load and replaces it with the plain value.
type cell struct {
	value  any
	load   func() (any, error)
	loaded bool
}

func plainCell(v any) *cell {
	return &cell{value: v, loaded: true}
}

func lazyCell(load func() (any, error)) *cell {
	return &cell{load: load}
}

func (c *cell) get() (any, error) {
	if c.loaded {
		return c.value, nil
	}
	v, err := c.load()
	if err != nil {
		return nil, err
	}
	c.value, c.loaded, c.load = v, true, nil
	return v, nil
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

// Object is an ordered string-keyed record, the equivalent of an object
// literal. Properties of decoded objects are materialized on first read.
type Object struct {
	keys  []string
	props map[string]*cell
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{props: make(map[string]*cell)}
}

// ObjectOf builds an object from alternating keys and values. It panics if a
// key is not a string or the argument count is odd.
func ObjectOf(kv ...any) *Object {
	if len(kv)%2 != 0 {
		panic("serial: ObjectOf requires key/value pairs")
	}
	o := NewObject()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic("serial: ObjectOf key must be a string")
		}
		o.Set(key, kv[i+1])
	}
	return o
}

// Set assigns a property, keeping the original insertion position for
// existing keys.
func (o *Object) Set(key string, v any) *Object {
	o.setCell(key, plainCell(v))
	return o
}

func (o *Object) setCell(key string, c *cell) {
	if o.props == nil {
		o.props = make(map[string]*cell)
	}
	if _, ok := o.props[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.props[key] = c
}

// Get returns the property value, decoding it first if needed. Missing keys
// yield Undefined.
func (o *Object) Get(key string) (any, error) {
	c, ok := o.props[key]
	if !ok {
		return Undefined, nil
	}
	return c.get()
}

// Has reports whether the key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.props[key]
	return ok
}

// Delete removes a property.
func (o *Object) Delete(key string) {
	if _, ok := o.props[key]; !ok {
		return
	}
	delete(o.props, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the property names in insertion order.
func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of properties.
func (o *Object) Len() int {
	return len(o.keys)
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

// Array is an ordered list with identity, so it can be shared or cyclic.
type Array struct {
	items []any
}

// NewArray creates an array holding items.
func NewArray(items ...any) *Array {
	return &Array{items: append([]any(nil), items...)}
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.items) }

// At returns element i.
func (a *Array) At(i int) any { return a.items[i] }

// SetAt replaces element i.
func (a *Array) SetAt(i int, v any) { a.items[i] = v }

// Append adds elements to the end.
func (a *Array) Append(v ...any) { a.items = append(a.items, v...) }

// Items returns a copy of the elements.
func (a *Array) Items() []any { return append([]any(nil), a.items...) }

// ---------------------------------------------------------------------------
// Set and Map
// ---------------------------------------------------------------------------

// sameValue compares with SameValueZero semantics: identity for pointers,
// equality for comparable scalars, and NaN equal to itself.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	if fa, ok := a.(float64); ok {
		fb := b.(float64)
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	}
	return a == b
}

// Set is an insertion-ordered collection of distinct values.
type Set struct {
	items []any
}

// NewSet creates a set with the given members.
func NewSet(items ...any) *Set {
	s := &Set{}
	for _, v := range items {
		s.Add(v)
	}
	return s
}

// Add inserts v unless an equal member exists.
func (s *Set) Add(v any) *Set {
	if !s.Has(v) {
		s.items = append(s.items, v)
	}
	return s
}

// Has reports membership.
func (s *Set) Has(v any) bool {
	for _, it := range s.items {
		if sameValue(it, v) {
			return true
		}
	}
	return false
}

// Len returns the member count.
func (s *Set) Len() int { return len(s.items) }

// Values returns members in insertion order.
func (s *Set) Values() []any { return append([]any(nil), s.items...) }

// Map is an insertion-ordered map with arbitrary keys.
type Map struct {
	keys []any
	vals []any
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{}
}

func (m *Map) index(k any) int {
	for i, key := range m.keys {
		if sameValue(key, k) {
			return i
		}
	}
	return -1
}

// Set stores v under k.
func (m *Map) Set(k, v any) *Map {
	if i := m.index(k); i >= 0 {
		m.vals[i] = v
		return m
	}
	m.keys = append(m.keys, k)
	m.vals = append(m.vals, v)
	return m
}

// Get returns the value under k.
func (m *Map) Get(k any) (any, bool) {
	if i := m.index(k); i >= 0 {
		return m.vals[i], true
	}
	return nil, false
}

// Len returns the entry count.
func (m *Map) Len() int { return len(m.keys) }

// Keys returns keys in insertion order.
func (m *Map) Keys() []any { return append([]any(nil), m.keys...) }

// ---------------------------------------------------------------------------
// FormData, Error, DOM references
// ---------------------------------------------------------------------------

// FormEntry is one name/value pair of a FormData.
type FormEntry struct {
	Name  string
	Value string
}

// FormData is an ordered multi-valued form.
type FormData struct {
	entries []FormEntry
}

// NewFormData creates an empty form.
func NewFormData() *FormData { return &FormData{} }

// Append adds a name/value pair.
func (f *FormData) Append(name, value string) *FormData {
	f.entries = append(f.entries, FormEntry{Name: name, Value: value})
	return f
}

// Get returns the first value for name.
func (f *FormData) Get(name string) (string, bool) {
	for _, e := range f.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// Entries returns the pairs in order.
func (f *FormData) Entries() []FormEntry {
	return append([]FormEntry(nil), f.entries...)
}

// Error is a serializable error with optional extra fields.
type Error struct {
	Message string
	Fields  *Object
}

func (e *Error) Error() string { return e.Message }

// DomRef points at a virtual DOM node by its container id.
type DomRef struct {
	ID string
}

// ElementRef points at a live element that must be looked up in the
// resuming document.
type ElementRef struct {
	ID string
}

// Document resolves DOM references while decoding. LocateVNode handles
// VNode tags and LocateElement handles RefVNode tags.
type Document interface {
	LocateVNode(id string) (any, error)
	LocateElement(id string) (any, error)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
