package serial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Lazy symbol references (QRLs)
// ---------------------------------------------------------------------------

// QRL references a lazily loaded symbol by chunk and symbol name, together
// with the values it closed over.
type QRL struct {
	Chunk    string
	Symbol   string
	Captures []any

	// Preload marks a reference whose chunk the resuming side should fetch
	// eagerly.
	Preload bool

	fn         any
	captureIDs []int
	container  *Container
}

// NewQRL creates a reference to symbol in chunk. fn is the live value the
// symbol names, if known; it is registered with the encoder's symbol
// registry.
func NewQRL(chunk, symbol string, fn any, captures ...any) *QRL {
	return &QRL{Chunk: chunk, Symbol: symbol, Captures: captures, fn: fn}
}

func (q *QRL) String() string {
	return q.Chunk + "#" + q.Symbol
}

// CaptureValues returns the captured values. For decoded references they are
// loaded from the container on first call.
func (q *QRL) CaptureValues() ([]any, error) {
	if q.Captures != nil || q.container == nil {
		return q.Captures, nil
	}
	captures := make([]any, len(q.captureIDs))
	for i, id := range q.captureIDs {
		v, err := q.container.GetObjectByID(id)
		if err != nil {
			return nil, fmt.Errorf("capture %d of %s: %w", i, q, err)
		}
		captures[i] = v
	}
	q.Captures = captures
	return captures, nil
}

// Resolve returns the live value of the symbol, looking it up in reg when it
// is not already known. A nil reg falls back to the registry of the decoding
// container.
func (q *QRL) Resolve(reg *SymbolRegistry) (any, error) {
	if q.fn != nil {
		return q.fn, nil
	}
	if reg == nil && q.container != nil {
		reg = q.container.registry
	}
	if reg != nil {
		if fn, ok := reg.Lookup(q.Symbol); ok {
			q.fn = fn
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolvedSymbol, q.Symbol)
}

// formatQRL renders "chunk#symbol[1 2]" where the bracketed numbers are the
// root indices of the captured values.
func formatQRL(chunk, symbol string, captureIDs []int) string {
	var b strings.Builder
	b.WriteString(chunk)
	b.WriteByte('#')
	b.WriteString(symbol)
	if len(captureIDs) > 0 {
		b.WriteByte('[')
		for i, id := range captureIDs {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.Itoa(id))
		}
		b.WriteByte(']')
	}
	return b.String()
}

// checkQRLText reports whether chunk and symbol survive formatQRL and
// parseQRL unchanged. The symbol is everything after the last '#', so it
// cannot hold '#', brackets or whitespace; the chunk may hold anything.
func checkQRLText(symbol string) error {
	if symbol == "" {
		return errors.New("empty symbol")
	}
	if i := strings.IndexAny(symbol, "#[] \t\n\r"); i >= 0 {
		return fmt.Errorf("symbol %q contains %q", symbol, symbol[i])
	}
	return nil
}

// parseQRL splits "chunk#symbol[1 2]" at the last '#'. A capture list is
// only recognized as a trailing bracketed suffix of the symbol.
func parseQRL(s string) (*QRL, error) {
	hash := strings.LastIndexByte(s, '#')
	if hash < 0 {
		return nil, fmt.Errorf("%w: malformed QRL %q", ErrCorruptData, s)
	}
	q := &QRL{Chunk: s[:hash]}
	symbol := s[hash+1:]
	if open := strings.LastIndexByte(symbol, '['); open >= 0 {
		if !strings.HasSuffix(symbol, "]") {
			return nil, fmt.Errorf("%w: malformed QRL %q", ErrCorruptData, s)
		}
		for _, field := range strings.Fields(symbol[open+1 : len(symbol)-1]) {
			id, err := strconv.Atoi(field)
			if err != nil || id < 0 {
				return nil, fmt.Errorf("%w: malformed QRL capture %q", ErrCorruptData, s)
			}
			q.captureIDs = append(q.captureIDs, id)
		}
		symbol = symbol[:open]
	}
	if err := checkQRLText(symbol); err != nil {
		return nil, fmt.Errorf("%w: QRL %q: %v", ErrCorruptData, s, err)
	}
	q.Symbol = symbol
	return q, nil
}

// ---------------------------------------------------------------------------
// Inline synchronous functions
// ---------------------------------------------------------------------------

// SyncFunc is a small pure function shipped inline with the state instead of
// through a chunk. Source is its serialized text; functions with equal
// non-empty Source share one table slot.
type SyncFunc struct {
	Source string
	Args   int
	Fn     func(args ...any) any
}

// ---------------------------------------------------------------------------
// Framework records
// ---------------------------------------------------------------------------

// Component is a component definition whose render function is a QRL.
type Component struct {
	QRL *QRL

	builtin string
}

var (
	// Slot and Fragment are the built-in structural components.
	Slot     = &Component{builtin: "Slot"}
	Fragment = &Component{builtin: "Fragment"}
)

func (c *Component) String() string {
	if c.builtin != "" {
		return c.builtin
	}
	if c.QRL != nil {
		return "Component(" + c.QRL.String() + ")"
	}
	return "Component"
}

// Task is a reactive task bound to a host element.
type Task struct {
	QRL   *QRL
	Flags int
	Index int
	Host  any
	State any
}

// Resource is an async value produced by a task. While encoding only
// Promise is consulted; the encoder writes a forward reference to its
// settlement. Decoded resources carry the settled outcome.
type Resource struct {
	Promise *Promise
	Effects []*EffectSubscription

	Resolved bool
	Value    any
	Err      error
}

// EffectData is the per-subscription data attached to DOM property effects.
type EffectData struct {
	ScopedStyleIDPrefix string
	IsConst             bool
}

// EffectSubscription links a reactive source to the consumer that re-runs
// when it changes.
type EffectSubscription struct {
	Consumer any
	Property string
	Data     *EffectData
}

// Signal is a plain reactive value.
type Signal struct {
	Value   any
	Effects []*EffectSubscription
}

// WrappedSignal is derived from a pure inline function and its arguments.
type WrappedSignal struct {
	Func    *SyncFunc
	FnIndex int
	Args    []any
	Host    any
	Value   any
	Effects []*EffectSubscription
}

// Get returns the value, computing it from Func when it was not serialized.
func (s *WrappedSignal) Get() any {
	if s.Value == NeedsComputation && s.Func != nil && s.Func.Fn != nil {
		s.Value = s.Func.Fn(s.Args...)
	}
	return s.Value
}

// ComputedSignal is derived by a QRL that may compute asynchronously. A
// *Promise Value is written as a forward reference to its result.
type ComputedSignal struct {
	Compute *QRL
	Value   any
	Invalid bool
	Effects []*EffectSubscription
}

// CustomSerializer is the pair of hooks a SerializerSignal's QRL resolves to.
// Serialize may return a *Promise.
type CustomSerializer interface {
	Serialize(v any) any
	Deserialize(data any) (any, error)
}

// SerializerSignal holds a value converted through user hooks.
type SerializerSignal struct {
	Serializer *QRL
	Value      any
	Effects    []*EffectSubscription

	// Data is the serialized form, set on decode.
	Data any
}

// Store is a reactive proxy over an object or array. The target of a decoded
// store is materialized on first access.
type Store struct {
	Flags   int
	Effects map[string][]*EffectSubscription

	target *cell
}

// NewStore wraps target, which should be an *Object, an *Array, or a
// *Resource.
func NewStore(target any, flags int) *Store {
	return &Store{target: plainCell(target), Flags: flags}
}

// Target returns the wrapped value.
func (s *Store) Target() (any, error) {
	if s.target == nil {
		return nil, nil
	}
	return s.target.get()
}

// Subscribe adds an effect for prop. Use StoreArrayPropKey to track every
// index of an array store.
func (s *Store) Subscribe(prop string, e *EffectSubscription) {
	if s.Effects == nil {
		s.Effects = make(map[string][]*EffectSubscription)
	}
	s.Effects[prop] = append(s.Effects[prop], e)
}

// JSXNode is a virtual DOM node. Type is a tag name or a *Component.
type JSXNode struct {
	Type       any
	VarProps   *Object
	ConstProps *Object
	Children   any
	Key        string
}

// PropsBag is the props record handed to a component.
type PropsBag struct {
	VarProps   *Object
	ConstProps *Object
}
