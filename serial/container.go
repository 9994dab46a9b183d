package serial

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Container: the resuming side of a serialized state
// ---------------------------------------------------------------------------

// Stats counts decoder work. Allocated and Inflated count two-phase values;
// Materialized counts root slots.
type Stats struct {
	Allocated    int
	Inflated     int
	Materialized int
}

// ContainerOption configures a Container.
type ContainerOption func(*Container)

// WithDocument sets the document used to resolve DOM references.
func WithDocument(doc Document) ContainerOption {
	return func(c *Container) { c.doc = doc }
}

// WithSyncFns supplies the inline function table produced by the encoder.
func WithSyncFns(fns []*SyncFunc) ContainerOption {
	return func(c *Container) { c.syncFns = fns }
}

// WithSymbolRegistry sets the registry decoded QRLs resolve against.
func WithSymbolRegistry(reg *SymbolRegistry) ContainerOption {
	return func(c *Container) { c.registry = reg }
}

// WithContainerLogger replaces the package logger.
func WithContainerLogger(l commonlog.Logger) ContainerOption {
	return func(c *Container) { c.log = l }
}

// Container decodes a state text on demand. It is not safe for concurrent
// use.
type Container struct {
	doc      Document
	syncFns  []*SyncFunc
	registry *SymbolRegistry
	log      commonlog.Logger

	forward []int
	memo    map[*node]any
	state   *LazyArray
	stats   Stats
}

// NewContainer parses text. No value is materialized until it is read.
func NewContainer(text string, opts ...ContainerOption) (*Container, error) {
	ps, err := parseState(text)
	if err != nil {
		return nil, err
	}
	c := &Container{
		log:     log,
		forward: ps.forward,
		memo:    make(map[*node]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = &LazyArray{c: c, slots: make([]slot, len(ps.roots))}
	for i, n := range ps.roots {
		c.state.slots[i].node = n
	}
	c.log.Debugf("parsed %d roots, %d forward references", len(ps.roots), len(ps.forward))
	return c, nil
}

// Deserialize parses text and returns its lazily materialized roots.
func Deserialize(text string, opts ...ContainerOption) (*LazyArray, error) {
	c, err := NewContainer(text, opts...)
	if err != nil {
		return nil, err
	}
	return c.State(), nil
}

// State returns the root array.
func (c *Container) State() *LazyArray { return c.state }

// Element returns the document DOM references resolve against, if any.
func (c *Container) Element() Document { return c.doc }

// Registry returns the symbol registry, if any.
func (c *Container) Registry() *SymbolRegistry { return c.registry }

// Stats returns the decoder counters.
func (c *Container) Stats() Stats { return c.stats }

// GetObjectByID returns a root by index, or the value at a root path such as
// "3 2 0". It accepts an int or a string.
func (c *Container) GetObjectByID(id any) (any, error) {
	switch x := id.(type) {
	case int:
		return c.state.Get(x)
	case float64:
		return c.state.Get(int(x))
	case string:
		if idx, err := strconv.Atoi(x); err == nil {
			return c.state.Get(idx)
		}
		return c.resolvePath(x)
	}
	return nil, fmt.Errorf("serial: %w: object id of type %T", ErrMissingRoot, id)
}

// GetSyncFn returns entry id of the inline function table.
func (c *Container) GetSyncFn(id int) (*SyncFunc, error) {
	if id < 0 || id >= len(c.syncFns) {
		return nil, fmt.Errorf("serial: %w: %d", ErrMissingSyncFn, id)
	}
	return c.syncFns[id], nil
}

// resolvePath walks a root path through the parsed payloads and decodes the
// value it names. Decoding goes through the node memo, so the result is the
// same instance reachable through the owning root.
func (c *Container) resolvePath(path string) (any, error) {
	fields := strings.Fields(path)
	if len(fields) == 0 {
		return nil, fmt.Errorf("serial: %w: empty path", ErrMissingRoot)
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil || idx < 0 || idx >= len(c.state.slots) {
		return nil, fmt.Errorf("serial: %w: path %q", ErrMissingRoot, path)
	}
	n := c.state.slots[idx].node
	for _, f := range fields[1:] {
		j, err := strconv.Atoi(f)
		if err != nil || n == nil || j < 0 || j >= len(n.items) {
			return nil, fmt.Errorf("serial: %w: path %q", ErrMissingRoot, path)
		}
		n = n.items[j]
	}
	if n == nil {
		return nil, fmt.Errorf("serial: %w: path %q", ErrMissingRoot, path)
	}
	return c.deserialize(n)
}

func (c *Container) forwardRoot(id int) (any, error) {
	if id < 0 || id >= len(c.forward) || c.forward[id] < 0 {
		return nil, fmt.Errorf("serial: %w: forward reference %d", ErrMissingRoot, id)
	}
	return c.state.Get(c.forward[id])
}

// ---------------------------------------------------------------------------
// LazyArray: root slots materialized on first read
// ---------------------------------------------------------------------------

type slot struct {
	node         *node
	value        any
	materialized bool
	busy         bool
}

// LazyArray holds the decoded roots. A slot moves once from its encoded
// form to the materialized value.
type LazyArray struct {
	c     *Container
	slots []slot
}

// Len returns the number of roots.
func (a *LazyArray) Len() int { return len(a.slots) }

// Container returns the owning container.
func (a *LazyArray) Container() *Container { return a.c }

// Get materializes and returns root i.
func (a *LazyArray) Get(i int) (any, error) {
	if i < 0 || i >= len(a.slots) {
		return nil, fmt.Errorf("serial: %w: %d of %d", ErrOutOfBounds, i, len(a.slots))
	}
	s := &a.slots[i]
	if s.materialized {
		return s.value, nil
	}
	if s.busy {
		// A root read while it inflates yields its allocated shell.
		if v, ok := a.c.memo[s.node]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("serial: %w: root %d refers to itself", ErrCorruptData, i)
	}
	s.busy = true
	v, err := a.c.deserialize(s.node)
	s.busy = false
	if err != nil {
		return nil, fmt.Errorf("root %d: %w", i, err)
	}
	// The slot may have been set while decoding.
	if !s.materialized {
		s.value, s.materialized = v, true
		a.c.stats.Materialized++
	}
	return s.value, nil
}

// Set overrides root i with v.
func (a *LazyArray) Set(i int, v any) error {
	if i < 0 || i >= len(a.slots) {
		return fmt.Errorf("serial: %w: %d of %d", ErrOutOfBounds, i, len(a.slots))
	}
	a.slots[i].value, a.slots[i].materialized = v, true
	return nil
}

// All materializes every root.
func (a *LazyArray) All() ([]any, error) {
	out := make([]any, len(a.slots))
	for i := range a.slots {
		v, err := a.Get(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
