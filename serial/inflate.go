package serial

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"time"
)

// deserialize materializes n. Two-phase values are allocated and memoized
// before their payload is inflated, so a cycle back to n sees the shell.
func (c *Container) deserialize(n *node) (any, error) {
	if n == nil {
		return Undefined, nil
	}
	if v, ok := c.memo[n]; ok {
		return v, nil
	}
	switch n.tag {
	case TagRootRef:
		switch x := n.value.(type) {
		case float64:
			return c.state.Get(int(x))
		case string:
			return c.resolvePath(x)
		}
		return nil, fmt.Errorf("serial: %w: root reference payload is %T", ErrCorruptData, n.value)
	case TagForwardRef:
		id, err := n.number()
		if err != nil {
			return nil, err
		}
		return c.forwardRoot(int(id))
	case TagConstant:
		f, err := n.number()
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) || f < 0 || f >= float64(constantCount) {
			return nil, fmt.Errorf("serial: %w: bad constant %v", ErrCorruptData, f)
		}
		return constantValue(Constant(f))
	case TagNumber:
		return n.number()
	case TagString:
		return n.str()
	case TagURL, TagDate, TagRegex, TagVNode, TagRefVNode, TagBigInt, TagURLSearchParams:
		return c.decodeScalar(n)
	}
	if !n.tag.twoPhase() {
		return nil, fmt.Errorf("serial: %w: %s", ErrUnknownType, n.tag)
	}

	shell, err := c.allocate(n)
	if err != nil {
		return nil, err
	}
	c.memo[n] = shell
	c.stats.Allocated++
	if err := c.inflate(shell, n); err != nil {
		return nil, fmt.Errorf("inflating %s: %w", n.tag, err)
	}
	c.stats.Inflated++
	return shell, nil
}

func constantValue(k Constant) (any, error) {
	switch k {
	case ConstUndefined:
		return Undefined, nil
	case ConstNull:
		return nil, nil
	case ConstTrue:
		return true, nil
	case ConstFalse:
		return false, nil
	case ConstEmptyString:
		return "", nil
	case ConstEmptyArray:
		return EmptyArray, nil
	case ConstEmptyObject:
		return EmptyObject, nil
	case ConstNeedsComputation:
		return NeedsComputation, nil
	case ConstStoreArrayProp:
		return StoreArrayProp, nil
	case ConstSlot:
		return Slot, nil
	case ConstFragment:
		return Fragment, nil
	case ConstNaN:
		return math.NaN(), nil
	case ConstPositiveInfinity:
		return math.Inf(1), nil
	case ConstNegativeInfinity:
		return math.Inf(-1), nil
	case ConstMaxSafeInt:
		return float64(maxSafeInt), nil
	case ConstAlmostMaxSafeInt:
		return float64(almostMaxSafeInt), nil
	case ConstMinSafeInt:
		return float64(minSafeInt), nil
	}
	return nil, fmt.Errorf("serial: %w: constant %d", ErrUnknownType, uint8(k))
}

func (c *Container) decodeScalar(n *node) (any, error) {
	if n.tag == TagDate {
		switch x := n.value.(type) {
		case string:
			return time.Time{}, nil
		case float64:
			return time.UnixMilli(int64(x)).UTC(), nil
		}
		return nil, fmt.Errorf("serial: %w: date payload is %T", ErrCorruptData, n.value)
	}
	s, err := n.str()
	if err != nil {
		return nil, err
	}
	switch n.tag {
	case TagURL:
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("serial: %w: %v", ErrCorruptData, err)
		}
		return u, nil
	case TagRegex:
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("serial: %w: %v", ErrCorruptData, err)
		}
		return re, nil
	case TagBigInt:
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("serial: %w: bigint %q", ErrCorruptData, s)
		}
		return b, nil
	case TagURLSearchParams:
		q, err := url.ParseQuery(s)
		if err != nil {
			return nil, fmt.Errorf("serial: %w: %v", ErrCorruptData, err)
		}
		return q, nil
	case TagVNode:
		if c.doc != nil {
			return c.doc.LocateVNode(s)
		}
		return &DomRef{ID: s}, nil
	case TagRefVNode:
		if c.doc != nil {
			return c.doc.LocateElement(s)
		}
		return &ElementRef{ID: s}, nil
	}
	return nil, fmt.Errorf("serial: %w: %s", ErrUnknownType, n.tag)
}

// ---------------------------------------------------------------------------
// Allocate
// ---------------------------------------------------------------------------

// allocate returns an empty shell for n. Shells of signals start out as
// NeedsComputation.
func (c *Container) allocate(n *node) (any, error) {
	switch n.tag {
	case TagArray:
		return &Array{}, nil
	case TagError:
		return &Error{}, nil
	case TagObject:
		return NewObject(), nil
	case TagPromise:
		return NewPromise(), nil
	case TagSet:
		return &Set{}, nil
	case TagMap:
		return NewMap(), nil
	case TagUint8Array:
		s, err := n.str()
		if err != nil {
			return nil, err
		}
		b, err := base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("serial: %w: %v", ErrCorruptData, err)
		}
		return b, nil
	case TagQRL, TagPreloadQRL:
		s, err := n.str()
		if err != nil {
			return nil, err
		}
		q, err := parseQRL(s)
		if err != nil {
			return nil, err
		}
		q.Preload = n.tag == TagPreloadQRL
		q.container = c
		return q, nil
	case TagTask:
		return &Task{}, nil
	case TagResource:
		return &Resource{}, nil
	case TagComponent:
		return &Component{}, nil
	case TagSignal:
		return &Signal{Value: NeedsComputation}, nil
	case TagWrappedSignal:
		return &WrappedSignal{Value: NeedsComputation}, nil
	case TagComputedSignal:
		return &ComputedSignal{Value: NeedsComputation}, nil
	case TagSerializerSignal:
		return &SerializerSignal{Value: NeedsComputation}, nil
	case TagStore, TagStoreArray:
		return &Store{}, nil
	case TagFormData:
		return NewFormData(), nil
	case TagJSXNode:
		return &JSXNode{}, nil
	case TagPropsProxy:
		return &PropsBag{}, nil
	case TagEffectData:
		return &EffectData{}, nil
	}
	return nil, fmt.Errorf("serial: %w: cannot allocate %s", ErrUnknownType, n.tag)
}

// ---------------------------------------------------------------------------
// Inflate
// ---------------------------------------------------------------------------

// inflate fills shell from the payload of n.
func (c *Container) inflate(shell any, n *node) error {
	switch x := shell.(type) {
	case *Array:
		items, err := c.items(n, 0)
		if err != nil {
			return err
		}
		x.items = items
	case *Error:
		msg, err := c.stringAt(n, 0)
		if err != nil {
			return err
		}
		x.Message = msg
		if len(n.items) > 1 {
			x.Fields = NewObject()
			return c.eachPair(n, 1, func(k, v any) error {
				key, ok := k.(string)
				if !ok {
					return fmt.Errorf("serial: %w: error field key is %T", ErrCorruptData, k)
				}
				x.Fields.Set(key, v)
				return nil
			})
		}
	case *Object:
		if len(n.items)%2 != 0 {
			return fmt.Errorf("serial: %w: object payload has %d items", ErrCorruptData, len(n.items))
		}
		for i := 0; i < len(n.items); i += 2 {
			k, err := c.deserialize(n.items[i])
			if err != nil {
				return err
			}
			key, ok := k.(string)
			if !ok {
				return fmt.Errorf("serial: %w: object key is %T", ErrCorruptData, k)
			}
			vn := n.items[i+1]
			x.setCell(key, lazyCell(func() (any, error) { return c.deserialize(vn) }))
		}
	case *Promise:
		resolved, err := c.boolAt(n, 0)
		if err != nil {
			return err
		}
		v, err := c.deserialize(n.item(1))
		if err != nil {
			return err
		}
		if resolved {
			x.Resolve(v)
		} else {
			x.Reject(toError(v))
		}
	case *Set:
		items, err := c.items(n, 0)
		if err != nil {
			return err
		}
		x.items = items
	case *Map:
		return c.eachPair(n, 0, func(k, v any) error {
			x.keys = append(x.keys, k)
			x.vals = append(x.vals, v)
			return nil
		})
	case []byte, *QRL:
		// Fully built by allocate; QRL captures load on demand.
	case *Task:
		return c.inflateTask(x, n)
	case *Resource:
		resolved, err := c.boolAt(n, 0)
		if err != nil {
			return err
		}
		v, err := c.deserialize(n.item(1))
		if err != nil {
			return err
		}
		x.Resolved = resolved
		switch {
		case resolved:
			x.Value = v
		case v != nil && v != Undefined:
			// A pending resource carries no outcome.
			x.Err = toError(v)
		}
		x.Effects, err = c.effectsAt(n, 2)
		return err
	case *Component:
		q, err := c.qrlAt(n, 0)
		if err != nil {
			return err
		}
		x.QRL = q
	case *Signal:
		v, err := c.deserialize(n.item(0))
		if err != nil {
			return err
		}
		x.Value = v
		x.Effects, err = c.effectsAt(n, 1)
		return err
	case *WrappedSignal:
		return c.inflateWrapped(x, n)
	case *ComputedSignal:
		q, err := c.qrlAt(n, 0)
		if err != nil {
			return err
		}
		v, err := c.deserialize(n.item(1))
		if err != nil {
			return err
		}
		x.Compute, x.Value, x.Invalid = q, v, v == NeedsComputation
		x.Effects, err = c.effectsAt(n, 2)
		return err
	case *SerializerSignal:
		return c.inflateSerializer(x, n)
	case *Store:
		return c.inflateStore(x, n)
	case *FormData:
		return c.eachPair(n, 0, func(k, v any) error {
			name, ok1 := k.(string)
			value, ok2 := v.(string)
			if !ok1 || !ok2 {
				return fmt.Errorf("serial: %w: form entry %T=%T", ErrCorruptData, k, v)
			}
			x.Append(name, value)
			return nil
		})
	case *JSXNode:
		return c.inflateJSX(x, n)
	case *PropsBag:
		var err error
		if x.VarProps, err = c.objectAt(n, 0); err != nil {
			return err
		}
		x.ConstProps, err = c.objectAt(n, 1)
		return err
	case *EffectData:
		prefix, err := c.stringAt(n, 0)
		if err != nil {
			return err
		}
		isConst, err := c.boolAt(n, 1)
		if err != nil {
			return err
		}
		x.ScopedStyleIDPrefix, x.IsConst = prefix, isConst
	default:
		return fmt.Errorf("serial: %w: cannot inflate %s", ErrUnknownType, n.tag)
	}
	return nil
}

func (c *Container) inflateTask(x *Task, n *node) error {
	q, err := c.qrlAt(n, 0)
	if err != nil {
		return err
	}
	flags, err := c.intAt(n, 1)
	if err != nil {
		return err
	}
	index, err := c.intAt(n, 2)
	if err != nil {
		return err
	}
	host, err := c.deserialize(n.item(3))
	if err != nil {
		return err
	}
	state, err := c.deserialize(n.item(4))
	if err != nil {
		return err
	}
	x.QRL, x.Flags, x.Index, x.Host, x.State = q, flags, index, host, state
	return nil
}

func (c *Container) inflateWrapped(x *WrappedSignal, n *node) error {
	idx, err := c.intAt(n, 0)
	if err != nil {
		return err
	}
	args, err := c.deserialize(n.item(1))
	if err != nil {
		return err
	}
	host, err := c.deserialize(n.item(2))
	if err != nil {
		return err
	}
	v, err := c.deserialize(n.item(3))
	if err != nil {
		return err
	}
	x.FnIndex, x.Host, x.Value = idx, host, v
	if a, ok := args.(*Array); ok {
		x.Args = a.Items()
	}
	if fn, err := c.GetSyncFn(idx); err == nil {
		x.Func = fn
	}
	x.Effects, err = c.effectsAt(n, 4)
	return err
}

func (c *Container) inflateSerializer(x *SerializerSignal, n *node) error {
	q, err := c.qrlAt(n, 0)
	if err != nil {
		return err
	}
	data, err := c.deserialize(n.item(1))
	if err != nil {
		return err
	}
	x.Serializer, x.Data = q, data
	if x.Effects, err = c.effectsAt(n, 2); err != nil {
		return err
	}
	if q == nil {
		return nil
	}
	fn, err := q.Resolve(c.registry)
	if err != nil {
		// Resolved later by the application; the value stays pending.
		return nil
	}
	if hook, ok := fn.(CustomSerializer); ok {
		v, err := hook.Deserialize(data)
		if err != nil {
			return fmt.Errorf("serializer %s: %w", q, err)
		}
		x.Value = v
	}
	return nil
}

func (c *Container) inflateStore(x *Store, n *node) error {
	target := n.item(0)
	x.target = lazyCell(func() (any, error) { return c.deserialize(target) })
	flags, err := c.intAt(n, 1)
	if err != nil {
		return err
	}
	x.Flags = flags
	if len(n.items) <= 2 {
		return nil
	}
	x.Effects = make(map[string][]*EffectSubscription)
	for i := 2; i+1 < len(n.items); i += 2 {
		k, err := c.deserialize(n.items[i])
		if err != nil {
			return err
		}
		var prop string
		switch key := k.(type) {
		case string:
			prop = key
		case *Sentinel:
			prop = StoreArrayPropKey
		default:
			return fmt.Errorf("serial: %w: store effect key is %T", ErrCorruptData, k)
		}
		subs, err := c.effectsAt(n, i+1)
		if err != nil {
			return err
		}
		x.Effects[prop] = subs
	}
	return nil
}

func (c *Container) inflateJSX(x *JSXNode, n *node) error {
	typ, err := c.deserialize(n.item(0))
	if err != nil {
		return err
	}
	if x.VarProps, err = c.objectAt(n, 1); err != nil {
		return err
	}
	if x.ConstProps, err = c.objectAt(n, 2); err != nil {
		return err
	}
	if x.Children, err = c.deserialize(n.item(3)); err != nil {
		return err
	}
	key, err := c.deserialize(n.item(4))
	if err != nil {
		return err
	}
	x.Type = typ
	if s, ok := key.(string); ok {
		x.Key = s
	}
	return nil
}

// ---------------------------------------------------------------------------
// Payload accessors
// ---------------------------------------------------------------------------

func (c *Container) items(n *node, from int) ([]any, error) {
	if from >= len(n.items) {
		return nil, nil
	}
	out := make([]any, 0, len(n.items)-from)
	for _, item := range n.items[from:] {
		v, err := c.deserialize(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Container) eachPair(n *node, from int, fn func(k, v any) error) error {
	if (len(n.items)-from)%2 != 0 {
		return fmt.Errorf("serial: %w: %s payload has unpaired items", ErrCorruptData, n.tag)
	}
	for i := from; i < len(n.items); i += 2 {
		k, err := c.deserialize(n.items[i])
		if err != nil {
			return err
		}
		v, err := c.deserialize(n.items[i+1])
		if err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) stringAt(n *node, i int) (string, error) {
	v, err := c.deserialize(n.item(i))
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case nil, undefinedValue:
		return "", nil
	}
	return "", fmt.Errorf("serial: %w: %s item %d is %T, want string", ErrCorruptData, n.tag, i, v)
}

func (c *Container) boolAt(n *node, i int) (bool, error) {
	v, err := c.deserialize(n.item(i))
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("serial: %w: %s item %d is %T, want bool", ErrCorruptData, n.tag, i, v)
	}
	return b, nil
}

func (c *Container) intAt(n *node, i int) (int, error) {
	v, err := c.deserialize(n.item(i))
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("serial: %w: %s item %d is %T, want number", ErrCorruptData, n.tag, i, v)
	}
	return int(f), nil
}

func (c *Container) qrlAt(n *node, i int) (*QRL, error) {
	v, err := c.deserialize(n.item(i))
	if err != nil {
		return nil, err
	}
	switch q := v.(type) {
	case *QRL:
		return q, nil
	case nil, undefinedValue:
		return nil, nil
	}
	return nil, fmt.Errorf("serial: %w: %s item %d is %T, want QRL", ErrCorruptData, n.tag, i, v)
}

func (c *Container) objectAt(n *node, i int) (*Object, error) {
	v, err := c.deserialize(n.item(i))
	if err != nil {
		return nil, err
	}
	switch o := v.(type) {
	case *Object:
		return o, nil
	case nil, undefinedValue:
		return nil, nil
	}
	return nil, fmt.Errorf("serial: %w: %s item %d is %T, want object", ErrCorruptData, n.tag, i, v)
}

// effectsAt decodes a list of [consumer, property, data] triples.
func (c *Container) effectsAt(n *node, i int) ([]*EffectSubscription, error) {
	v, err := c.deserialize(n.item(i))
	if err != nil {
		return nil, err
	}
	list, ok := v.(*Array)
	if !ok {
		return nil, nil
	}
	subs := make([]*EffectSubscription, 0, list.Len())
	for _, item := range list.items {
		triple, ok := item.(*Array)
		if !ok || triple.Len() != 3 {
			return nil, fmt.Errorf("serial: %w: malformed effect subscription", ErrCorruptData)
		}
		sub := &EffectSubscription{Consumer: triple.items[0]}
		sub.Property, _ = triple.items[1].(string)
		sub.Data, _ = triple.items[2].(*EffectData)
		subs = append(subs, sub)
	}
	return subs, nil
}

func toError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return &Error{Message: fmt.Sprint(v)}
}
