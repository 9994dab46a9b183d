package serial

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"time"
)

// payload is the tag and contents a value encodes to. A list payload is a
// JSON array of tag/value pairs, one per item; otherwise scalar is an int,
// a float64 or a string.
type payload struct {
	tag    TypeTag
	scalar any
	items  []any
	list   bool
}

func scalarPayload(tag TypeTag, v any) payload {
	return payload{tag: tag, scalar: v}
}

func listPayload(tag TypeTag, items ...any) payload {
	return payload{tag: tag, items: items, list: true}
}

// forwardItem stands in for a value that is known only once a promise
// settles.
type forwardItem struct {
	id int
}

// promiseResult is the settled form of a plain promise.
type promiseResult struct {
	resolved bool
	value    any
}

// describe maps v to its payload. Discovery and writing both call it, so any
// side effect (captures, forward ids, inline function slots) is memoized.
func (s *SerializationContext) describe(v any) (payload, error) {
	switch x := v.(type) {
	case forwardItem:
		return scalarPayload(TagForwardRef, x.id), nil
	case float64:
		return scalarPayload(TagNumber, x), nil
	case string:
		return scalarPayload(TagString, x), nil
	case *big.Int:
		return scalarPayload(TagBigInt, x.String()), nil

	case *Array:
		return listPayload(TagArray, x.items...), nil
	case []any:
		return listPayload(TagArray, x...), nil
	case tuple:
		return listPayload(TagArray, x...), nil
	case *Object:
		items := make([]any, 0, 2*len(x.keys))
		for _, k := range x.keys {
			pv, err := x.props[k].get()
			if err != nil {
				return payload{}, fmt.Errorf("serial: reading property %q: %w", k, err)
			}
			items = append(items, k, pv)
		}
		return listPayload(TagObject, items...), nil
	case map[string]any:
		items := make([]any, 0, 2*len(x))
		for _, k := range sortedKeys(x) {
			items = append(items, k, x[k])
		}
		return listPayload(TagObject, items...), nil

	case *PropsBag:
		return listPayload(TagPropsProxy, x.VarProps, x.ConstProps), nil
	case *EffectData:
		return listPayload(TagEffectData, x.ScopedStyleIDPrefix, x.IsConst), nil
	case *EffectSubscription:
		return listPayload(TagArray, x.Consumer, x.Property, x.Data), nil
	case *Store:
		return s.describeStore(x)
	case *SerializerSignal:
		return s.describeSerializerSignal(x)

	case *DomRef:
		return scalarPayload(TagVNode, x.ID), nil
	case *ElementRef:
		return scalarPayload(TagRefVNode, x.ID), nil

	case *Signal:
		return listPayload(TagSignal, x.Value, effectItems(x.Effects)), nil
	case *WrappedSignal:
		idx := x.FnIndex
		if x.Func != nil {
			idx = s.syncFnIndex(x.Func)
		}
		return listPayload(TagWrappedSignal, idx, x.Args, x.Host, x.Value, effectItems(x.Effects)), nil
	case *ComputedSignal:
		var value any = x.Value
		if x.Invalid {
			value = NeedsComputation
		} else if p, ok := x.Value.(*Promise); ok && p != nil {
			value = forwardItem{id: s.resolvePromise(x, p, classifyComputed)}
		}
		return listPayload(TagComputedSignal, x.Compute, value, effectItems(x.Effects)), nil

	case *url.URL:
		return scalarPayload(TagURL, x.String()), nil
	case time.Time:
		if x.IsZero() {
			return scalarPayload(TagDate, ""), nil
		}
		return scalarPayload(TagDate, float64(x.UnixMilli())), nil
	case *regexp.Regexp:
		return scalarPayload(TagRegex, x.String()), nil
	case *Error:
		items := []any{x.Message}
		if x.Fields != nil {
			for _, k := range x.Fields.keys {
				fv, err := x.Fields.props[k].get()
				if err != nil {
					return payload{}, fmt.Errorf("serial: reading error field %q: %w", k, err)
				}
				items = append(items, k, fv)
			}
		}
		return listPayload(TagError, items...), nil
	case *FormData:
		items := make([]any, 0, 2*len(x.entries))
		for _, e := range x.entries {
			items = append(items, e.Name, e.Value)
		}
		return listPayload(TagFormData, items...), nil
	case url.Values:
		return scalarPayload(TagURLSearchParams, x.Encode()), nil
	case *Set:
		return listPayload(TagSet, x.items...), nil
	case *Map:
		items := make([]any, 0, 2*len(x.keys))
		for i := range x.keys {
			items = append(items, x.keys[i], x.vals[i])
		}
		return listPayload(TagMap, items...), nil
	case *JSXNode:
		var key any = x.Key
		if x.Key == "" {
			key = nil
		}
		return listPayload(TagJSXNode, x.Type, x.VarProps, x.ConstProps, x.Children, key), nil
	case *Task:
		return listPayload(TagTask, x.QRL, x.Flags, x.Index, x.Host, x.State), nil
	case *Promise:
		return scalarPayload(TagForwardRef, s.resolvePromise(x, x, classifyPromise)), nil
	case *promiseResult:
		return listPayload(TagPromise, x.resolved, x.value), nil
	case *Resource:
		if x.Promise != nil {
			return scalarPayload(TagForwardRef, s.resolvePromise(x, x.Promise, classifyResource(x))), nil
		}
		var value any
		switch {
		case x.Resolved:
			value = x.Value
		case x.Err != nil:
			value = x.Err
		}
		return listPayload(TagResource, x.Resolved, value, effectItems(x.Effects)), nil
	case []byte:
		return scalarPayload(TagUint8Array, base64.RawStdEncoding.EncodeToString(x)), nil
	case *QRL:
		return s.describeQRL(x)
	case *Component:
		return listPayload(TagComponent, x.QRL), nil
	case error:
		return listPayload(TagError, x.Error()), nil
	}
	return s.describeReflect(v)
}

// describeReflect covers generic slices and string-keyed maps, and rejects
// everything else.
func (s *SerializationContext) describeReflect(v any) (payload, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return listPayload(TagArray, items...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		items := make([]any, 0, 2*len(keys))
		for _, k := range keys {
			items = append(items, k, rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
		}
		return listPayload(TagObject, items...), nil
	case reflect.Func:
		return payload{}, s.unsupported(v, "functions must be referenced through a QRL")
	}
	return payload{}, s.unsupported(v, "")
}

func (s *SerializationContext) unsupported(v any, reason string) error {
	return &UnsupportedTypeError{Type: typeName(v), Path: s.describePosition(), Reason: reason}
}

// tuple is a list built by the encoder itself. It has no identity and is
// always written inline.
type tuple []any

// effectItems lists subscriptions as [consumer, property, data] triples.
func effectItems(effects []*EffectSubscription) any {
	if effects == nil {
		return nil
	}
	items := make(tuple, len(effects))
	for i, e := range effects {
		items[i] = tuple{e.Consumer, e.Property, e.Data}
	}
	return items
}

func (s *SerializationContext) describeStore(x *Store) (payload, error) {
	target, err := x.Target()
	if err != nil {
		return payload{}, fmt.Errorf("serial: reading store target: %w", err)
	}
	tag := TagStore
	if _, ok := target.(*Array); ok {
		tag = TagStoreArray
	}
	items := []any{target, x.Flags}
	for _, prop := range sortedKeys(x.Effects) {
		var key any = prop
		if prop == StoreArrayPropKey {
			key = StoreArrayProp
		}
		items = append(items, key, effectItems(x.Effects[prop]))
	}
	return listPayload(tag, items...), nil
}

func (s *SerializationContext) describeSerializerSignal(x *SerializerSignal) (payload, error) {
	data, ok := s.replaced[x]
	if !ok {
		hook, err := s.serializerHook(x)
		switch {
		case err == nil:
			data = hook.Serialize(x.Value)
			if p, ok := data.(*Promise); ok && p != nil {
				data = forwardItem{id: s.resolvePromise(x, p, classifyCustom)}
			}
		case x.Data != nil:
			data = x.Data
		default:
			return payload{}, err
		}
		s.replaced[x] = data
	}
	return listPayload(TagSerializerSignal, x.Serializer, data, effectItems(x.Effects)), nil
}

func (s *SerializationContext) serializerHook(x *SerializerSignal) (CustomSerializer, error) {
	if x.Serializer == nil {
		return nil, s.unsupported(x, "serializer signal without a serializer QRL")
	}
	fn, err := x.Serializer.Resolve(s.opts.Registry)
	if err != nil {
		return nil, err
	}
	hook, ok := fn.(CustomSerializer)
	if !ok {
		return nil, s.unsupported(fn, "serializer QRL does not resolve to a CustomSerializer")
	}
	return hook, nil
}

// describeQRL resolves the chunk and turns every capture into a root.
func (s *SerializationContext) describeQRL(q *QRL) (payload, error) {
	if err := checkQRLText(q.Symbol); err != nil {
		return payload{}, s.unsupported(q, err.Error())
	}
	tag := TagQRL
	if q.Preload {
		tag = TagPreloadQRL
	}
	ids, ok := s.captureIDs[q]
	if !ok {
		captures, err := q.CaptureValues()
		if err != nil {
			return payload{}, err
		}
		ids = make([]int, len(captures))
		for i, c := range captures {
			ids[i] = s.AddRoot(c, q)
		}
		s.captureIDs[q] = ids
		if q.fn != nil && s.opts.Registry != nil {
			s.opts.Registry.Register(q.Symbol, q.fn)
		}
	}
	chunk := q.Chunk
	if chunk == "" {
		if s.opts.ChunkResolver == nil {
			return payload{}, fmt.Errorf("serial: %w: %s", ErrUnresolvedChunk, q.Symbol)
		}
		var err error
		if chunk, err = s.opts.ChunkResolver(q.Symbol); err != nil {
			return payload{}, fmt.Errorf("serial: QRL %s: %w", q.Symbol, err)
		}
	}
	return scalarPayload(tag, formatQRL(chunk, q.Symbol, ids)), nil
}
