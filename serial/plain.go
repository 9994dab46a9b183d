package serial

import (
	"fmt"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"time"

	"github.com/goccy/go-json"
)

// Plain converts a decoded value into JSON-compatible Go values, reading
// every lazy property. Cycles render as "[circular]".
func Plain(v any) (any, error) {
	return plain(v, make(map[any]bool))
}

func plain(v any, active map[any]bool) (any, error) {
	v = normalizeBasic(v)
	if trackable(v) {
		if _, isString := v.(string); !isString {
			if active[v] {
				return "[circular]", nil
			}
			active[v] = true
			defer delete(active, v)
		}
	}
	switch x := v.(type) {
	case nil, undefinedValue:
		return nil, nil
	case bool, string:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Sprint(x), nil
		}
		return x, nil
	case *Object:
		out := make(map[string]any, x.Len())
		for _, k := range x.keys {
			pv, err := x.Get(k)
			if err != nil {
				return nil, err
			}
			if out[k], err = plain(pv, active); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *Array:
		return plainList(x.items, active)
	case *Set:
		return plainList(x.items, active)
	case *Map:
		out := make([]any, len(x.keys))
		for i := range x.keys {
			pair, err := plainList([]any{x.keys[i], x.vals[i]}, active)
			if err != nil {
				return nil, err
			}
			out[i] = pair
		}
		return out, nil
	case *Promise:
		if !x.Settled() {
			return "[pending]", nil
		}
		value, err := x.result()
		if err != nil {
			return map[string]any{"rejected": err.Error()}, nil
		}
		return plain(value, active)
	case *Store:
		t, err := x.Target()
		if err != nil {
			return nil, err
		}
		return plain(t, active)
	case *Signal:
		return plain(x.Value, active)
	case *ComputedSignal:
		return plain(x.Value, active)
	case *WrappedSignal:
		return plain(x.Get(), active)
	case *SerializerSignal:
		return plain(x.Data, active)
	case *Resource:
		if !x.Resolved {
			if x.Err != nil {
				return map[string]any{"rejected": x.Err.Error()}, nil
			}
			return nil, nil
		}
		return plain(x.Value, active)
	case time.Time:
		if x.IsZero() {
			return nil, nil
		}
		return x.Format(time.RFC3339Nano), nil
	case *url.URL, *regexp.Regexp, *big.Int, *QRL, *Component, *Sentinel:
		return fmt.Sprint(x), nil
	case url.Values:
		return x.Encode(), nil
	case []byte:
		return x, nil
	case error:
		return map[string]any{"error": x.Error()}, nil
	}
	return fmt.Sprintf("[%T]", v), nil
}

func plainList(items []any, active map[any]bool) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		pv, err := plain(item, active)
		if err != nil {
			return nil, err
		}
		out[i] = pv
	}
	return out, nil
}

// FromJSON decodes a JSON document into serializable values: objects become
// *Object with sorted keys, arrays *Array.
func FromJSON(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return fromJSON(raw), nil
}

func fromJSON(v any) any {
	switch x := v.(type) {
	case map[string]any:
		o := NewObject()
		for _, k := range sortedKeys(x) {
			o.Set(k, fromJSON(x[k]))
		}
		return o
	case []any:
		a := &Array{items: make([]any, len(x))}
		for i, item := range x {
			a.items[i] = fromJSON(item)
		}
		return a
	}
	return v
}
