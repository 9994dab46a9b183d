package serial

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// node is one parsed tag/payload pair. List payloads hold their items as
// nodes; scalar payloads keep the JSON number or string in value.
type node struct {
	tag   TypeTag
	value any
	items []*node
	list  bool
}

// parsedState holds one node per root slot plus the forward reference
// table.
type parsedState struct {
	roots   []*node
	forward []int
}

// parseState splits state text into root slots. Payloads are parsed but
// nothing is materialized.
func parseState(text string) (*parsedState, error) {
	var raw []any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("serial: %w: %v", ErrCorruptData, err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("serial: %w: odd number of state slots (%d)", ErrCorruptData, len(raw))
	}
	ps := &parsedState{}
	for i := 0; i < len(raw); i += 2 {
		tag, err := parseTag(raw[i])
		if err != nil {
			return nil, err
		}
		if tag == TagForwardRefs {
			if i != len(raw)-2 {
				return nil, fmt.Errorf("serial: %w: forward reference table is not last", ErrCorruptData)
			}
			if ps.forward, err = parseForwardRefs(raw[i+1]); err != nil {
				return nil, err
			}
			break
		}
		n, err := buildNode(tag, raw[i+1])
		if err != nil {
			return nil, fmt.Errorf("root %d: %w", i/2, err)
		}
		ps.roots = append(ps.roots, n)
	}
	return ps, nil
}

func parseTag(v any) (TypeTag, error) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || f < 0 || f > math.MaxUint8 {
		return 0, fmt.Errorf("serial: %w: bad tag %v", ErrCorruptData, v)
	}
	tag := TypeTag(f)
	if !tag.Valid() {
		return 0, fmt.Errorf("serial: %w: %d", ErrUnknownType, uint8(tag))
	}
	return tag, nil
}

func parseForwardRefs(v any) ([]int, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("serial: %w: forward reference table is %T", ErrCorruptData, v)
	}
	refs := make([]int, len(list))
	for i, x := range list {
		f, ok := x.(float64)
		if !ok {
			return nil, fmt.Errorf("serial: %w: forward reference %d is %T", ErrCorruptData, i, x)
		}
		refs[i] = int(f)
	}
	return refs, nil
}

func buildNode(tag TypeTag, payload any) (*node, error) {
	n := &node{tag: tag}
	switch p := payload.(type) {
	case []any:
		if len(p)%2 != 0 {
			return nil, fmt.Errorf("serial: %w: %s payload has %d slots", ErrCorruptData, tag, len(p))
		}
		n.list = true
		n.items = make([]*node, 0, len(p)/2)
		for i := 0; i < len(p); i += 2 {
			itemTag, err := parseTag(p[i])
			if err != nil {
				return nil, err
			}
			item, err := buildNode(itemTag, p[i+1])
			if err != nil {
				return nil, err
			}
			n.items = append(n.items, item)
		}
	case float64, string:
		n.value = p
	default:
		return nil, fmt.Errorf("serial: %w: %s payload is %T", ErrCorruptData, tag, payload)
	}
	return n, nil
}

func (n *node) number() (float64, error) {
	f, ok := n.value.(float64)
	if !ok {
		return 0, fmt.Errorf("serial: %w: %s payload is not a number", ErrCorruptData, n.tag)
	}
	return f, nil
}

func (n *node) str() (string, error) {
	s, ok := n.value.(string)
	if !ok {
		return "", fmt.Errorf("serial: %w: %s payload is not a string", ErrCorruptData, n.tag)
	}
	return s, nil
}

// item returns payload item i, or nil when the payload is shorter.
func (n *node) item(i int) *node {
	if i < len(n.items) {
		return n.items[i]
	}
	return nil
}
