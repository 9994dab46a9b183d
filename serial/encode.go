package serial

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Encode writes every root, waiting for forward references to settle, and
// returns the state text. It must be called once per context.
func (s *SerializationContext) Encode(ctx context.Context) (*Result, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	defer s.forward.close()

	s.out.WriteByte('[')
	for {
		if err := s.flush(); err != nil {
			return nil, err
		}
		if s.forward.pending == 0 {
			break
		}
		s.opts.Logger.Debugf("waiting for %d forward references", s.forward.pending)
		if err := s.awaitSettlement(ctx); err != nil {
			return nil, err
		}
	}
	if len(s.forward.refs) > 0 {
		s.separate()
		s.writeTag(TagForwardRefs)
		s.out.WriteByte('[')
		for i, idx := range s.forward.refs {
			if i > 0 {
				s.out.WriteByte(',')
			}
			s.out.WriteString(strconv.Itoa(idx))
		}
		s.out.WriteByte(']')
	}
	s.out.WriteByte(']')

	s.opts.Logger.Debugf("encoded %d roots, %d forward references, %d bytes",
		len(s.roots), len(s.forward.refs), s.out.Len())
	return &Result{
		State:       s.out.String(),
		SyncFns:     append([]*SyncFunc(nil), s.syncFns...),
		Roots:       len(s.roots),
		ForwardRefs: len(s.forward.refs),
	}, nil
}

// flush discovers and writes every root appended since the last flush.
func (s *SerializationContext) flush() error {
	for s.written < len(s.roots) {
		if err := s.discoverPending(); err != nil {
			return err
		}
		start := s.written
		for s.written < s.discovered {
			if err := s.writeRoot(s.written); err != nil {
				return err
			}
			s.written++
		}
		s.opts.Logger.Debugf("wrote roots %d..%d", start, s.written-1)
	}
	return nil
}

func (s *SerializationContext) separate() {
	if s.out.Len() > 1 {
		s.out.WriteByte(',')
	}
}

// writeRoot writes the slot of root i. A slot whose value is owned by another
// root, or was written inline by an earlier batch, holds a back-reference.
func (s *SerializationContext) writeRoot(i int) error {
	s.separate()
	s.pos = append(s.pos[:0], i)
	defer func() { s.pos = s.pos[:0] }()

	v := s.roots[i]
	if trackable(v) {
		e := s.seen[v]
		if e.RootIndex != i {
			if e.RootIndex >= 0 {
				s.writeRootRef(e.RootIndex)
				return nil
			}
			if path := s.paths[v]; path != "" {
				s.writeRootPath(path)
				return nil
			}
		}
	}
	return s.writeDefinition(v)
}

// writeValue writes v at the current position: a constant, a back-reference,
// or its full payload.
func (s *SerializationContext) writeValue(v any) error {
	v, err := s.normalize(v)
	if err != nil {
		return s.withPosition(err)
	}
	if trackable(v) {
		if e, ok := s.seen[v]; ok && e.RootIndex >= 0 {
			s.writeRootRef(e.RootIndex)
			return nil
		}
		if path, ok := s.paths[v]; ok && path != "" {
			s.writeRootPath(path)
			return nil
		}
		if _, isString := v.(string); isString {
			s.paths[v] = ""
		} else {
			s.paths[v] = s.pathString()
		}
	}
	return s.writeDefinition(v)
}

func (s *SerializationContext) writeDefinition(v any) error {
	if c, ok := constantOf(v); ok {
		s.writeTag(TagConstant)
		s.out.WriteString(strconv.Itoa(int(c)))
		return nil
	}
	p, err := s.describe(v)
	if err != nil {
		return s.withPosition(err)
	}
	s.writeTag(p.tag)
	if !p.list {
		return s.writeScalar(p.scalar)
	}
	s.out.WriteByte('[')
	for j, item := range p.items {
		if j > 0 {
			s.out.WriteByte(',')
		}
		if err := s.enter(j); err != nil {
			return err
		}
		err := s.writeValue(item)
		s.leave()
		if err != nil {
			return err
		}
	}
	s.out.WriteByte(']')
	return nil
}

func (s *SerializationContext) writeTag(t TypeTag) {
	s.out.WriteString(strconv.Itoa(int(t)))
	s.out.WriteByte(',')
}

func (s *SerializationContext) writeRootRef(idx int) {
	s.writeTag(TagRootRef)
	s.out.WriteString(strconv.Itoa(idx))
}

func (s *SerializationContext) writeRootPath(path string) {
	s.writeTag(TagRootRef)
	s.out.WriteString(quoteString(path))
}

func (s *SerializationContext) writeScalar(v any) error {
	switch x := v.(type) {
	case int:
		s.out.WriteString(strconv.Itoa(x))
	case float64:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Errorf("serial: encoding number %v: %w", x, err)
		}
		s.out.Write(b)
	case string:
		s.out.WriteString(quoteString(x))
	default:
		return fmt.Errorf("serial: %w: scalar payload of type %T", ErrCorruptData, v)
	}
	return nil
}

// quoteString renders s as a JSON string that cannot close an enclosing
// script element.
func quoteString(s string) string {
	b, err := json.MarshalNoEscape(s)
	if err != nil {
		b = []byte(strconv.Quote(s))
	}
	return strings.ReplaceAll(string(b), "</", `<\/`)
}
