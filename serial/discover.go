package serial

// discoverRoot walks root i before it is written. Values reached from two
// places in the batch are promoted to roots so every later occurrence is a
// RootRef.
func (s *SerializationContext) discoverRoot(i int) error {
	v := s.roots[i]
	if trackable(v) {
		e := s.seen[v]
		if e.RootIndex != i || e.expanded {
			return nil
		}
		e.expanded = true
	}
	s.pos = append(s.pos[:0], i)
	return s.discoverChildren(v, v)
}

// discover records the first sighting of v at (parent, index) and promotes
// it on the second. Values written inline by an earlier batch are left alone;
// they are addressed by path.
func (s *SerializationContext) discover(v any, parent any, index int) error {
	if err := s.enter(index); err != nil {
		return err
	}
	defer s.leave()

	v, err := s.normalize(v)
	if err != nil {
		return s.withPosition(err)
	}
	if _, ok := constantOf(v); ok {
		return nil
	}
	if _, ok := v.(forwardItem); ok {
		return nil
	}
	owner := parent
	if trackable(v) {
		if e, ok := s.seen[v]; ok {
			if e.RootIndex < 0 && !s.isWritten(v) {
				s.promote(v, e)
			}
			return nil
		}
		s.seen[v] = &SeenEntry{Parent: parent, Index: index, RootIndex: -1, expanded: true}
		owner = v
	}
	return s.discoverChildren(v, owner)
}

func (s *SerializationContext) discoverChildren(v any, owner any) error {
	p, err := s.describe(v)
	if err != nil {
		return err
	}
	for j, child := range p.items {
		if err := s.discover(child, owner, j); err != nil {
			return err
		}
	}
	return nil
}

// discoverPending walks every root appended since the last call, including
// the ones promoted while walking.
func (s *SerializationContext) discoverPending() error {
	for s.discovered < len(s.roots) {
		if err := s.discoverRoot(s.discovered); err != nil {
			return err
		}
		s.discovered++
	}
	s.pos = s.pos[:0]
	return nil
}

func (s *SerializationContext) withPosition(err error) error {
	if ue, ok := err.(*UnsupportedTypeError); ok && ue.Path == "" {
		ue.Path = s.describePosition()
	}
	return err
}
