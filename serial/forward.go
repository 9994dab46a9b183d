package serial

import (
	"context"
	"fmt"
)

// classifyFunc builds the root a settled promise contributes. value and err
// are the promise outcome.
type classifyFunc func(value any, err error) (any, error)

type settlement struct {
	id       int
	promise  *Promise
	classify classifyFunc
}

// forwardState tracks promises the encoder is waiting for. Watcher
// goroutines only report settlement; the serializing goroutine runs the
// classifiers and mutates the context.
type forwardState struct {
	ids     map[any]int
	refs    []int
	pending int
	settled chan settlement
	stop    chan struct{}
}

func newForwardState() forwardState {
	return forwardState{
		ids:     make(map[any]int),
		settled: make(chan settlement),
		stop:    make(chan struct{}),
	}
}

func (f *forwardState) close() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
}

// resolvePromise returns the forward id for key, registering p on first use.
// The id is patched to a root index once p settles.
func (s *SerializationContext) resolvePromise(key any, p *Promise, classify classifyFunc) int {
	f := &s.forward
	if id, ok := f.ids[key]; ok {
		return id
	}
	id := len(f.refs)
	f.ids[key] = id
	f.refs = append(f.refs, -1)
	f.pending++

	st := settlement{id: id, promise: p, classify: classify}
	go func() {
		select {
		case <-p.Done():
		case <-f.stop:
			return
		}
		select {
		case f.settled <- st:
		case <-f.stop:
		}
	}()
	return id
}

// awaitSettlement blocks until at least one pending promise settles, then
// settles every other promise already waiting.
func (s *SerializationContext) awaitSettlement(ctx context.Context) error {
	select {
	case st := <-s.forward.settled:
		if err := s.settle(st); err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("serial: waiting for %d forward references: %w", s.forward.pending, ctx.Err())
	}
	for {
		select {
		case st := <-s.forward.settled:
			if err := s.settle(st); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *SerializationContext) settle(st settlement) error {
	value, err := st.promise.result()
	root, cerr := st.classify(value, err)
	if cerr != nil {
		return cerr
	}
	idx := s.AddRoot(root, nil)
	s.forward.refs[st.id] = idx
	s.forward.pending--
	s.opts.Logger.Debugf("forward reference %d settled as root %d", st.id, idx)
	return nil
}

// ---------------------------------------------------------------------------
// Classifiers
// ---------------------------------------------------------------------------

// classifyPromise keeps both outcomes; a rejected promise round-trips as
// rejected.
func classifyPromise(value any, err error) (any, error) {
	if err != nil {
		return &promiseResult{resolved: false, value: err}, nil
	}
	return &promiseResult{resolved: true, value: value}, nil
}

// classifyResource snapshots r with its settled outcome.
func classifyResource(r *Resource) classifyFunc {
	return func(value any, err error) (any, error) {
		return &Resource{
			Effects:  r.Effects,
			Resolved: err == nil,
			Value:    value,
			Err:      err,
		}, nil
	}
}

// classifyComputed writes the computed value, or asks the resuming side to
// recompute it when the computation failed.
func classifyComputed(value any, err error) (any, error) {
	if err != nil {
		return NeedsComputation, nil
	}
	return value, nil
}

// classifyCustom has no rejected form; a failed hook aborts serialization.
func classifyCustom(value any, err error) (any, error) {
	if err != nil {
		return nil, fmt.Errorf("serial: %w: %v", ErrSerializerRejected, err)
	}
	return value, nil
}
