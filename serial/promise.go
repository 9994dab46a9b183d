package serial

import (
	"context"
	"sync"
)

// Promise is a value that settles once, either resolved with a value or
// rejected with an error. The zero value is a usable pending promise.
type Promise struct {
	once  sync.Once
	init  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewPromise creates a pending promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved creates a promise already resolved with v.
func Resolved(v any) *Promise {
	p := NewPromise()
	p.Resolve(v)
	return p
}

// Rejected creates a promise already rejected with err.
func Rejected(err error) *Promise {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Resolve settles the promise with v. Later calls have no effect.
func (p *Promise) Resolve(v any) {
	p.once.Do(func() {
		p.value = v
		close(p.ch())
	})
}

// Reject settles the promise with err. Later calls have no effect.
func (p *Promise) Reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.ch())
	})
}

// ch returns the settlement channel, creating it for a zero Promise.
func (p *Promise) ch() chan struct{} {
	p.init.Do(func() {
		if p.done == nil {
			p.done = make(chan struct{})
		}
	})
	return p.done
}

// Done is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.ch()
}

// Settled reports whether the promise has settled.
func (p *Promise) Settled() bool {
	select {
	case <-p.ch():
		return true
	default:
		return false
	}
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.ch():
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// result returns the outcome of a settled promise.
func (p *Promise) result() (any, error) {
	<-p.ch()
	return p.value, p.err
}
