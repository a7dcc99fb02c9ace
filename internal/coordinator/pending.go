package coordinator

import (
	"context"
	"sync"
)

type Status int

const (
	StatusPending Status = iota
	StatusResolved
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Pending tracks one submitted mutation until the remote side answers.
type Pending[S any] struct {
	done chan struct{}

	mu     sync.Mutex
	status Status
	state  S
	err    error
}

func newPending[S any]() *Pending[S] {
	return &Pending[S]{done: make(chan struct{})}
}

// Done is closed once the mutation is resolved or failed.
func (p *Pending[S]) Done() <-chan struct{} {
	return p.done
}

func (p *Pending[S]) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Result returns the authoritative state or the failure. Before Done is
// closed it returns the zero state and a nil error.
func (p *Pending[S]) Result() (S, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.err
}

// Wait blocks until the mutation settles or ctx ends. Cancelling ctx
// stops the wait only; the mutation keeps running.
func (p *Pending[S]) Wait(ctx context.Context) (S, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		var zero S
		return zero, ctx.Err()
	}
}

func (p *Pending[S]) resolve(state S) {
	p.mu.Lock()
	p.status = StatusResolved
	p.state = state
	p.mu.Unlock()
	close(p.done)
}

func (p *Pending[S]) fail(err error) {
	p.mu.Lock()
	p.status = StatusFailed
	p.err = err
	p.mu.Unlock()
	close(p.done)
}
