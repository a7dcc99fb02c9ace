// Package coordinator applies mutations optimistically: the local state
// moves to the tentative next state at once, the event goes to the remote
// API, and the authoritative answer (or the pre-mutation snapshot on
// failure) replaces it.
//
// Mutations on one entity run strictly one after another in submission
// order. Mutations on different entities run concurrently.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"site-decisions/internal/workflow"
)

var ErrNotLoaded = errors.New("entity not loaded")

const defaultFetchTimeout = 10 * time.Second

type Config[S any, E any] struct {
	// Transition computes the tentative state. It must not block.
	Transition func(state S, event E) (S, error)
	// Dispatch delivers the event and returns the authoritative state.
	Dispatch func(ctx context.Context, id string, event E) (S, error)
	// Fetch reloads the authoritative state after a non-transient failure.
	// Optional.
	Fetch func(ctx context.Context, id string) (S, error)
	// Clone deep-copies a state. Required when S holds slices or pointers.
	Clone func(S) S
	// Timeout bounds each dispatch. Zero means no limit.
	Timeout time.Duration
	// OnRollback is called after a failed mutation was rolled back.
	OnRollback func(id string, err error)
	Logger     *slog.Logger
}

type Coordinator[S any, E any] struct {
	cfg    Config[S, E]
	logger *slog.Logger

	mu       sync.Mutex
	entities map[string]*entity[S, E]
	nextSub  int
}

type entity[S any, E any] struct {
	observed S
	loaded   bool
	busy     bool
	queue    []*op[S, E]
	// Authoritative state handed to Load while a mutation was in flight.
	deferred *S
	subs     map[int]func(S)
}

type op[S any, E any] struct {
	ctx      context.Context
	event    E
	snapshot S
	pending  *Pending[S]
}

func New[S any, E any](cfg Config[S, E]) *Coordinator[S, E] {
	if cfg.Clone == nil {
		cfg.Clone = func(s S) S { return s }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.With("component", "coordinator")
	}
	return &Coordinator[S, E]{
		cfg:      cfg,
		logger:   logger,
		entities: make(map[string]*entity[S, E]),
	}
}

func (c *Coordinator[S, E]) entity(id string) *entity[S, E] {
	ent, ok := c.entities[id]
	if !ok {
		ent = &entity[S, E]{subs: make(map[int]func(S))}
		c.entities[id] = ent
	}
	return ent
}

// Load installs authoritative state for id. While a mutation is in flight
// the state is held back. It is adopted only if that mutation fails; the
// server answer of a successful mutation supersedes it.
func (c *Coordinator[S, E]) Load(id string, state S) {
	c.mu.Lock()
	ent := c.entity(id)
	if ent.busy {
		s := c.cfg.Clone(state)
		ent.deferred = &s
		c.mu.Unlock()
		return
	}
	ent.observed = c.cfg.Clone(state)
	ent.loaded = true
	subs := subscribers(ent)
	observed := ent.observed
	c.mu.Unlock()

	c.publish(subs, observed)
}

// Observe returns the locally observed state of id.
func (c *Coordinator[S, E]) Observe(id string) (S, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entities[id]
	if !ok || !ent.loaded {
		var zero S
		return zero, false
	}
	return c.cfg.Clone(ent.observed), true
}

// Subscribe registers fn for every change of the observed state of id.
// fn runs outside the coordinator lock and receives its own copy.
func (c *Coordinator[S, E]) Subscribe(id string, fn func(S)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent := c.entity(id)
	key := c.nextSub
	c.nextSub++
	ent.subs[key] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(ent.subs, key)
	}
}

// Submit starts an optimistic mutation. On an idle entity the transition
// is evaluated immediately and a legality error is returned without any
// local change. On a busy entity the event is queued and any legality
// error is delivered through the returned Pending.
func (c *Coordinator[S, E]) Submit(ctx context.Context, id string, event E) (*Pending[S], error) {
	c.mu.Lock()
	ent, ok := c.entities[id]
	if !ok || !ent.loaded {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}

	o := &op[S, E]{ctx: ctx, event: event, pending: newPending[S]()}
	if ent.busy {
		ent.queue = append(ent.queue, o)
		c.mu.Unlock()
		c.logger.Debug("Mutation queued", "id", id, "queued", len(ent.queue))
		return o.pending, nil
	}
	if err := c.begin(ent, o); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ent.busy = true
	subs := subscribers(ent)
	observed := ent.observed
	c.mu.Unlock()

	c.publish(subs, observed)
	go c.run(id, o)
	return o.pending, nil
}

// begin applies the tentative state. Caller holds c.mu.
func (c *Coordinator[S, E]) begin(ent *entity[S, E], o *op[S, E]) error {
	next, err := c.cfg.Transition(c.cfg.Clone(ent.observed), o.event)
	if err != nil {
		return err
	}
	o.snapshot = c.cfg.Clone(ent.observed)
	ent.observed = next
	return nil
}

func (c *Coordinator[S, E]) run(id string, o *op[S, E]) {
	for o != nil {
		state, err := c.dispatch(id, o)
		o = c.settle(id, o, state, err)
	}
}

type result[S any] struct {
	state S
	err   error
}

func (c *Coordinator[S, E]) dispatch(id string, o *op[S, E]) (S, error) {
	ctx := o.ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	done := make(chan result[S], 1)
	go func() {
		state, err := c.cfg.Dispatch(ctx, id, o.event)
		done <- result[S]{state, err}
	}()

	var r result[S]
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(r.err, workflow.ErrTimeout) {
		r.err = fmt.Errorf("%w: %v", workflow.ErrTimeout, r.err)
	}
	return r.state, r.err
}

// settle publishes the outcome of o and returns the next queued mutation
// that passed its legality check, or nil when the entity went idle.
func (c *Coordinator[S, E]) settle(id string, o *op[S, E], state S, err error) *op[S, E] {
	c.mu.Lock()
	ent := c.entities[id]
	var deferred *S
	if err == nil {
		ent.observed = c.cfg.Clone(state)
	} else {
		ent.observed = o.snapshot
	}
	deferred, ent.deferred = ent.deferred, nil
	subs := subscribers(ent)
	observed := ent.observed
	c.mu.Unlock()

	c.publish(subs, observed)
	if err == nil {
		o.pending.resolve(c.cfg.Clone(state))
	} else {
		c.logger.Warn("Mutation rolled back", "id", id, "error", err)
		if c.cfg.OnRollback != nil {
			c.cfg.OnRollback(id, err)
		}
		o.pending.fail(err)
		c.reconcile(id, err, deferred)
	}
	return c.next(id)
}

// reconcile adopts the server state after a failure that was not
// transient. The rollback is already visible at this point.
func (c *Coordinator[S, E]) reconcile(id string, cause error, deferred *S) {
	if !workflow.IsTransient(cause) && c.cfg.Fetch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultFetchTimeout)
		state, err := c.cfg.Fetch(ctx, id)
		cancel()
		if err == nil {
			c.adopt(id, state)
			return
		}
		c.logger.Error("Failed to refetch after rejected mutation", "id", id, "error", err)
	}
	if deferred != nil {
		c.adopt(id, *deferred)
	}
}

func (c *Coordinator[S, E]) adopt(id string, state S) {
	c.mu.Lock()
	ent := c.entities[id]
	ent.observed = c.cfg.Clone(state)
	subs := subscribers(ent)
	observed := ent.observed
	c.mu.Unlock()

	c.publish(subs, observed)
}

func (c *Coordinator[S, E]) next(id string) *op[S, E] {
	var rejected []*op[S, E]
	var errs []error
	defer func() {
		for i, o := range rejected {
			o.pending.fail(errs[i])
		}
	}()

	c.mu.Lock()
	ent := c.entities[id]
	for len(ent.queue) > 0 {
		o := ent.queue[0]
		ent.queue = ent.queue[1:]
		if err := c.begin(ent, o); err != nil {
			rejected = append(rejected, o)
			errs = append(errs, err)
			continue
		}
		subs := subscribers(ent)
		observed := ent.observed
		c.mu.Unlock()
		c.publish(subs, observed)
		return o
	}
	ent.busy = false
	c.mu.Unlock()
	return nil
}

func subscribers[S any, E any](ent *entity[S, E]) []func(S) {
	subs := make([]func(S), 0, len(ent.subs))
	for _, fn := range ent.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (c *Coordinator[S, E]) publish(subs []func(S), state S) {
	for _, fn := range subs {
		fn(c.cfg.Clone(state))
	}
}
