// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// MaxPoolSize is the largest number of actors in a [*Pool].
const MaxPoolSize = 1024

// ErrInvalidPoolSize means the pool size is outside 1..[MaxPoolSize].
var ErrInvalidPoolSize = errors.New("resolver: invalid pool size")

// Policy selects the index of the next actor among n.
//
// Implementations must be safe for concurrent use.
type Policy interface {
	Next(n int) int
}

// RoundRobin is a lock-free round-robin [Policy].
type RoundRobin struct {
	counter atomic.Uint64
}

var _ Policy = &RoundRobin{}

// Next implements [Policy].
func (rr *RoundRobin) Next(n int) int {
	return int((rr.counter.Add(1) - 1) % uint64(n))
}

// PoolOption configures a [*Pool].
type PoolOption func(p *Pool)

// WithPolicy replaces the default [*RoundRobin] policy.
func WithPolicy(policy Policy) PoolOption {
	return func(p *Pool) {
		p.policy = policy
	}
}

// Pool is a fixed set of actors. The set never changes after
// construction, so selecting a handle requires no locking.
type Pool struct {
	actors  []*Actor
	handles []Handle
	policy  Policy
}

// NewPool creates size actors using newActor, which receives the
// index of the actor being created.
func NewPool(size int, newActor func(i int) *Actor, options ...PoolOption) (*Pool, error) {
	if size < 1 || size > MaxPoolSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPoolSize, size)
	}
	p := &Pool{
		actors:  make([]*Actor, 0, size),
		handles: make([]Handle, 0, size),
		policy:  &RoundRobin{},
	}
	for i := range size {
		actor := newActor(i)
		p.actors = append(p.actors, actor)
		p.handles = append(p.handles, NewHandle(actor))
	}
	for _, option := range options {
		option(p)
	}
	return p, nil
}

// Start starts every actor with the given context.
func (p *Pool) Start(ctx context.Context) {
	for _, actor := range p.actors {
		actor.Start(ctx)
	}
}

// Len returns the number of actors.
func (p *Pool) Len() int {
	return len(p.handles)
}

// Get returns the handle selected by the pool policy.
func (p *Pool) Get() Handle {
	return p.handles[p.policy.Next(len(p.handles))]
}

// Close stops every actor and waits for them to terminate.
func (p *Pool) Close() {
	for _, actor := range p.actors {
		actor.Stop()
	}
}
