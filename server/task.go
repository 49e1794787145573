// SPDX-License-Identifier: GPL-3.0-or-later

package server

import (
	"context"
	"net"
	"time"

	"github.com/bassosimone/dnsfwd/dnswire"
	"github.com/bassosimone/dnsfwd/resolver"
)

// Resolver resolves a single question.
//
// [resolver.Handle] implements this interface.
type Resolver interface {
	Resolve(ctx context.Context, name string, qtype uint16) ([]dnswire.Record, error)
}

var _ Resolver = resolver.Handle{}

// Selector picks the [Resolver] serving a query.
type Selector interface {
	Select() Resolver
}

// SelectorFunc adapts a function to the [Selector] interface.
type SelectorFunc func() Resolver

// Select implements [Selector].
func (f SelectorFunc) Select() Resolver {
	return f()
}

// FromPool returns a [Selector] drawing handles from pool.
func FromPool(pool *resolver.Pool) Selector {
	return SelectorFunc(func() Resolver {
		return pool.Get()
	})
}

// QueryTask is the unit of work created for each received datagram.
type QueryTask struct {
	// Addr is the client address.
	Addr net.Addr

	// Payload is the datagram, owned by the task.
	Payload []byte

	// Query is the decoded query, nil until decoding succeeds.
	Query *dnswire.Packet

	// Deadline is the time after which no answer is sent.
	Deadline time.Time

	// Resolver serves the questions of the query.
	Resolver Resolver
}

// expired returns whether the deadline has passed.
func (t *QueryTask) expired() bool {
	return !time.Now().Before(t.Deadline)
}
