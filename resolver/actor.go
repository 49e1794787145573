// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/dnsfwd/dnswire"
	"github.com/bassosimone/dnsfwd/upstream"
	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

// State is the state of an [*Actor].
type State int32

const (
	// StateIdle means the actor is waiting for a request.
	StateIdle State = iota

	// StateResolving means the actor is waiting for the upstream.
	StateResolving

	// StateResponding means the actor is delivering a result.
	StateResponding
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateResponding:
		return "responding"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Request asks an [*Actor] to resolve a name.
type Request struct {
	// Name is the domain name to resolve.
	Name string

	// Type is the query type.
	Type uint16

	// Deadline is the OPTIONAL deadline of the caller.
	Deadline time.Time

	// Reply receives exactly one [Result]. It must have room for it,
	// since the actor never blocks when delivering.
	Reply chan<- Result
}

// Result is the outcome of a [Request].
type Result struct {
	Records []dnswire.Record
	Err     error
}

// exchangeFunc performs one upstream round trip.
type exchangeFunc func(conn *dns.Conn, query *dns.Msg, deadline time.Time) (*dns.Msg, error)

// Actor owns one upstream connection and serves [Request] values
// received on its inbox one at a time.
//
// Construct using [NewActor]. Callers usually reach an actor through
// a [Handle] obtained from a [*Pool].
type Actor struct {
	// Dialer dials the upstream connection.
	Dialer proxy.ContextDialer

	// Upstream is the address of the upstream resolver.
	Upstream string

	// Timeout bounds each upstream exchange.
	Timeout time.Duration

	// QueryFlags contains [upstream.QueryFlagBlockLengthPadding]
	// and [upstream.QueryFlagDNSSec].
	QueryFlags uint16

	logger    *zap.Logger
	exchange  exchangeFunc
	inbox     chan Request
	state     atomic.Int32
	conn      *dns.Conn
	started   atomic.Bool
	startOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewActor returns an [*Actor] forwarding to the upstream address
// using a [*net.Dialer]. A nil logger disables logging.
func NewActor(upstreamAddr string, logger *zap.Logger) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actor{
		Dialer:   &net.Dialer{},
		Upstream: upstreamAddr,
		Timeout:  3 * time.Second,
		logger:   logger,
		exchange: upstream.Exchange,
		inbox:    make(chan Request),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the current state.
func (a *Actor) State() State {
	return State(a.state.Load())
}

// Start runs the actor in a background goroutine until ctx is done
// or [*Actor.Stop] is called. Calling Start more than once has no effect.
func (a *Actor) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		a.started.Store(true)
		go a.loop(ctx)
	})
}

// Stop stops the actor and waits for the current request to complete.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	if a.started.Load() {
		<-a.done
	}
}

func (a *Actor) loop(ctx context.Context) {
	defer close(a.done)
	defer a.closeConn()
	for {
		a.state.Store(int32(StateIdle))
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case req := <-a.inbox:
			a.state.Store(int32(StateResolving))
			result := a.serve(ctx, req)
			a.state.Store(int32(StateResponding))
			select {
			case req.Reply <- result:
			default:
				a.logger.Warn("Reply channel full, dropping result", zap.String("name", req.Name))
			}
		}
	}
}

// serve resolves req, turning a panic into an [ErrUpstreamError].
func (a *Actor) serve(ctx context.Context, req Request) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Recovered panic in resolver actor",
				zap.String("name", req.Name), zap.Any("panic", r))
			a.closeConn()
			result = Result{Err: fmt.Errorf("%w: panic: %v", ErrUpstreamError, r)}
		}
	}()
	records, err := a.resolve(ctx, req)
	return Result{Records: records, Err: err}
}

func (a *Actor) resolve(ctx context.Context, req Request) ([]dnswire.Record, error) {
	query := upstream.NewQuery(req.Name, req.Type)
	query.Flags = a.QueryFlags
	msg, err := query.NewMsg()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamError, err)
	}

	deadline := a.deadline(req.Deadline)
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamTimeout, context.DeadlineExceeded)
	}
	conn, err := a.dial(ctx, deadline)
	if err != nil {
		return nil, classify(err)
	}

	if ce := a.logger.Check(zap.DebugLevel, "Sending query upstream"); ce != nil {
		ce.Write(zap.String("name", req.Name), zap.Uint16("type", req.Type), zap.Uint16("id", msg.Id))
	}
	resp, err := a.exchange(conn, msg, deadline)
	if err != nil {
		if !isTimeout(err) {
			a.logger.Warn("Resetting upstream connection", zap.Error(err))
			a.closeConn()
		}
		return nil, classify(err)
	}

	parsed, err := upstream.ParseResponse(msg, resp)
	switch {
	case errors.Is(err, upstream.ErrNoData):
		return nil, nil
	case err != nil:
		return nil, classify(err)
	}
	records, err := parsed.Records()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamError, err)
	}
	return records, nil
}

// deadline returns the earliest between the caller deadline and the
// upstream timeout.
func (a *Actor) deadline(caller time.Time) time.Time {
	deadline := caller
	if a.Timeout > 0 {
		limit := time.Now().Add(a.Timeout)
		if deadline.IsZero() || limit.Before(deadline) {
			deadline = limit
		}
	}
	return deadline
}

// dial returns the upstream connection, dialing it if needed.
func (a *Actor) dial(ctx context.Context, deadline time.Time) (*dns.Conn, error) {
	if a.conn != nil {
		return a.conn, nil
	}
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	rawConn, err := a.Dialer.DialContext(ctx, "udp", a.Upstream)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Dialed upstream", zap.String("upstream", a.Upstream))
	a.conn = &dns.Conn{Conn: rawConn, UDPSize: upstream.QueryMaxResponseSizeUDP}
	return a.conn, nil
}

func (a *Actor) closeConn() {
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}
