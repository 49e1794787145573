// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bassosimone/dnsfwd/dnswire"
	"github.com/bassosimone/dnsfwd/upstream"
	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/proxy"
)

// startFakeUpstream runs a miekg/dns server answering:
//
//   - example.com. with an A record
//   - nx.example. with NXDOMAIN
//   - empty.example. with NOERROR and no answers
//   - refused.example. with REFUSED
//   - slow.example. never
func startFakeUpstream(t *testing.T) string {
	pconn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, query *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(query)
		resp.RecursionAvailable = true
		switch query.Question[0].Name {
		case "example.com.":
			resp.Answer = append(resp.Answer,
				runtimex.PanicOnError1(dns.NewRR("example.com. 60 IN A 192.0.2.1")))
		case "nx.example.":
			resp.Rcode = dns.RcodeNameError
		case "refused.example.":
			resp.Rcode = dns.RcodeRefused
		case "slow.example.":
			return
		}
		w.WriteMsg(resp)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pconn, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })
	return pconn.LocalAddr().String()
}

// countingDialer counts the upstream connections.
type countingDialer struct {
	proxy.ContextDialer
	count atomic.Int64
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.count.Add(1)
	return d.ContextDialer.DialContext(ctx, network, address)
}

func newTestActor(t *testing.T, addr string) *Actor {
	actor := NewActor(addr, zaptest.NewLogger(t))
	actor.Timeout = 200 * time.Millisecond
	actor.Start(context.Background())
	t.Cleanup(actor.Stop)
	return actor
}

func TestActorResolve(t *testing.T) {
	addr := startFakeUpstream(t)
	handle := NewHandle(newTestActor(t, addr))

	tests := []struct {
		name     string
		qname    string
		expected []dnswire.Record
		err      error
	}{
		{
			name:  "Success",
			qname: "example.com",
			expected: []dnswire.Record{{
				Name: "example.com", Type: dnswire.TypeA, Class: dnswire.ClassINET, TTL: 60,
				Data: dnswire.A{Addr: netip.MustParseAddr("192.0.2.1")},
			}},
		},
		{name: "NameNotFound", qname: "nx.example", err: ErrNameNotFound},
		{name: "NoData", qname: "empty.example"},
		{name: "Refused", qname: "refused.example", err: ErrUpstreamError},
		{name: "Timeout", qname: "slow.example", err: ErrUpstreamTimeout},
		{name: "SuccessAfterTimeout", qname: "example.com", expected: []dnswire.Record{{
			Name: "example.com", Type: dnswire.TypeA, Class: dnswire.ClassINET, TTL: 60,
			Data: dnswire.A{Addr: netip.MustParseAddr("192.0.2.1")},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := handle.Resolve(context.Background(), tt.qname, dnswire.TypeA)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				require.Nil(t, records)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, records)
		})
	}
}

func TestActorContextDeadline(t *testing.T) {
	addr := startFakeUpstream(t)
	actor := NewActor(addr, zaptest.NewLogger(t))
	actor.Timeout = 0
	actor.Start(context.Background())
	defer actor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := NewHandle(actor).Resolve(ctx, "slow.example", dnswire.TypeA)
	require.ErrorIs(t, err, ErrUpstreamTimeout)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestActorRedialsAfterError(t *testing.T) {
	addr := startFakeUpstream(t)
	dialer := &countingDialer{ContextDialer: &net.Dialer{}}
	actor := NewActor(addr, zaptest.NewLogger(t))
	actor.Dialer = dialer
	var failures atomic.Int64
	failures.Store(1)
	actor.exchange = func(conn *dns.Conn, query *dns.Msg, deadline time.Time) (*dns.Msg, error) {
		if failures.Add(-1) >= 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return upstream.Exchange(conn, query, deadline)
	}
	actor.Start(context.Background())
	defer actor.Stop()
	handle := NewHandle(actor)

	_, err := handle.Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.ErrorIs(t, err, ErrUpstreamError)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	records, err := handle.Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = handle.Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(2), dialer.count.Load())
}

func TestActorPanicIsolation(t *testing.T) {
	addr := startFakeUpstream(t)
	pool, err := NewPool(2, func(i int) *Actor {
		actor := NewActor(addr, zaptest.NewLogger(t))
		if i == 0 {
			var panicked atomic.Bool
			actor.exchange = func(conn *dns.Conn, query *dns.Msg, deadline time.Time) (*dns.Msg, error) {
				if !panicked.Swap(true) {
					panic("boom")
				}
				return upstream.Exchange(conn, query, deadline)
			}
		}
		return actor
	})
	require.NoError(t, err)
	pool.Start(context.Background())
	defer pool.Close()

	_, err = pool.Get().Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.ErrorIs(t, err, ErrUpstreamError)

	// The healthy actor and the recovered one keep serving.
	for range 4 {
		records, err := pool.Get().Resolve(context.Background(), "example.com", dnswire.TypeA)
		require.NoError(t, err)
		require.Len(t, records, 1)
	}
}

func TestActorStop(t *testing.T) {
	actor := NewActor("127.0.0.1:1", zaptest.NewLogger(t))
	actor.Start(context.Background())
	require.Eventually(t, func() bool { return actor.State() == StateIdle }, time.Second, time.Millisecond)
	actor.Stop()
	actor.Stop()

	_, err := NewHandle(actor).Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.ErrorIs(t, err, ErrActorStopped)
}

func TestActorStopWithoutStart(t *testing.T) {
	actor := NewActor("127.0.0.1:1", nil)
	actor.Stop()
	_, err := NewHandle(actor).Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.ErrorIs(t, err, ErrActorStopped)
}

func TestActorStateWhileResolving(t *testing.T) {
	release := make(chan struct{})
	actor := NewActor("127.0.0.1:1", zaptest.NewLogger(t))
	actor.exchange = func(conn *dns.Conn, query *dns.Msg, deadline time.Time) (*dns.Msg, error) {
		<-release
		return nil, errors.New("released")
	}
	actor.Start(context.Background())
	defer actor.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := NewHandle(actor).Resolve(context.Background(), "example.com", dnswire.TypeA)
		done <- err
	}()
	require.Eventually(t, func() bool { return actor.State() == StateResolving }, time.Second, time.Millisecond)
	close(release)
	require.ErrorIs(t, <-done, ErrUpstreamError)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "resolving", StateResolving.String())
	require.Equal(t, "responding", StateResponding.String())
	require.Equal(t, "State(7)", State(7).String())
}

func TestNewPoolSize(t *testing.T) {
	newActor := func(i int) *Actor { return NewActor("127.0.0.1:1", nil) }
	for _, size := range []int{-1, 0, MaxPoolSize + 1} {
		_, err := NewPool(size, newActor)
		require.ErrorIs(t, err, ErrInvalidPoolSize)
	}
	pool, err := NewPool(MaxPoolSize, newActor)
	require.NoError(t, err)
	require.Equal(t, MaxPoolSize, pool.Len())
}

func TestPoolRoundRobin(t *testing.T) {
	actors := make([]*Actor, 3)
	pool, err := NewPool(3, func(i int) *Actor {
		actors[i] = NewActor("127.0.0.1:1", nil)
		return actors[i]
	})
	require.NoError(t, err)
	for i := range 7 {
		require.Same(t, actors[i%3], pool.Get().actor)
	}
}

type fixedPolicy int

func (p fixedPolicy) Next(n int) int { return int(p) % n }

func TestPoolWithPolicy(t *testing.T) {
	actors := make([]*Actor, 4)
	pool, err := NewPool(4, func(i int) *Actor {
		actors[i] = NewActor("127.0.0.1:1", nil)
		return actors[i]
	}, WithPolicy(fixedPolicy(2)))
	require.NoError(t, err)
	for range 3 {
		require.Same(t, actors[2], pool.Get().actor)
	}
}

func TestRoundRobinConcurrent(t *testing.T) {
	const n, workers, perWorker = 8, 16, 1000
	var rr RoundRobin
	var mu sync.Mutex
	counts := make([]int, n)
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			local := make([]int, n)
			for range perWorker {
				local[rr.Next(n)]++
			}
			mu.Lock()
			for i, c := range local {
				counts[i] += c
			}
			mu.Unlock()
		})
	}
	wg.Wait()
	for _, c := range counts {
		require.Equal(t, workers*perWorker/n, c)
	}
}
