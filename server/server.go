// SPDX-License-Identifier: GPL-3.0-or-later

// Package server implements the UDP query dispatch loop.
//
// [*Server.Serve] reads datagrams from a [net.PacketConn] and handles
// each of them in its own goroutine, bounded by a weighted semaphore.
// Every query has a deadline after which its answer is never sent.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/dnsfwd/dnsbuild"
	"github.com/bassosimone/dnsfwd/dnswire"
	"github.com/bassosimone/dnsfwd/resolver"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// maxDatagramSize is the size of the receive buffer.
	maxDatagramSize = 65535

	// maxUDPSize caps the response size advertised by EDNS(0) clients.
	maxUDPSize = 4096
)

// Stats contains the server counters.
type Stats struct {
	// Received counts the datagrams read from the socket.
	Received uint64

	// Answered counts the responses sent.
	Answered uint64

	// Dropped counts the datagrams that got no response.
	Dropped uint64

	// Timeouts counts the queries that exceeded their deadline.
	Timeouts uint64
}

// Server is a forwarding DNS server.
//
// Construct using [New].
type Server struct {
	config   Config
	selector Selector
	builder  *dnsbuild.Builder
	logger   *zap.Logger
	sem      *semaphore.Weighted

	received atomic.Uint64
	answered atomic.Uint64
	dropped  atomic.Uint64
	timeouts atomic.Uint64
}

// New returns a [*Server] resolving queries through sel. A nil
// logger disables logging.
func New(cfg Config, sel Selector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:   cfg,
		selector: sel,
		builder:  dnsbuild.NewBuilder(),
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Answered: s.answered.Load(),
		Dropped:  s.dropped.Load(),
		Timeouts: s.timeouts.Load(),
	}
}

// ListenAndServe listens on the configured address and calls [*Server.Serve].
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listening: %w", err)
	}
	defer conn.Close()
	s.logger.Info("Listening", zap.Stringer("addr", conn.LocalAddr()))
	return s.Serve(ctx, conn)
}

// Serve handles the datagrams received on conn until ctx is done,
// then waits for the queries in flight. It returns nil on cancellation
// and an error if reading from conn fails. Serve does not close conn.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	// Tasks in flight complete on their own deadline.
	taskCtx := context.WithoutCancel(ctx)

	buf := make([]byte, maxDatagramSize)
	for {
		count, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: reading datagram: %w", err)
		}
		s.received.Add(1)

		// The receive buffer is reused by the next read.
		task := &QueryTask{
			Addr:     addr,
			Payload:  bytes.Clone(buf[:count]),
			Deadline: time.Now().Add(s.config.QueryTimeout),
			Resolver: s.selector.Select(),
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.dropped.Add(1)
			return nil
		}
		wg.Go(func() {
			defer s.sem.Release(1)
			s.run(taskCtx, conn, task)
		})
	}
}

// run handles a single query within its deadline.
func (s *Server) run(ctx context.Context, conn net.PacketConn, task *QueryTask) {
	ctx, cancel := context.WithDeadline(ctx, task.Deadline)
	defer cancel()

	resp := s.answer(ctx, task)

	if ctx.Err() != nil || task.expired() {
		s.timedOut(conn, task)
		return
	}
	s.finish(conn, task, resp)
}

// finish sends resp, falling back to the timeout path when the
// deadline passes before the response is written.
func (s *Server) finish(conn net.PacketConn, task *QueryTask, resp *dnswire.Packet) {
	if resp == nil {
		s.dropped.Add(1)
		return
	}
	if !s.send(conn, task, resp, true) {
		s.timedOut(conn, task)
	}
}

// timedOut handles a query that exceeded its deadline.
func (s *Server) timedOut(conn net.PacketConn, task *QueryTask) {
	s.timeouts.Add(1)
	s.logger.Warn("Query timed out",
		zap.Stringer("addr", task.Addr),
		zap.Duration("timeout", s.config.QueryTimeout),
		zap.Uint16("id", queryID(task)))
	if !s.config.ServfailOnTimeout || task.Query == nil {
		s.dropped.Add(1)
		return
	}
	servfail := s.builder.BuildCustomResponse(task.Query).WithRcode(dnswire.RcodeServerFailure)
	s.send(conn, task, buildPacket(servfail), false)
}

// answer returns the response to the query, or nil to drop it.
func (s *Server) answer(ctx context.Context, task *QueryTask) *dnswire.Packet {
	query, err := dnswire.Decode(task.Payload)
	if err != nil {
		id, ok := dnswire.PeekID(task.Payload)
		if !ok || isResponse(task.Payload) {
			s.logger.Debug("Dropping undecodable datagram",
				zap.Stringer("addr", task.Addr), zap.Error(err))
			return nil
		}
		s.logger.Debug("Cannot decode query",
			zap.Stringer("addr", task.Addr), zap.Uint16("id", id), zap.Error(err))
		pkt := s.builder.BuildCustomResponse(&dnswire.Packet{Header: dnswire.Header{ID: id}}).
			WithRcode(dnswire.RcodeServerFailure).
			Build()
		return &pkt
	}
	task.Query = query

	if query.Header.Response {
		s.logger.Debug("Dropping response datagram", zap.Stringer("addr", task.Addr))
		return nil
	}

	pb := s.builder.BuildCustomResponse(query)
	switch {
	case query.Header.Opcode != dnswire.OpcodeQuery:
		return buildPacket(pb.WithRcode(dnswire.RcodeNotImplemented))
	case len(query.Questions) == 0:
		return buildPacket(pb.WithRcode(dnswire.RcodeFormatError))
	}

	for _, q := range query.Questions {
		if q.Class != dnswire.ClassINET {
			return buildPacket(pb.WithoutAnswers().WithRcode(dnswire.RcodeNotImplemented))
		}
		records, err := task.Resolver.Resolve(ctx, q.Name, q.Type)
		if err != nil {
			if ce := s.logger.Check(zap.DebugLevel, "Resolution failed"); ce != nil {
				ce.Write(zap.String("name", q.Name), zap.Uint16("type", q.Type), zap.Error(err))
			}
			return buildPacket(pb.WithoutAnswers().WithRcode(rcodeFromError(err)))
		}
		pb.WithAnswers(records...)
	}
	return buildPacket(pb)
}

func buildPacket(pb *dnsbuild.PacketBuilder) *dnswire.Packet {
	pkt := pb.Build()
	return &pkt
}

// rcodeFromError maps a resolution failure to a response code.
func rcodeFromError(err error) uint8 {
	if errors.Is(err, resolver.ErrNameNotFound) {
		return dnswire.RcodeNameError
	}
	return dnswire.RcodeServerFailure
}

// send encodes resp and writes it to the client. When checkDeadline
// is true and the task deadline has passed, nothing is written and
// send returns false.
func (s *Server) send(conn net.PacketConn, task *QueryTask, resp *dnswire.Packet, checkDeadline bool) bool {
	limit := s.responseLimit(task.Query)
	if task.Query != nil && hasOPT(task.Query) {
		resp.Additional = append(resp.Additional, dnswire.Record{
			Name: ".", Type: dnswire.TypeOPT, Class: uint16(limit),
		})
	}

	raw, err := dnswire.Encode(resp)
	if err != nil {
		s.logger.Error("Cannot encode response",
			zap.Stringer("addr", task.Addr), zap.Uint16("id", resp.Header.ID), zap.Error(err))
		s.dropped.Add(1)
		return true
	}
	if len(raw) > limit {
		raw, err = s.truncate(resp)
		if err != nil {
			s.logger.Error("Cannot encode truncated response", zap.Error(err))
			s.dropped.Add(1)
			return true
		}
	}

	if checkDeadline && task.expired() {
		return false
	}
	if _, err := conn.WriteTo(raw, task.Addr); err != nil {
		s.logger.Warn("Cannot send response", zap.Stringer("addr", task.Addr), zap.Error(err))
		s.dropped.Add(1)
		return true
	}
	s.answered.Add(1)
	if ce := s.logger.Check(zap.DebugLevel, "Sent response"); ce != nil {
		ce.Write(zap.Stringer("addr", task.Addr), zap.Uint16("id", resp.Header.ID),
			zap.Uint8("rcode", resp.Header.Rcode), zap.Int("answers", len(resp.Answers)), zap.Int("size", len(raw)))
	}
	return true
}

// truncate encodes resp without records and with the TC flag set.
func (s *Server) truncate(resp *dnswire.Packet) ([]byte, error) {
	truncated := dnswire.Packet{Header: resp.Header, Questions: resp.Questions}
	truncated.Header.Truncated = true
	for _, rr := range resp.Additional {
		if rr.Type == dnswire.TypeOPT {
			truncated.Additional = append(truncated.Additional, rr)
		}
	}
	truncated.SyncCounts()
	return dnswire.Encode(&truncated)
}

// responseLimit returns the largest response the client accepts.
func (s *Server) responseLimit(query *dnswire.Packet) int {
	limit := s.config.UDPSize
	if query == nil {
		return limit
	}
	for _, rr := range query.Additional {
		if rr.Type == dnswire.TypeOPT && int(rr.Class) > limit {
			limit = min(int(rr.Class), maxUDPSize)
		}
	}
	return limit
}

// isResponse returns whether the QR bit of a raw message is set.
func isResponse(payload []byte) bool {
	return len(payload) > 2 && payload[2]&0x80 != 0
}

func hasOPT(pkt *dnswire.Packet) bool {
	for _, rr := range pkt.Additional {
		if rr.Type == dnswire.TypeOPT {
			return true
		}
	}
	return false
}

func queryID(task *QueryTask) uint16 {
	id, _ := dnswire.PeekID(task.Payload)
	return id
}
