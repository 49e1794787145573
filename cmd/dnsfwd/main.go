// SPDX-License-Identifier: GPL-3.0-or-later

// Command dnsfwd is a forwarding DNS server.
//
// It listens for UDP queries and forwards each question to an upstream
// recursive resolver through a pool of resolver actors.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bassosimone/dnsfwd/resolver"
	"github.com/bassosimone/dnsfwd/server"
	"github.com/bassosimone/runtimex"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := server.DefaultConfig()
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "UDP address to listen on")
	flag.StringVar(&cfg.Upstream, "resolver", cfg.Upstream, "upstream resolver address")
	flag.IntVar(&cfg.MaxConcurrency, "concurrency", cfg.MaxConcurrency, "maximum number of queries in flight")
	flag.IntVar(&cfg.PoolSize, "pool", cfg.PoolSize, "number of resolver actors")
	flag.DurationVar(&cfg.QueryTimeout, "timeout", cfg.QueryTimeout, "per-query deadline")
	flag.DurationVar(&cfg.UpstreamTimeout, "upstream-timeout", cfg.UpstreamTimeout, "upstream exchange timeout")
	flag.BoolVar(&cfg.ServfailOnTimeout, "servfail-on-timeout", cfg.ServfailOnTimeout, "answer SERVFAIL to queries that time out")
	statsInterval := flag.Duration("stats-interval", time.Minute, "interval between stats log lines (0 disables)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := newLogger(*debug)
	defer logger.Sync()

	if err := run(cfg, *statsInterval, logger); err != nil {
		logger.Fatal("dnsfwd failed", zap.Error(err))
	}
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		return runtimex.PanicOnError1(zap.NewDevelopment())
	}
	return runtimex.PanicOnError1(zap.NewProduction())
}

func run(cfg server.Config, statsInterval time.Duration, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	pool, err := resolver.NewPool(cfg.PoolSize, func(i int) *resolver.Actor {
		actor := resolver.NewActor(cfg.Upstream, logger.With(zap.Int("actor", i)))
		actor.Timeout = cfg.UpstreamTimeout
		return actor
	})
	if err != nil {
		return err
	}

	// Actors outlive the signal context so that queries in flight
	// at shutdown still get an answer.
	pool.Start(context.Background())
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, server.FromPool(pool), logger)
	logger.Info("Starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("upstream", cfg.Upstream),
		zap.Int("pool", cfg.PoolSize),
		zap.Int("concurrency", cfg.MaxConcurrency))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	if statsInterval > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					logStats(logger, "Stats", srv.Stats())
				}
			}
		})
	}
	err = group.Wait()
	logStats(logger, "Stopped", srv.Stats())
	return err
}

func logStats(logger *zap.Logger, msg string, stats server.Stats) {
	logger.Info(msg,
		zap.Uint64("received", stats.Received),
		zap.Uint64("answered", stats.Answered),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("timeouts", stats.Timeouts))
}
