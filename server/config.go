// SPDX-License-Identifier: GPL-3.0-or-later

package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bassosimone/dnsfwd/resolver"
)

// ErrInvalidConfig is wrapped by the errors returned by [*Config.Validate].
var ErrInvalidConfig = errors.New("server: invalid config")

// Config contains the server settings.
//
// Construct using [DefaultConfig] and override what you need.
type Config struct {
	// ListenAddr is the UDP address to listen on.
	ListenAddr string

	// Upstream is the address of the upstream resolver.
	Upstream string

	// MaxConcurrency is the maximum number of queries in flight.
	MaxConcurrency int

	// PoolSize is the number of resolver actors.
	PoolSize int

	// QueryTimeout is the deadline of each query, from receipt to reply.
	QueryTimeout time.Duration

	// UpstreamTimeout bounds each upstream exchange.
	UpstreamTimeout time.Duration

	// ServfailOnTimeout controls whether a query that exceeds its
	// deadline gets a SERVFAIL reply.
	ServfailOnTimeout bool

	// UDPSize is the response size limit for clients not using EDNS(0).
	UDPSize int
}

// DefaultConfig returns the default [Config].
func DefaultConfig() Config {
	return Config{
		ListenAddr:        "0.0.0.0:2053",
		Upstream:          "8.8.8.8:53",
		MaxConcurrency:    256,
		PoolSize:          16,
		QueryTimeout:      10 * time.Second,
		UpstreamTimeout:   3 * time.Second,
		ServfailOnTimeout: true,
		UDPSize:           512,
	}
}

// Validate returns an error wrapping [ErrInvalidConfig] when a
// setting is unusable.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: listen address: %w", ErrInvalidConfig, err)
	}
	if _, _, err := net.SplitHostPort(c.Upstream); err != nil {
		return fmt.Errorf("%w: upstream address: %w", ErrInvalidConfig, err)
	}
	switch {
	case c.MaxConcurrency < 1:
		return fmt.Errorf("%w: max concurrency must be positive", ErrInvalidConfig)
	case c.PoolSize < 1 || c.PoolSize > resolver.MaxPoolSize:
		return fmt.Errorf("%w: pool size must be within 1..%d", ErrInvalidConfig, resolver.MaxPoolSize)
	case c.QueryTimeout <= 0:
		return fmt.Errorf("%w: query timeout must be positive", ErrInvalidConfig)
	case c.UpstreamTimeout <= 0:
		return fmt.Errorf("%w: upstream timeout must be positive", ErrInvalidConfig)
	case c.UDPSize < 512 || c.UDPSize > maxUDPSize:
		return fmt.Errorf("%w: UDP size must be within 512..%d", ErrInvalidConfig, maxUDPSize)
	}
	return nil
}
