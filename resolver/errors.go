// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/bassosimone/dnsfwd/upstream"
)

// Errors returned by [Handle.Resolve].
var (
	// ErrUpstreamTimeout means the upstream did not answer in time.
	ErrUpstreamTimeout = errors.New("resolver: upstream timeout")

	// ErrUpstreamError means the exchange failed or the upstream
	// returned an unusable response.
	ErrUpstreamError = errors.New("resolver: upstream error")

	// ErrNameNotFound means the upstream answered NXDOMAIN.
	ErrNameNotFound = errors.New("resolver: name not found")

	// ErrActorStopped means the actor no longer accepts requests.
	ErrActorStopped = errors.New("resolver: actor stopped")
)

// classify maps an upstream failure to one of the errors above,
// keeping the original error in the chain.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	case errors.Is(err, upstream.ErrNoName):
		return fmt.Errorf("%w: %w", ErrNameNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrUpstreamError, err)
	}
}

// isTimeout returns whether err leaves the upstream connection usable.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
