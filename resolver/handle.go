// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/bassosimone/dnsfwd/dnswire"
)

// Handle sends requests to an [*Actor]. It is a small value that
// may be copied and used by many goroutines.
type Handle struct {
	actor *Actor
}

// NewHandle returns a [Handle] for actor.
func NewHandle(actor *Actor) Handle {
	return Handle{actor: actor}
}

// Resolve asks the actor to resolve name and waits for the result.
//
// The deadline of ctx, if any, bounds the upstream exchange. When ctx is
// done first, the result is abandoned and Resolve returns immediately.
func (h Handle) Resolve(ctx context.Context, name string, qtype uint16) ([]dnswire.Record, error) {
	reply := make(chan Result, 1)
	deadline, _ := ctx.Deadline()
	req := Request{Name: name, Type: qtype, Deadline: deadline, Reply: reply}

	select {
	case h.actor.inbox <- req:
	case <-ctx.Done():
		return nil, contextError(ctx)
	case <-h.actor.stop:
		return nil, ErrActorStopped
	case <-h.actor.done:
		return nil, ErrActorStopped
	}

	select {
	case result := <-reply:
		return result.Records, result.Err
	case <-ctx.Done():
		return nil, contextError(ctx)
	case <-h.actor.done:
		select {
		case result := <-reply:
			return result.Records, result.Err
		default:
			return nil, ErrActorStopped
		}
	}
}

func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	}
	return err
}
