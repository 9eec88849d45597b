package stream

import (
	"context"
	"sync/atomic"
)

// canceller wraps one context cancel behind an idempotent handle. Its
// cancelled flag is the single guard consulted before every callback
// invocation, so the explicit-cancel path and the timeout path cannot
// diverge.
type canceller struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func newCanceller(parent context.Context) (context.Context, *canceller) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &canceller{cancel: cancel}
}

// Cancel aborts the call. Calling it again, or after the call finished, is
// a no-op.
func (c *canceller) Cancel() {
	if c.cancelled.CompareAndSwap(false, true) {
		c.cancel()
	}
}

func (c *canceller) Cancelled() bool { return c.cancelled.Load() }
