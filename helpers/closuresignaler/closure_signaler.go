// closure_signaler.go provides a one-shot signal of a goroutine exit.

// Package closuresignaler provides a one-shot signal of a goroutine (or
// a resource) being closed.
package closuresignaler

import (
	"context"
	"sync"

	"github.com/xaionaro-go/mppbufferpool/logger"
)

type ClosureSignaler struct {
	closeOnce sync.Once
	c         chan struct{}
}

func New() *ClosureSignaler {
	return &ClosureSignaler{
		c: make(chan struct{}),
	}
}

func (c *ClosureSignaler) CloseChan() <-chan struct{} {
	return c.c
}

// Close signals the closure; it is safe to call it more than once.
func (c *ClosureSignaler) Close(ctx context.Context) {
	logger.Tracef(ctx, "Close")
	c.closeOnce.Do(func() {
		close(c.c)
	})
}

func (c *ClosureSignaler) IsClosed() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}

// Wait blocks until the closure or until the context is cancelled.
func (c *ClosureSignaler) Wait(ctx context.Context) error {
	select {
	case <-c.c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
