// base.go implements the generic buffer pool the decoder pools are built on.

// Package bufferpool implements the pools of pipeline buffers: a generic
// pool with a free list, and the pool of the hardware decoder which maps
// the decoder's buffer indexes to pipeline buffers.
package bufferpool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/xaionaro-go/mppbufferpool/internal"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/metrics"
	"github.com/xaionaro-go/mppbufferpool/types"
)

// AllocFunc produces a new buffer for a pool with the given configuration.
type AllocFunc func(ctx context.Context, cfg Config) (*Buffer, error)

// vtable is what a specialized pool may override.
type vtable struct {
	adjustConfig func(cfg Config) (Config, bool)
	start        func(ctx context.Context) error
	alloc        func(ctx context.Context) (*Buffer, error)
	acquire      func(ctx context.Context) (*Buffer, error)
	release      func(ctx context.Context, buf *Buffer)
	stop         func(ctx context.Context) error
	flushStart   func(ctx context.Context)
	flushStop    func(ctx context.Context)
}

// Base is a pool with a free list: Acquire takes a free buffer, or
// allocates a new one while below MaxBuffers, or waits for a release.
//
// Stopping a pool with buffers still acquired is deferred until the last
// of them is released.
type Base struct {
	Name string

	vt      vtable
	metrics *metrics.Metrics

	locker      sync.Mutex
	cond        *sync.Cond
	config      Config
	configured  bool
	active      bool
	stopPending bool
	flushing    atomic.Bool
	free        []*Buffer
	allocated   uint
	outstanding uint
}

type BaseOption func(*Base)

func BaseOptionMetrics(m *metrics.Metrics) BaseOption {
	return func(b *Base) { b.metrics = m }
}

func newBase(name string, m *metrics.Metrics) *Base {
	b := &Base{
		Name:    name,
		metrics: m,
	}
	b.cond = sync.NewCond(&b.locker)
	b.vt = vtable{
		adjustConfig: func(cfg Config) (Config, bool) { return cfg, false },
		start:        func(context.Context) error { return nil },
		acquire:      b.acquireFromFreeList,
		release:      b.releaseToFreeList,
		stop:         b.freeAll,
		flushStart:   func(context.Context) {},
		flushStop:    func(context.Context) {},
	}
	return b
}

// NewBase returns a generic pool of buffers produced by allocFunc.
func NewBase(
	name string,
	allocFunc AllocFunc,
	opts ...BaseOption,
) *Base {
	b := newBase(name, nil)
	for _, opt := range opts {
		opt(b)
	}
	b.vt.alloc = func(ctx context.Context) (*Buffer, error) {
		return allocFunc(ctx, b.Config())
	}
	return b
}

func (b *Base) String() string {
	return fmt.Sprintf("pool<%s>", b.Name)
}

func (b *Base) Config() Config {
	b.locker.Lock()
	defer b.locker.Unlock()
	return b.config
}

// SetConfig applies the configuration; it is not allowed while active.
func (b *Base) SetConfig(ctx context.Context, cfg Config) (_err error) {
	logger.Debugf(ctx, "SetConfig(%s)", cfg)
	defer func() { logger.Debugf(ctx, "/SetConfig(%s): %v", cfg, _err) }()

	b.locker.Lock()
	defer b.locker.Unlock()
	if b.active || b.stopPending {
		return types.ErrActive
	}
	adjusted, updated := b.vt.adjustConfig(cfg)
	b.config = adjusted
	b.configured = true
	if updated {
		return ErrConfigAdjusted{Config: adjusted}
	}
	return nil
}

func (b *Base) IsActive() bool {
	b.locker.Lock()
	defer b.locker.Unlock()
	return b.active
}

func (b *Base) IsFlushing() bool {
	return b.flushing.Load()
}

// Outstanding returns the amount of acquired and not yet released buffers.
func (b *Base) Outstanding() uint {
	b.locker.Lock()
	defer b.locker.Unlock()
	return b.outstanding
}

// Allocated returns the amount of buffers that currently exist.
func (b *Base) Allocated() uint {
	b.locker.Lock()
	defer b.locker.Unlock()
	return b.allocated
}

// Start activates the pool and preallocates MinBuffers buffers.
func (b *Base) Start(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start: %v", _err) }()

	b.locker.Lock()
	switch {
	case b.active:
		b.locker.Unlock()
		return types.ErrAlreadyActive{}
	case b.stopPending:
		b.locker.Unlock()
		return fmt.Errorf("the pool is still stopping: %d buffers are not released yet", b.outstanding)
	case !b.configured:
		b.locker.Unlock()
		return ErrNotConfigured
	}
	b.locker.Unlock()

	if err := b.vt.start(ctx); err != nil {
		return err
	}

	b.locker.Lock()
	b.active = true
	b.flushing.Store(false)
	minBuffers := b.config.MinBuffers
	b.locker.Unlock()

	for idx := uint(0); idx < minBuffers; idx++ {
		buf, err := b.allocBuffer(ctx)
		if err != nil {
			b.locker.Lock()
			b.active = false
			b.locker.Unlock()
			if stopErr := b.vt.stop(ctx); stopErr != nil {
				logger.Errorf(ctx, "unable to clean up after a failed start: %v", stopErr)
			}
			return fmt.Errorf("unable to preallocate buffer #%d: %w", idx, err)
		}
		b.vt.release(ctx, buf)
	}
	return nil
}

// Stop deactivates the pool; the buffers are freed as soon as all of
// them are released.
func (b *Base) Stop(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Stop")
	defer func() { logger.Debugf(ctx, "/Stop: %v", _err) }()

	b.locker.Lock()
	if !b.active {
		b.locker.Unlock()
		return nil
	}
	b.active = false
	b.cond.Broadcast()
	if b.outstanding > 0 {
		b.stopPending = true
		outstanding := b.outstanding
		b.locker.Unlock()
		logger.Debugf(ctx, "%s: deferring the stop until %d buffers are released", b, outstanding)
		return nil
	}
	b.locker.Unlock()
	return b.vt.stop(ctx)
}

// Acquire returns a buffer with one reference; the buffer returns to
// the pool when the reference is dropped (see Buffer.Unref).
func (b *Base) Acquire(ctx context.Context) (_ret *Buffer, _err error) {
	logger.Tracef(ctx, "Acquire")
	defer func() { logger.Tracef(ctx, "/Acquire: %v %v", _ret, _err) }()
	if b.flushing.Load() {
		return nil, types.ErrFlushing
	}
	buf, err := b.vt.acquire(ctx)
	if err != nil {
		return nil, err
	}
	buf.refCount.Store(1)
	b.locker.Lock()
	b.outstanding++
	b.locker.Unlock()
	b.metrics.IncAcquired(b.Name)
	return buf, nil
}

// Release takes back a buffer acquired from the pool.
func (b *Base) Release(ctx context.Context, buf *Buffer) {
	logger.Tracef(ctx, "Release(%s)", buf)
	defer func() { logger.Tracef(ctx, "/Release(%s)", buf) }()

	b.locker.Lock()
	internal.Assert(ctx, b.outstanding > 0, "releasing more buffers than acquired")
	b.outstanding--
	finishStop := b.stopPending && b.outstanding == 0
	if finishStop {
		b.stopPending = false
	}
	b.locker.Unlock()

	b.vt.release(ctx, buf)
	if !finishStop {
		return
	}
	logger.Debugf(ctx, "%s: all the buffers are back, finishing the stop", b)
	if err := b.vt.stop(ctx); err != nil {
		logger.Errorf(ctx, "unable to stop %s: %v", b, err)
	}
}

// FlushStart makes every blocking Acquire return types.ErrFlushing
// until FlushStop.
func (b *Base) FlushStart(ctx context.Context) {
	logger.Debugf(ctx, "FlushStart")
	defer func() { logger.Debugf(ctx, "/FlushStart") }()
	b.flushing.Store(true)
	b.wakeUp()
	b.vt.flushStart(ctx)
}

func (b *Base) FlushStop(ctx context.Context) {
	logger.Debugf(ctx, "FlushStop")
	defer func() { logger.Debugf(ctx, "/FlushStop") }()
	b.flushing.Store(false)
	b.vt.flushStop(ctx)
}

func (b *Base) wakeUp() {
	b.locker.Lock()
	defer b.locker.Unlock()
	b.cond.Broadcast()
}

func (b *Base) allocBuffer(ctx context.Context) (*Buffer, error) {
	b.locker.Lock()
	b.allocated++
	b.locker.Unlock()
	buf, err := b.vt.alloc(ctx)
	if err != nil {
		b.locker.Lock()
		b.allocated--
		b.locker.Unlock()
		return nil, err
	}
	buf.owner = b
	return buf, nil
}

func (b *Base) acquireFromFreeList(ctx context.Context) (*Buffer, error) {
	b.locker.Lock()
	defer b.locker.Unlock()
	stopWaking := context.AfterFunc(ctx, b.wakeUp)
	defer stopWaking()

	for {
		switch {
		case b.flushing.Load():
			return nil, types.ErrFlushing
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case !b.active:
			return nil, types.ErrNotActive
		}

		if n := len(b.free); n > 0 {
			buf := b.free[n-1]
			b.free[n-1] = nil
			b.free = b.free[:n-1]
			return buf, nil
		}

		if b.config.MaxBuffers == 0 || b.allocated < b.config.MaxBuffers {
			b.allocated++
			b.locker.Unlock()
			buf, err := b.vt.alloc(ctx)
			b.locker.Lock()
			if err != nil {
				b.allocated--
				return nil, fmt.Errorf("unable to allocate a buffer: %w", err)
			}
			buf.owner = b
			return buf, nil
		}

		b.cond.Wait()
	}
}

// releaseToFreeList returns the buffer to the free list, or frees it if
// the pool is inactive or the memory is tagged.
func (b *Base) releaseToFreeList(ctx context.Context, buf *Buffer) {
	b.locker.Lock()
	if !b.active || buf.Flags.Has(FlagTagMemory) {
		b.allocated--
		b.locker.Unlock()
		b.metrics.IncReleased(b.Name, "freed")
		buf.free(ctx)
		return
	}
	buf.resetMetadata()
	b.free = append(b.free, buf)
	b.cond.Broadcast()
	b.locker.Unlock()
	b.metrics.IncReleased(b.Name, "free-list")
}

// freeAll frees the buffers of the free list.
func (b *Base) freeAll(ctx context.Context) error {
	b.locker.Lock()
	free := b.free
	b.free = nil
	b.allocated -= uint(len(free))
	b.locker.Unlock()
	for _, buf := range free {
		buf.free(ctx)
	}
	return nil
}
