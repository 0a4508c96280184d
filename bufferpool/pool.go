package bufferpool

import (
	"context"
	"fmt"

	"github.com/go-ng/xatomic"

	"github.com/xaionaro-go/mppbufferpool/allocator"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/memory"
	"github.com/xaionaro-go/mppbufferpool/metrics"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/types"
	"github.com/xaionaro-go/mppbufferpool/videoinfo"
)

// Session is the part of the codec session a pool depends on.
type Session interface {
	allocator.FrameSource

	// SendStream submits compressed data; returns types.ErrBusy if the
	// input queue of the decoder is full.
	SendStream(ctx context.Context, data []byte, pts, dts int64) error

	// ConfigPool binds the buffer group the decoder writes into (nil unbinds).
	ConfigPool(ctx context.Context, group mpp.BufferGroup) error

	VideoInfo() videoinfo.Info
	NeedVideoMeta() bool
	IsUnlocked() bool
}

type slot struct {
	buffer   *Buffer
	occupied bool
}

// Pool is the pool of a decoder session. In the output role it overlays
// the allocator: released buffers are queued to the hardware, and
// acquiring waits for the hardware to return a decoded picture. In the
// input role it is a generic pool of system memory whose buffers are
// submitted with Process.
type Pool struct {
	*Base

	NodeMode types.NodeMode
	IOMode   types.IOMode

	session   Session
	allocator *allocator.Allocator
	dmabufs   *memory.DMABufAllocator
	sysmem    *memory.SystemAllocator
	otherPool *Base

	// protected by Base.locker
	slots  []slot
	queued uint
}

type Option func(*Pool)

func OptionMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.Base.metrics = m }
}

func New(
	ctx context.Context,
	name string,
	platform mpp.Platform,
	session Session,
	nodeMode types.NodeMode,
	ioMode types.IOMode,
	opts ...Option,
) (_ *Pool, _err error) {
	logger.Debugf(ctx, "New(%s, %s, %s)", name, nodeMode, ioMode)
	defer func() { logger.Debugf(ctx, "/New(%s, %s, %s): %v", name, nodeMode, ioMode, _err) }()

	switch nodeMode {
	case types.NodeModeDecInput:
		if ioMode != types.IOModeRW {
			return nil, types.ErrUnsupportedIOMode{IOMode: ioMode}
		}
	case types.NodeModeDecOutput:
		if !ioMode.UsesAllocator() {
			return nil, types.ErrUnsupportedIOMode{IOMode: ioMode}
		}
	default:
		return nil, types.ErrNotImplemented{Err: fmt.Errorf("node mode %s", nodeMode)}
	}

	p := &Pool{
		Base:     newBase(name, nil),
		NodeMode: nodeMode,
		IOMode:   ioMode,
		session:  session,
		dmabufs:  memory.NewDMABufAllocator(),
		sysmem:   memory.NewSystemAllocator(),
		slots:    make([]slot, allocator.Capacity),
	}
	for _, opt := range opts {
		opt(p)
	}
	if ioMode.UsesAllocator() {
		p.allocator = allocator.New(name, platform, session, allocator.OptionMetrics(p.Base.metrics))
	}

	p.vt.adjustConfig = p.adjustConfig
	p.vt.start = p.start
	p.vt.alloc = p.AllocBuffer
	p.vt.stop = p.stop
	p.vt.flushStart = p.flushStart
	p.vt.flushStop = p.flushStop
	if nodeMode.IsOutput() {
		p.vt.acquire = p.dequeueBuffer
		p.vt.release = p.releaseBuffer
	}
	return p, nil
}

// Allocator returns the allocator of the pool (nil in the copy mode).
func (p *Pool) Allocator() *allocator.Allocator {
	return p.allocator
}

// SetOtherPool sets the pool the buffers are imported from in the
// dmabuf-import mode; the pool also follows our activation and flushing.
func (p *Pool) SetOtherPool(ctx context.Context, other *Base) error {
	if p.IsActive() {
		return types.ErrActive
	}
	logger.Debugf(ctx, "SetOtherPool(%s)", other)
	xatomic.StorePointer(&p.otherPool, other)
	return nil
}

func (p *Pool) OtherPool() *Base {
	return xatomic.LoadPointer(&p.otherPool)
}

// Queued returns the amount of buffers handed over to the hardware.
func (p *Pool) Queued() uint {
	p.locker.Lock()
	defer p.locker.Unlock()
	return p.queued
}

func (p *Pool) adjustConfig(cfg Config) (Config, bool) {
	if !p.IOMode.UsesAllocator() {
		return cfg, false
	}
	updated := false
	if cfg.MaxBuffers == 0 || cfg.MaxBuffers > allocator.Capacity {
		cfg.MaxBuffers = allocator.Capacity
		updated = true
	}
	if cfg.MinBuffers > cfg.MaxBuffers {
		cfg.MinBuffers = cfg.MaxBuffers
		updated = true
	}
	if !cfg.VideoMeta && p.session.NeedVideoMeta() {
		cfg.VideoMeta = true
		updated = true
	}
	return cfg, updated
}

func (p *Pool) start(ctx context.Context) (_err error) {
	if p.allocator != nil {
		cfg := p.Config()
		if cfg.MinBuffers == 0 {
			return fmt.Errorf("the hardware pool requires at least one buffer")
		}
		count, err := p.allocator.Start(ctx, cfg.MinBuffers, p.IOMode)
		if err != nil {
			return fmt.Errorf("unable to start the allocator: %w", err)
		}
		if count < cfg.MinBuffers {
			p.stopAllocator(ctx)
			return fmt.Errorf("got %d buffers, but at least %d are required", count, cfg.MinBuffers)
		}
		p.locker.Lock()
		p.config.MinBuffers = count
		if p.config.MaxBuffers != 0 && p.config.MaxBuffers < count {
			p.config.MaxBuffers = count
		}
		p.queued = 0
		p.locker.Unlock()
	}

	if other := xatomic.LoadPointer(&p.otherPool); other != nil && !other.IsActive() {
		if err := other.Start(ctx); err != nil {
			p.stopAllocator(ctx)
			return fmt.Errorf("unable to activate the other pool %s: %w", other, err)
		}
	}

	if p.allocator != nil {
		if err := p.session.ConfigPool(ctx, p.allocator.Group()); err != nil {
			p.stopAllocator(ctx)
			return fmt.Errorf("unable to bind the buffer group to the decoder: %w", err)
		}
	}
	return nil
}

func (p *Pool) stopAllocator(ctx context.Context) {
	if err := p.allocator.Stop(ctx); err != nil {
		logger.Errorf(ctx, "unable to stop the allocator: %v", err)
	}
}

func (p *Pool) stop(ctx context.Context) error {
	if other := xatomic.LoadPointer(&p.otherPool); other != nil {
		if err := other.Stop(ctx); err != nil {
			logger.Errorf(ctx, "unable to stop the other pool %s: %v", other, err)
		}
	}

	if p.allocator != nil {
		if err := p.session.ConfigPool(ctx, nil); err != nil {
			logger.Errorf(ctx, "unable to unbind the buffer group: %v", err)
		}
	}

	p.locker.Lock()
	var queued []*Buffer
	for idx := range p.slots {
		s := &p.slots[idx]
		if !s.occupied {
			continue
		}
		queued = append(queued, s.buffer)
		*s = slot{}
		p.queued--
	}
	p.metrics.SetPoolQueued(p.Name, p.queued)
	p.locker.Unlock()
	for _, buf := range queued {
		p.releaseToFreeList(ctx, buf)
	}

	if err := p.freeAll(ctx); err != nil {
		return err
	}
	if p.allocator == nil {
		return nil
	}
	return p.allocator.Stop(ctx)
}

func (p *Pool) flushStart(ctx context.Context) {
	if other := xatomic.LoadPointer(&p.otherPool); other != nil {
		other.FlushStart(ctx)
	}
}

func (p *Pool) flushStop(ctx context.Context) {
	if other := xatomic.LoadPointer(&p.otherPool); other != nil {
		other.FlushStop(ctx)
	}
}
