package bufferpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/typing"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/memory"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/types"
)

// AllocBuffer produces a new buffer according to the IO mode: system
// memory in the copy mode, a memory from the ready-queue in the internal
// modes, or a memory imported from the other pool.
func (p *Pool) AllocBuffer(ctx context.Context) (_ret *Buffer, _err error) {
	logger.Tracef(ctx, "AllocBuffer")
	defer func() { logger.Tracef(ctx, "/AllocBuffer: %v %v", _ret, _err) }()

	var buf *Buffer
	switch p.IOMode {
	case types.IOModeRW:
		buf = NewBuffer(p.sysmem.Alloc(p.Config().Size))
	case types.IOModeION, types.IOModeDRM:
		mem, err := p.allocator.AllocFromFreeQueue(ctx, p.dmabufs)
		if err != nil {
			return nil, fmt.Errorf("unable to get a memory from the ready-queue: %w", err)
		}
		buf = NewBuffer(mem)
	case types.IOModeDMABufImport:
		other := xatomic.LoadPointer(&p.otherPool)
		if other == nil {
			return nil, fmt.Errorf("cannot prepare a buffer: no pool to import from")
		}
		src, err := other.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to acquire a buffer from %s: %w", other, err)
		}
		mem, err := p.importDMABuf(ctx, src)
		if err != nil {
			src.Unref(ctx)
			return nil, err
		}
		buf = NewBuffer(mem)
		buf.importSource = src
		buf.CopyMetadataFrom(src)
	default:
		return nil, types.ErrUnsupportedIOMode{IOMode: p.IOMode}
	}

	if p.Config().VideoMeta {
		buf.VideoMeta = typing.Opt(p.session.VideoInfo().Meta())
	}
	return buf, nil
}

func (p *Pool) importDMABuf(ctx context.Context, src *Buffer) (*memory.DMABuf, error) {
	hw, err := p.allocator.ImportDMABuf(ctx, src.Memories)
	if err != nil {
		return nil, fmt.Errorf("unable to import %s: %w", src, err)
	}
	mem, err := p.allocator.ExportDMABuf(ctx, p.dmabufs, hw)
	if err != nil {
		return nil, fmt.Errorf("unable to export %s: %w", hw, err)
	}
	return mem, nil
}

// decoderMemory returns the hardware memory behind the buffer if the
// buffer belongs to the decoder of this pool.
func (p *Pool) decoderMemory(buf *Buffer) (*memory.Hardware, bool) {
	if len(buf.Memories) == 0 {
		return nil, false
	}
	hw, ok := memory.HardwareOf(buf.Memories[0])
	if !ok {
		return nil, false
	}
	tracked, ok := p.allocator.Memory(hw.Index())
	if !ok || tracked != hw {
		return nil, false
	}
	return hw, true
}

func (p *Pool) releaseBuffer(ctx context.Context, buf *Buffer) {
	hw, ok := p.decoderMemory(buf)
	if !ok {
		logger.Debugf(ctx, "%s is not backed by the decoder memory", buf)
		buf.Flags |= FlagTagMemory
		p.releaseToFreeList(ctx, buf)
		return
	}
	if !p.IsActive() {
		p.releaseToFreeList(ctx, buf)
		return
	}
	if err := p.queueBuffer(ctx, buf, hw); err != nil {
		logger.Errorf(ctx, "unable to give %s back to the decoder: %v", buf, err)
		p.releaseToFreeList(ctx, buf)
		return
	}
	p.metrics.IncReleased(p.Name, "queued")
}

func (p *Pool) queueBuffer(
	ctx context.Context,
	buf *Buffer,
	hw *memory.Hardware,
) error {
	index := hw.Index()

	p.locker.Lock()
	defer p.locker.Unlock()
	s := &p.slots[index]
	if s.occupied {
		if s.buffer == buf {
			logger.Warnf(ctx, "buffer %d was already released", index)
			return nil
		}
		return types.ErrAlreadyQueued{Index: index}
	}

	buf.resetMetadata()
	*s = slot{buffer: buf, occupied: true}
	p.queued++
	if err := p.allocator.Enqueue(ctx, hw); err != nil {
		*s = slot{}
		p.queued--
		return fmt.Errorf("unable to queue buffer %d: %w", index, err)
	}
	p.metrics.SetPoolQueued(p.Name, p.queued)
	p.cond.Broadcast()
	logger.Tracef(ctx, "queued buffer %d, queued: %d", index, p.queued)
	return nil
}

// waitQueued blocks while no buffer is queued to the hardware.
func (p *Pool) waitQueued(ctx context.Context) error {
	p.locker.Lock()
	defer p.locker.Unlock()
	stopWaking := context.AfterFunc(ctx, p.wakeUp)
	defer stopWaking()
	for {
		switch {
		case p.flushing.Load():
			return types.ErrFlushing
		case ctx.Err() != nil:
			return ctx.Err()
		case !p.active:
			return types.ErrNotActive
		case p.queued > 0:
			return nil
		}
		p.cond.Wait()
	}
}

func (p *Pool) dequeueBuffer(ctx context.Context) (_ret *Buffer, _err error) {
	if err := p.waitQueued(ctx); err != nil {
		return nil, err
	}

	startedAt := time.Now()
	hw, err := p.allocator.Dequeue(ctx)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrEOS), errors.Is(err, types.ErrFlushing):
		return nil, err
	default:
		return nil, fmt.Errorf("unable to dequeue a buffer: %w", err)
	}
	p.metrics.ObserveDequeue(p.Name, time.Since(startedAt))
	frame := hw.DetachFrame()
	index := hw.Index()

	p.locker.Lock()
	s := p.slots[index]
	if !s.occupied {
		p.locker.Unlock()
		deinitFrame(ctx, frame)
		return nil, types.ErrNotTracked{Index: index}
	}
	p.slots[index] = slot{}
	p.queued--
	if p.queued == 0 {
		p.cond.Broadcast()
	}
	p.metrics.SetPoolQueued(p.Name, p.queued)
	p.locker.Unlock()

	buf := s.buffer
	if frame != nil {
		applyFrame(buf, frame)
		deinitFrame(ctx, frame)
	}
	logger.Tracef(ctx, "dequeued buffer %d: %s", index, buf)
	return buf, nil
}

func applyFrame(buf *Buffer, frame mpp.Frame) {
	switch frame.Mode() & mpp.FrameFlagFieldOrderMask & mpp.FrameFlagDeinterlaced {
	case mpp.FrameFlagTopFirst:
		buf.Flags |= FlagInterlaced | FlagTFF
	case mpp.FrameFlagBotFirst:
		buf.Flags |= FlagInterlaced
		buf.Flags &^= FlagTFF
	default:
		buf.Flags &^= FlagInterlaced | FlagTFF
	}
	if frame.ErrInfo() != 0 {
		buf.Flags |= FlagCorrupted
	}
	if frame.Discard() {
		buf.Flags |= FlagCorrupted | FlagDecodeOnly
	}
	if frame.EOS() {
		buf.Flags |= FlagLast
	}
	buf.PTS = frame.PTS()
	buf.DTS = frame.DTS()
}

func deinitFrame(ctx context.Context, frame mpp.Frame) {
	if frame == nil {
		return
	}
	if err := frame.Deinit(); err != nil {
		logger.Errorf(ctx, "unable to deinit a frame: %v", err)
	}
}
