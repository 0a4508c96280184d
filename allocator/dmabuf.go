package allocator

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/memory"
	"github.com/xaionaro-go/mppbufferpool/types"
	"github.com/xaionaro-go/xsync"
)

// ImportDMABuf commits an external descriptor-backed memory into the
// buffer group at the next free index. Only single-block buffers are
// supported.
func (a *Allocator) ImportDMABuf(
	ctx context.Context,
	mems []memory.Memory,
) (*memory.Hardware, error) {
	return xsync.DoA2R2(ctx, &a.locker, a.importDMABufLocked, ctx, mems)
}

func (a *Allocator) importDMABufLocked(
	ctx context.Context,
	mems []memory.Memory,
) (_ret *memory.Hardware, _err error) {
	logger.Debugf(ctx, "ImportDMABuf(%d)", len(mems))
	defer func() { logger.Debugf(ctx, "/ImportDMABuf(%d): %v %v", len(mems), _ret, _err) }()

	if len(mems) == 0 {
		return nil, types.ErrNoMemory
	}
	if len(mems) > 1 {
		return nil, types.ErrTooManyMemories{Count: uint(len(mems))}
	}
	if !a.active.Load() {
		return nil, types.ErrNotActive
	}
	src, ok := mems[0].(*memory.DMABuf)
	if !ok || src.FD() < 0 {
		return nil, fmt.Errorf("memory %v is not descriptor-backed", mems[0])
	}
	index, ok := a.nextFreeSlotLocked()
	if !ok {
		return nil, types.ErrCapacityExceeded{Requested: a.count + 1, Capacity: Capacity}
	}
	return a.importBufferLocked(ctx, src.FD(), src.View().MaxSize, index)
}

// ExportDMABuf wraps the descriptor of the memory for the target
// allocator; the result keeps a reference to the hardware memory, so
// that memory.HardwareOf could trace it back.
func (a *Allocator) ExportDMABuf(
	ctx context.Context,
	target *memory.DMABufAllocator,
	mem *memory.Hardware,
) (_ret *memory.DMABuf, _err error) {
	logger.Tracef(ctx, "ExportDMABuf(%s)", mem)
	defer func() { logger.Tracef(ctx, "/ExportDMABuf(%s): %v", mem, _err) }()
	if mem.FD() < 0 {
		return nil, fmt.Errorf("memory %s has no descriptor to export", mem)
	}
	return target.Wrap(
		mem.FD(), mem.View().MaxSize,
		memory.WrapOptionDontClose(),
		memory.WrapOptionOrigin(mem),
	), nil
}

// AllocFromFreeQueue exports a memory from the ready-queue; returns
// types.ErrNoFreeMemory if the queue is empty.
func (a *Allocator) AllocFromFreeQueue(
	ctx context.Context,
	target *memory.DMABufAllocator,
) (*memory.DMABuf, error) {
	mem, ok := a.ready.Pop()
	if !ok {
		return nil, types.ErrNoFreeMemory
	}
	result, err := a.ExportDMABuf(ctx, target, mem)
	if err != nil {
		a.ready.Push(mem)
		return nil, err
	}
	return result, nil
}
