package allocator

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/xaionaro-go/mppbufferpool/internal"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/memory"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/types"
	"github.com/xaionaro-go/xsync"
)

// Start prepares `count` memories using the given strategy and returns
// the amount of memories prepared. On any failure everything prepared so
// far is released and the allocator stays inactive.
//
// In the dmabuf-import mode nothing is allocated: the memories are
// imported one by one later (see ImportDMABuf).
func (a *Allocator) Start(
	ctx context.Context,
	count uint,
	mode types.IOMode,
) (uint, error) {
	return xsync.DoA3R2(ctx, &a.locker, a.startLocked, ctx, count, mode)
}

func (a *Allocator) startLocked(
	ctx context.Context,
	count uint,
	mode types.IOMode,
) (_ret uint, _err error) {
	logger.Debugf(ctx, "Start(%d, %s)", count, mode)
	defer func() { logger.Debugf(ctx, "/Start(%d, %s): %d %v", count, mode, _ret, _err) }()

	if count == 0 {
		return 0, fmt.Errorf("requested zero buffers")
	}
	if a.active.Load() {
		return 0, types.ErrAlreadyActive{}
	}
	if count > Capacity {
		return 0, types.ErrCapacityExceeded{Requested: count, Capacity: Capacity}
	}
	if !mode.UsesAllocator() {
		return 0, types.ErrUnsupportedIOMode{IOMode: mode}
	}

	group, err := a.platform.NewBufferGroup(ctx, mpp.BufferModeExternal, mpp.BufferTypeExtDMA)
	if err != nil {
		return 0, fmt.Errorf("unable to get an external buffer group: %w", err)
	}
	a.group = group

	if mode.IsInternal() {
		if err := a.allocateInternalLocked(ctx, count, mode); err != nil {
			if rollbackErr := a.releaseAllLocked(ctx); rollbackErr != nil {
				logger.Errorf(ctx, "unable to roll back a failed start: %v", rollbackErr)
			}
			return 0, err
		}
	}

	a.active.Store(true)
	return count, nil
}

func (a *Allocator) allocateInternalLocked(
	ctx context.Context,
	count uint,
	mode types.IOMode,
) (_err error) {
	bufType := mpp.BufferTypeION
	if mode == types.IOModeDRM {
		bufType = mpp.BufferTypeDRM
	}
	size := a.source.FrameSize()
	if size == 0 {
		return fmt.Errorf("the frame size is not known yet")
	}
	logger.Debugf(ctx, "allocating %d %s buffers of %s", count, bufType, humanize.IBytes(uint64(size)))

	internalGroup, err := a.platform.NewBufferGroup(ctx, mpp.BufferModeInternal, bufType)
	if err != nil {
		return fmt.Errorf("unable to get an internal %s buffer group: %w", bufType, err)
	}
	defer func() {
		if err := internalGroup.Put(ctx); err != nil {
			logger.Errorf(ctx, "unable to release the internal buffer group: %v", err)
		}
	}()

	for idx := 0; idx < int(count); idx++ {
		tmp, err := internalGroup.Get(ctx, size)
		if err != nil {
			return fmt.Errorf("unable to allocate buffer #%d: %w", idx, err)
		}
		mem, err := a.importBufferLocked(ctx, tmp.FD(), tmp.Size(), idx)
		// the imported buffer has its own descriptor, the temporary one is not needed anymore
		if putErr := tmp.Put(); putErr != nil {
			logger.Errorf(ctx, "unable to put temporary buffer #%d: %v", idx, putErr)
		}
		if err != nil {
			return fmt.Errorf("unable to import buffer #%d: %w", idx, err)
		}
		pushed := a.ready.Push(mem)
		internal.Assert(ctx, pushed, "the ready-queue is smaller than the capacity")
	}
	return nil
}

// importBufferLocked commits a duplicate of the descriptor into the group.
func (a *Allocator) importBufferLocked(
	ctx context.Context,
	fd int,
	size uint,
	index int,
) (*memory.Hardware, error) {
	dupFD, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("unable to duplicate descriptor %d: %w", fd, err)
	}
	buf, err := a.group.Import(ctx, mpp.ImportInfo{
		Type:  mpp.BufferTypeExtDMA,
		FD:    dupFD,
		Size:  size,
		Index: index,
	})
	if err != nil {
		unix.Close(dupFD)
		return nil, fmt.Errorf("unable to commit descriptor %d into the buffer group: %w", dupFD, err)
	}
	mem := memory.NewHardware(buf, index)
	a.setSlotLocked(index, mem)
	logger.Tracef(ctx, "imported %s", mem)
	return mem, nil
}

// Stop releases all the memories and the buffer group. It is a no-op on
// an inactive allocator.
func (a *Allocator) Stop(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &a.locker, a.stopLocked, ctx)
}

func (a *Allocator) stopLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Stop")
	defer func() { logger.Debugf(ctx, "/Stop: %v", _err) }()
	if !a.active.Load() {
		return nil
	}
	err := a.releaseAllLocked(ctx)
	a.active.Store(false)
	if err != nil {
		// the state is reset anyway, the error is only informational
		logger.Errorf(ctx, "errors while releasing the memories: %v", err)
	}
	return nil
}

func (a *Allocator) releaseAllLocked(ctx context.Context) error {
	var errs []error
	a.ready.Drain()
	for idx := range a.slots {
		s := &a.slots[idx]
		if !s.occupied {
			continue
		}
		if err := s.memory.Release(); err != nil {
			errs = append(errs, fmt.Errorf("memory %d: %w", idx, err))
		}
		*s = slot{}
	}
	a.count = 0
	a.metrics.SetAllocatorBuffers(a.Name, 0)
	if a.group != nil {
		if err := a.group.Put(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to release the buffer group: %w", err))
		}
		a.group = nil
	}
	return errors.Join(errs...)
}
