package allocator

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/memory"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/types"
)

// ErrFormatChanged is returned when the decoder reports a new format in
// the middle of the stream.
var ErrFormatChanged = errors.New("the stream format changed")

// Enqueue hands the memory over to the decoder: the caller keeps a
// logical reference while the hardware may write into it.
func (a *Allocator) Enqueue(
	ctx context.Context,
	mem *memory.Hardware,
) (_err error) {
	logger.Tracef(ctx, "Enqueue(%s)", mem)
	defer func() { logger.Tracef(ctx, "/Enqueue(%s): %v", mem, _err) }()
	if !a.active.Load() {
		return types.ErrNotActive
	}
	mem = mem.Root()
	if !mem.MarkQueued() {
		return types.ErrAlreadyQueued{Index: mem.Index()}
	}
	if frame := mem.DetachFrame(); frame != nil {
		if err := frame.Deinit(); err != nil {
			logger.Errorf(ctx, "unable to deinit the frame of %s: %v", mem, err)
		}
	}

	mem.Ref()
	if err := mem.PutHardwareRef(); err != nil {
		mem.Unref()
		mem.MarkDequeued()
		return fmt.Errorf("unable to queue buffer %d: %w", mem.Index(), err)
	}
	return nil
}

// Dequeue waits for a decoded frame and returns the memory it was
// written into, with the frame attached.
//
// A frame with no picture ends the stream (types.ErrEOS); the memory of
// the last picture may also carry an EOS frame.
func (a *Allocator) Dequeue(ctx context.Context) (_ret *memory.Hardware, _err error) {
	logger.Tracef(ctx, "Dequeue")
	defer func() { logger.Tracef(ctx, "/Dequeue: %v %v", _ret, _err) }()
	if !a.active.Load() {
		return nil, types.ErrNotActive
	}

	frame, err := a.source.DecodeFrame(ctx)
	if err != nil {
		return nil, err
	}
	logger.TraceDump(ctx, "decoded frame", frame)

	buf := frame.Buffer()
	if buf == nil {
		eos, infoChange := frame.EOS(), frame.InfoChange()
		deinitFrame(ctx, frame)
		switch {
		case eos:
			logger.Debugf(ctx, "got an EOS frame")
			return nil, types.ErrEOS
		case infoChange:
			return nil, ErrFormatChanged
		default:
			return nil, fmt.Errorf("the decoder returned a frame without a buffer")
		}
	}

	index := buf.Index()
	if index < 0 || index >= Capacity {
		deinitFrame(ctx, frame)
		return nil, types.ErrInvalidIndex{Index: index, Capacity: Capacity}
	}
	mem, ok := a.Memory(index)
	if !ok || !mem.MarkDequeued() {
		deinitFrame(ctx, frame)
		return nil, types.ErrNotTracked{Index: index}
	}
	if err := mem.TakeHardwareRef(); err != nil {
		mem.MarkQueued()
		deinitFrame(ctx, frame)
		return nil, fmt.Errorf("unable to reference buffer %d: %w", index, err)
	}
	mem.AttachFrame(frame)
	mem.Unref()
	return mem, nil
}

func deinitFrame(ctx context.Context, frame mpp.Frame) {
	if err := frame.Deinit(); err != nil {
		logger.Errorf(ctx, "unable to deinit a frame: %v", err)
	}
}
