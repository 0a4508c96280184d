package decoder

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/xaionaro-go/observability"

	"github.com/xaionaro-go/mppbufferpool/bufferpool"
	"github.com/xaionaro-go/mppbufferpool/helpers/closuresignaler"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/memory"
	"github.com/xaionaro-go/mppbufferpool/session"
	"github.com/xaionaro-go/mppbufferpool/types"
)

// HandleFrame submits one compressed frame. The first frame after
// SetFormat also negotiates the output format and sets up the pools.
func (d *Decoder) HandleFrame(
	ctx context.Context,
	data []byte,
	pts, dts int64,
) (_err error) {
	logger.Tracef(ctx, "HandleFrame(%d bytes, pts:%d)", len(data), pts)
	defer func() { logger.Tracef(ctx, "/HandleFrame(%d bytes, pts:%d): %v", len(data), pts, _err) }()

	if !d.active.Load() {
		return types.ErrNotActive
	}
	if err := d.outputErr.Load(); err != nil {
		if errors.Is(err, types.ErrFlushing) {
			return types.ErrFlushing
		}
		return fmt.Errorf("the output loop stopped: %w", err)
	}

	d.locker.ManualLock(ctx)
	if d.input == nil {
		d.locker.ManualUnlock(ctx)
		return fmt.Errorf("the decoder is closed")
	}
	if !d.format.IsSet() {
		d.locker.ManualUnlock(ctx)
		return fmt.Errorf("the format is not set")
	}
	if !d.negotiated {
		err := d.negotiateLocked(ctx, data, pts, dts)
		if err == nil {
			d.negotiated = true
			d.pending.Inc()
			d.submitted.Inc()
			d.startWorkerLocked(ctx)
		}
		d.locker.ManualUnlock(ctx)
		return err
	}
	d.startWorkerLocked(ctx)
	input, w := d.input, d.worker
	d.locker.ManualUnlock(ctx)

	d.pending.Inc()
	if err := d.submit(ctx, input, w, data, pts, dts); err != nil {
		d.pending.Dec()
		return err
	}
	d.submitted.Inc()
	return nil
}

// negotiateLocked feeds the first frame directly, waits for the decoder
// to report the output format and sets up both pools.
func (d *Decoder) negotiateLocked(
	ctx context.Context,
	data []byte,
	pts, dts int64,
) (_err error) {
	logger.Debugf(ctx, "negotiate")
	defer func() { logger.Debugf(ctx, "/negotiate: %v", _err) }()

	format := d.format.Get()
	if format.CodecData.IsSet() {
		data = append(append([]byte{}, format.CodecData.Get()...), data...)
	}
	for {
		err := d.input.SendStream(ctx, data, pts, dts)
		if !errors.Is(err, types.ErrBusy) {
			if err != nil {
				return fmt.Errorf("unable to send the first frame: %w", err)
			}
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		runtime.Gosched()
	}

	if err := d.output.SetTimeout(ctx, -1); err != nil {
		return err
	}
	if err := d.output.AcquireOutputFormat(ctx); err != nil {
		return fmt.Errorf("unable to get the output format: %w", err)
	}
	logger.Debugf(ctx, "the output format is %s", d.output.VideoInfo())

	q := session.AllocationQuery{
		Pool:         d.Config.Downstream,
		HasVideoMeta: d.Config.DownstreamHasVideoMeta,
	}
	if q.Pool != nil {
		cfg := q.Pool.Config()
		q.Size, q.MinBuffers, q.MaxBuffers = cfg.Size, cfg.MinBuffers, cfg.MaxBuffers
	}
	alloc, err := d.output.DecideAllocation(ctx, q)
	if err != nil {
		return fmt.Errorf("unable to decide the allocation: %w", err)
	}
	d.allocation = alloc

	own := d.output.Pool()
	ownCfg := own.Config()
	ownCfg.MinBuffers = max(ownCfg.MinBuffers, d.Config.OutputBuffers)
	if err := ignoreAdjusted(own.SetConfig(ctx, ownCfg)); err != nil {
		return fmt.Errorf("unable to configure %s: %w", own, err)
	}
	if err := own.Start(ctx); err != nil {
		return fmt.Errorf("unable to start %s: %w", own, err)
	}
	if alloc.Pool != own.Base && !alloc.Pool.IsActive() {
		if err := alloc.Pool.Start(ctx); err != nil {
			return fmt.Errorf("unable to start %s: %w", alloc.Pool, err)
		}
	}

	if err := d.output.InfoChange(ctx); err != nil {
		return err
	}
	if err := d.output.SetTimeout(ctx, d.Config.OutputTimeout); err != nil {
		return err
	}

	input, err := d.input.SetupPool(ctx)
	if err != nil {
		return fmt.Errorf("unable to set up the input pool: %w", err)
	}
	if !input.IsActive() {
		inputCfg := bufferpool.Config{
			Size:       d.Config.InputBufferSize,
			MaxBuffers: d.Config.InputBuffers,
		}
		if err := ignoreAdjusted(input.SetConfig(ctx, inputCfg)); err != nil {
			return fmt.Errorf("unable to configure %s: %w", input, err)
		}
		if err := input.Start(ctx); err != nil {
			return fmt.Errorf("unable to start %s: %w", input, err)
		}
	}
	return nil
}

func ignoreAdjusted(err error) error {
	var adjusted bufferpool.ErrConfigAdjusted
	if errors.As(err, &adjusted) {
		return nil
	}
	return err
}

// submit copies the frame into a buffer of the input pool and submits
// it; waiting for room in the decoder queue ends when the worker exits.
func (d *Decoder) submit(
	ctx context.Context,
	input *session.Session,
	w *worker,
	data []byte,
	pts, dts int64,
) error {
	pool := input.Pool()
	if pool == nil {
		return types.ErrNotActive
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	buf, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("unable to acquire an input buffer: %w", err)
	}
	defer buf.Unref(ctx)

	var mem *memory.System
	if len(buf.Memories) == 1 {
		mem, _ = buf.Memories[0].(*memory.System)
	}
	if mem != nil && uint(len(data)) <= mem.View().MaxSize {
		if err := mem.Resize(uint(len(data))); err != nil {
			return fmt.Errorf("unable to resize %s: %w", mem, err)
		}
		dst, err := mem.Map()
		if err != nil {
			return fmt.Errorf("unable to map %s: %w", mem, err)
		}
		copy(dst, data)
	} else {
		logger.Debugf(ctx, "a frame of %d bytes does not fit into %s, submitting it as is", len(data), buf)
		oversized := bufferpool.NewBuffer(memory.NewSystemAllocator().Wrap(data))
		defer oversized.Unref(ctx)
		buf = oversized
	}
	buf.PTS, buf.DTS = pts, dts

	if _, err := pool.Process(ctx, buf); err != nil {
		if w.done.IsClosed() && ctx.Err() != nil {
			return fmt.Errorf("the output loop stopped: %w", types.ErrFlushing)
		}
		return err
	}
	return nil
}

func (d *Decoder) startWorkerLocked(ctx context.Context) {
	if d.worker != nil && !d.worker.done.IsClosed() {
		return
	}
	d.outputErr.Store(nil)
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &worker{
		done: closuresignaler.New(),
		ctx:  workerCtx,
	}
	d.worker = w
	observability.Go(ctx, func(ctx context.Context) {
		defer cancel()
		defer w.done.Close(ctx)
		d.outputLoop(workerCtx)
	})
}

// waitWorkerLocked waits for the worker to exit; the sessions must be
// unlocked.
func (d *Decoder) waitWorkerLocked(ctx context.Context) {
	w := d.worker
	if w == nil {
		return
	}
	logger.Debugf(ctx, "waiting for the output loop")
	if err := w.done.Wait(context.WithoutCancel(ctx)); err != nil {
		logger.Errorf(ctx, "unable to wait for the output loop: %v", err)
	}
	d.worker = nil
}
