package decoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/mppbufferpool/allocator"
	"github.com/xaionaro-go/mppbufferpool/bufferpool"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/session"
	"github.com/xaionaro-go/mppbufferpool/types"
)

// ErrPictureTooLarge is returned when a decoded picture does not fit
// into a buffer of the pool it is copied into.
type ErrPictureTooLarge struct {
	Size     uint
	Capacity uint
}

func (e ErrPictureTooLarge) Error() string {
	return fmt.Sprintf("a picture of %d bytes does not fit into a buffer of %d bytes", e.Size, e.Capacity)
}

func (d *Decoder) outputLoop(ctx context.Context) {
	logger.Debugf(ctx, "outputLoop")
	var err error
	defer func() { logger.Debugf(ctx, "/outputLoop: %v", err) }()

	output, alloc := d.output, d.allocation
	pool := output.Pool()
	if pool == nil {
		err = types.ErrNotActive
		d.outputErr.Store(err)
		return
	}

	for {
		err = d.outputOne(ctx, output, pool, alloc)
		switch {
		case err == nil:
			continue
		case errors.Is(err, types.ErrCorruptedBuffer):
			d.dropped.Inc()
			d.pending.Dec()
			continue
		case errors.Is(err, allocator.ErrFormatChanged):
			logger.Warnf(ctx, "the decoder reported a new format mid-stream, keeping the current pool")
			if err = output.InfoChange(ctx); err == nil {
				continue
			}
		}
		if !types.IsFlowStatus(err) {
			if h := d.errorHandler; h != nil {
				if h.HandleError(ctx, err) == nil {
					continue
				}
			} else {
				logger.Errorf(ctx, "the output loop failed: %v", err)
			}
		}
		d.outputErr.Store(err)
		return
	}
}

func (d *Decoder) outputOne(
	ctx context.Context,
	output *session.Session,
	pool *bufferpool.Pool,
	alloc session.Allocation,
) error {
	buf, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	buf, err = pool.Process(ctx, buf)
	if err != nil {
		if buf != nil {
			buf.Unref(ctx)
		}
		return err
	}
	last := buf.Flags.Has(bufferpool.FlagLast)

	if !alloc.PushingFromOwnPool && alloc.Pool != pool.Base {
		cpy, err := copyInto(ctx, alloc.Pool, buf)
		buf.Unref(ctx)
		if err != nil {
			return fmt.Errorf("unable to copy the picture into %s: %w", alloc.Pool, err)
		}
		buf = cpy
	}

	if d.pending.Dec() < 0 {
		d.pending.Inc()
		logger.Warnf(ctx, "the decoder returned too many buffers, dropping %s", buf)
		d.dropped.Inc()
		buf.Unref(ctx)
	} else {
		if err := d.sink.SendBuffer(ctx, buf); err != nil {
			return fmt.Errorf("unable to deliver %s: %w", buf, err)
		}
		d.delivered.Inc()
	}
	if last {
		return types.ErrEOS
	}
	return nil
}

// copyInto copies the content and the metadata of src into a buffer of dst.
func copyInto(
	ctx context.Context,
	dst *bufferpool.Base,
	src *bufferpool.Buffer,
) (*bufferpool.Buffer, error) {
	buf, err := dst.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	data, err := src.Map()
	if err != nil {
		buf.Unref(ctx)
		return nil, fmt.Errorf("unable to map %s: %w", src, err)
	}
	out, err := buf.Map()
	if err != nil {
		buf.Unref(ctx)
		return nil, fmt.Errorf("unable to map %s: %w", buf, err)
	}
	if len(out) < len(data) {
		buf.Unref(ctx)
		return nil, ErrPictureTooLarge{Size: uint(len(data)), Capacity: uint(len(out))}
	}
	copy(out, data)
	buf.CopyMetadataFrom(src)
	buf.VideoMeta = src.VideoMeta
	return buf, nil
}
