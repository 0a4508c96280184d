package bufferpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/types"
)

// Process handles a buffer on its way through the session.
//
// In the input role the content is submitted to the decoder, retrying
// while the decoder is busy; the buffer stays with the caller.
//
// In the output role own buffers are checked: an empty buffer ends the
// stream (types.ErrEOS) and a corrupted one is dropped
// (types.ErrCorruptedBuffer); in both cases the buffer is released and
// nil is returned. Other buffers pass through.
func (p *Pool) Process(ctx context.Context, buf *Buffer) (_ret *Buffer, _err error) {
	logger.Tracef(ctx, "Process(%s)", buf)
	defer func() { logger.Tracef(ctx, "/Process(%s): %v", buf, _err) }()

	if p.flushing.Load() {
		return buf, types.ErrFlushing
	}

	switch {
	case p.NodeMode == types.NodeModeDecInput:
		return buf, p.submit(ctx, buf)
	case p.NodeMode.IsOutput():
		if buf.Owner() != p.Base {
			return buf, nil
		}
		if buf.Flags.Has(FlagCorrupted) {
			logger.Warnf(ctx, "dropping a corrupted buffer: %s", buf)
			p.metrics.IncDropped(p.Name, "corrupted")
			buf.Unref(ctx)
			return nil, types.ErrCorruptedBuffer
		}
		if buf.Size() == 0 {
			logger.Debugf(ctx, "end of stream reached")
			p.metrics.IncDropped(p.Name, "eos")
			buf.Unref(ctx)
			return nil, types.ErrEOS
		}
		logger.Tracef(ctx, "%d buffers are left in the decoder queue", p.Queued())
		return buf, nil
	default:
		return buf, types.ErrNotImplemented{Err: fmt.Errorf("processing in node mode %s", p.NodeMode)}
	}
}

func (p *Pool) submit(ctx context.Context, buf *Buffer) error {
	data, err := buf.Map()
	if err != nil {
		return fmt.Errorf("unable to map %s: %w", buf, err)
	}
	for {
		err := p.session.SendStream(ctx, data, buf.PTS, buf.DTS)
		if !errors.Is(err, types.ErrBusy) {
			return err
		}
		p.metrics.IncSubmitRetries(p.Name)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case p.flushing.Load(), p.session.IsUnlocked():
			return types.ErrFlushing
		}
		runtime.Gosched()
	}
}
