package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/types"
	"github.com/xaionaro-go/mppbufferpool/videoinfo"
)

// SendStream submits compressed data to the decoder. Returns
// types.ErrBusy if the input queue of the decoder is full.
func (s *Session) SendStream(
	ctx context.Context,
	data []byte,
	pts, dts int64,
) error {
	return s.putPacket(ctx, &mpp.Packet{Data: data, PTS: pts, DTS: dts})
}

// SendEOS tells the decoder that no more data follows. The decoder
// output then ends with types.ErrEOS once everything is drained.
func (s *Session) SendEOS(ctx context.Context) (_err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "SendEOS")
	defer func() { logger.Debugf(ctx, "/SendEOS: %v", _err) }()
	if s.NodeMode != types.NodeModeDecInput {
		return nil
	}
	return s.putPacket(ctx, &mpp.Packet{EOS: true})
}

func (s *Session) putPacket(ctx context.Context, pkt *mpp.Packet) error {
	mppCtx := s.context(ctx)
	if mppCtx == nil {
		return types.ErrNotActive
	}
	err := mppCtx.PutPacket(ctx, pkt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mpp.ErrBufferFull):
		return types.ErrBusy
	default:
		return fmt.Errorf("unable to send a packet of %d bytes: %w", len(pkt.Data), err)
	}
}

// Flush drops everything the decoder holds.
func (s *Session) Flush(ctx context.Context) (_err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "Flush")
	defer func() { logger.Debugf(ctx, "/Flush: %v", _err) }()
	mppCtx := s.context(ctx)
	if mppCtx == nil {
		return types.ErrNotActive
	}
	return mppCtx.Reset(ctx)
}

// AcquireOutputFormat waits for the decoder to report the format of the
// stream and remembers it (see VideoInfo and AlignInfo). Returns
// types.ErrBusy if the decoder has not reported anything within the
// output timeout.
func (s *Session) AcquireOutputFormat(ctx context.Context) (_err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "AcquireOutputFormat")
	defer func() { logger.Debugf(ctx, "/AcquireOutputFormat: %v", _err) }()

	if s.NodeMode != types.NodeModeDecOutput {
		return fmt.Errorf("the output format is only available on the decoder output, not on %s", s.NodeMode)
	}
	mppCtx := s.context(ctx)
	if mppCtx == nil {
		return types.ErrNotActive
	}

	frame, err := mppCtx.GetFrame(ctx)
	switch {
	case err == nil:
	case errors.Is(err, mpp.ErrTimeout):
		return types.ErrBusy
	default:
		return fmt.Errorf("unable to get the output format: %w", err)
	}
	if frame == nil {
		return fmt.Errorf("the decoder returned no frame")
	}
	defer func() {
		if err := frame.Deinit(); err != nil {
			logger.Errorf(ctx, "unable to deinit the format frame: %v", err)
		}
	}()
	logger.TraceDump(ctx, "format frame", frame)

	info, alignInfo, err := videoinfo.FromFrame(frame)
	if err != nil {
		return fmt.Errorf("unable to get the video info: %w", err)
	}
	s.locker.Do(ctx, func() {
		s.info = info
		s.alignInfo = alignInfo
	})
	logger.Debugf(ctx, "output format: %s %dx%d (%d bytes per picture)", info.Format, info.Width, info.Height, info.Size)
	return nil
}

// InfoChange acknowledges the format reported by the decoder, letting
// it proceed with decoding.
func (s *Session) InfoChange(ctx context.Context) error {
	if s.NodeMode != types.NodeModeDecOutput {
		return nil
	}
	return s.control(ctx, mpp.CommandDecSetInfoChangeReady, nil)
}

// SetTimeout sets the timeout of the blocking calls of the role of the
// session: submitting for the input, fetching for the output. A negative
// timeout blocks forever, zero does not block at all.
func (s *Session) SetTimeout(ctx context.Context, timeout time.Duration) error {
	ms := timeout.Milliseconds()
	if timeout < 0 {
		ms = -1
	}
	switch s.NodeMode {
	case types.NodeModeDecInput:
		return s.control(ctx, mpp.CommandSetInputTimeout, ms)
	case types.NodeModeDecOutput:
		return s.control(ctx, mpp.CommandSetOutputTimeout, ms)
	default:
		return types.ErrNotImplemented{Err: fmt.Errorf("timeouts of %s", s.NodeMode)}
	}
}

func (s *Session) control(ctx context.Context, cmd mpp.Command, param any) error {
	mppCtx := s.context(ctx)
	if mppCtx == nil {
		return types.ErrNotActive
	}
	if err := mppCtx.Control(ctx, cmd, param); err != nil {
		return fmt.Errorf("unable to execute %s: %w", cmd, err)
	}
	return nil
}

// DecodeFrame blocks until the decoder produces a frame. It returns
// types.ErrFlushing once the session is unlocked.
func (s *Session) DecodeFrame(ctx context.Context) (mpp.Frame, error) {
	mppCtx := s.context(ctx)
	if mppCtx == nil {
		return nil, types.ErrNotActive
	}
	for {
		if s.unlocked.Load() {
			return nil, types.ErrFlushing
		}
		frame, err := mppCtx.GetFrame(ctx)
		switch {
		case err == nil:
			if frame == nil {
				return nil, fmt.Errorf("the decoder returned no frame")
			}
			return frame, nil
		case errors.Is(err, mpp.ErrTimeout):
			continue
		default:
			return nil, fmt.Errorf("unable to decode a frame: %w", err)
		}
	}
}

// ConfigPool binds the buffer group the decoder writes the pictures
// into; nil unbinds it.
func (s *Session) ConfigPool(ctx context.Context, group mpp.BufferGroup) error {
	switch s.NodeMode {
	case types.NodeModeDecOutput:
		return s.control(ctx, mpp.CommandDecSetExtBufGroup, group)
	case types.NodeModeDecInput:
		return nil
	default:
		return types.ErrNotImplemented{Err: fmt.Errorf("buffer groups of %s", s.NodeMode)}
	}
}

// Unlock interrupts every blocking call of the session and its pool
// (they return types.ErrFlushing) until UnlockStop.
func (s *Session) Unlock(ctx context.Context) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "Unlock")
	defer func() { logger.Debugf(ctx, "/Unlock") }()
	s.unlocked.Store(true)
	if pool := s.Pool(); pool != nil && pool.IsActive() {
		pool.FlushStart(ctx)
	}
}

func (s *Session) UnlockStop(ctx context.Context) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "UnlockStop")
	defer func() { logger.Debugf(ctx, "/UnlockStop") }()
	s.unlocked.Store(false)
	if pool := s.Pool(); pool != nil && pool.IsActive() {
		pool.FlushStop(ctx)
	}
}

func (s *Session) IsUnlocked() bool {
	return s.unlocked.Load()
}
