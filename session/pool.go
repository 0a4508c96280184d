package session

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/mppbufferpool/bufferpool"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/types"
)

// SetupPool creates the pool of the session (not configured, not
// started). The requested IO mode IOModeAuto resolves to IOModeDRM.
func (s *Session) SetupPool(ctx context.Context) (_ret *bufferpool.Pool, _err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "SetupPool")
	defer func() { logger.Debugf(ctx, "/SetupPool: %v", _err) }()

	s.locker.ManualLock(ctx)
	defer s.locker.ManualUnlock(ctx)
	if s.pool != nil {
		return s.pool, nil
	}
	if s.mppCtx == nil {
		return nil, types.ErrNotActive
	}

	mode := s.reqIOMode
	if mode == types.IOModeAuto {
		mode = types.IOModeDRM
	}
	switch s.NodeMode {
	case types.NodeModeDecInput, types.NodeModeDecOutput:
	default:
		return nil, types.ErrNotImplemented{Err: fmt.Errorf("pools of %s", s.NodeMode)}
	}

	pool, err := bufferpool.New(
		ctx,
		s.String(),
		s.platform,
		s,
		s.NodeMode,
		mode,
		bufferpool.OptionMetrics(s.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create a %s pool: %w", mode, err)
	}
	s.ioMode = mode
	s.pool = pool
	return pool, nil
}

// ClosePool drops whatever the decoder holds and stops the pool; the
// memories are released as soon as the consumers return the buffers.
func (s *Session) ClosePool(ctx context.Context) (_err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "ClosePool")
	defer func() { logger.Debugf(ctx, "/ClosePool: %v", _err) }()

	var pool *bufferpool.Pool
	s.locker.Do(ctx, func() {
		pool = s.pool
		s.pool = nil
	})
	if pool == nil {
		return nil
	}
	if mppCtx := s.context(ctx); mppCtx != nil {
		if err := mppCtx.Reset(ctx); err != nil {
			logger.Errorf(ctx, "unable to reset the codec context: %v", err)
		}
	}
	return pool.Stop(ctx)
}
