package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/mppbufferpool/bufferpool"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/types"
)

// ErrNoDownstreamPool is returned when importing without a pool to import from.
var ErrNoDownstreamPool = errors.New("no downstream pool to import from")

// AllocationQuery is what the consumer of the decoded pictures proposes.
type AllocationQuery struct {
	// Pool is the pool proposed by the consumer (may be nil).
	Pool         *bufferpool.Base
	Size         uint
	MinBuffers   uint
	MaxBuffers   uint
	HasVideoMeta bool
}

// Allocation is the outcome of DecideAllocation.
type Allocation struct {
	// Pool is the pool the pictures are pushed from: either the own pool
	// of the session, or a pool the decoded pictures are copied into.
	Pool       *bufferpool.Base
	Size       uint
	MinBuffers uint
	MaxBuffers uint

	// PushingFromOwnPool is true if the consumer receives the buffers of
	// the decoder itself (no copying).
	PushingFromOwnPool bool
}

func (a Allocation) String() string {
	return fmt.Sprintf("%s size:%d min:%d max:%d own:%t", a.Pool, a.Size, a.MinBuffers, a.MaxBuffers, a.PushingFromOwnPool)
}

// DecideAllocation chooses between pushing the decoder buffers
// downstream and copying them into another pool, and configures the
// pools accordingly. The own pool is set up if needed, but none of the
// pools is started.
func (s *Session) DecideAllocation(
	ctx context.Context,
	q AllocationQuery,
) (_ret Allocation, _err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "DecideAllocation(%#+v)", q)
	defer func() { logger.Debugf(ctx, "/DecideAllocation(%#+v): %s %v", q, _ret, _err) }()

	own, err := s.SetupPool(ctx)
	if err != nil {
		return Allocation{}, fmt.Errorf("unable to set up the pool: %w", err)
	}

	update := q.Pool != nil
	pool, size, minBuffers, maxBuffers := q.Pool, q.Size, q.MinBuffers, q.MaxBuffers
	if !update {
		size, minBuffers, maxBuffers = 0, 0, 0
	}
	canShareOwnPool := q.HasVideoMeta || !s.needVideoMeta
	frameSize := s.FrameSize()

	var otherPool *bufferpool.Base
	pushingFromOwnPool := false
	switch mode := s.IOMode(); mode {
	case types.IOModeDMABufImport:
		if pool == nil {
			return Allocation{}, ErrNoDownstreamPool
		}
		if err := own.SetOtherPool(ctx, pool); err != nil {
			return Allocation{}, fmt.Errorf("unable to set the pool to import from: %w", err)
		}
		otherPool = pool
		pool = own.Base
		size = frameSize
	case types.IOModeION, types.IOModeDRM:
		switch {
		case canShareOwnPool:
			logger.Debugf(ctx, "streaming mode: using our own pool")
			pool = own.Base
			size = frameSize
			pushingFromOwnPool = true
		case pool != nil:
			logger.Debugf(ctx, "streaming mode: copying to the downstream pool %s", pool)
		default:
			logger.Debugf(ctx, "streaming mode: no usable pool, copying to a generic pool")
			pool = bufferpool.NewSystemPool(s.String() + "-copy")
			size = max(size, frameSize)
		}
	default:
		logger.Warnf(ctx, "unhandled IO mode %s", mode)
	}
	if size == 0 {
		return Allocation{}, fmt.Errorf("the decoder did not suggest any buffer size")
	}

	var ownMin uint
	if pushingFromOwnPool {
		// what downstream wants, plus a couple to keep the decoder busy
		ownMin = minBuffers + 2
		if !update {
			ownMin += 2
		}
	} else {
		ownMin = max(ownMin, MinBuffers)
		minBuffers = max(minBuffers, MinBuffers)
		if pool == own.Base {
			minBuffers += ownMin
		}
	}
	if maxBuffers != 0 {
		maxBuffers = max(minBuffers, maxBuffers)
	}

	ownCfg := bufferpool.Config{
		Size:       size,
		MinBuffers: ownMin,
		VideoMeta:  s.needVideoMeta || q.HasVideoMeta,
	}
	if err := setConfig(ctx, own.Base, ownCfg); err != nil {
		return Allocation{}, fmt.Errorf("unable to configure the own pool: %w", err)
	}

	if pool != own.Base {
		otherPool = pool
	}
	if otherPool != nil {
		otherCfg := bufferpool.Config{
			Size:       size,
			MinBuffers: minBuffers,
			MaxBuffers: maxBuffers,
			VideoMeta:  q.HasVideoMeta,
		}
		if err := setConfig(ctx, otherPool, otherCfg); err != nil {
			return Allocation{}, fmt.Errorf("unable to configure the pool %s: %w", otherPool, err)
		}
	}

	cfg := pool.Config()
	return Allocation{
		Pool:               pool,
		Size:               cfg.Size,
		MinBuffers:         cfg.MinBuffers,
		MaxBuffers:         cfg.MaxBuffers,
		PushingFromOwnPool: pushingFromOwnPool,
	}, nil
}

// setConfig applies the configuration, accepting the adjustments the
// pool makes.
func setConfig(ctx context.Context, pool *bufferpool.Base, cfg bufferpool.Config) error {
	err := pool.SetConfig(ctx, cfg)
	var adjusted bufferpool.ErrConfigAdjusted
	if !errors.As(err, &adjusted) {
		return err
	}
	logger.Debugf(ctx, "%s adjusted the config to %s", pool, adjusted.Config)
	return pool.SetConfig(ctx, adjusted.Config)
}
