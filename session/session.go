// session.go implements the codec session handle shared by the pools of a decoder.

// Package session implements the handle of a codec session: it owns the
// native codec context, the buffer pool of its role, and exposes the
// submit/fetch operations the allocator and the pools call into.
//
// A decoder uses two sessions over the same codec context: the input one
// (compressed data, copied through system memory) and the output one
// (decoded pictures, see OpenShared).
package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/xaionaro-go/mppbufferpool/bufferpool"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/metrics"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/types"
	"github.com/xaionaro-go/mppbufferpool/videoinfo"
	"github.com/xaionaro-go/xsync"
)

// MinBuffers is the minimal amount of buffers the decoder needs to hold
// when it cannot push from its own pool.
const MinBuffers = 16

type Config struct {
	NodeMode types.NodeMode

	// IOMode is the requested IO mode; IOModeAuto resolves to IOModeDRM.
	// The decoder input always copies (IOModeRW).
	IOMode types.IOMode
}

type Session struct {
	ID       uuid.UUID
	NodeMode types.NodeMode

	locker        xsync.Mutex
	platform      mpp.Platform
	metrics       *metrics.Metrics
	closer        *astikit.Closer
	mppCtx        mpp.Context
	shared        bool
	cfg           Config
	reqIOMode     types.IOMode
	ioMode        types.IOMode
	needVideoMeta bool
	pool          *bufferpool.Pool
	info          videoinfo.Info
	alignInfo     videoinfo.Info
	unlocked      atomic.Bool
}

var (
	_ bufferpool.Session = (*Session)(nil)
	_ types.Closer       = (*Session)(nil)
)

type Option func(*Session)

func OptionMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func New(
	ctx context.Context,
	platform mpp.Platform,
	cfg Config,
	opts ...Option,
) *Session {
	s := &Session{
		ID:        uuid.New(),
		NodeMode:  cfg.NodeMode,
		platform:  platform,
		closer:    astikit.NewCloser(),
		cfg:       cfg,
		reqIOMode: cfg.IOMode,
	}
	switch cfg.NodeMode {
	case types.NodeModeDecInput:
		s.reqIOMode = types.IOModeRW
	case types.NodeModeDecOutput:
		s.needVideoMeta = true
	}
	for _, opt := range opts {
		opt(s)
	}
	logger.Debugf(s.ctx(ctx), "created a session: %s", s)
	return s
}

func (s *Session) String() string {
	return fmt.Sprintf("session<%s:%s>", s.NodeMode, s.ID.String()[:8])
}

func (s *Session) ctx(ctx context.Context) context.Context {
	return belt.WithField(ctx, "session", s.String())
}

// Open creates the codec context of the session.
func (s *Session) Open(ctx context.Context) (_err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "Open")
	defer func() { logger.Debugf(ctx, "/Open: %v", _err) }()
	return xsync.DoA1R1(ctx, &s.locker, s.openLocked, ctx)
}

func (s *Session) openLocked(ctx context.Context) error {
	if s.mppCtx != nil {
		return fmt.Errorf("the session is already open")
	}
	mppCtx, err := s.platform.NewContext(ctx)
	if err != nil {
		return fmt.Errorf("unable to create a codec context: %w", err)
	}
	s.mppCtx = mppCtx
	s.closer.Add(func() {
		if err := mppCtx.Destroy(ctx); err != nil {
			logger.Errorf(ctx, "unable to destroy the codec context: %v", err)
		}
	})
	return nil
}

// OpenShared makes the session the output side of the codec context of
// `other`; the context stays owned by `other`.
func (s *Session) OpenShared(ctx context.Context, other *Session) (_err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "OpenShared(%s)", other)
	defer func() { logger.Debugf(ctx, "/OpenShared(%s): %v", other, _err) }()

	mppCtx := xsync.DoR1(ctx, &other.locker, func() mpp.Context {
		return other.mppCtx
	})
	if mppCtx == nil {
		return fmt.Errorf("%s is not open", other)
	}
	s.locker.Do(ctx, func() {
		s.mppCtx = mppCtx
		s.shared = true
		s.NodeMode = types.NodeModeDecOutput
		s.needVideoMeta = true
		s.reqIOMode = s.cfg.IOMode
	})
	return nil
}

// SetFormat initializes the codec context for the given coding.
func (s *Session) SetFormat(ctx context.Context, coding mpp.CodingType) (_err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "SetFormat(%s)", coding)
	defer func() { logger.Debugf(ctx, "/SetFormat(%s): %v", coding, _err) }()

	if coding == mpp.CodingUnused {
		return fmt.Errorf("unsupported coding %s", coding)
	}
	mppCtx := s.context(ctx)
	if mppCtx == nil {
		return types.ErrNotActive
	}
	ctxType := mpp.CtxTypeDec
	if !s.NodeMode.IsDecoder() {
		ctxType = mpp.CtxTypeEnc
	}
	if err := mppCtx.Init(ctx, ctxType, coding); err != nil {
		return fmt.Errorf("unable to initialize the codec context for %s: %w", coding, err)
	}
	return nil
}

// Close releases the pool and (unless shared) the codec context.
func (s *Session) Close(ctx context.Context) (_err error) {
	ctx = s.ctx(ctx)
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()

	if err := s.ClosePool(ctx); err != nil {
		logger.Errorf(ctx, "unable to close the pool: %v", err)
	}
	return xsync.DoR1(ctx, &s.locker, func() error {
		s.mppCtx = nil
		return s.closer.Close()
	})
}

func (s *Session) context(ctx context.Context) mpp.Context {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &s.locker, func() mpp.Context {
		return s.mppCtx
	})
}

// Pool returns the pool set up by SetupPool (or nil).
func (s *Session) Pool() *bufferpool.Pool {
	return xsync.DoR1(xsync.WithNoLogging(context.TODO(), true), &s.locker, func() *bufferpool.Pool {
		return s.pool
	})
}

// IsActive returns true if the pool of the session is set up.
func (s *Session) IsActive() bool {
	return s.Pool() != nil
}

// IOMode returns the IO mode the pool was set up with.
func (s *Session) IOMode() types.IOMode {
	return xsync.DoR1(xsync.WithNoLogging(context.TODO(), true), &s.locker, func() types.IOMode {
		return s.ioMode
	})
}

func (s *Session) NeedVideoMeta() bool {
	return s.needVideoMeta
}

// VideoInfo returns the layout of the decoded pictures (see AcquireOutputFormat).
func (s *Session) VideoInfo() videoinfo.Info {
	return xsync.DoR1(xsync.WithNoLogging(context.TODO(), true), &s.locker, func() videoinfo.Info {
		return s.info
	})
}

// AlignInfo returns the layout of the decoded pictures with the picture
// size equal to the hardware strides.
func (s *Session) AlignInfo() videoinfo.Info {
	return xsync.DoR1(xsync.WithNoLogging(context.TODO(), true), &s.locker, func() videoinfo.Info {
		return s.alignInfo
	})
}

func (s *Session) FrameSize() uint {
	return s.VideoInfo().Size
}
