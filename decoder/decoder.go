// decoder.go implements the decoder state machine on top of the sessions and their pools.

// Package decoder drives a hardware video decoder: compressed frames are
// submitted through the pool of the input session, and a worker pulls
// the decoded pictures out of the pool of the output session and hands
// them to a Sink.
package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaionaro-go/typing"
	"go.uber.org/atomic"

	"github.com/xaionaro-go/mppbufferpool/bufferpool"
	"github.com/xaionaro-go/mppbufferpool/helpers/closuresignaler"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/metrics"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/session"
	"github.com/xaionaro-go/mppbufferpool/types"
	"github.com/xaionaro-go/xsync"
)

const (
	// OutputBuffers is the amount of buffers the decoder output holds by default.
	OutputBuffers = 22

	DefaultOutputTimeout   = 100 * time.Millisecond
	DefaultInputBufferSize = 1 << 20
	DefaultInputBuffers    = 4
)

// Sink receives the decoded pictures; it takes over the reference and
// must Unref the buffer when done with it.
type Sink interface {
	SendBuffer(ctx context.Context, buf *bufferpool.Buffer) error
}

type SinkFunc func(ctx context.Context, buf *bufferpool.Buffer) error

func (fn SinkFunc) SendBuffer(ctx context.Context, buf *bufferpool.Buffer) error {
	return fn(ctx, buf)
}

type Config struct {
	IOMode          types.IOMode
	OutputBuffers   uint
	OutputTimeout   time.Duration
	InputBufferSize uint
	InputBuffers    uint

	// Downstream is the pool proposed by the consumer (may be nil).
	Downstream             *bufferpool.Base
	DownstreamHasVideoMeta bool
}

func (cfg Config) withDefaults() Config {
	if cfg.OutputBuffers == 0 {
		cfg.OutputBuffers = OutputBuffers
	}
	if cfg.OutputTimeout <= 0 {
		cfg.OutputTimeout = DefaultOutputTimeout
	}
	if cfg.InputBufferSize == 0 {
		cfg.InputBufferSize = DefaultInputBufferSize
	}
	if cfg.InputBuffers == 0 {
		cfg.InputBuffers = DefaultInputBuffers
	}
	return cfg
}

// Format is the format of the compressed stream.
type Format struct {
	Coding    mpp.CodingType
	CodecData typing.Optional[[]byte]
}

func (f Format) Equal(other Format) bool {
	if f.Coding != other.Coding || f.CodecData.IsSet() != other.CodecData.IsSet() {
		return false
	}
	return bytes.Equal(f.CodecData.GetOrZero(), other.CodecData.GetOrZero())
}

type Stats struct {
	Submitted uint64
	Delivered uint64
	Dropped   uint64
}

type worker struct {
	done *closuresignaler.ClosureSignaler
	ctx  context.Context
}

type Decoder struct {
	Config Config

	locker       xsync.Mutex
	platform     mpp.Platform
	sink         Sink
	errorHandler types.ErrorHandler
	metrics      *metrics.Metrics

	input      *session.Session
	output     *session.Session
	format     typing.Optional[Format]
	allocation session.Allocation
	worker     *worker
	negotiated bool

	active    atomic.Bool
	outputErr atomic.Error
	pending   atomic.Int64
	submitted atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

var _ types.Closer = (*Decoder)(nil)

type Option func(*Decoder)

func OptionErrorHandler(h types.ErrorHandler) Option {
	return func(d *Decoder) { d.errorHandler = h }
}

func OptionMetrics(m *metrics.Metrics) Option {
	return func(d *Decoder) { d.metrics = m }
}

func New(
	ctx context.Context,
	platform mpp.Platform,
	sink Sink,
	cfg Config,
	opts ...Option,
) (_ *Decoder, _err error) {
	logger.Debugf(ctx, "New")
	defer func() { logger.Debugf(ctx, "/New: %v", _err) }()

	d := &Decoder{
		Config:   cfg.withDefaults(),
		platform: platform,
		sink:     sink,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.openLocked(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decoder) String() string {
	return fmt.Sprintf("Decoder(%s)", d.Config.IOMode)
}

func (d *Decoder) openLocked(ctx context.Context) error {
	input := session.New(ctx, d.platform, session.Config{
		NodeMode: types.NodeModeDecInput,
	}, session.OptionMetrics(d.metrics))
	if err := input.Open(ctx); err != nil {
		return fmt.Errorf("unable to open the codec: %w", err)
	}
	output := session.New(ctx, d.platform, session.Config{
		NodeMode: types.NodeModeDecOutput,
		IOMode:   d.Config.IOMode,
	}, session.OptionMetrics(d.metrics))
	if err := output.OpenShared(ctx, input); err != nil {
		if closeErr := input.Close(ctx); closeErr != nil {
			logger.Errorf(ctx, "unable to close the input session: %v", closeErr)
		}
		return fmt.Errorf("unable to open the decoder output: %w", err)
	}
	d.input, d.output = input, output
	return nil
}

func (d *Decoder) closeSessionsLocked(ctx context.Context) error {
	var errs []error
	if d.output != nil {
		if err := d.output.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the output session: %w", err))
		}
	}
	if d.input != nil {
		if err := d.input.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the input session: %w", err))
		}
	}
	d.input, d.output = nil, nil
	d.negotiated = false
	return errors.Join(errs...)
}

// reopenLocked starts over with a new codec context; the pools of the
// old one are released as soon as the consumers return the buffers.
func (d *Decoder) reopenLocked(ctx context.Context) error {
	if err := d.closeSessionsLocked(ctx); err != nil {
		logger.Errorf(ctx, "unable to close the sessions: %v", err)
	}
	if err := d.openLocked(ctx); err != nil {
		return err
	}
	d.outputErr.Store(nil)
	d.pending.Store(0)
	if !d.format.IsSet() {
		return nil
	}
	return d.input.SetFormat(ctx, d.format.Get().Coding)
}

// Close stops the decoder and destroys the codec context.
func (d *Decoder) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	d.active.Store(false)
	return xsync.DoA1R1(ctx, &d.locker, d.stopLocked, ctx)
}

// Start allows processing frames.
func (d *Decoder) Start(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start: %v", _err) }()
	err := xsync.DoR1(ctx, &d.locker, func() error {
		if d.input == nil {
			return fmt.Errorf("the decoder is closed")
		}
		d.input.UnlockStop(ctx)
		d.output.UnlockStop(ctx)
		return nil
	})
	if err != nil {
		return err
	}
	d.outputErr.Store(nil)
	d.active.Store(true)
	return nil
}

// Stop interrupts the worker, drops everything the decoder holds and
// releases the pools; the buffers still held downstream stay valid until
// released. The next frame after Start negotiates the output again.
func (d *Decoder) Stop(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Stop")
	defer func() { logger.Debugf(ctx, "/Stop: %v", _err) }()

	d.active.Store(false)
	d.locker.ManualLock(ctx)
	defer d.locker.ManualUnlock(ctx)
	if d.input == nil {
		return nil
	}
	err := d.stopLocked(ctx)
	if reopenErr := d.reopenLocked(ctx); reopenErr != nil {
		err = errors.Join(err, fmt.Errorf("unable to reopen the codec: %w", reopenErr))
	}
	return err
}

func (d *Decoder) stopLocked(ctx context.Context) error {
	if d.input == nil {
		return nil
	}
	d.input.Unlock(ctx)
	d.output.Unlock(ctx)
	if err := d.output.Flush(ctx); err != nil {
		logger.Errorf(ctx, "unable to reset the codec: %v", err)
	}
	d.waitWorkerLocked(ctx)
	d.pending.Store(0)
	return d.closeSessionsLocked(ctx)
}

// Flush drops everything the decoder holds, keeping the pools.
func (d *Decoder) Flush(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Flush")
	defer func() { logger.Debugf(ctx, "/Flush: %v", _err) }()

	d.locker.ManualLock(ctx)
	defer d.locker.ManualUnlock(ctx)
	if d.input == nil {
		return nil
	}

	err := d.output.Flush(ctx)
	if d.worker != nil {
		d.input.Unlock(ctx)
		d.output.Unlock(ctx)
		d.waitWorkerLocked(ctx)
	}
	d.outputErr.Store(nil)
	d.pending.Store(0)
	d.input.UnlockStop(ctx)
	d.output.UnlockStop(ctx)
	return err
}

// Finish tells the decoder the stream is over and waits until every
// decoded picture is delivered.
func (d *Decoder) Finish(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Finish")
	defer func() { logger.Debugf(ctx, "/Finish: %v", _err) }()

	d.locker.ManualLock(ctx)
	defer d.locker.ManualUnlock(ctx)
	if d.worker == nil {
		return nil
	}
	if err := d.drainLocked(ctx); err != nil {
		return err
	}
	err := d.outputErr.Load()
	if err == nil || errors.Is(err, types.ErrEOS) || errors.Is(err, types.ErrFlushing) {
		return nil
	}
	return err
}

// drainLocked sends EOS and waits for the worker to deliver everything.
func (d *Decoder) drainLocked(ctx context.Context) error {
	w := d.worker
	for {
		err := d.input.SendEOS(ctx)
		if !errors.Is(err, types.ErrBusy) {
			if err != nil {
				return fmt.Errorf("unable to send EOS: %w", err)
			}
			break
		}
		select {
		case <-w.done.CloseChan():
			d.worker = nil
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	if err := w.done.Wait(ctx); err != nil {
		return err
	}
	d.worker = nil
	return nil
}

// SetFormat sets the format of the compressed stream. Changing the
// format drains the decoder and starts over with a new codec context.
func (d *Decoder) SetFormat(ctx context.Context, format Format) (_err error) {
	logger.Debugf(ctx, "SetFormat(%s)", format.Coding)
	defer func() { logger.Debugf(ctx, "/SetFormat(%s): %v", format.Coding, _err) }()

	d.locker.ManualLock(ctx)
	defer d.locker.ManualUnlock(ctx)

	if d.input == nil {
		return fmt.Errorf("the decoder is closed")
	}
	if d.format.IsSet() {
		if d.format.Get().Equal(format) {
			return nil
		}
		if d.worker != nil {
			if err := d.drainLocked(ctx); err != nil {
				return fmt.Errorf("unable to drain the decoder: %w", err)
			}
		}
		d.format = typing.Optional[Format]{}
		if err := d.reopenLocked(ctx); err != nil {
			return err
		}
	}

	if err := d.input.SetFormat(ctx, format.Coding); err != nil {
		return err
	}
	d.format = typing.Opt(format)
	return nil
}

// PendingFrames returns the amount of submitted frames not yet delivered.
func (d *Decoder) PendingFrames() int64 {
	return d.pending.Load()
}

func (d *Decoder) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
	}
}
