//go:build linux
// +build linux

package decoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/typing"

	"github.com/xaionaro-go/mppbufferpool/bufferpool"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/mpp/simulated"
	"github.com/xaionaro-go/mppbufferpool/types"
)

func testContext(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelTrace)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.SetDefault(func() logger.Logger {
		return l
	})
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

type delivered struct {
	Payload string
	PTS     int64
	Owner   string
	Flags   bufferpool.Flags
}

// collector is a Sink remembering the first bytes of every picture.
type collector struct {
	PayloadSize int
	Err         error

	locker sync.Mutex
	items  []delivered
}

func (c *collector) SendBuffer(ctx context.Context, buf *bufferpool.Buffer) error {
	defer buf.Unref(ctx)
	data, err := buf.Map()
	if err != nil {
		return err
	}
	item := delivered{
		Payload: string(data[:c.PayloadSize]),
		PTS:     buf.PTS,
		Flags:   buf.Flags,
	}
	if owner := buf.Owner(); owner != nil {
		item.Owner = owner.Name
	}
	c.locker.Lock()
	defer c.locker.Unlock()
	c.items = append(c.items, item)
	return c.Err
}

func (c *collector) Items() []delivered {
	c.locker.Lock()
	defer c.locker.Unlock()
	return append([]delivered{}, c.items...)
}

func (c *collector) Payloads() []string {
	var result []string
	for _, item := range c.Items() {
		result = append(result, item.Payload)
	}
	return result
}

func frames(count int) []string {
	var result []string
	for idx := 0; idx < count; idx++ {
		result = append(result, fmt.Sprintf("frame%02d", idx))
	}
	return result
}

func newTestDecoder(
	t *testing.T,
	ctx context.Context,
	platformCfg simulated.Config,
	cfg Config,
	opts ...Option,
) (*Decoder, *collector) {
	platformCfg.Width, platformCfg.Height = 64, 32
	sink := &collector{PayloadSize: len("frame00")}
	d, err := New(ctx, simulated.New(platformCfg), sink, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, d.Close(ctx))
	})
	require.NoError(t, d.SetFormat(ctx, Format{Coding: mpp.CodingAVC}))
	return d, sink
}

func decodeAll(t *testing.T, ctx context.Context, d *Decoder, payloads []string) {
	for idx, payload := range payloads {
		require.NoError(t, d.HandleFrame(ctx, []byte(payload), int64(idx), int64(idx)))
	}
	require.NoError(t, d.Finish(ctx))
}

func TestDecodeOwnPool(t *testing.T) {
	ctx := testContext(t)
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{
		IOMode:                 types.IOModeDRM,
		DownstreamHasVideoMeta: true,
	})

	require.ErrorIs(t, d.HandleFrame(ctx, []byte("frame00"), 0, 0), types.ErrNotActive)
	require.NoError(t, d.Start(ctx))

	payloads := frames(10)
	decodeAll(t, ctx, d, payloads)

	require.Equal(t, payloads, sink.Payloads())
	for idx, item := range sink.Items() {
		require.EqualValues(t, idx, item.PTS)
		require.Equal(t, d.output.String(), item.Owner)
	}
	require.True(t, d.allocation.PushingFromOwnPool)
	require.GreaterOrEqual(t, d.output.Pool().Config().MinBuffers, uint(OutputBuffers))
	require.Equal(t, Stats{Submitted: 10, Delivered: 10}, d.Stats())
	require.Zero(t, d.PendingFrames())
}

func TestDecodeCodecData(t *testing.T) {
	ctx := testContext(t)
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{DownstreamHasVideoMeta: true})
	require.NoError(t, d.SetFormat(ctx, Format{
		Coding:    mpp.CodingHEVC,
		CodecData: typing.Opt([]byte("hdr:")),
	}))
	require.NoError(t, d.Start(ctx))

	decodeAll(t, ctx, d, []string{"frame00", "frame01"})
	require.Equal(t, []string{"hdr:fra", "frame01"}, sink.Payloads())
}

func TestDecodeDropsCorrupted(t *testing.T) {
	ctx := testContext(t)
	d, sink := newTestDecoder(t, ctx, simulated.Config{
		FrameTweaker: func(frameNumber uint64, _ *mpp.Packet) simulated.FrameTweaks {
			if frameNumber == 1 {
				return simulated.FrameTweaks{ErrInfo: 1}
			}
			return simulated.FrameTweaks{}
		},
	}, Config{DownstreamHasVideoMeta: true})
	require.NoError(t, d.Start(ctx))

	decodeAll(t, ctx, d, frames(3))
	require.Equal(t, []string{"frame00", "frame02"}, sink.Payloads())
	require.Equal(t, Stats{Submitted: 3, Delivered: 2, Dropped: 1}, d.Stats())
	require.Zero(t, d.PendingFrames())
}

func TestDecodeCopyMode(t *testing.T) {
	ctx := testContext(t)
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{IOMode: types.IOModeION})
	require.NoError(t, d.Start(ctx))

	payloads := frames(5)
	decodeAll(t, ctx, d, payloads)

	require.False(t, d.allocation.PushingFromOwnPool)
	require.Equal(t, payloads, sink.Payloads())
	for _, item := range sink.Items() {
		require.Equal(t, d.output.String()+"-copy", item.Owner)
	}
}

func TestDecodeIntoDownstreamPool(t *testing.T) {
	ctx := testContext(t)
	downstream := bufferpool.NewSystemPool("downstream")
	require.NoError(t, downstream.SetConfig(ctx, bufferpool.Config{Size: 4096, MinBuffers: 2, MaxBuffers: 4}))
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{
		IOMode:     types.IOModeDRM,
		Downstream: downstream,
	})
	require.NoError(t, d.Start(ctx))

	decodeAll(t, ctx, d, frames(3))
	require.True(t, downstream.IsActive())
	require.EqualValues(t, 16, downstream.Config().MinBuffers)
	require.Equal(t, frames(3), sink.Payloads())
	for _, item := range sink.Items() {
		require.Equal(t, "downstream", item.Owner)
	}
	require.NoError(t, downstream.Stop(ctx))
}

func TestDownstreamPoolTooSmall(t *testing.T) {
	ctx := testContext(t)
	downstream := bufferpool.NewSystemPool("downstream")
	require.NoError(t, downstream.SetConfig(ctx, bufferpool.Config{Size: 1024, MinBuffers: 2, MaxBuffers: 4}))
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{
		IOMode:     types.IOModeDRM,
		Downstream: downstream,
	})
	require.NoError(t, d.Start(ctx))

	require.NoError(t, d.HandleFrame(ctx, []byte("frame00"), 0, 0))
	require.Eventually(t, func() bool {
		return d.outputErr.Load() != nil
	}, time.Second, time.Millisecond)

	var tooLarge ErrPictureTooLarge
	require.ErrorAs(t, d.Finish(ctx), &tooLarge)
	require.EqualValues(t, 1024, tooLarge.Capacity)
	require.Greater(t, tooLarge.Size, tooLarge.Capacity)
	require.Empty(t, sink.Items())
	require.Zero(t, downstream.Outstanding())
	require.NoError(t, downstream.Stop(ctx))
}

func TestOversizedFrame(t *testing.T) {
	ctx := testContext(t)
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{
		DownstreamHasVideoMeta: true,
		InputBufferSize:        4,
	})
	require.NoError(t, d.Start(ctx))

	decodeAll(t, ctx, d, frames(3))
	require.Equal(t, frames(3), sink.Payloads())
}

func TestFlush(t *testing.T) {
	ctx := testContext(t)
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{DownstreamHasVideoMeta: true})
	require.NoError(t, d.Start(ctx))

	for idx, payload := range frames(4) {
		require.NoError(t, d.HandleFrame(ctx, []byte(payload), int64(idx), int64(idx)))
	}
	require.NoError(t, d.Flush(ctx))
	require.Zero(t, d.PendingFrames())

	require.NoError(t, d.HandleFrame(ctx, []byte("after00"), 100, 100))
	require.NoError(t, d.Finish(ctx))

	items := sink.Items()
	require.NotEmpty(t, items)
	require.Equal(t, "after00", items[len(items)-1].Payload)
	require.EqualValues(t, 100, items[len(items)-1].PTS)
}

func TestStopAndRestart(t *testing.T) {
	ctx := testContext(t)
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{DownstreamHasVideoMeta: true})
	require.NoError(t, d.Start(ctx))
	decodeAll(t, ctx, d, []string{"first00"})

	require.NoError(t, d.Stop(ctx))
	require.ErrorIs(t, d.HandleFrame(ctx, []byte("lost000"), 1, 1), types.ErrNotActive)

	require.NoError(t, d.Start(ctx))
	decodeAll(t, ctx, d, []string{"second0"})
	require.Equal(t, []string{"first00", "second0"}, sink.Payloads())
}

func TestSetFormat(t *testing.T) {
	ctx := testContext(t)
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{DownstreamHasVideoMeta: true})
	input := d.input

	require.NoError(t, d.SetFormat(ctx, Format{Coding: mpp.CodingAVC}))
	require.Same(t, input, d.input)

	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.HandleFrame(ctx, []byte("avc0000"), 0, 0))

	require.NoError(t, d.SetFormat(ctx, Format{Coding: mpp.CodingHEVC}))
	require.NotSame(t, input, d.input)
	require.Equal(t, []string{"avc0000"}, sink.Payloads())

	decodeAll(t, ctx, d, []string{"hevc000"})
	require.Equal(t, []string{"avc0000", "hevc000"}, sink.Payloads())
}

func TestFormatEqual(t *testing.T) {
	avc := Format{Coding: mpp.CodingAVC}
	require.True(t, avc.Equal(Format{Coding: mpp.CodingAVC}))
	require.False(t, avc.Equal(Format{Coding: mpp.CodingHEVC}))
	require.False(t, avc.Equal(Format{Coding: mpp.CodingAVC, CodecData: typing.Opt([]byte("hdr"))}))

	withData := Format{Coding: mpp.CodingAVC, CodecData: typing.Opt([]byte("hdr"))}
	require.True(t, withData.Equal(Format{Coding: mpp.CodingAVC, CodecData: typing.Opt([]byte("hdr"))}))
	require.False(t, withData.Equal(Format{Coding: mpp.CodingAVC, CodecData: typing.Opt([]byte("sps"))}))
}

func TestSetSameFormatWithoutCodecData(t *testing.T) {
	ctx := testContext(t)
	d, _ := newTestDecoder(t, ctx, simulated.Config{}, Config{DownstreamHasVideoMeta: true})
	input := d.input
	require.NotPanics(t, func() {
		require.NoError(t, d.SetFormat(ctx, Format{Coding: mpp.CodingAVC}))
	})
	require.Same(t, input, d.input)
}

func TestFormatRequired(t *testing.T) {
	ctx := testContext(t)
	d, err := New(ctx, simulated.New(simulated.Config{}), &collector{}, Config{})
	require.NoError(t, err)
	defer d.Close(ctx)
	require.NoError(t, d.Start(ctx))
	require.Error(t, d.HandleFrame(ctx, []byte("x"), 0, 0))
	require.NoError(t, d.Finish(ctx))
}

func TestErrorHandler(t *testing.T) {
	ctx := testContext(t)
	errSink := errors.New("sink is full")

	var handled []error
	var handledLocker sync.Mutex
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{DownstreamHasVideoMeta: true},
		OptionErrorHandler(types.ErrorHandlerFunc(func(ctx context.Context, err error) error {
			handledLocker.Lock()
			defer handledLocker.Unlock()
			handled = append(handled, err)
			return nil
		})),
	)
	sink.Err = errSink
	require.NoError(t, d.Start(ctx))

	decodeAll(t, ctx, d, frames(2))
	require.Equal(t, frames(2), sink.Payloads())

	handledLocker.Lock()
	defer handledLocker.Unlock()
	require.Len(t, handled, 2)
	for _, err := range handled {
		require.ErrorIs(t, err, errSink)
	}
}

func TestFatalSinkError(t *testing.T) {
	ctx := testContext(t)
	errSink := errors.New("downstream is gone")
	d, sink := newTestDecoder(t, ctx, simulated.Config{}, Config{DownstreamHasVideoMeta: true})
	sink.Err = errSink
	require.NoError(t, d.Start(ctx))

	require.NoError(t, d.HandleFrame(ctx, []byte("frame00"), 0, 0))
	require.Eventually(t, func() bool {
		return d.outputErr.Load() != nil
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, d.HandleFrame(ctx, []byte("frame01"), 1, 1), errSink)
	require.ErrorIs(t, d.Finish(ctx), errSink)
}
