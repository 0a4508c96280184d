//go:build linux
// +build linux

package allocator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/memory"
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

type testSource struct {
	size      uint
	decoder   mpp.Context
	allocator *Allocator
	bound     bool

	// remapIndex (if set) rewrites the buffer index the decoder reports
	remapIndex func(index int) int
}

type remappedFrame struct {
	mpp.Frame
	buffer mpp.Buffer
}

func (f remappedFrame) Buffer() mpp.Buffer {
	return f.buffer
}

type remappedBuffer struct {
	mpp.Buffer
	index int
}

func (b remappedBuffer) Index() int {
	return b.index
}

func (s *testSource) FrameSize() uint {
	return s.size
}

func (s *testSource) DecodeFrame(ctx context.Context) (mpp.Frame, error) {
	if !s.bound {
		if err := s.decoder.Control(ctx, mpp.CommandDecSetExtBufGroup, s.allocator.Group()); err != nil {
			return nil, err
		}
		s.bound = true
	}
	for {
		f, err := s.decoder.GetFrame(ctx)
		if err != nil {
			return nil, err
		}
		if !f.InfoChange() {
			if buf := f.Buffer(); buf != nil && s.remapIndex != nil {
				return remappedFrame{
					Frame:  f,
					buffer: remappedBuffer{Buffer: buf, index: s.remapIndex(buf.Index())},
				}, nil
			}
			return f, nil
		}
		if err := f.Deinit(); err != nil {
			return nil, err
		}
		if err := s.decoder.Control(ctx, mpp.CommandDecSetInfoChangeReady, nil); err != nil {
			return nil, err
		}
	}
}

func newTestAllocator(t *testing.T, ctx context.Context, frameSize uint) (*Allocator, *testSource) {
	p := simulated.New(simulated.Config{Width: 64, Height: 32})
	decoder, err := p.NewContext(ctx)
	require.NoError(t, err)
	require.NoError(t, decoder.Init(ctx, mpp.CtxTypeDec, mpp.CodingAVC))
	require.NoError(t, decoder.Control(ctx, mpp.CommandSetOutputTimeout, int64(time.Second/time.Millisecond)))
	t.Cleanup(func() { decoder.Destroy(ctx) })

	src := &testSource{size: frameSize, decoder: decoder}
	a := New("test", p, src)
	src.allocator = a
	return a, src
}

func TestStartStop(t *testing.T) {
	ctx := testContext(t)
	a, _ := newTestAllocator(t, ctx, 4096)

	count, err := a.Start(ctx, 4, types.IOModeION)
	require.NoError(t, err)
	require.EqualValues(t, 4, count)
	require.True(t, a.IsActive())
	require.EqualValues(t, 4, a.Count())
	require.Equal(t, 4, a.ReadyLen())
	require.NotNil(t, a.Group())

	seen := map[int]struct{}{}
	for idx := 0; idx < 4; idx++ {
		mem, ok := a.Memory(idx)
		require.True(t, ok)
		require.Equal(t, idx, mem.Index())
		require.GreaterOrEqual(t, mem.FD(), 0)
		require.EqualValues(t, 4096, mem.View().MaxSize)
		seen[mem.Index()] = struct{}{}
	}
	require.Len(t, seen, 4)
	_, ok := a.Memory(4)
	require.False(t, ok)

	_, err = a.Start(ctx, 4, types.IOModeION)
	require.ErrorAs(t, err, &types.ErrAlreadyActive{})
	require.EqualValues(t, 4, a.Count())

	require.NoError(t, a.Stop(ctx))
	require.False(t, a.IsActive())
	require.EqualValues(t, 0, a.Count())
	require.Equal(t, 0, a.ReadyLen())
	require.Nil(t, a.Group())
	require.NoError(t, a.Stop(ctx))

	count, err = a.Start(ctx, 2, types.IOModeDRM)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.NoError(t, a.Stop(ctx))
}

func TestStartInvalid(t *testing.T) {
	ctx := testContext(t)
	a, _ := newTestAllocator(t, ctx, 4096)

	_, err := a.Start(ctx, 0, types.IOModeION)
	require.Error(t, err)

	_, err = a.Start(ctx, Capacity+1, types.IOModeION)
	require.ErrorAs(t, err, &types.ErrCapacityExceeded{})

	_, err = a.Start(ctx, 4, types.IOModeRW)
	require.ErrorAs(t, err, &types.ErrUnsupportedIOMode{})

	require.False(t, a.IsActive())
	require.EqualValues(t, 0, a.Count())
	require.Nil(t, a.Group())
}

func TestStartRollback(t *testing.T) {
	ctx := testContext(t)
	a, src := newTestAllocator(t, ctx, 0)

	_, err := a.Start(ctx, 4, types.IOModeDRM)
	require.Error(t, err)
	require.False(t, a.IsActive())
	require.EqualValues(t, 0, a.Count())
	require.Equal(t, 0, a.ReadyLen())
	require.Nil(t, a.Group())

	src.size = 1024
	count, err := a.Start(ctx, 4, types.IOModeDRM)
	require.NoError(t, err)
	require.EqualValues(t, 4, count)
	require.NoError(t, a.Stop(ctx))
}

// failingPlatform fails the Nth buffer allocation and remembers the
// groups it handed out.
type failingPlatform struct {
	mpp.Platform
	FailGetAt int

	gets   int
	groups []*trackedGroup
}

type trackedGroup struct {
	mpp.BufferGroup
	platform *failingPlatform
	released bool
}

func (p *failingPlatform) NewBufferGroup(
	ctx context.Context,
	mode mpp.BufferMode,
	bufType mpp.BufferType,
) (mpp.BufferGroup, error) {
	group, err := p.Platform.NewBufferGroup(ctx, mode, bufType)
	if err != nil {
		return nil, err
	}
	g := &trackedGroup{BufferGroup: group, platform: p}
	p.groups = append(p.groups, g)
	return g, nil
}

func (g *trackedGroup) Get(ctx context.Context, size uint) (mpp.Buffer, error) {
	g.platform.gets++
	if g.platform.gets == g.platform.FailGetAt {
		return nil, errors.New("out of memory")
	}
	return g.BufferGroup.Get(ctx, size)
}

func (g *trackedGroup) Put(ctx context.Context) error {
	g.released = true
	return g.BufferGroup.Put(ctx)
}

func TestStartRollbackMidway(t *testing.T) {
	ctx := testContext(t)
	platform := &failingPlatform{
		Platform:  simulated.New(simulated.Config{Width: 64, Height: 32}),
		FailGetAt: 3,
	}
	a := New("test", platform, &testSource{size: 4096})

	_, err := a.Start(ctx, 4, types.IOModeION)
	require.ErrorContains(t, err, "buffer #2")
	require.False(t, a.IsActive())
	require.EqualValues(t, 0, a.Count())
	require.Equal(t, 0, a.ReadyLen())
	require.Nil(t, a.Group())
	for idx := 0; idx < Capacity; idx++ {
		_, ok := a.Memory(idx)
		require.False(t, ok, idx)
	}
	require.Len(t, platform.groups, 2)
	for _, g := range platform.groups {
		require.True(t, g.released)
	}

	platform.FailGetAt = 0
	count, err := a.Start(ctx, 4, types.IOModeION)
	require.NoError(t, err)
	require.EqualValues(t, 4, count)
	require.NoError(t, a.Stop(ctx))
	require.Len(t, platform.groups, 4)
	for _, g := range platform.groups {
		require.True(t, g.released)
	}
}

func TestEnqueueDequeue(t *testing.T) {
	ctx := testContext(t)
	a, src := newTestAllocator(t, ctx, 4096)

	_, err := a.Start(ctx, 2, types.IOModeDRM)
	require.NoError(t, err)
	defer a.Stop(ctx)

	target := memory.NewDMABufAllocator()
	exported, err := a.AllocFromFreeQueue(ctx, target)
	require.NoError(t, err)
	mem, ok := memory.HardwareOf(exported)
	require.True(t, ok)
	require.Equal(t, 0, mem.Index())
	require.Equal(t, mem.FD(), exported.FD())

	_, err = a.AllocFromFreeQueue(ctx, target)
	require.NoError(t, err)
	_, err = a.AllocFromFreeQueue(ctx, target)
	require.ErrorIs(t, err, types.ErrNoFreeMemory)

	refsBefore := mem.RefCount()
	require.NoError(t, a.Enqueue(ctx, mem))
	require.True(t, mem.IsQueued())
	require.Equal(t, refsBefore+1, mem.RefCount())
	require.ErrorAs(t, a.Enqueue(ctx, mem), &types.ErrAlreadyQueued{})

	require.NoError(t, src.decoder.PutPacket(ctx, &mpp.Packet{Data: []byte("picture"), PTS: 7}))
	out, err := a.Dequeue(ctx)
	require.NoError(t, err)
	require.Same(t, mem, out)
	require.False(t, out.IsQueued())
	require.Equal(t, refsBefore, out.RefCount())
	require.NotNil(t, out.Frame())
	require.EqualValues(t, 7, out.Frame().PTS())

	data, err := out.Map()
	require.NoError(t, err)
	require.Equal(t, []byte("picture"), data[:7])

	// the same memory goes around again
	require.NoError(t, a.Enqueue(ctx, out))
	require.Nil(t, out.Frame())
	require.NoError(t, src.decoder.PutPacket(ctx, &mpp.Packet{Data: []byte("next"), PTS: 8}))
	out, err = a.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, out.Index())
	require.EqualValues(t, 8, out.Frame().PTS())
}

func TestDequeueUntracked(t *testing.T) {
	ctx := testContext(t)
	a, src := newTestAllocator(t, ctx, 4096)

	_, err := a.Start(ctx, 2, types.IOModeDRM)
	require.NoError(t, err)
	defer a.Stop(ctx)

	target := memory.NewDMABufAllocator()
	exported, err := a.AllocFromFreeQueue(ctx, target)
	require.NoError(t, err)
	mem, ok := memory.HardwareOf(exported)
	require.True(t, ok)
	require.NoError(t, a.Enqueue(ctx, mem))

	for _, tc := range []struct {
		index     int
		expectErr error
	}{
		{index: 1, expectErr: types.ErrNotTracked{Index: 1}},
		{index: 5, expectErr: types.ErrNotTracked{Index: 5}},
		{index: Capacity, expectErr: types.ErrInvalidIndex{Index: Capacity, Capacity: Capacity}},
	} {
		src.remapIndex = func(int) int { return tc.index }
		require.NoError(t, src.decoder.PutPacket(ctx, &mpp.Packet{Data: []byte("rogue")}))
		_, err := a.Dequeue(ctx)
		require.Equal(t, tc.expectErr, err)
		require.True(t, mem.IsQueued(), "the memory the decoder really used stays queued")
	}

	src.remapIndex = nil
	require.NoError(t, src.decoder.PutPacket(ctx, &mpp.Packet{Data: []byte("picture"), PTS: 9}))
	out, err := a.Dequeue(ctx)
	require.NoError(t, err)
	require.Same(t, mem, out)
	require.EqualValues(t, 9, out.Frame().PTS())
}

func TestDequeueEOS(t *testing.T) {
	ctx := testContext(t)
	a, src := newTestAllocator(t, ctx, 4096)

	_, err := a.Start(ctx, 2, types.IOModeDMABufImport)
	require.NoError(t, err)
	defer a.Stop(ctx)

	require.NoError(t, src.decoder.PutPacket(ctx, &mpp.Packet{EOS: true}))
	_, err = a.Dequeue(ctx)
	require.ErrorIs(t, err, types.ErrEOS)
}

func TestImportDMABuf(t *testing.T) {
	ctx := testContext(t)
	a, _ := newTestAllocator(t, ctx, 4096)

	_, err := a.ImportDMABuf(ctx, nil)
	require.ErrorIs(t, err, types.ErrNoMemory)

	count, err := a.Start(ctx, 4, types.IOModeDMABufImport)
	require.NoError(t, err)
	require.EqualValues(t, 4, count)
	require.EqualValues(t, 0, a.Count())
	require.NotNil(t, a.Group())
	defer a.Stop(ctx)

	dmabufs := memory.NewDMABufAllocator()
	first, err := dmabufs.Alloc(ctx, 4096)
	require.NoError(t, err)
	second, err := dmabufs.Alloc(ctx, 4096)
	require.NoError(t, err)

	_, err = a.ImportDMABuf(ctx, []memory.Memory{first, second})
	require.ErrorAs(t, err, &types.ErrTooManyMemories{})
	require.EqualValues(t, 0, a.Count())

	_, err = a.ImportDMABuf(ctx, []memory.Memory{memory.NewSystemAllocator().Alloc(4096)})
	require.Error(t, err)
	require.EqualValues(t, 0, a.Count())

	mem, err := a.ImportDMABuf(ctx, []memory.Memory{first})
	require.NoError(t, err)
	require.Equal(t, 0, mem.Index())
	require.NotEqual(t, first.FD(), mem.FD())

	mem, err = a.ImportDMABuf(ctx, []memory.Memory{second})
	require.NoError(t, err)
	require.Equal(t, 1, mem.Index())
	require.EqualValues(t, 2, a.Count())
}
