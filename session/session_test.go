//go:build linux
// +build linux

package session

import (
	"context"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"

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

type testSessions struct {
	Input  *Session
	Output *Session
}

// newTestSessions returns a decoder input and output over one simulated
// codec context; the output format is already acquired.
func newTestSessions(t *testing.T, ctx context.Context, ioMode types.IOMode) testSessions {
	platform := simulated.New(simulated.Config{Width: 64, Height: 32})

	input := New(ctx, platform, Config{NodeMode: types.NodeModeDecInput})
	require.NoError(t, input.Open(ctx))
	require.NoError(t, input.SetFormat(ctx, mpp.CodingAVC))

	output := New(ctx, platform, Config{NodeMode: types.NodeModeDecOutput, IOMode: ioMode})
	require.NoError(t, output.OpenShared(ctx, input))

	require.NoError(t, input.SendStream(ctx, []byte("first"), 0, 0))
	require.NoError(t, output.SetTimeout(ctx, time.Second))
	require.NoError(t, output.AcquireOutputFormat(ctx))
	require.NoError(t, output.InfoChange(ctx))
	require.NoError(t, output.SetTimeout(ctx, 10*time.Millisecond))

	t.Cleanup(func() {
		require.NoError(t, output.Close(ctx))
		require.NoError(t, input.Close(ctx))
	})
	return testSessions{Input: input, Output: output}
}

func TestSendStreamAndOutputFormat(t *testing.T) {
	ctx := testContext(t)
	platform := simulated.New(simulated.Config{Width: 64, Height: 32, InputQueueSize: 2})

	input := New(ctx, platform, Config{NodeMode: types.NodeModeDecInput, IOMode: types.IOModeDRM})
	defer input.Close(ctx)
	require.ErrorIs(t, input.SendStream(ctx, []byte("x"), 0, 0), types.ErrNotActive)
	require.NoError(t, input.Open(ctx))
	require.Error(t, input.Open(ctx))
	require.Error(t, input.SetFormat(ctx, mpp.CodingUnused))
	require.NoError(t, input.SetFormat(ctx, mpp.CodingHEVC))

	output := New(ctx, platform, Config{NodeMode: types.NodeModeDecInput})
	defer output.Close(ctx)
	require.NoError(t, output.OpenShared(ctx, input))
	require.Equal(t, types.NodeModeDecOutput, output.NodeMode)
	require.True(t, output.NeedVideoMeta())
	require.False(t, input.NeedVideoMeta())
	require.Error(t, input.AcquireOutputFormat(ctx))

	require.NoError(t, output.SetTimeout(ctx, 0))
	require.ErrorIs(t, output.AcquireOutputFormat(ctx), types.ErrBusy)

	require.NoError(t, input.SendStream(ctx, []byte("a"), 1, 1))
	require.NoError(t, input.SendStream(ctx, []byte("b"), 2, 2))
	require.ErrorIs(t, input.SendStream(ctx, []byte("c"), 3, 3), types.ErrBusy)

	require.NoError(t, output.AcquireOutputFormat(ctx))
	info := output.VideoInfo()
	require.EqualValues(t, 64, info.Width)
	require.EqualValues(t, 32, info.Height)
	require.EqualValues(t, 4096, output.FrameSize())
	require.EqualValues(t, 64, output.AlignInfo().Width)

	require.NoError(t, input.Flush(ctx))
	require.NoError(t, input.SendStream(ctx, []byte("c"), 3, 3))
	require.NoError(t, input.SendEOS(ctx))
}

func TestSetupPool(t *testing.T) {
	ctx := testContext(t)
	s := newTestSessions(t, ctx, types.IOModeAuto)

	inputPool, err := s.Input.SetupPool(ctx)
	require.NoError(t, err)
	require.Equal(t, types.IOModeRW, s.Input.IOMode())
	require.Nil(t, inputPool.Allocator())

	outputPool, err := s.Output.SetupPool(ctx)
	require.NoError(t, err)
	require.Equal(t, types.IOModeDRM, s.Output.IOMode())
	require.NotNil(t, outputPool.Allocator())
	require.True(t, s.Output.IsActive())

	again, err := s.Output.SetupPool(ctx)
	require.NoError(t, err)
	require.Same(t, outputPool, again)

	require.NoError(t, s.Output.ClosePool(ctx))
	require.False(t, s.Output.IsActive())
	require.Nil(t, s.Output.Pool())
}

func TestDecideAllocation(t *testing.T) {
	type testCase struct {
		name          string
		ioMode        types.IOMode
		downstream    bool
		query         AllocationQuery
		expectOwnPool bool
		expectPushing bool
		expectMin     uint
		expectMax     uint
		expectOwnMin  uint
		expectErr     error
	}
	for _, tc := range []testCase{
		{
			name:          "own pool, no proposal",
			ioMode:        types.IOModeDRM,
			query:         AllocationQuery{HasVideoMeta: true},
			expectOwnPool: true,
			expectPushing: true,
			expectMin:     4,
			expectMax:     32,
			expectOwnMin:  4,
		},
		{
			name:          "own pool, downstream proposal",
			ioMode:        types.IOModeION,
			downstream:    true,
			query:         AllocationQuery{MinBuffers: 3, MaxBuffers: 8, HasVideoMeta: true},
			expectOwnPool: true,
			expectPushing: true,
			expectMin:     5,
			expectMax:     32,
			expectOwnMin:  5,
		},
		{
			name:         "copy into the downstream pool",
			ioMode:       types.IOModeDRM,
			downstream:   true,
			query:        AllocationQuery{Size: 100, MinBuffers: 3, MaxBuffers: 4},
			expectMin:    MinBuffers,
			expectMax:    MinBuffers,
			expectOwnMin: MinBuffers,
		},
		{
			name:         "copy into a generic pool",
			ioMode:       types.IOModeDRM,
			expectMin:    MinBuffers,
			expectMax:    0,
			expectOwnMin: MinBuffers,
		},
		{
			name:      "import without a pool",
			ioMode:    types.IOModeDMABufImport,
			expectErr: ErrNoDownstreamPool,
		},
		{
			name:          "import",
			ioMode:        types.IOModeDMABufImport,
			downstream:    true,
			query:         AllocationQuery{HasVideoMeta: true},
			expectOwnPool: true,
			expectMin:     MinBuffers,
			expectMax:     32,
			expectOwnMin:  MinBuffers,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(t)
			s := newTestSessions(t, ctx, tc.ioMode)

			var downstream *bufferpool.Base
			if tc.downstream {
				downstream = bufferpool.NewDMABufPool("downstream")
				tc.query.Pool = downstream
			}

			alloc, err := s.Output.DecideAllocation(ctx, tc.query)
			if tc.expectErr != nil {
				require.ErrorIs(t, err, tc.expectErr)
				return
			}
			require.NoError(t, err)

			own := s.Output.Pool()
			require.NotNil(t, own)
			require.Equal(t, tc.expectOwnPool, alloc.Pool == own.Base, alloc.String())
			require.Equal(t, tc.expectPushing, alloc.PushingFromOwnPool)
			require.Equal(t, tc.expectMin, alloc.MinBuffers)
			require.Equal(t, tc.expectMax, alloc.MaxBuffers)
			require.Equal(t, tc.expectOwnMin, own.Config().MinBuffers)
			require.True(t, own.Config().VideoMeta)
			require.NotZero(t, alloc.Size)

			if tc.ioMode == types.IOModeDMABufImport {
				require.Same(t, downstream, own.OtherPool())
				require.EqualValues(t, 2*MinBuffers, downstream.Config().MinBuffers)
			}
		})
	}
}

func TestUnlock(t *testing.T) {
	ctx := testContext(t)
	s := newTestSessions(t, ctx, types.IOModeDRM)
	pool, err := s.Output.SetupPool(ctx)
	require.NoError(t, err)
	require.NoError(t, pool.SetConfig(ctx, bufferpool.Config{Size: s.Output.FrameSize(), MinBuffers: 2, MaxBuffers: 2, VideoMeta: true}))
	require.NoError(t, pool.Start(ctx))

	// the first packet is decoded as soon as the pool is bound
	frame, err := s.Output.DecodeFrame(ctx)
	require.NoError(t, err)
	require.NotNil(t, frame.Buffer())
	require.NoError(t, frame.Deinit())

	errCh := make(chan error, 1)

	go func() {
		_, err := pool.Acquire(ctx)
		errCh <- err
	}()
	select {
	case err := <-errCh:
		t.Fatalf("acquired a buffer with no input: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	s.Output.Unlock(ctx)
	require.True(t, s.Output.IsUnlocked())
	require.True(t, pool.IsFlushing())
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, types.ErrFlushing)
	case <-time.After(time.Second):
		t.Fatal("unlock did not interrupt acquire")
	}
	_, err = s.Output.DecodeFrame(ctx)
	require.ErrorIs(t, err, types.ErrFlushing)

	s.Output.UnlockStop(ctx)
	require.False(t, s.Output.IsUnlocked())
	require.False(t, pool.IsFlushing())
}

func TestDecodeThroughOwnPool(t *testing.T) {
	ctx := testContext(t)
	s := newTestSessions(t, ctx, types.IOModeION)

	alloc, err := s.Output.DecideAllocation(ctx, AllocationQuery{HasVideoMeta: true})
	require.NoError(t, err)
	require.True(t, alloc.PushingFromOwnPool)
	pool := s.Output.Pool()
	require.NoError(t, pool.Start(ctx))
	require.EqualValues(t, alloc.MinBuffers, pool.Queued())

	require.NoError(t, s.Input.SendStream(ctx, []byte("second"), 2, 2))
	for _, expected := range []string{"first", "second"} {
		buf, err := pool.Acquire(ctx)
		require.NoError(t, err)
		buf, err = pool.Process(ctx, buf)
		require.NoError(t, err)
		data, err := buf.Map()
		require.NoError(t, err)
		require.Equal(t, expected, string(data[:len(expected)]))
		buf.Unref(ctx)
	}

	require.NoError(t, s.Input.SendEOS(ctx))
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, types.ErrEOS)

	require.NoError(t, s.Output.ClosePool(ctx))
	require.False(t, pool.IsActive())
	require.False(t, pool.Allocator().IsActive())
}
