//go:build linux
// +build linux

package simulated

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"golang.org/x/sys/unix"
)

func TestDecodeIntoLowestUnusedBuffer(t *testing.T) {
	ctx := context.Background()
	p := New(Config{Width: 64, Height: 32})

	internal, err := p.NewBufferGroup(ctx, mpp.BufferModeInternal, mpp.BufferTypeDRM)
	require.NoError(t, err)
	external, err := p.NewBufferGroup(ctx, mpp.BufferModeExternal, mpp.BufferTypeExtDMA)
	require.NoError(t, err)

	var imported []mpp.Buffer
	for idx := 0; idx < 3; idx++ {
		tmp, err := internal.Get(ctx, 4096)
		require.NoError(t, err)
		fd, err := unix.Dup(tmp.FD())
		require.NoError(t, err)
		buf, err := external.Import(ctx, mpp.ImportInfo{
			Type:  mpp.BufferTypeExtDMA,
			FD:    fd,
			Size:  tmp.Size(),
			Index: idx,
		})
		require.NoError(t, err)
		require.NoError(t, tmp.Put())
		imported = append(imported, buf)
	}
	require.NoError(t, internal.Put(ctx))

	extGroup := external.(*BufferGroup)
	require.Empty(t, extGroup.UnusedIndexes(), "imported buffers start referenced")

	c, err := p.NewContext(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx, mpp.CtxTypeDec, mpp.CodingAVC))
	require.NoError(t, c.Control(ctx, mpp.CommandSetOutputTimeout, int64(50)))
	require.NoError(t, c.Control(ctx, mpp.CommandDecSetExtBufGroup, external))

	_, err = c.GetFrame(ctx)
	require.ErrorIs(t, err, mpp.ErrTimeout)

	require.NoError(t, c.PutPacket(ctx, &mpp.Packet{Data: []byte("hello"), PTS: 42}))

	f, err := c.GetFrame(ctx)
	require.NoError(t, err)
	require.True(t, f.InfoChange())
	require.Nil(t, f.Buffer())
	require.EqualValues(t, 64, f.Width())
	require.NoError(t, c.Control(ctx, mpp.CommandDecSetInfoChangeReady, nil))

	// nothing is unused yet
	_, err = c.GetFrame(ctx)
	require.ErrorIs(t, err, mpp.ErrTimeout)

	require.NoError(t, imported[2].Put())
	require.NoError(t, imported[1].Put())
	require.Equal(t, []int{1, 2}, extGroup.UnusedIndexes())

	f, err = c.GetFrame(ctx)
	require.NoError(t, err)
	require.NotNil(t, f.Buffer())
	require.Equal(t, 1, f.Buffer().Index())
	require.EqualValues(t, 42, f.PTS())
	require.Equal(t, []byte("hello"), f.Buffer().Bytes()[:5])
	require.Equal(t, []int{2}, extGroup.UnusedIndexes())

	require.NoError(t, f.Deinit())
	require.NoError(t, f.Deinit(), "deinit must be idempotent")
	require.Equal(t, []int{1, 2}, extGroup.UnusedIndexes())

	require.NoError(t, c.Destroy(ctx))
	require.NoError(t, external.Put(ctx))
	require.Equal(t, 1, extGroup.Len(), "the still referenced buffer must survive the group")
	require.NoError(t, imported[0].Put())
	require.Equal(t, 0, extGroup.Len())
}

func TestInputQueueFull(t *testing.T) {
	ctx := context.Background()
	p := New(Config{InputQueueSize: 2})
	c, err := p.NewContext(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx, mpp.CtxTypeDec, mpp.CodingHEVC))

	require.NoError(t, c.PutPacket(ctx, &mpp.Packet{Data: []byte{1}}))
	require.NoError(t, c.PutPacket(ctx, &mpp.Packet{Data: []byte{2}}))
	require.ErrorIs(t, c.PutPacket(ctx, &mpp.Packet{Data: []byte{3}}), mpp.ErrBufferFull)

	require.NoError(t, c.Reset(ctx))
	require.Equal(t, 0, c.(*Context).PendingPackets())
	require.NoError(t, c.PutPacket(ctx, &mpp.Packet{Data: []byte{3}}))
}

func TestEOSFrame(t *testing.T) {
	ctx := context.Background()
	p := New(Config{})
	c, err := p.NewContext(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx, mpp.CtxTypeDec, mpp.CodingVP9))
	require.NoError(t, c.Control(ctx, mpp.CommandDecSetInfoChangeReady, nil))

	require.NoError(t, c.PutPacket(ctx, &mpp.Packet{EOS: true}))
	f, err := c.GetFrame(ctx)
	require.NoError(t, err)
	require.True(t, f.InfoChange())

	f, err = c.GetFrame(ctx)
	require.NoError(t, err)
	require.True(t, f.EOS())
	require.Nil(t, f.Buffer())
}

func TestGetFrameCancel(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	p := New(Config{})
	c, err := p.NewContext(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx, mpp.CtxTypeDec, mpp.CodingAVC))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetFrame(ctx)
		errCh <- err
	}()
	cancelFn()
	require.ErrorIs(t, <-errCh, context.Canceled)
}
