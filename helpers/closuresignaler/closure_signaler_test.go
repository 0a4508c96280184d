package closuresignaler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClosureSignaler(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.False(t, c.IsClosed())

	waitCtx, cancel := context.WithTimeout(ctx, time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Wait(waitCtx), context.DeadlineExceeded)

	go c.Close(ctx)
	require.NoError(t, c.Wait(ctx))
	require.True(t, c.IsClosed())
	c.Close(ctx)
	<-c.CloseChan()
}
