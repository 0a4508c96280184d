package internal

import (
	"context"
	"runtime"

	"github.com/xaionaro-go/mppbufferpool/logger"
)

// SetFinalizerClose makes sure a descriptor-owning object is closed
// even if its owner forgot to do it explicitly.
func SetFinalizerClose[T interface{ Close() error }](
	ctx context.Context,
	closer T,
) {
	runtime.SetFinalizer(closer, func(closer T) {
		logger.Debugf(ctx, "closing leaked %T", closer)
		if err := closer.Close(); err != nil {
			logger.Errorf(ctx, "unable to close leaked %T: %v", closer, err)
		}
	})
}
