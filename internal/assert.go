package internal

import (
	"context"

	"github.com/xaionaro-go/mppbufferpool/logger"
)

// Assert panics (through the logger, so the message is flushed with the
// context fields) if an internal bookkeeping invariant is broken.
func Assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	if mustBeTrue {
		return
	}

	logger.Panic(ctx, "assertion failed", extraArgs)
}
