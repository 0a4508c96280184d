//go:build debug_trace
// +build debug_trace

package logger

import (
	"context"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt/tool/logger"
)

// Tracef is just a shorthand for Logf(ctx, logger.LevelTrace, ...)
func Tracef(ctx context.Context, format string, args ...any) {
	logger.Tracef(ctx, format, args...)
}

// TraceDump logs a dump of the value at trace level.
func TraceDump(ctx context.Context, message string, value any) {
	if !IsEnabled(ctx, LevelTrace) {
		return
	}
	logger.Tracef(ctx, "%s: %s", message, spew.Sdump(value))
}
