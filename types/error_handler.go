// error_handler.go defines the ErrorHandler interface.

package types

import (
	"context"
)

// ErrorHandler receives errors from background workers; if it returns
// a non-nil error the worker stops.
type ErrorHandler interface {
	HandleError(ctx context.Context, err error) error
}

type ErrorHandlerFunc func(ctx context.Context, err error) error

func (fn ErrorHandlerFunc) HandleError(ctx context.Context, err error) error {
	return fn(ctx, err)
}
