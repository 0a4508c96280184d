package mpp

import (
	"errors"
	"fmt"
)

// Ret is MPP_RET.
type Ret int32

const (
	RetOK               = Ret(0)
	RetNOK              = Ret(-1)
	RetErrUnknown       = Ret(-2)
	RetErrNullPtr       = Ret(-3)
	RetErrMalloc        = Ret(-4)
	RetErrOpenFile      = Ret(-5)
	RetErrValue         = Ret(-6)
	RetErrReadBit       = Ret(-7)
	RetErrTimeout       = Ret(-8)
	RetErrPerm          = Ret(-9)
	RetErrInit          = Ret(-1002)
	RetErrStream        = Ret(-1004)
	RetErrNoMem         = Ret(-1006)
	RetEOSStreamReached = Ret(-1011)
	RetErrBufferFull    = Ret(-1012)
	RetErrDisplayFull   = Ret(-1013)
)

var (
	// ErrTimeout is returned when a blocking call ran out of its timeout.
	ErrTimeout = errors.New("timeout")

	// ErrBufferFull is returned when the input queue of the decoder is full.
	ErrBufferFull = errors.New("the input buffer is full")
)

// ErrCall is a failed call into the codec service.
type ErrCall struct {
	Func string
	Ret  Ret
}

func (e ErrCall) Error() string {
	return fmt.Sprintf("%s returned %d", e.Func, int32(e.Ret))
}

func (e ErrCall) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Ret == RetErrTimeout
	case ErrBufferFull:
		return e.Ret == RetErrBufferFull
	}
	return false
}

// Err converts the return code of function `fn` to an error.
func (r Ret) Err(fn string) error {
	if r == RetOK {
		return nil
	}
	return ErrCall{Func: fn, Ret: r}
}
