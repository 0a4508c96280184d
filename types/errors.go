// errors.go defines the flow statuses and errors shared by all the packages.

package types

import (
	"errors"
	"fmt"
)

var (
	// ErrEOS is the terminal-success status: the stream is over.
	ErrEOS = errors.New("end of stream")

	// ErrFlushing is returned by blocking operations interrupted by a flush.
	ErrFlushing = errors.New("flushing")

	// ErrBusy is the transient "hardware queue is full, retry" status.
	ErrBusy = errors.New("busy")

	// ErrCorruptedBuffer is the filtered flow status for a decoded frame
	// flagged as corrupted: the caller drops the frame and continues.
	ErrCorruptedBuffer = errors.New("corrupted buffer")

	// ErrNotActive is returned when an operation requires an active object.
	ErrNotActive = errors.New("not active")

	// ErrActive is returned when an operation is not allowed on an active object.
	ErrActive = errors.New("is active")

	// ErrNoFreeMemory is returned when the ready-queue is empty.
	ErrNoFreeMemory = errors.New("no free memory in the ready-queue")

	ErrNoMemory = errors.New("no memory block given")

	// ErrInvalidBuffer is returned for a buffer not owned by the decoder.
	ErrInvalidBuffer = errors.New("the buffer is not backed by hardware memory")
)

type ErrNotImplemented struct {
	Err error
}

func (e ErrNotImplemented) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("not implemented: %v", e.Err)
	}
	return "not implemented"
}

func (e ErrNotImplemented) Unwrap() error {
	return e.Err
}

type ErrAlreadyActive struct{}

func (ErrAlreadyActive) Error() string {
	return "already active"
}

// ErrNotTracked is a desynchronization error: the hardware referenced
// an index that has no tracked object.
type ErrNotTracked struct {
	Index int
}

func (e ErrNotTracked) Error() string {
	return fmt.Sprintf("buffer %d was not queued", e.Index)
}

// ErrAlreadyQueued is a desynchronization error: a buffer was released
// into a slot that is still occupied.
type ErrAlreadyQueued struct {
	Index int
}

func (e ErrAlreadyQueued) Error() string {
	return fmt.Sprintf("buffer %d is already queued", e.Index)
}

type ErrInvalidIndex struct {
	Index    int
	Capacity int
}

func (e ErrInvalidIndex) Error() string {
	return fmt.Sprintf("index %d is out of range [0, %d)", e.Index, e.Capacity)
}

type ErrUnsupportedIOMode struct {
	IOMode IOMode
}

func (e ErrUnsupportedIOMode) Error() string {
	return fmt.Sprintf("IO mode '%s' is not supported here", e.IOMode)
}

type ErrTooManyMemories struct {
	Count uint
}

func (e ErrTooManyMemories) Error() string {
	return fmt.Sprintf("expected exactly one memory block, got %d", e.Count)
}

type ErrCapacityExceeded struct {
	Requested uint
	Capacity  uint
}

func (e ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("requested %d buffers, but the capacity is %d", e.Requested, e.Capacity)
}

// IsFlowStatus returns true for the statuses that are not failures:
// the caller is expected to stop (EOS, flushing) or skip (corrupted)
// rather than to tear down the pipeline.
func IsFlowStatus(err error) bool {
	return errors.Is(err, ErrEOS) || errors.Is(err, ErrFlushing) || errors.Is(err, ErrCorruptedBuffer)
}
