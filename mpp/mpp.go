// mpp.go defines the interface of the native codec service consumed by the buffer management core.

// Package mpp describes the Rockchip Media Process Platform service as a set
// of interfaces; see subpackages "rockchip" (the real library) and
// "simulated" (an in-process device used by tests and demos).
package mpp

import (
	"context"
)

// Platform is the entry point of a codec service.
type Platform interface {
	NewContext(ctx context.Context) (Context, error)
	NewBufferGroup(ctx context.Context, mode BufferMode, bufType BufferType) (BufferGroup, error)
}

// Context is a codec instance (MppCtx + MppApi).
type Context interface {
	Init(ctx context.Context, ctxType CtxType, coding CodingType) error

	// PutPacket submits a compressed packet; returns an error matching
	// ErrBufferFull if the input queue is full.
	PutPacket(ctx context.Context, pkt *Packet) error

	// GetFrame returns a decoded frame; returns an error matching
	// ErrTimeout if no frame appeared within the output timeout.
	GetFrame(ctx context.Context) (Frame, error)

	Reset(ctx context.Context) error

	// Control executes a control command. The type of `param` depends on
	// the command: int64 for the timeouts, BufferGroup (or nil) for
	// CommandDecSetExtBufGroup, nothing for CommandDecSetInfoChangeReady.
	Control(ctx context.Context, cmd Command, param any) error

	Destroy(ctx context.Context) error
}

// BufferGroup is a collection of buffers with a shared lifecycle.
type BufferGroup interface {
	// Get allocates a new buffer inside an internal group.
	Get(ctx context.Context, size uint) (Buffer, error)

	// Import commits an external descriptor into an external group. The
	// group takes the ownership of the descriptor.
	Import(ctx context.Context, info ImportInfo) (Buffer, error)

	// Put releases the group; the buffers still referenced are released
	// when their last reference is put.
	Put(ctx context.Context) error
}

type ImportInfo struct {
	Type  BufferType
	FD    int
	Size  uint
	Index int
}

// Buffer is a reference-counted native buffer. A buffer of an external
// group with zero references is available to the decoder for output.
type Buffer interface {
	FD() int
	Bytes() []byte
	Size() uint
	Index() int
	IncRef() error
	Put() error
}

// Frame is a decoded frame (or an event: EOS, info change).
type Frame interface {
	Width() uint32
	Height() uint32
	HorStride() uint32
	VerStride() uint32
	Format() FrameFormat
	Mode() uint32
	ErrInfo() uint32
	Discard() bool
	EOS() bool
	InfoChange() bool
	PTS() int64
	DTS() int64

	// Buffer returns nil for frames carrying no picture.
	Buffer() Buffer

	// Deinit releases the frame (and the reference it holds on the buffer).
	Deinit() error
}

type Packet struct {
	Data []byte
	PTS  int64
	DTS  int64
	EOS  bool
}
