// allocator.go implements the owner of the hardware memories of a session.

// Package allocator owns the hardware-backed memories of a session: it
// creates them (internal allocation or external import), exports them as
// descriptors and implements the queue/dequeue protocol with the decoder.
//
// A memory's index is its slot in the allocator and also the index of the
// native buffer inside the buffer group: this is what connects a decoded
// frame back to the memory (and the pipeline buffer) it was written into.
package allocator

import (
	"context"
	"fmt"

	"go.uber.org/atomic"

	"github.com/xaionaro-go/mppbufferpool/internal/lockfree"
	"github.com/xaionaro-go/mppbufferpool/memory"
	"github.com/xaionaro-go/mppbufferpool/metrics"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/xsync"
)

// Capacity is the maximal amount of memories an allocator may track.
const Capacity = mpp.MaxFrames

// FrameSource is the part of the session the allocator depends on.
type FrameSource interface {
	// FrameSize is the size of buffers allocated by the internal strategies.
	FrameSize() uint

	// DecodeFrame blocks until the decoder produces a frame.
	DecodeFrame(ctx context.Context) (mpp.Frame, error)
}

type slot struct {
	memory   *memory.Hardware
	occupied bool
}

type Allocator struct {
	Name string

	locker   xsync.Mutex
	platform mpp.Platform
	source   FrameSource
	metrics  *metrics.Metrics

	active atomic.Bool
	count  uint
	group  mpp.BufferGroup
	slots  []slot
	ready  *lockfree.Queue[*memory.Hardware]
}

type Option func(*Allocator)

func OptionMetrics(m *metrics.Metrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

func New(
	name string,
	platform mpp.Platform,
	source FrameSource,
	opts ...Option,
) *Allocator {
	a := &Allocator{
		Name:     name,
		platform: platform,
		source:   source,
		slots:    make([]slot, Capacity),
		ready:    lockfree.New[*memory.Hardware](Capacity),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) String() string {
	return fmt.Sprintf("allocator<%s>", a.Name)
}

func (a *Allocator) IsActive() bool {
	return a.active.Load()
}

// Count returns the amount of tracked memories.
func (a *Allocator) Count() uint {
	return xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &a.locker, func() uint {
		return a.count
	})
}

// Group returns the buffer group the memories are committed into (nil
// when inactive).
func (a *Allocator) Group() mpp.BufferGroup {
	return xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &a.locker, func() mpp.BufferGroup {
		return a.group
	})
}

// Memory returns the memory tracked in the slot `index`.
func (a *Allocator) Memory(index int) (*memory.Hardware, bool) {
	return xsync.DoR2(xsync.WithNoLogging(context.Background(), true), &a.locker, func() (*memory.Hardware, bool) {
		return a.lookupLocked(index)
	})
}

func (a *Allocator) lookupLocked(index int) (*memory.Hardware, bool) {
	if index < 0 || index >= len(a.slots) {
		return nil, false
	}
	s := a.slots[index]
	return s.memory, s.occupied
}

// ReadyLen returns the amount of memories waiting in the ready-queue.
func (a *Allocator) ReadyLen() int {
	return a.ready.Len()
}

func (a *Allocator) nextFreeSlotLocked() (int, bool) {
	for idx := range a.slots {
		if !a.slots[idx].occupied {
			return idx, true
		}
	}
	return -1, false
}

func (a *Allocator) setSlotLocked(index int, mem *memory.Hardware) {
	a.slots[index] = slot{memory: mem, occupied: true}
	a.count++
	a.metrics.SetAllocatorBuffers(a.Name, a.count)
}
