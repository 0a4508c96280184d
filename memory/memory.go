// memory.go defines the common capability interface of all the memory variants.

// Package memory implements the memory objects handled by the allocator
// and the buffer pools: hardware memory backed by a codec-service buffer,
// descriptor-backed (dmabuf) memory and plain system memory.
//
// The set of variants is closed: Hardware, DMABuf and System are the only
// implementations of Memory.
package memory

import (
	"errors"
	"fmt"
)

// ErrMapFailed means the driver returned no mapping for a buffer; this
// is a fatal allocation error.
var ErrMapFailed = errors.New("unable to map the memory")

type Kind int

const (
	KindHardware = Kind(iota)
	KindDMABuf
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindHardware:
		return "hardware"
	case KindDMABuf:
		return "dmabuf"
	case KindSystem:
		return "system"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// View is the window of a memory object over its backing storage.
type View struct {
	MaxSize  uint
	Offset   uint
	Size     uint
	Align    uint
	ReadOnly bool
}

// Memory is a view over a memory block.
type Memory interface {
	Kind() Kind
	View() View

	// FD returns the exported descriptor, or -1.
	FD() int

	// Map returns the bytes of the view; the mapping is resolved lazily
	// and stays valid for the whole lifetime of the memory.
	Map() ([]byte, error)
	Unmap()

	// Share returns a read-only view of the same backing storage;
	// size == -1 means "the remainder after offset".
	Share(offset uint, size int) Memory

	// IsSpan reports if `next` directly continues this view inside the
	// same backing storage.
	IsSpan(next Memory) bool

	sealed()
}

func shareView(parent View, offset uint, size int) View {
	if size < 0 {
		size = int(parent.Size) - int(offset)
		if size < 0 {
			size = 0
		}
	}
	return View{
		MaxSize:  parent.MaxSize,
		Offset:   parent.Offset + offset,
		Size:     uint(size),
		Align:    parent.Align,
		ReadOnly: true,
	}
}

func isSpan(a, b View) bool {
	return a.Offset+a.Size == b.Offset
}

func sliceView(data []byte, v View) ([]byte, error) {
	end := v.Offset + v.Size
	if end > uint(len(data)) {
		return nil, fmt.Errorf("view [%d:%d] is out of the mapped range of %d bytes", v.Offset, end, len(data))
	}
	return data[v.Offset:end:end], nil
}

// HardwareOf traces a memory back to the hardware memory it represents:
// either the memory itself, the parent of a shared view, or the origin
// attached to an exported descriptor.
func HardwareOf(m Memory) (*Hardware, bool) {
	switch m := m.(type) {
	case *Hardware:
		return m.Root(), true
	case *DMABuf:
		origin := m.Origin()
		return origin, origin != nil
	default:
		return nil, false
	}
}

// TotalSize returns the sum of the view sizes.
func TotalSize(mems []Memory) uint {
	var total uint
	for _, m := range mems {
		total += m.View().Size
	}
	return total
}
