package memory

import (
	"fmt"
)

// System is a plain heap memory, used in the copy mode.
type System struct {
	view View
	root *System
	data []byte
}

var _ Memory = (*System)(nil)

func (m *System) sealed() {}

func (m *System) Kind() Kind { return KindSystem }
func (m *System) View() View { return m.view }
func (m *System) FD() int    { return -1 }

func (m *System) String() string {
	return fmt.Sprintf("system_memory{offset:%d size:%d}", m.view.Offset, m.view.Size)
}

func (m *System) Map() ([]byte, error) {
	root := m
	if m.root != nil {
		root = m.root
	}
	return sliceView(root.data, m.view)
}

func (m *System) Unmap() {}

func (m *System) Share(offset uint, size int) Memory {
	root := m
	if m.root != nil {
		root = m.root
	}
	return &System{
		view: shareView(m.view, offset, size),
		root: root,
	}
}

func (m *System) IsSpan(next Memory) bool {
	other, ok := next.(*System)
	if !ok {
		return false
	}
	rootA, rootB := m, other
	if m.root != nil {
		rootA = m.root
	}
	if other.root != nil {
		rootB = other.root
	}
	return rootA == rootB && isSpan(m.view, other.view)
}

// Resize changes the visible size of the memory (e.g. to the amount of
// bytes actually written into it).
func (m *System) Resize(size uint) error {
	if m.view.ReadOnly {
		return fmt.Errorf("the memory is read-only")
	}
	if m.view.Offset+size > m.view.MaxSize {
		return fmt.Errorf("size %d exceeds the maximal size %d", size, m.view.MaxSize)
	}
	m.view.Size = size
	return nil
}

// SystemAllocator allocates heap memories.
type SystemAllocator struct {
	Align uint
}

func NewSystemAllocator() *SystemAllocator {
	return &SystemAllocator{}
}

func (a *SystemAllocator) Alloc(size uint) *System {
	return &System{
		view: View{
			MaxSize: size,
			Size:    size,
			Align:   a.Align,
		},
		data: make([]byte, size),
	}
}

// Wrap wraps the data without copying it.
func (a *SystemAllocator) Wrap(data []byte) *System {
	return &System{
		view: View{
			MaxSize: uint(cap(data)),
			Size:    uint(len(data)),
			Align:   a.Align,
		},
		data: data[:cap(data)],
	}
}
