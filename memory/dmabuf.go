package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/xaionaro-go/mppbufferpool/internal"
	"github.com/xaionaro-go/mppbufferpool/logger"
)

// DMABuf is a memory backed by a file descriptor (a dmabuf, or a memfd
// in the simulated environment).
type DMABuf struct {
	view      View
	root      *DMABuf
	fd        int
	closeFD   bool
	origin    *Hardware
	mapLocker sync.Mutex
	mapped    []byte
	mmapped   bool
	closed    atomic.Bool
}

var _ Memory = (*DMABuf)(nil)

func (m *DMABuf) sealed() {}

func (m *DMABuf) Kind() Kind { return KindDMABuf }
func (m *DMABuf) View() View { return m.view }

func (m *DMABuf) FD() int {
	if m.root != nil {
		return -1
	}
	return m.fd
}

// Origin returns the hardware memory this descriptor was exported from.
func (m *DMABuf) Origin() *Hardware {
	if m.root != nil {
		return m.root.origin
	}
	return m.origin
}

func (m *DMABuf) String() string {
	return fmt.Sprintf("dmabuf_memory{fd:%d offset:%d size:%d}", m.fd, m.view.Offset, m.view.Size)
}

func (m *DMABuf) Map() ([]byte, error) {
	root := m
	if m.root != nil {
		root = m.root
	}
	if origin := root.origin; origin != nil {
		data, err := origin.Map()
		if err != nil {
			return nil, err
		}
		return sliceView(data, View{Offset: m.view.Offset, Size: m.view.Size})
	}

	root.mapLocker.Lock()
	defer root.mapLocker.Unlock()
	if root.closed.Load() {
		return nil, fmt.Errorf("%w: descriptor %d is closed", ErrMapFailed, root.fd)
	}
	if root.mapped == nil {
		data, err := unix.Mmap(root.fd, 0, int(root.view.MaxSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("%w: mmap of descriptor %d: %w", ErrMapFailed, root.fd, err)
		}
		root.mapped = data
		root.mmapped = true
	}
	return sliceView(root.mapped, m.view)
}

func (m *DMABuf) Unmap() {}

func (m *DMABuf) Share(offset uint, size int) Memory {
	root := m
	if m.root != nil {
		root = m.root
	}
	return &DMABuf{
		view: shareView(m.view, offset, size),
		root: root,
		fd:   root.fd,
	}
}

func (m *DMABuf) IsSpan(next Memory) bool {
	other, ok := next.(*DMABuf)
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
	if rootA != rootB {
		return false
	}
	return isSpan(m.view, other.view)
}

// Close unmaps the memory and closes the descriptor if it is owned.
func (m *DMABuf) Close() error {
	if m.root != nil {
		return nil
	}
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mapLocker.Lock()
	defer m.mapLocker.Unlock()
	var err error
	if m.mmapped {
		if unmapErr := unix.Munmap(m.mapped); unmapErr != nil {
			err = fmt.Errorf("munmap failed: %w", unmapErr)
		}
		m.mapped = nil
		m.mmapped = false
	}
	if m.closeFD {
		if closeErr := unix.Close(m.fd); closeErr != nil && err == nil {
			err = fmt.Errorf("close(%d) failed: %w", m.fd, closeErr)
		}
	}
	return err
}

// DMABufAllocator produces descriptor-backed memories: either by wrapping
// existing descriptors or by allocating anonymous shared memory.
type DMABufAllocator struct{}

func NewDMABufAllocator() *DMABufAllocator {
	return &DMABufAllocator{}
}

type WrapOption func(*DMABuf)

// WrapOptionDontClose keeps the descriptor open when the memory is closed.
func WrapOptionDontClose() WrapOption {
	return func(m *DMABuf) { m.closeFD = false }
}

// WrapOptionOrigin attaches the hardware memory the descriptor belongs to.
func WrapOptionOrigin(origin *Hardware) WrapOption {
	return func(m *DMABuf) { m.origin = origin }
}

// Wrap takes the ownership of the descriptor (unless WrapOptionDontClose is given).
func (a *DMABufAllocator) Wrap(fd int, size uint, opts ...WrapOption) *DMABuf {
	m := &DMABuf{
		view: View{
			MaxSize: size,
			Size:    size,
		},
		fd:      fd,
		closeFD: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Alloc allocates a new descriptor-backed memory of the given size.
func (a *DMABufAllocator) Alloc(ctx context.Context, size uint) (_ *DMABuf, _err error) {
	logger.Tracef(ctx, "Alloc(%d)", size)
	defer func() { logger.Tracef(ctx, "/Alloc(%d): %v", size, _err) }()
	if size == 0 {
		return nil, fmt.Errorf("zero size")
	}
	fd, err := unix.MemfdCreate("mppbufferpool", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create failed: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate(%d, %d) failed: %w", fd, size, err)
	}
	m := a.Wrap(fd, size)
	internal.SetFinalizerClose(ctx, m)
	return m, nil
}
