package memory

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/xaionaro-go/mppbufferpool/mpp"
)

// Hardware is a memory backed by a codec-service buffer.
type Hardware struct {
	view   View
	root   *Hardware
	buffer mpp.Buffer
	fd     int
	index  int

	mapLocker sync.Mutex
	mapped    []byte

	refCount atomic.Int32
	queued   atomic.Bool
	hwRef    atomic.Bool

	frameLocker sync.Mutex
	frame       mpp.Frame
}

var _ Memory = (*Hardware)(nil)

// NewHardware wraps a codec-service buffer the caller holds one
// reference of; the reference is now owned by the memory.
func NewHardware(buffer mpp.Buffer, index int) *Hardware {
	size := buffer.Size()
	m := &Hardware{
		view: View{
			MaxSize: size,
			Size:    size,
		},
		buffer: buffer,
		fd:     buffer.FD(),
		index:  index,
	}
	m.refCount.Store(1)
	m.hwRef.Store(true)
	return m
}

func (m *Hardware) sealed() {}

func (m *Hardware) Kind() Kind { return KindHardware }
func (m *Hardware) View() View { return m.view }
func (m *Hardware) FD() int    { return m.fd }
func (m *Hardware) Index() int { return m.index }

func (m *Hardware) Buffer() mpp.Buffer { return m.buffer }

// Root returns the memory this view was shared from (or itself).
func (m *Hardware) Root() *Hardware {
	if m.root != nil {
		return m.root
	}
	return m
}

func (m *Hardware) String() string {
	return fmt.Sprintf("hardware_memory{index:%d fd:%d offset:%d size:%d}", m.index, m.fd, m.view.Offset, m.view.Size)
}

func (m *Hardware) Map() ([]byte, error) {
	root := m.Root()
	root.mapLocker.Lock()
	if root.mapped == nil {
		root.mapped = root.buffer.Bytes()
	}
	data := root.mapped
	root.mapLocker.Unlock()
	if data == nil {
		return nil, fmt.Errorf("%w: buffer %d", ErrMapFailed, m.index)
	}
	return sliceView(data, m.view)
}

func (m *Hardware) Unmap() {}

func (m *Hardware) Share(offset uint, size int) Memory {
	root := m.Root()
	return &Hardware{
		view:   shareView(m.view, offset, size),
		root:   root,
		buffer: root.buffer,
		fd:     -1,
		index:  root.index,
	}
}

func (m *Hardware) IsSpan(next Memory) bool {
	other, ok := next.(*Hardware)
	if !ok || other.Root() != m.Root() {
		return false
	}
	return isSpan(m.view, other.view)
}

func (m *Hardware) Ref() int32 {
	return m.refCount.Inc()
}

func (m *Hardware) Unref() int32 {
	return m.refCount.Dec()
}

func (m *Hardware) RefCount() int32 {
	return m.refCount.Load()
}

// MarkQueued flags the memory as handed over to the hardware; returns
// false if it already was.
func (m *Hardware) MarkQueued() bool {
	return m.queued.CompareAndSwap(false, true)
}

// MarkDequeued clears the flag set by MarkQueued; returns false if the
// memory was not queued.
func (m *Hardware) MarkDequeued() bool {
	return m.queued.CompareAndSwap(true, false)
}

func (m *Hardware) IsQueued() bool {
	return m.queued.Load()
}

// PutHardwareRef drops the buffer reference owned by the memory.
func (m *Hardware) PutHardwareRef() error {
	if !m.hwRef.CompareAndSwap(true, false) {
		return fmt.Errorf("memory %d holds no hardware reference", m.index)
	}
	if err := m.buffer.Put(); err != nil {
		m.hwRef.Store(true)
		return err
	}
	return nil
}

// TakeHardwareRef acquires a buffer reference owned by the memory.
func (m *Hardware) TakeHardwareRef() error {
	if m.hwRef.Load() {
		return fmt.Errorf("memory %d already holds a hardware reference", m.index)
	}
	if err := m.buffer.IncRef(); err != nil {
		return err
	}
	m.hwRef.Store(true)
	return nil
}

func (m *Hardware) HoldsHardwareRef() bool {
	return m.hwRef.Load()
}

// AttachFrame binds the decoded frame currently stored in the memory.
func (m *Hardware) AttachFrame(frame mpp.Frame) {
	m.frameLocker.Lock()
	defer m.frameLocker.Unlock()
	m.frame = frame
}

// DetachFrame unbinds and returns the decoded frame (if any).
func (m *Hardware) DetachFrame() mpp.Frame {
	m.frameLocker.Lock()
	defer m.frameLocker.Unlock()
	frame := m.frame
	m.frame = nil
	return frame
}

func (m *Hardware) Frame() mpp.Frame {
	m.frameLocker.Lock()
	defer m.frameLocker.Unlock()
	return m.frame
}

// Release drops everything the memory holds on the hardware: the
// attached frame and the owned buffer reference.
func (m *Hardware) Release() error {
	var errs []error
	if frame := m.DetachFrame(); frame != nil {
		if err := frame.Deinit(); err != nil {
			errs = append(errs, fmt.Errorf("unable to deinit the frame: %w", err))
		}
	}
	if m.hwRef.Load() {
		if err := m.PutHardwareRef(); err != nil {
			errs = append(errs, err)
		}
	}
	m.mapLocker.Lock()
	m.mapped = nil
	m.mapLocker.Unlock()
	return errors.Join(errs...)
}
