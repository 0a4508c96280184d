//go:build linux
// +build linux

package simulated

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"golang.org/x/sys/unix"
)

type BufferGroup struct {
	locker   sync.Mutex
	mode     mpp.BufferMode
	bufType  mpp.BufferType
	buffers  []*Buffer
	released bool
	onUnused func()
}

var _ mpp.BufferGroup = (*BufferGroup)(nil)

func newBufferGroup(mode mpp.BufferMode, bufType mpp.BufferType) *BufferGroup {
	return &BufferGroup{
		mode:    mode,
		bufType: bufType,
	}
}

func (g *BufferGroup) Get(ctx context.Context, size uint) (_ mpp.Buffer, _err error) {
	logger.Tracef(ctx, "Get(%d)", size)
	defer func() { logger.Tracef(ctx, "/Get(%d): %v", size, _err) }()
	if g.mode != mpp.BufferModeInternal {
		return nil, fmt.Errorf("cannot allocate inside an external group")
	}
	if size == 0 {
		return nil, fmt.Errorf("zero size")
	}

	fd, err := unix.MemfdCreate("mpp-simulated", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create failed: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate(%d, %d) failed: %w", fd, size, err)
	}

	g.locker.Lock()
	defer g.locker.Unlock()
	if g.released {
		unix.Close(fd)
		return nil, fmt.Errorf("the group is released")
	}
	buf, err := newBuffer(g, fd, size, len(g.buffers))
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	g.buffers = append(g.buffers, buf)
	return buf, nil
}

func (g *BufferGroup) Import(ctx context.Context, info mpp.ImportInfo) (_ mpp.Buffer, _err error) {
	logger.Tracef(ctx, "Import(%#+v)", info)
	defer func() { logger.Tracef(ctx, "/Import(%#+v): %v", info, _err) }()
	if g.mode != mpp.BufferModeExternal {
		return nil, fmt.Errorf("cannot import into an internal group")
	}
	if info.FD < 0 {
		return nil, fmt.Errorf("invalid descriptor %d", info.FD)
	}
	if info.Size == 0 {
		return nil, fmt.Errorf("zero size")
	}

	g.locker.Lock()
	defer g.locker.Unlock()
	if g.released {
		return nil, fmt.Errorf("the group is released")
	}
	for _, buf := range g.buffers {
		if buf.index == info.Index {
			return nil, fmt.Errorf("index %d is already used in the group", info.Index)
		}
	}
	buf, err := newBuffer(g, info.FD, info.Size, info.Index)
	if err != nil {
		return nil, err
	}
	g.buffers = append(g.buffers, buf)
	return buf, nil
}

func (g *BufferGroup) Put(ctx context.Context) error {
	logger.Debugf(ctx, "Put")
	g.locker.Lock()
	defer g.locker.Unlock()
	if g.released {
		return fmt.Errorf("the group is already released")
	}
	g.released = true
	g.onUnused = nil
	var kept []*Buffer
	for _, buf := range g.buffers {
		if buf.refCount > 0 {
			kept = append(kept, buf)
			continue
		}
		buf.freeLocked()
	}
	g.buffers = kept
	return nil
}

// UnusedIndexes returns the indexes of buffers available to the decoder.
func (g *BufferGroup) UnusedIndexes() []int {
	g.locker.Lock()
	defer g.locker.Unlock()
	var result []int
	for _, buf := range g.buffers {
		if buf.refCount == 0 {
			result = append(result, buf.index)
		}
	}
	sort.Ints(result)
	return result
}

// Len returns the amount of live buffers in the group.
func (g *BufferGroup) Len() int {
	g.locker.Lock()
	defer g.locker.Unlock()
	return len(g.buffers)
}

func (g *BufferGroup) setOnUnused(fn func()) {
	g.locker.Lock()
	defer g.locker.Unlock()
	g.onUnused = fn
}

// takeUnused picks the unused buffer with the lowest index and
// references it on behalf of the decoder.
func (g *BufferGroup) takeUnused() *Buffer {
	g.locker.Lock()
	defer g.locker.Unlock()
	if g.released {
		return nil
	}
	var result *Buffer
	for _, buf := range g.buffers {
		if buf.refCount != 0 {
			continue
		}
		if result == nil || buf.index < result.index {
			result = buf
		}
	}
	if result != nil {
		result.refCount++
	}
	return result
}

type Buffer struct {
	group    *BufferGroup
	fd       int
	data     []byte
	index    int
	refCount int
	freed    bool
}

var _ mpp.Buffer = (*Buffer)(nil)

func newBuffer(g *BufferGroup, fd int, size uint, index int) (*Buffer, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap(%d, %d) failed: %w", fd, size, err)
	}
	return &Buffer{
		group:    g,
		fd:       fd,
		data:     data,
		index:    index,
		refCount: 1,
	}, nil
}

func (b *Buffer) FD() int {
	return b.fd
}

func (b *Buffer) Bytes() []byte {
	b.group.locker.Lock()
	defer b.group.locker.Unlock()
	if b.freed {
		return nil
	}
	return b.data
}

func (b *Buffer) Size() uint {
	return uint(len(b.data))
}

func (b *Buffer) Index() int {
	return b.index
}

func (b *Buffer) RefCount() int {
	b.group.locker.Lock()
	defer b.group.locker.Unlock()
	return b.refCount
}

func (b *Buffer) IncRef() error {
	b.group.locker.Lock()
	defer b.group.locker.Unlock()
	if b.freed {
		return fmt.Errorf("buffer %d is already freed", b.index)
	}
	b.refCount++
	return nil
}

func (b *Buffer) Put() error {
	g := b.group
	g.locker.Lock()
	if b.freed || b.refCount <= 0 {
		g.locker.Unlock()
		return fmt.Errorf("buffer %d has no references to put", b.index)
	}
	b.refCount--
	var notify func()
	if b.refCount == 0 {
		switch {
		case g.mode == mpp.BufferModeInternal || g.released:
			b.freeLocked()
			g.removeLocked(b)
		default:
			notify = g.onUnused
		}
	}
	g.locker.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

func (g *BufferGroup) removeLocked(b *Buffer) {
	for idx, buf := range g.buffers {
		if buf == b {
			g.buffers = append(g.buffers[:idx], g.buffers[idx+1:]...)
			return
		}
	}
}

func (b *Buffer) freeLocked() {
	if b.freed {
		return
	}
	b.freed = true
	unix.Munmap(b.data)
	unix.Close(b.fd)
}
