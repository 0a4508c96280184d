//go:build linux
// +build linux

package rockchip

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
)

type BufferGroup struct {
	lib    *library
	handle uintptr
}

var _ mpp.BufferGroup = (*BufferGroup)(nil)

func (g *BufferGroup) Get(ctx context.Context, size uint) (_ mpp.Buffer, _err error) {
	logger.Tracef(ctx, "Get(%d)", size)
	defer func() { logger.Tracef(ctx, "/Get(%d): %v", size, _err) }()
	var handle uintptr
	if err := mpp.Ret(g.lib.bufferGet(g.handle, &handle, uintptr(size), tag, "Get")).Err("mpp_buffer_get"); err != nil {
		return nil, err
	}
	return &Buffer{lib: g.lib, handle: handle}, nil
}

// Import commits the descriptor into the group; the buffer comes back
// with one reference, which the caller puts to make it available to the
// decoder.
func (g *BufferGroup) Import(ctx context.Context, info mpp.ImportInfo) (_ mpp.Buffer, _err error) {
	logger.Tracef(ctx, "Import(%#+v)", info)
	defer func() { logger.Tracef(ctx, "/Import(%#+v): %v", info, _err) }()
	commit := bufferInfo{
		Type:  uint32(info.Type),
		Size:  uintptr(info.Size),
		FD:    int32(info.FD),
		Index: int32(info.Index),
	}
	var handle uintptr
	if err := mpp.Ret(g.lib.bufferImport(g.handle, &commit, &handle, tag, "Import")).Err("mpp_buffer_import"); err != nil {
		return nil, err
	}
	return &Buffer{lib: g.lib, handle: handle}, nil
}

func (g *BufferGroup) Put(ctx context.Context) error {
	logger.Debugf(ctx, "Put")
	return mpp.Ret(g.lib.groupPut(g.handle)).Err("mpp_buffer_group_put")
}

// Buffer is an MppBuffer.
type Buffer struct {
	lib    *library
	handle uintptr
}

var _ mpp.Buffer = (*Buffer)(nil)

func (b *Buffer) FD() int {
	return int(b.lib.bufferGetFD(b.handle, "FD"))
}

// Bytes maps the buffer into the address space of the process; the
// mapping lives as long as the buffer.
func (b *Buffer) Bytes() []byte {
	ptr := b.lib.bufferGetPtr(b.handle, "Bytes")
	if ptr == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), b.Size())
}

func (b *Buffer) Size() uint {
	return uint(b.lib.bufferGetSize(b.handle, "Size"))
}

func (b *Buffer) Index() int {
	return int(b.lib.bufferGetIndex(b.handle, "Index"))
}

func (b *Buffer) IncRef() error {
	return mpp.Ret(b.lib.bufferIncRef(b.handle, "IncRef")).Err("mpp_buffer_inc_ref")
}

func (b *Buffer) Put() error {
	return mpp.Ret(b.lib.bufferPut(b.handle, "Put")).Err("mpp_buffer_put")
}

func (b *Buffer) String() string {
	return fmt.Sprintf("mpp_buffer{%#x}", b.handle)
}
