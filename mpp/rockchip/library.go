//go:build linux
// +build linux

package rockchip

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

var libraryNames = []string{
	"librockchip_mpp.so.1",
	"librockchip_mpp.so.0",
	"librockchip_mpp.so",
}

// library holds the entry points of librockchip_mpp.so.
type library struct {
	handle uintptr

	mppCreate  func(ctx *uintptr, mpi *uintptr) int32
	mppInit    func(ctx uintptr, ctxType uint32, coding uint32) int32
	mppDestroy func(ctx uintptr) int32

	packetInit   func(packet *uintptr, data uintptr, size uintptr) int32
	packetDeinit func(packet *uintptr) int32
	packetSetPTS func(packet uintptr, pts int64)
	packetSetDTS func(packet uintptr, dts int64)
	packetSetEOS func(packet uintptr) int32

	frameDeinit        func(frame *uintptr) int32
	frameGetWidth      func(frame uintptr) uint32
	frameGetHeight     func(frame uintptr) uint32
	frameGetHorStride  func(frame uintptr) uint32
	frameGetVerStride  func(frame uintptr) uint32
	frameGetFmt        func(frame uintptr) uint32
	frameGetMode       func(frame uintptr) uint32
	frameGetErrInfo    func(frame uintptr) uint32
	frameGetDiscard    func(frame uintptr) uint32
	frameGetEOS        func(frame uintptr) uint32
	frameGetInfoChange func(frame uintptr) uint32
	frameGetPTS        func(frame uintptr) int64
	frameGetDTS        func(frame uintptr) int64
	frameGetBuffer     func(frame uintptr) uintptr

	groupGet func(group *uintptr, bufType uint32, mode uint32, tag string, caller string) int32
	groupPut func(group uintptr) int32

	bufferGet      func(group uintptr, buffer *uintptr, size uintptr, tag string, caller string) int32
	bufferImport   func(group uintptr, info *bufferInfo, buffer *uintptr, tag string, caller string) int32
	bufferPut      func(buffer uintptr, caller string) int32
	bufferIncRef   func(buffer uintptr, caller string) int32
	bufferGetFD    func(buffer uintptr, caller string) int32
	bufferGetPtr   func(buffer uintptr, caller string) uintptr
	bufferGetSize  func(buffer uintptr, caller string) uintptr
	bufferGetIndex func(buffer uintptr, caller string) int32
}

// bufferInfo is MppBufferInfo.
type bufferInfo struct {
	Type  uint32
	_     uint32
	Size  uintptr
	Hnd   uintptr
	Ptr   uintptr
	FD    int32
	Index int32
}

var (
	libraryLocker sync.Mutex
	libraries     = map[string]*library{}
)

// loadLibrary opens the library once per path; an empty path means the
// default names.
func loadLibrary(path string) (*library, error) {
	libraryLocker.Lock()
	defer libraryLocker.Unlock()
	if lib, ok := libraries[path]; ok {
		return lib, nil
	}

	names := libraryNames
	if path != "" {
		names = []string{path}
	}
	var errs []error
	for _, name := range names {
		handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			errs = append(errs, fmt.Errorf("unable to open '%s': %w", name, err))
			continue
		}
		lib := &library{handle: handle}
		if err := lib.register(); err != nil {
			return nil, fmt.Errorf("'%s' is not a usable MPP library: %w", name, err)
		}
		libraries[path] = lib
		return lib, nil
	}
	return nil, errors.Join(errs...)
}

func (lib *library) register() error {
	for _, sym := range []struct {
		fn   any
		name string
	}{
		{&lib.mppCreate, "mpp_create"},
		{&lib.mppInit, "mpp_init"},
		{&lib.mppDestroy, "mpp_destroy"},
		{&lib.packetInit, "mpp_packet_init"},
		{&lib.packetDeinit, "mpp_packet_deinit"},
		{&lib.packetSetPTS, "mpp_packet_set_pts"},
		{&lib.packetSetDTS, "mpp_packet_set_dts"},
		{&lib.packetSetEOS, "mpp_packet_set_eos"},
		{&lib.frameDeinit, "mpp_frame_deinit"},
		{&lib.frameGetWidth, "mpp_frame_get_width"},
		{&lib.frameGetHeight, "mpp_frame_get_height"},
		{&lib.frameGetHorStride, "mpp_frame_get_hor_stride"},
		{&lib.frameGetVerStride, "mpp_frame_get_ver_stride"},
		{&lib.frameGetFmt, "mpp_frame_get_fmt"},
		{&lib.frameGetMode, "mpp_frame_get_mode"},
		{&lib.frameGetErrInfo, "mpp_frame_get_errinfo"},
		{&lib.frameGetDiscard, "mpp_frame_get_discard"},
		{&lib.frameGetEOS, "mpp_frame_get_eos"},
		{&lib.frameGetInfoChange, "mpp_frame_get_info_change"},
		{&lib.frameGetPTS, "mpp_frame_get_pts"},
		{&lib.frameGetDTS, "mpp_frame_get_dts"},
		{&lib.frameGetBuffer, "mpp_frame_get_buffer"},
		{&lib.groupGet, "mpp_buffer_group_get"},
		{&lib.groupPut, "mpp_buffer_group_put"},
		{&lib.bufferGet, "mpp_buffer_get_with_tag"},
		{&lib.bufferImport, "mpp_buffer_import_with_tag"},
		{&lib.bufferPut, "mpp_buffer_put_with_caller"},
		{&lib.bufferIncRef, "mpp_buffer_inc_ref_with_caller"},
		{&lib.bufferGetFD, "mpp_buffer_get_fd_with_caller"},
		{&lib.bufferGetPtr, "mpp_buffer_get_ptr_with_caller"},
		{&lib.bufferGetSize, "mpp_buffer_get_size_with_caller"},
		{&lib.bufferGetIndex, "mpp_buffer_get_index_with_caller"},
	} {
		addr, err := purego.Dlsym(lib.handle, sym.name)
		if err != nil {
			return fmt.Errorf("symbol '%s' not found: %w", sym.name, err)
		}
		purego.RegisterFunc(sym.fn, addr)
	}
	return nil
}
