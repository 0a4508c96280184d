//go:build linux
// +build linux

package rockchip

import (
	"context"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/asticode/go-astikit"
	"github.com/ebitengine/purego"
	"go.uber.org/atomic"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
)

// apiTable is the layout of MppApi (64-bit).
type apiTable struct {
	Size            uint32
	Version         uint32
	Decode          uintptr
	DecodePutPacket uintptr
	DecodeGetFrame  uintptr
	Encode          uintptr
	EncodePutFrame  uintptr
	EncodeGetPacket uintptr
	ISP             uintptr
	ISPPutFrame     uintptr
	ISPGetFrame     uintptr
	Poll            uintptr
	Dequeue         uintptr
	Enqueue         uintptr
	Reset           uintptr
	Control         uintptr
}

type api struct {
	decodePutPacket func(ctx uintptr, packet uintptr) int32
	decodeGetFrame  func(ctx uintptr, frame *uintptr) int32
	reset           func(ctx uintptr) int32
	control         func(ctx uintptr, cmd uint32, param uintptr) int32
	controlInt64    func(ctx uintptr, cmd uint32, param *int64) int32
}

type Context struct {
	lib       *library
	api       api
	handle    uintptr
	closer    *astikit.Closer
	destroyed atomic.Bool
}

var _ mpp.Context = (*Context)(nil)

func newContext(ctx context.Context, lib *library) (_ *Context, _err error) {
	logger.Debugf(ctx, "newContext")
	defer func() { logger.Debugf(ctx, "/newContext: %v", _err) }()

	var handle, mpi uintptr
	if err := mpp.Ret(lib.mppCreate(&handle, &mpi)).Err("mpp_create"); err != nil {
		return nil, err
	}
	if mpi == 0 {
		lib.mppDestroy(handle)
		return nil, fmt.Errorf("mpp_create returned no API table")
	}
	table := (*apiTable)(unsafe.Pointer(mpi))

	c := &Context{
		lib:    lib,
		handle: handle,
		closer: astikit.NewCloser(),
	}
	purego.RegisterFunc(&c.api.decodePutPacket, table.DecodePutPacket)
	purego.RegisterFunc(&c.api.decodeGetFrame, table.DecodeGetFrame)
	purego.RegisterFunc(&c.api.reset, table.Reset)
	purego.RegisterFunc(&c.api.control, table.Control)
	purego.RegisterFunc(&c.api.controlInt64, table.Control)
	c.closer.Add(func() {
		if err := mpp.Ret(lib.mppDestroy(handle)).Err("mpp_destroy"); err != nil {
			logger.Errorf(ctx, "%v", err)
		}
	})
	return c, nil
}

func (c *Context) Init(ctx context.Context, ctxType mpp.CtxType, coding mpp.CodingType) (_err error) {
	logger.Debugf(ctx, "Init(%d, %s)", ctxType, coding)
	defer func() { logger.Debugf(ctx, "/Init(%d, %s): %v", ctxType, coding, _err) }()
	if c.destroyed.Load() {
		return fmt.Errorf("the context is destroyed")
	}
	return mpp.Ret(c.lib.mppInit(c.handle, uint32(ctxType), uint32(coding))).Err("mpp_init")
}

// PutPacket submits the packet; the library copies the payload of
// packets not backed by an MppBuffer.
func (c *Context) PutPacket(ctx context.Context, pkt *mpp.Packet) error {
	if c.destroyed.Load() {
		return fmt.Errorf("the context is destroyed")
	}

	var pinner runtime.Pinner
	defer pinner.Unpin()
	var data uintptr
	if len(pkt.Data) > 0 {
		pinner.Pin(&pkt.Data[0])
		data = uintptr(unsafe.Pointer(&pkt.Data[0]))
	}

	var packet uintptr
	if err := mpp.Ret(c.lib.packetInit(&packet, data, uintptr(len(pkt.Data)))).Err("mpp_packet_init"); err != nil {
		return err
	}
	defer c.lib.packetDeinit(&packet)
	c.lib.packetSetPTS(packet, pkt.PTS)
	c.lib.packetSetDTS(packet, pkt.DTS)
	if pkt.EOS {
		c.lib.packetSetEOS(packet)
	}
	return mpp.Ret(c.api.decodePutPacket(c.handle, packet)).Err("decode_put_packet")
}

func (c *Context) GetFrame(ctx context.Context) (mpp.Frame, error) {
	if c.destroyed.Load() {
		return nil, fmt.Errorf("the context is destroyed")
	}
	var frame uintptr
	if err := mpp.Ret(c.api.decodeGetFrame(c.handle, &frame)).Err("decode_get_frame"); err != nil {
		return nil, err
	}
	if frame == 0 {
		return nil, mpp.RetErrTimeout.Err("decode_get_frame")
	}
	return newFrame(c.lib, frame), nil
}

func (c *Context) Reset(ctx context.Context) error {
	logger.Debugf(ctx, "Reset")
	if c.destroyed.Load() {
		return fmt.Errorf("the context is destroyed")
	}
	return mpp.Ret(c.api.reset(c.handle)).Err("reset")
}

func (c *Context) Control(ctx context.Context, cmd mpp.Command, param any) error {
	logger.Debugf(ctx, "Control(%s, %v)", cmd, param)
	if c.destroyed.Load() {
		return fmt.Errorf("the context is destroyed")
	}
	switch cmd {
	case mpp.CommandSetInputTimeout, mpp.CommandSetOutputTimeout:
		timeout, ok := param.(int64)
		if !ok {
			return fmt.Errorf("%s expects an int64, got %T", cmd, param)
		}
		return mpp.Ret(c.api.controlInt64(c.handle, uint32(cmd), &timeout)).Err("control")
	case mpp.CommandDecSetExtBufGroup:
		var handle uintptr
		switch group := param.(type) {
		case nil:
		case *BufferGroup:
			if group != nil {
				handle = group.handle
			}
		default:
			return fmt.Errorf("%s expects a group of this platform, got %T", cmd, param)
		}
		return mpp.Ret(c.api.control(c.handle, uint32(cmd), handle)).Err("control")
	default:
		if param != nil {
			return fmt.Errorf("parameters of %s are not supported", cmd)
		}
		return mpp.Ret(c.api.control(c.handle, uint32(cmd), 0)).Err("control")
	}
}

func (c *Context) Destroy(ctx context.Context) error {
	logger.Debugf(ctx, "Destroy")
	if !c.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	return c.closer.Close()
}
