//go:build linux
// +build linux

package rockchip

import (
	"github.com/xaionaro-go/mppbufferpool/mpp"
)

// Frame is an MppFrame returned by decode_get_frame.
type Frame struct {
	lib    *library
	handle uintptr
}

var _ mpp.Frame = (*Frame)(nil)

func newFrame(lib *library, handle uintptr) *Frame {
	return &Frame{lib: lib, handle: handle}
}

func (f *Frame) Width() uint32     { return f.lib.frameGetWidth(f.handle) }
func (f *Frame) Height() uint32    { return f.lib.frameGetHeight(f.handle) }
func (f *Frame) HorStride() uint32 { return f.lib.frameGetHorStride(f.handle) }
func (f *Frame) VerStride() uint32 { return f.lib.frameGetVerStride(f.handle) }
func (f *Frame) Format() mpp.FrameFormat {
	return mpp.FrameFormat(f.lib.frameGetFmt(f.handle))
}
func (f *Frame) Mode() uint32     { return f.lib.frameGetMode(f.handle) }
func (f *Frame) ErrInfo() uint32  { return f.lib.frameGetErrInfo(f.handle) }
func (f *Frame) Discard() bool    { return f.lib.frameGetDiscard(f.handle) != 0 }
func (f *Frame) EOS() bool        { return f.lib.frameGetEOS(f.handle) != 0 }
func (f *Frame) InfoChange() bool { return f.lib.frameGetInfoChange(f.handle) != 0 }
func (f *Frame) PTS() int64       { return f.lib.frameGetPTS(f.handle) }
func (f *Frame) DTS() int64       { return f.lib.frameGetDTS(f.handle) }

// Buffer returns the buffer the picture is written into; the frame
// holds a reference on it until Deinit.
func (f *Frame) Buffer() mpp.Buffer {
	handle := f.lib.frameGetBuffer(f.handle)
	if handle == 0 {
		return nil
	}
	return &Buffer{lib: f.lib, handle: handle}
}

func (f *Frame) Deinit() error {
	if f.handle == 0 {
		return nil
	}
	return mpp.Ret(f.lib.frameDeinit(&f.handle)).Err("mpp_frame_deinit")
}
