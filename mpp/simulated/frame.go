//go:build linux
// +build linux

package simulated

import (
	"go.uber.org/atomic"

	"github.com/xaionaro-go/mppbufferpool/mpp"
)

type Frame struct {
	width      uint32
	height     uint32
	horStride  uint32
	verStride  uint32
	format     mpp.FrameFormat
	tweaks     FrameTweaks
	eos        bool
	infoChange bool
	pts        int64
	dts        int64
	buffer     *Buffer
	deinited   atomic.Bool
}

var _ mpp.Frame = (*Frame)(nil)

func (f *Frame) Width() uint32           { return f.width }
func (f *Frame) Height() uint32          { return f.height }
func (f *Frame) HorStride() uint32       { return f.horStride }
func (f *Frame) VerStride() uint32       { return f.verStride }
func (f *Frame) Format() mpp.FrameFormat { return f.format }
func (f *Frame) Mode() uint32            { return f.tweaks.Mode }
func (f *Frame) ErrInfo() uint32         { return f.tweaks.ErrInfo }
func (f *Frame) Discard() bool           { return f.tweaks.Discard }
func (f *Frame) EOS() bool               { return f.eos }
func (f *Frame) InfoChange() bool        { return f.infoChange }
func (f *Frame) PTS() int64              { return f.pts }
func (f *Frame) DTS() int64              { return f.dts }

func (f *Frame) Buffer() mpp.Buffer {
	if f.buffer == nil {
		return nil
	}
	return f.buffer
}

func (f *Frame) Deinit() error {
	if !f.deinited.CompareAndSwap(false, true) {
		return nil
	}
	if f.buffer == nil {
		return nil
	}
	return f.buffer.Put()
}
