package videoinfo

import (
	"fmt"

	"github.com/xaionaro-go/mppbufferpool/mpp"
)

const MaxPlanes = 4

// Info is the layout of a decoded picture.
type Info struct {
	Format        Format
	Width         uint32
	Height        uint32
	InterlaceMode InterlaceMode
	NPlanes       uint
	Stride        [MaxPlanes]uint
	Offset        [MaxPlanes]uint
	Size          uint
}

// Meta is the frame-geometry metadata attached to a pipeline buffer.
type Meta struct {
	Format  Format
	Width   uint32
	Height  uint32
	NPlanes uint
	Offset  [MaxPlanes]uint
	Stride  [MaxPlanes]uint
}

func (info Info) Meta() Meta {
	return Meta{
		Format:  info.Format,
		Width:   info.Width,
		Height:  info.Height,
		NPlanes: info.NPlanes,
		Offset:  info.Offset,
		Stride:  info.Stride,
	}
}

type ErrUnsupportedFormat struct {
	FrameFormat mpp.FrameFormat
	Format      Format
}

func (e ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported frame format %d (%s)", e.FrameFormat, e.Format)
}

func roundUp(v, a uint) uint {
	return (v + a - 1) / a * a
}

// New returns the default (tightly packed) layout of the format.
func New(format Format, width, height uint32) (Info, error) {
	info := Info{
		Format:  format,
		Width:   width,
		Height:  height,
		NPlanes: format.NPlanes(),
	}
	w, h := uint(width), uint(height)
	switch format {
	case FormatNV12, FormatNV21:
		info.Stride[0] = roundUp(w, 4)
		info.Stride[1] = info.Stride[0]
		info.Offset[1] = info.Stride[0] * roundUp(h, 2)
		info.Size = info.Offset[1] + info.Stride[0]*roundUp(h, 2)/2
	case FormatNV12_10LE40:
		info.Stride[0] = roundUp(w*5/4, 4)
		info.Stride[1] = info.Stride[0]
		info.Offset[1] = info.Stride[0] * roundUp(h, 2)
		info.Size = info.Offset[1] + info.Stride[0]*roundUp(h, 2)/2
	case FormatNV16:
		info.Stride[0] = roundUp(w, 4)
		info.Stride[1] = info.Stride[0]
		info.Offset[1] = info.Stride[0] * h
		info.Size = info.Offset[1] * 2
	case FormatI420:
		info.Stride[0] = roundUp(w, 4)
		info.Stride[1] = roundUp(roundUp(w, 2)/2, 4)
		info.Stride[2] = info.Stride[1]
		info.Offset[1] = info.Stride[0] * roundUp(h, 2)
		info.Offset[2] = info.Offset[1] + info.Stride[1]*roundUp(h, 2)/2
		info.Size = info.Offset[2] + info.Stride[2]*roundUp(h, 2)/2
	case FormatYUY2, FormatUYVY:
		info.Stride[0] = roundUp(w*2, 4)
		info.Size = info.Stride[0] * h
	default:
		return Info{}, ErrUnsupportedFormat{Format: format}
	}
	return info, nil
}

// FromFrame computes the layout of the pictures produced by the decoder
// (with the hardware strides) and the aligned layout (the picture size
// equal to the strides), both sized to also fit the motion vectors the
// decoder stores after the chroma plane.
func FromFrame(frame mpp.Frame) (Info, Info, error) {
	if frame == nil {
		return Info{}, Info{}, fmt.Errorf("no frame")
	}
	format := FormatFromMPP(frame.Format())
	if format == FormatUnknown {
		return Info{}, Info{}, ErrUnsupportedFormat{FrameFormat: frame.Format()}
	}

	info, err := New(format, frame.Width(), frame.Height())
	if err != nil {
		return Info{}, Info{}, err
	}
	info.InterlaceMode = InterlaceModeFromFrameMode(frame.Mode())

	horStride := uint(frame.HorStride())
	verStride := uint(frame.VerStride())
	switch format {
	case FormatNV12, FormatNV21, FormatNV12_10LE40:
		info.Stride[0] = horStride
		info.Stride[1] = horStride
		info.Offset[0] = 0
		info.Offset[1] = horStride * verStride
		crHeight := roundUp(verStride, 2) / 2
		info.Size = info.Offset[1] + info.Stride[0]*crHeight
		info.Size += info.Size / 3
	default:
		return Info{}, Info{}, ErrUnsupportedFormat{FrameFormat: frame.Format(), Format: format}
	}

	alignWidth := uint32(horStride)
	if format == FormatNV12_10LE40 {
		alignWidth = uint32((horStride / 10) << 3)
	}
	alignInfo, err := New(format, alignWidth, uint32(verStride))
	if err != nil {
		return Info{}, Info{}, err
	}
	alignInfo.Size = info.Size
	return info, alignInfo, nil
}
