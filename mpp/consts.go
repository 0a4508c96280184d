// consts.go mirrors the enumerations of the Rockchip MPP C API.

package mpp

import (
	"fmt"
)

// MaxFrames is the maximal amount of frames the hardware may hold concurrently.
const MaxFrames = 32

type CtxType uint32

const (
	CtxTypeDec = CtxType(0)
	CtxTypeEnc = CtxType(1)
)

type CodingType uint32

const (
	CodingUnused     = CodingType(0)
	CodingAutoDetect = CodingType(1)
	CodingMPEG2      = CodingType(2)
	CodingH263       = CodingType(3)
	CodingMPEG4      = CodingType(4)
	CodingWMV        = CodingType(5)
	CodingRV         = CodingType(6)
	CodingAVC        = CodingType(7)
	CodingMJPEG      = CodingType(8)
	CodingVP8        = CodingType(9)
	CodingVP9        = CodingType(10)
	CodingVC1        = CodingType(0x01000000)
	CodingFLV1       = CodingType(0x01000001)
	CodingDIVX3      = CodingType(0x01000002)
	CodingVP6        = CodingType(0x01000003)
	CodingHEVC       = CodingType(0x01000004)
)

func (c CodingType) String() string {
	switch c {
	case CodingUnused:
		return "unused"
	case CodingAutoDetect:
		return "autodetect"
	case CodingMPEG2:
		return "mpeg2"
	case CodingH263:
		return "h263"
	case CodingMPEG4:
		return "mpeg4"
	case CodingWMV:
		return "wmv"
	case CodingRV:
		return "rv"
	case CodingAVC:
		return "h264"
	case CodingMJPEG:
		return "mjpeg"
	case CodingVP8:
		return "vp8"
	case CodingVP9:
		return "vp9"
	case CodingVC1:
		return "vc1"
	case CodingFLV1:
		return "flv1"
	case CodingDIVX3:
		return "divx3"
	case CodingVP6:
		return "vp6"
	case CodingHEVC:
		return "h265"
	default:
		return fmt.Sprintf("unknown_coding_0x%X", uint32(c))
	}
}

type FrameFormat uint32

const (
	FrameFormatYUV420SP      = FrameFormat(0)
	FrameFormatYUV420SP10Bit = FrameFormat(1)
	FrameFormatYUV422SP      = FrameFormat(2)
	FrameFormatYUV422SP10Bit = FrameFormat(3)
	FrameFormatYUV420P       = FrameFormat(4)
	FrameFormatYUV420SPVU    = FrameFormat(5)
	FrameFormatYUV422P       = FrameFormat(6)
	FrameFormatYUV422SPVU    = FrameFormat(7)
	FrameFormatYUV422YUYV    = FrameFormat(8)
	FrameFormatYUV422YVYU    = FrameFormat(9)
	FrameFormatYUV422UYVY    = FrameFormat(10)
	FrameFormatYUV422VYUY    = FrameFormat(11)

	// FrameFormatMask strips the FBC/HDR flag bits.
	FrameFormatMask = FrameFormat(0x000fffff)
)

// Frame mode bits (mpp_frame_get_mode).
const (
	FrameFlagFrame          = uint32(0x0)
	FrameFlagTopField       = uint32(0x1)
	FrameFlagBotField       = uint32(0x2)
	FrameFlagPairedField    = FrameFlagTopField | FrameFlagBotField
	FrameFlagTopFirst       = uint32(0x4)
	FrameFlagBotFirst       = uint32(0x8)
	FrameFlagDeinterlaced   = FrameFlagTopFirst | FrameFlagBotFirst
	FrameFlagFieldOrderMask = uint32(0x0C)
)

type BufferType uint32

const (
	BufferTypeNormal = BufferType(0)
	BufferTypeION    = BufferType(1)
	BufferTypeExtDMA = BufferType(2)
	BufferTypeDRM    = BufferType(3)
)

func (t BufferType) String() string {
	switch t {
	case BufferTypeNormal:
		return "normal"
	case BufferTypeION:
		return "ion"
	case BufferTypeExtDMA:
		return "ext_dma"
	case BufferTypeDRM:
		return "drm"
	default:
		return fmt.Sprintf("unknown_buffer_type_%d", uint32(t))
	}
}

type BufferMode uint32

const (
	BufferModeInternal = BufferMode(0)
	BufferModeExternal = BufferMode(1)
)

// Command is an argument of Context.Control.
type Command uint32

const (
	cmdModuleMPP            = Command(0x00200000)
	cmdModuleCodec          = Command(0x00300000)
	cmdCtxIDDec             = Command(0x00010000)
	cmdMPPBase              = cmdModuleMPP
	cmdDecBase              = cmdModuleCodec | cmdCtxIDDec
	CommandSetInputTimeout  = cmdMPPBase + 6
	CommandSetOutputTimeout = cmdMPPBase + 7

	CommandDecSetFrameInfo       = cmdDecBase + 1
	CommandDecSetExtBufGroup     = cmdDecBase + 2
	CommandDecSetInfoChangeReady = cmdDecBase + 3
)

func (c Command) String() string {
	switch c {
	case CommandSetInputTimeout:
		return "MPP_SET_INPUT_TIMEOUT"
	case CommandSetOutputTimeout:
		return "MPP_SET_OUTPUT_TIMEOUT"
	case CommandDecSetFrameInfo:
		return "MPP_DEC_SET_FRAME_INFO"
	case CommandDecSetExtBufGroup:
		return "MPP_DEC_SET_EXT_BUF_GROUP"
	case CommandDecSetInfoChangeReady:
		return "MPP_DEC_SET_INFO_CHANGE_READY"
	default:
		return fmt.Sprintf("MPP_CMD_0x%X", uint32(c))
	}
}

// Timeout values accepted by the timeout commands.
const (
	TimeoutBlock    = int64(-1)
	TimeoutNonBlock = int64(0)
)
