// format.go maps codec-service enumerations to pipeline-level video descriptions.

// Package videoinfo describes decoded picture layouts and the constant
// tables translating between codec-service and pipeline enumerations.
package videoinfo

import (
	"fmt"
	"strings"

	"github.com/xaionaro-go/mppbufferpool/mpp"
)

type Format int

const (
	FormatUnknown = Format(iota)
	FormatNV12
	FormatNV21
	FormatNV16
	FormatNV12_10LE40
	FormatI420
	FormatYUY2
	FormatUYVY
)

func (f Format) String() string {
	switch f {
	case FormatUnknown:
		return "unknown"
	case FormatNV12:
		return "NV12"
	case FormatNV21:
		return "NV21"
	case FormatNV16:
		return "NV16"
	case FormatNV12_10LE40:
		return "NV12_10LE40"
	case FormatI420:
		return "I420"
	case FormatYUY2:
		return "YUY2"
	case FormatUYVY:
		return "UYVY"
	default:
		return fmt.Sprintf("unknown_format_%d", int(f))
	}
}

// NPlanes returns the amount of planes of the format.
func (f Format) NPlanes() uint {
	switch f {
	case FormatNV12, FormatNV21, FormatNV16, FormatNV12_10LE40:
		return 2
	case FormatI420:
		return 3
	case FormatYUY2, FormatUYVY:
		return 1
	default:
		return 0
	}
}

var formatFromMPP = map[mpp.FrameFormat]Format{
	mpp.FrameFormatYUV420SP:      FormatNV12,
	mpp.FrameFormatYUV420SPVU:    FormatNV21,
	mpp.FrameFormatYUV420SP10Bit: FormatNV12_10LE40,
	mpp.FrameFormatYUV422SP:      FormatNV16,
	mpp.FrameFormatYUV420P:       FormatI420,
	mpp.FrameFormatYUV422YUYV:    FormatYUY2,
	mpp.FrameFormatYUV422UYVY:    FormatUYVY,
}

// FormatFromMPP returns FormatUnknown for formats with no pipeline counterpart.
func FormatFromMPP(f mpp.FrameFormat) Format {
	return formatFromMPP[f&mpp.FrameFormatMask]
}

type InterlaceMode int

const (
	InterlaceModeProgressive = InterlaceMode(iota)
	InterlaceModeInterleaved
	InterlaceModeMixed
)

func (m InterlaceMode) String() string {
	switch m {
	case InterlaceModeProgressive:
		return "progressive"
	case InterlaceModeInterleaved:
		return "interleaved"
	case InterlaceModeMixed:
		return "mixed"
	default:
		return fmt.Sprintf("unknown_interlace_mode_%d", int(m))
	}
}

func InterlaceModeFromFrameMode(mode uint32) InterlaceMode {
	switch mode & mpp.FrameFlagFieldOrderMask {
	case mpp.FrameFlagDeinterlaced:
		return InterlaceModeMixed
	case mpp.FrameFlagTopFirst, mpp.FrameFlagBotFirst:
		return InterlaceModeInterleaved
	default:
		return InterlaceModeProgressive
	}
}

// CodingFromMediaType translates a pipeline media type (and the MPEG
// version for "video/mpeg") to the coding type of the codec service.
func CodingFromMediaType(mediaType string, mpegVersion int) mpp.CodingType {
	switch mediaType {
	case "video/x-h264":
		return mpp.CodingAVC
	case "video/x-h265":
		return mpp.CodingHEVC
	case "video/x-h263":
		return mpp.CodingH263
	case "video/mpeg":
		switch mpegVersion {
		case 1, 2:
			return mpp.CodingMPEG2
		case 4:
			return mpp.CodingMPEG4
		}
	case "video/x-vp8":
		return mpp.CodingVP8
	case "video/x-vp9":
		return mpp.CodingVP9
	}
	return mpp.CodingUnused
}

// ParseCoding accepts short codec names (as used in the configuration).
func ParseCoding(s string) (mpp.CodingType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "avc":
		return mpp.CodingAVC, nil
	case "h265", "hevc":
		return mpp.CodingHEVC, nil
	case "h263":
		return mpp.CodingH263, nil
	case "mpeg1", "mpeg2":
		return mpp.CodingMPEG2, nil
	case "mpeg4":
		return mpp.CodingMPEG4, nil
	case "vp8":
		return mpp.CodingVP8, nil
	case "vp9":
		return mpp.CodingVP9, nil
	}
	return mpp.CodingUnused, fmt.Errorf("unsupported codec '%s'", s)
}
