//go:build linux
// +build linux

// platform.go implements an in-process imitation of the MPP decoder.

// Package simulated provides an in-process codec service with the same
// buffer reference-counting semantics as the Rockchip MPP library. The
// "decoding" copies the packet payload into the output buffer, which is
// enough to exercise the buffer management end to end.
package simulated

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
)

// FrameTweaks are per-frame properties a test may inject.
type FrameTweaks struct {
	Mode    uint32
	ErrInfo uint32
	Discard bool
}

type Config struct {
	Width     uint32
	Height    uint32
	HorStride uint32
	VerStride uint32
	Format    mpp.FrameFormat

	// InputQueueSize is the amount of packets accepted before PutPacket
	// starts to report mpp.ErrBufferFull.
	InputQueueSize int

	// FrameTweaker (if set) is called for every decoded packet.
	FrameTweaker func(frameNumber uint64, pkt *mpp.Packet) FrameTweaks
}

func (cfg Config) withDefaults() Config {
	if cfg.Width == 0 {
		cfg.Width = 320
	}
	if cfg.Height == 0 {
		cfg.Height = 240
	}
	if cfg.HorStride == 0 {
		cfg.HorStride = align(cfg.Width, 16)
	}
	if cfg.VerStride == 0 {
		cfg.VerStride = align(cfg.Height, 16)
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 4
	}
	return cfg
}

func align(v, a uint32) uint32 {
	return (v + a - 1) / a * a
}

type Platform struct {
	Config Config
}

var _ mpp.Platform = (*Platform)(nil)

func New(cfg Config) *Platform {
	return &Platform{
		Config: cfg.withDefaults(),
	}
}

func (p *Platform) NewContext(ctx context.Context) (mpp.Context, error) {
	logger.Debugf(ctx, "NewContext")
	return newContext(p), nil
}

func (p *Platform) NewBufferGroup(
	ctx context.Context,
	mode mpp.BufferMode,
	bufType mpp.BufferType,
) (mpp.BufferGroup, error) {
	logger.Debugf(ctx, "NewBufferGroup(%d, %s)", mode, bufType)
	switch mode {
	case mpp.BufferModeInternal:
		if bufType == mpp.BufferTypeExtDMA {
			return nil, fmt.Errorf("an internal group cannot be of type %s", bufType)
		}
	case mpp.BufferModeExternal:
	default:
		return nil, fmt.Errorf("unknown buffer mode %d", mode)
	}
	return newBufferGroup(mode, bufType), nil
}
