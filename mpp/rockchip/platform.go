//go:build linux
// +build linux

package rockchip

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
)

// tag is the tag the buffers of this package are allocated with (see
// the MPP buffer logs).
const tag = "mppbufferpool"

type Platform struct {
	Config Config
	lib    *library
}

var _ mpp.Platform = (*Platform)(nil)

func New(ctx context.Context, opts ...Option) (_ *Platform, _err error) {
	cfg := Options(opts).config()
	logger.Debugf(ctx, "New(%#+v)", cfg)
	defer func() { logger.Debugf(ctx, "/New(%#+v): %v", cfg, _err) }()

	lib, err := loadLibrary(cfg.LibraryPath)
	if err != nil {
		return nil, fmt.Errorf("unable to load the MPP library: %w", err)
	}
	return &Platform{
		Config: cfg,
		lib:    lib,
	}, nil
}

func (p *Platform) NewContext(ctx context.Context) (mpp.Context, error) {
	return newContext(ctx, p.lib)
}

func (p *Platform) NewBufferGroup(
	ctx context.Context,
	mode mpp.BufferMode,
	bufType mpp.BufferType,
) (_ mpp.BufferGroup, _err error) {
	logger.Debugf(ctx, "NewBufferGroup(%d, %s)", mode, bufType)
	defer func() { logger.Debugf(ctx, "/NewBufferGroup(%d, %s): %v", mode, bufType, _err) }()

	var handle uintptr
	if err := mpp.Ret(p.lib.groupGet(&handle, uint32(bufType), uint32(mode), tag, "NewBufferGroup")).Err("mpp_buffer_group_get"); err != nil {
		return nil, err
	}
	return &BufferGroup{lib: p.lib, handle: handle}, nil
}
