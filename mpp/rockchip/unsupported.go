//go:build !linux
// +build !linux

package rockchip

import (
	"context"
	"fmt"
	"runtime"

	"github.com/xaionaro-go/mppbufferpool/mpp"
)

type Platform struct{}

func New(ctx context.Context, opts ...Option) (*Platform, error) {
	return nil, fmt.Errorf("the Rockchip MPP library is not supported on %s", runtime.GOOS)
}

func (*Platform) NewContext(ctx context.Context) (mpp.Context, error) {
	return nil, fmt.Errorf("not supported on %s", runtime.GOOS)
}

func (*Platform) NewBufferGroup(ctx context.Context, mode mpp.BufferMode, bufType mpp.BufferType) (mpp.BufferGroup, error) {
	return nil, fmt.Errorf("not supported on %s", runtime.GOOS)
}
