package bufferpool

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/mppbufferpool/memory"
)

// NewDMABufPool returns a generic pool of descriptor-backed buffers,
// suitable as the other pool of a dmabuf-importing decoder.
func NewDMABufPool(name string, opts ...BaseOption) *Base {
	dmabufs := memory.NewDMABufAllocator()
	return NewBase(name, func(ctx context.Context, cfg Config) (*Buffer, error) {
		mem, err := dmabufs.Alloc(ctx, cfg.Size)
		if err != nil {
			return nil, fmt.Errorf("unable to allocate a dmabuf of size %d: %w", cfg.Size, err)
		}
		return NewBuffer(mem), nil
	}, opts...)
}

// NewSystemPool returns a generic pool of buffers in system memory.
func NewSystemPool(name string, opts ...BaseOption) *Base {
	sysmem := memory.NewSystemAllocator()
	return NewBase(name, func(_ context.Context, cfg Config) (*Buffer, error) {
		return NewBuffer(sysmem.Alloc(cfg.Size)), nil
	}, opts...)
}
