package bufferpool

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaionaro-go/typing"
	"go.uber.org/atomic"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/memory"
	"github.com/xaionaro-go/mppbufferpool/pool"
	"github.com/xaionaro-go/mppbufferpool/videoinfo"
)

type Flags uint32

const (
	FlagInterlaced = Flags(1 << iota)
	FlagTFF
	FlagCorrupted
	FlagDecodeOnly

	// FlagTagMemory marks a buffer whose memory cannot be reused by the
	// pool: it is freed instead of being returned to the free list.
	FlagTagMemory

	// FlagLast marks the last picture of the stream.
	FlagLast
)

var flagNames = []string{"interlaced", "tff", "corrupted", "decode-only", "tag-memory", "last"}

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	var names []string
	for idx, name := range flagNames {
		if f.Has(1 << idx) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Buffer is a reference-counted container of memories with the picture
// metadata attached. A buffer acquired from a pool returns to it when
// the last reference is dropped.
type Buffer struct {
	Memories  []memory.Memory
	Flags     Flags
	PTS       int64
	DTS       int64
	VideoMeta typing.Optional[videoinfo.Meta]

	owner        *Base
	importSource *Buffer
	refCount     atomic.Int32
}

var buffers = pool.New(
	func() *Buffer {
		return &Buffer{}
	},
	func(b *Buffer) {
		for idx := range b.Memories {
			b.Memories[idx] = nil
		}
		mems := b.Memories[:0]
		*b = Buffer{}
		b.Memories = mems
	},
)

// NewBuffer returns a buffer with one reference and no owner.
func NewBuffer(mems ...memory.Memory) *Buffer {
	b := buffers.Get()
	b.Memories = append(b.Memories, mems...)
	b.refCount.Store(1)
	return b
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer<%d memories, %d bytes, pts:%d, flags:%s>", len(b.Memories), b.Size(), b.PTS, b.Flags)
}

// Owner returns the pool the buffer returns to (nil if none).
func (b *Buffer) Owner() *Base {
	return b.owner
}

// ImportSource returns the buffer of the other pool whose memory was
// imported into this buffer.
func (b *Buffer) ImportSource() *Buffer {
	return b.importSource
}

// Size returns the total visible size of the memories.
func (b *Buffer) Size() uint {
	return memory.TotalSize(b.Memories)
}

// Map returns the content of the buffer; the memories are concatenated
// into a copy if there are more than one.
func (b *Buffer) Map() ([]byte, error) {
	switch len(b.Memories) {
	case 0:
		return nil, nil
	case 1:
		return b.Memories[0].Map()
	}
	result := make([]byte, 0, b.Size())
	for idx, mem := range b.Memories {
		data, err := mem.Map()
		if err != nil {
			return nil, fmt.Errorf("unable to map memory #%d: %w", idx, err)
		}
		result = append(result, data...)
	}
	return result, nil
}

func (b *Buffer) Ref() {
	b.refCount.Inc()
}

func (b *Buffer) RefCount() int32 {
	return b.refCount.Load()
}

// Unref drops a reference; the last one returns the buffer to its pool.
func (b *Buffer) Unref(ctx context.Context) {
	switch refs := b.refCount.Dec(); {
	case refs > 0:
		return
	case refs < 0:
		logger.Errorf(ctx, "%s: unref of a buffer with no references", b)
		return
	}
	if b.owner != nil {
		b.owner.Release(ctx, b)
		return
	}
	b.free(ctx)
}

// CopyMetadataFrom copies the flags and the timestamps.
func (b *Buffer) CopyMetadataFrom(src *Buffer) {
	b.Flags = src.Flags
	b.PTS = src.PTS
	b.DTS = src.DTS
}

func (b *Buffer) resetMetadata() {
	b.Flags = 0
	b.PTS = 0
	b.DTS = 0
}

func (b *Buffer) free(ctx context.Context) {
	logger.Tracef(ctx, "freeing %s", b)
	for _, mem := range b.Memories {
		closer, ok := mem.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			logger.Errorf(ctx, "unable to close memory %v: %v", mem, err)
		}
	}
	if src := b.importSource; src != nil {
		b.importSource = nil
		src.Unref(ctx)
	}
	buffers.Put(b)
}
