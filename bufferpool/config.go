package bufferpool

import (
	"errors"
	"fmt"
)

// Config is the configuration of a pool; the buffer amounts are bounds
// the pool keeps allocated (MinBuffers) and may allocate (MaxBuffers,
// zero means unlimited).
type Config struct {
	Size       uint
	MinBuffers uint
	MaxBuffers uint

	// VideoMeta makes the pool attach the video layout to the buffers.
	VideoMeta bool
}

func (cfg Config) String() string {
	return fmt.Sprintf("size:%d min:%d max:%d video-meta:%t", cfg.Size, cfg.MinBuffers, cfg.MaxBuffers, cfg.VideoMeta)
}

var ErrNotConfigured = errors.New("the pool is not configured")

// ErrConfigAdjusted is returned by SetConfig when the pool had to adjust
// the requested configuration; the adjusted one is already applied, and
// the caller may either accept it or give up.
type ErrConfigAdjusted struct {
	Config Config
}

func (e ErrConfigAdjusted) Error() string {
	return fmt.Sprintf("the config was adjusted to %s", e.Config)
}
