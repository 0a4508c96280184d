//go:build linux
// +build linux

package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
)

type Context struct {
	platform *Platform

	locker        sync.Mutex
	cond          *sync.Cond
	initialized   bool
	destroyed     bool
	ctxType       mpp.CtxType
	coding        mpp.CodingType
	packets       []mpp.Packet
	group         *BufferGroup
	inputTimeout  time.Duration
	outputTimeout time.Duration
	infoReported  bool
	infoReady     bool
	frameCounter  uint64
}

var _ mpp.Context = (*Context)(nil)

func newContext(p *Platform) *Context {
	c := &Context{
		platform:      p,
		inputTimeout:  0,
		outputTimeout: -1,
	}
	c.cond = sync.NewCond(&c.locker)
	return c
}

func (c *Context) Init(
	ctx context.Context,
	ctxType mpp.CtxType,
	coding mpp.CodingType,
) error {
	logger.Debugf(ctx, "Init(%d, %s)", ctxType, coding)
	if ctxType != mpp.CtxTypeDec {
		return fmt.Errorf("only decoding is simulated")
	}
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.initialized {
		return fmt.Errorf("already initialized")
	}
	c.initialized = true
	c.ctxType = ctxType
	c.coding = coding
	return nil
}

func (c *Context) PutPacket(ctx context.Context, pkt *mpp.Packet) error {
	c.locker.Lock()
	defer c.locker.Unlock()
	if err := c.checkUsableLocked(); err != nil {
		return err
	}
	if len(c.packets) >= c.platform.Config.InputQueueSize {
		return mpp.RetErrBufferFull.Err("decode_put_packet")
	}
	cpy := *pkt
	cpy.Data = append([]byte(nil), pkt.Data...)
	c.packets = append(c.packets, cpy)
	c.cond.Broadcast()
	return nil
}

func (c *Context) GetFrame(ctx context.Context) (mpp.Frame, error) {
	c.locker.Lock()
	defer c.locker.Unlock()

	timeout := c.outputTimeout
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	stopWakingOnCancel := context.AfterFunc(ctx, c.wakeUp)
	defer stopWakingOnCancel()

	for {
		if err := c.checkUsableLocked(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f := c.produceLocked(); f != nil {
			return f, nil
		}

		switch {
		case timeout == 0:
			return nil, mpp.RetErrTimeout.Err("decode_get_frame")
		case timeout > 0:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, mpp.RetErrTimeout.Err("decode_get_frame")
			}
			t := time.AfterFunc(remaining, c.wakeUp)
			c.cond.Wait()
			t.Stop()
		default:
			c.cond.Wait()
		}
	}
}

func (c *Context) wakeUp() {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.cond.Broadcast()
}

func (c *Context) checkUsableLocked() error {
	if c.destroyed {
		return fmt.Errorf("the context is destroyed")
	}
	if !c.initialized {
		return mpp.RetErrInit.Err("mpp_init")
	}
	return nil
}

func (c *Context) produceLocked() *Frame {
	if len(c.packets) == 0 {
		return nil
	}
	cfg := c.platform.Config
	pkt := &c.packets[0]
	newFrame := func() *Frame {
		return &Frame{
			width:     cfg.Width,
			height:    cfg.Height,
			horStride: cfg.HorStride,
			verStride: cfg.VerStride,
			format:    cfg.Format,
			pts:       pkt.PTS,
			dts:       pkt.DTS,
		}
	}

	if !c.infoReported {
		c.infoReported = true
		f := newFrame()
		f.infoChange = true
		return f
	}
	if !c.infoReady {
		return nil
	}

	if pkt.EOS && len(pkt.Data) == 0 {
		f := newFrame()
		f.eos = true
		c.packets = c.packets[1:]
		return f
	}

	if c.group == nil {
		return nil
	}
	buf := c.group.takeUnused()
	if buf == nil {
		return nil
	}

	f := newFrame()
	f.eos = pkt.EOS
	f.buffer = buf
	if tweaker := cfg.FrameTweaker; tweaker != nil {
		f.tweaks = tweaker(c.frameCounter, pkt)
	}
	c.frameCounter++
	if data := buf.Bytes(); data != nil {
		copy(data, pkt.Data)
	}
	c.packets = c.packets[1:]
	return f
}

func (c *Context) Reset(ctx context.Context) error {
	logger.Debugf(ctx, "Reset")
	c.locker.Lock()
	defer c.locker.Unlock()
	if err := c.checkUsableLocked(); err != nil {
		return err
	}
	c.packets = c.packets[:0]
	c.cond.Broadcast()
	return nil
}

func (c *Context) Control(ctx context.Context, cmd mpp.Command, param any) error {
	logger.Debugf(ctx, "Control(%s, %v)", cmd, param)
	switch cmd {
	case mpp.CommandSetInputTimeout, mpp.CommandSetOutputTimeout:
		ms, ok := param.(int64)
		if !ok {
			return fmt.Errorf("expected int64 for %s, got %T", cmd, param)
		}
		d := time.Duration(ms) * time.Millisecond
		if ms < 0 {
			d = -1
		}
		c.locker.Lock()
		defer c.locker.Unlock()
		if cmd == mpp.CommandSetInputTimeout {
			c.inputTimeout = d
		} else {
			c.outputTimeout = d
		}
		return nil
	case mpp.CommandDecSetExtBufGroup:
		var group *BufferGroup
		switch param := param.(type) {
		case nil:
		case *BufferGroup:
			group = param
		default:
			return fmt.Errorf("expected a simulated buffer group, got %T", param)
		}
		c.locker.Lock()
		old := c.group
		c.group = group
		c.cond.Broadcast()
		c.locker.Unlock()
		if old != nil && old != group {
			old.setOnUnused(nil)
		}
		if group != nil {
			group.setOnUnused(c.wakeUp)
		}
		return nil
	case mpp.CommandDecSetInfoChangeReady:
		c.locker.Lock()
		defer c.locker.Unlock()
		c.infoReady = true
		c.cond.Broadcast()
		return nil
	case mpp.CommandDecSetFrameInfo:
		return nil
	default:
		return mpp.RetErrValue.Err(fmt.Sprintf("control(%s)", cmd))
	}
}

func (c *Context) Destroy(ctx context.Context) error {
	logger.Debugf(ctx, "Destroy")
	c.locker.Lock()
	group := c.group
	c.destroyed = true
	c.group = nil
	c.packets = nil
	c.cond.Broadcast()
	c.locker.Unlock()
	if group != nil {
		group.setOnUnused(nil)
	}
	return nil
}

// PendingPackets returns the amount of submitted but not yet decoded packets.
func (c *Context) PendingPackets() int {
	c.locker.Lock()
	defer c.locker.Unlock()
	return len(c.packets)
}
