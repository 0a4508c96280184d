// pool.go implements a typed wrapper over sync.Pool.

// Package pool recycles the wrappers of short-lived objects (e.g. the
// buffers handed over between the pools and their consumers).
package pool

import (
	"sync"

	"go.uber.org/atomic"
)

type Pool[T any] struct {
	pool      sync.Pool
	reset     func(*T)
	noReuse   atomic.Bool
	allocated atomic.Uint64
}

// New returns a pool producing values with `alloc`; `reset` is applied
// to every value put back.
func New[T any](
	alloc func() *T,
	reset func(*T),
) *Pool[T] {
	p := &Pool[T]{
		reset: reset,
	}
	p.pool.New = func() any {
		p.allocated.Inc()
		return alloc()
	}
	return p
}

func (p *Pool[T]) Get() *T {
	return p.pool.Get().(*T)
}

func (p *Pool[T]) Put(items ...*T) {
	if p.noReuse.Load() {
		return
	}
	for _, item := range items {
		p.reset(item)
		p.pool.Put(item)
	}
}

// SetReuse enables/disables recycling; disabling it helps to catch
// use-after-put bugs.
func (p *Pool[T]) SetReuse(reuse bool) {
	p.noReuse.Store(!reuse)
}

// Allocated returns the amount of values ever produced by `alloc`.
func (p *Pool[T]) Allocated() uint64 {
	return p.allocated.Load()
}
