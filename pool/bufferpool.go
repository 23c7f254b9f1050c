// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-classed buffer recycling shared by sessions.

package pool

import "sync"

const classDepth = 1024

// BufferPool recycles Buffers per capacity. The zero value is not usable;
// use NewBufferPool.
type BufferPool struct {
	mu      sync.Mutex
	classes map[int]chan *Buffer
}

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{classes: make(map[int]chan *Buffer)}
}

var defaultPool = NewBufferPool()

// Default returns the process-wide pool.
func Default() *BufferPool { return defaultPool }

func (p *BufferPool) class(size int) chan *Buffer {
	p.mu.Lock()
	ch, ok := p.classes[size]
	if !ok {
		ch = make(chan *Buffer, classDepth)
		p.classes[size] = ch
	}
	p.mu.Unlock()
	return ch
}

// Get returns an empty buffer with exactly size bytes of capacity.
func (p *BufferPool) Get(size int) *Buffer {
	select {
	case b := <-p.class(size):
		b.Reset()
		return b
	default:
		return NewBuffer(size)
	}
}

// Put hands b back for reuse. Buffers beyond the class depth are dropped.
func (p *BufferPool) Put(b *Buffer) {
	if b == nil {
		return
	}
	select {
	case p.class(b.Cap()) <- b:
	default:
	}
}
