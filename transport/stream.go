// File: transport/stream.go
// Author: momentics <momentics@gmail.com>
//
// Goroutine-backed asynchronous channel over a blocking stream.

package transport

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/wsengine/api"
)

// StreamChannel implements api.AsyncChannel over a blocking
// io.ReadWriteCloser. Each operation runs on its own goroutine and its
// completion is delivered there.
type StreamChannel struct {
	rw        io.ReadWriteCloser
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ api.AsyncChannel = (*StreamChannel)(nil)

// NewStreamChannel wraps rw. The channel owns rw from now on.
func NewStreamChannel(rw io.ReadWriteCloser) *StreamChannel {
	return &StreamChannel{rw: rw}
}

func (c *StreamChannel) Read(p []byte, done func(int, error)) {
	if c.closed.Load() {
		done(0, net.ErrClosed)
		return
	}
	go func() {
		n, err := c.rw.Read(p)
		if n > 0 {
			// a short read with an error is reported as the count; the
			// error comes back on the next read
			err = nil
		}
		done(n, err)
	}()
}

func (c *StreamChannel) Write(bufs [][]byte, deadline time.Time, done func(error)) {
	if c.closed.Load() {
		done(net.ErrClosed)
		return
	}
	go func() {
		done(WriteBuffers(c.rw, bufs, deadline, func() { _ = c.Close() }))
	}()
}

// Close closes the underlying stream once.
func (c *StreamChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.rw.Close()
	})
	return c.closeErr
}
