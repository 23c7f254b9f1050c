// File: fake/channel.go
// Author: momentics <momentics@gmail.com>
//
// Manually driven api.AsyncChannel.

package fake

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// Channel is an api.AsyncChannel whose operations complete when the test
// says so. Reads complete inline when data is already buffered and
// otherwise on the goroutine that calls Feed. Writes complete inline
// unless writes are held.
type Channel struct {
	mu       sync.Mutex
	in       []byte
	out      bytes.Buffer
	eof      bool
	closed   bool
	hold     bool
	reads    int
	readBuf  []byte
	readDone func(int, error)
	pending  []byte
	wrDone   func(error)
}

// NewChannel creates an empty channel.
func NewChannel() *Channel { return &Channel{} }

func (c *Channel) Read(p []byte, done func(n int, err error)) {
	c.mu.Lock()
	c.reads++
	switch {
	case c.closed:
		c.mu.Unlock()
		done(0, net.ErrClosed)
	case len(c.in) > 0:
		n := copy(p, c.in)
		c.in = c.in[n:]
		c.mu.Unlock()
		done(n, nil)
	case c.eof:
		c.mu.Unlock()
		done(0, io.EOF)
	default:
		c.readBuf, c.readDone = p, done
		c.mu.Unlock()
	}
}

// Write ignores the deadline; use HoldWrites and CompleteWrite to model a
// slow peer.
func (c *Channel) Write(bufs [][]byte, _ time.Time, done func(err error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		done(net.ErrClosed)
		return
	}
	if c.hold {
		c.pending = bytes.Join(bufs, nil)
		c.wrDone = done
		c.mu.Unlock()
		return
	}
	for _, b := range bufs {
		c.out.Write(b)
	}
	c.mu.Unlock()
	done(nil)
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rd, wr := c.readDone, c.wrDone
	c.readBuf, c.readDone, c.wrDone, c.pending = nil, nil, nil, nil
	c.mu.Unlock()
	if rd != nil {
		rd(0, net.ErrClosed)
	}
	if wr != nil {
		wr(net.ErrClosed)
	}
	return nil
}

// Feed buffers data and completes an outstanding read.
func (c *Channel) Feed(data ...[]byte) {
	c.mu.Lock()
	for _, d := range data {
		c.in = append(c.in, d...)
	}
	if c.readDone == nil || len(c.in) == 0 {
		c.mu.Unlock()
		return
	}
	n := copy(c.readBuf, c.in)
	c.in = c.in[n:]
	done := c.readDone
	c.readBuf, c.readDone = nil, nil
	c.mu.Unlock()
	done(n, nil)
}

// CloseRead ends the input stream; an outstanding read sees io.EOF.
func (c *Channel) CloseRead() {
	c.mu.Lock()
	c.eof = true
	done := c.readDone
	if len(c.in) > 0 {
		done = nil
	}
	if done != nil {
		c.readBuf, c.readDone = nil, nil
	}
	c.mu.Unlock()
	if done != nil {
		done(0, io.EOF)
	}
}

// HoldWrites parks subsequent writes until CompleteWrite.
func (c *Channel) HoldWrites() {
	c.mu.Lock()
	c.hold = true
	c.mu.Unlock()
}

// CompleteWrite finishes the parked write with err and stops holding.
// It reports whether a write was parked.
func (c *Channel) CompleteWrite(err error) bool {
	c.mu.Lock()
	c.hold = false
	done := c.wrDone
	if done != nil && err == nil {
		c.out.Write(c.pending)
	}
	c.wrDone, c.pending = nil, nil
	c.mu.Unlock()
	if done == nil {
		return false
	}
	done(err)
	return true
}

// WritePending reports whether a write is parked.
func (c *Channel) WritePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrDone != nil
}

// ReadPending reports whether a read is outstanding.
func (c *Channel) ReadPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readDone != nil
}

// Reads returns how many reads were issued.
func (c *Channel) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Written returns a copy of everything written so far.
func (c *Channel) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.out.Bytes())
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
