// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake transports for testing.
// Provides predictable, controllable behavior for the blocking and the
// completion-style connection contracts.

package fake

import (
	"bytes"
	"io"
	"net"
	"sync"
)

// Conn is a scripted blocking io.ReadWriteCloser. Reads block until data is
// fed, the read side is closed or the connection is closed.
type Conn struct {
	mu       sync.Mutex
	cond     *sync.Cond
	in       bytes.Buffer
	out      bytes.Buffer
	eof      bool
	closed   bool
	hold     bool
	writeErr error
}

// NewConn creates an empty connection.
func NewConn() *Conn {
	c := &Conn{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Read implements io.Reader.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.in.Len() == 0 && !c.eof && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.in.Len() == 0 {
		return 0, io.EOF
	}
	return c.in.Read(p)
}

// Write implements io.Writer. Held writes block until released or the
// connection is closed.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.hold && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n, _ := c.out.Write(p)
	c.cond.Broadcast()
	return n, nil
}

// Close implements io.Closer. Blocked reads and writes fail.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
	return nil
}

// Feed appends data for subsequent reads.
func (c *Conn) Feed(data ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range data {
		c.in.Write(d)
	}
	c.cond.Broadcast()
}

// CloseRead makes reads return io.EOF once fed data is consumed.
func (c *Conn) CloseRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eof = true
	c.cond.Broadcast()
}

// HoldWrites makes writes block until ReleaseWrites.
func (c *Conn) HoldWrites() {
	c.mu.Lock()
	c.hold = true
	c.mu.Unlock()
}

func (c *Conn) ReleaseWrites() {
	c.mu.Lock()
	c.hold = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// SetWriteError configures the error returned by subsequent writes.
func (c *Conn) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Written returns a copy of everything written so far.
func (c *Conn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.out.Bytes())
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
