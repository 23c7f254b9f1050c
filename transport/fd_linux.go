//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/reactor"
)

// FDChannel implements api.AsyncChannel over a non-blocking socket
// descriptor. Operations are attempted at once; when the socket would
// block, interest is armed on the reactor and the operation is retried
// from its callback. Completions that follow a wait run on a new
// goroutine so the polling goroutine never runs session code.
type FDChannel struct {
	fd int
	r  reactor.Reactor

	mu     sync.Mutex
	closed bool

	rbuf  []byte
	rdone func(int, error)

	wbufs  [][]byte
	wdone  func(error)
	wtimer *time.Timer
}

var _ api.AsyncChannel = (*FDChannel)(nil)

// NewFDChannel switches fd to non-blocking mode and registers it with r.
// The channel owns fd and closes it on Close.
func NewFDChannel(fd int, r reactor.Reactor) (*FDChannel, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	c := &FDChannel{fd: fd, r: r}
	if err := r.Register(uintptr(fd), c.ready); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFDChannelFromConn duplicates the descriptor of conn and wraps the
// copy. The caller keeps ownership of conn and may close it.
func NewFDChannelFromConn(conn syscall.Conn, r reactor.Reactor) (*FDChannel, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		dup    int
		dupErr error
	)
	if err := raw.Control(func(fd uintptr) {
		dup, dupErr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, fmt.Errorf("dup: %w", dupErr)
	}
	c, err := NewFDChannel(dup, r)
	if err != nil {
		unix.Close(dup)
		return nil, err
	}
	return c, nil
}

func (c *FDChannel) Read(p []byte, done func(int, error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		done(0, net.ErrClosed)
		return
	}
	n, err := c.read(p)
	if errors.Is(err, unix.EAGAIN) {
		c.rbuf, c.rdone = p, done
		if err = c.r.Arm(uintptr(c.fd), reactor.EventRead); err == nil {
			c.mu.Unlock()
			return
		}
		c.rbuf, c.rdone = nil, nil
	}
	c.mu.Unlock()
	done(n, err)
}

func (c *FDChannel) read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return 0, err
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (c *FDChannel) Write(bufs [][]byte, deadline time.Time, done func(error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		done(net.ErrClosed)
		return
	}
	pending := make([][]byte, 0, len(bufs))
	for _, b := range bufs {
		if len(b) > 0 {
			pending = append(pending, b)
		}
	}
	pending, err := c.write(pending)
	if err == nil && len(pending) > 0 {
		c.wbufs, c.wdone = pending, done
		if err = c.r.Arm(uintptr(c.fd), reactor.EventWrite); err == nil {
			if !deadline.IsZero() {
				c.wtimer = time.AfterFunc(time.Until(deadline), c.writeExpired)
			}
			c.mu.Unlock()
			return
		}
		c.wbufs, c.wdone = nil, nil
	}
	c.mu.Unlock()
	done(err)
}

// write gathers bufs into the socket until it would block and returns
// what is left.
func (c *FDChannel) write(bufs [][]byte) ([][]byte, error) {
	for len(bufs) > 0 {
		n, err := unix.Writev(c.fd, bufs)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return bufs, nil
		case err != nil:
			return nil, err
		}
		bufs = consume(bufs, n)
	}
	return nil, nil
}

func consume(bufs [][]byte, n int) [][]byte {
	for n > 0 && len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			return bufs
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	return bufs
}

func (c *FDChannel) ready(_ uintptr, events reactor.FDEventType) {
	if events&reactor.EventRead != 0 {
		c.readReady()
	}
	if events&reactor.EventWrite != 0 {
		c.writeReady()
	}
}

func (c *FDChannel) readReady() {
	c.mu.Lock()
	done := c.rdone
	if done == nil {
		c.mu.Unlock()
		return
	}
	n, err := c.read(c.rbuf)
	if errors.Is(err, unix.EAGAIN) {
		if err = c.r.Arm(uintptr(c.fd), reactor.EventRead); err == nil {
			c.mu.Unlock()
			return
		}
	}
	c.rbuf, c.rdone = nil, nil
	c.mu.Unlock()
	go done(n, err)
}

func (c *FDChannel) writeReady() {
	c.mu.Lock()
	done := c.wdone
	if done == nil {
		c.mu.Unlock()
		return
	}
	rest, err := c.write(c.wbufs)
	if err == nil && len(rest) > 0 {
		c.wbufs = rest
		if err = c.r.Arm(uintptr(c.fd), reactor.EventWrite); err == nil {
			c.mu.Unlock()
			return
		}
	}
	c.clearWrite()
	c.mu.Unlock()
	go done(err)
}

func (c *FDChannel) writeExpired() {
	c.mu.Lock()
	done := c.wdone
	if done == nil {
		c.mu.Unlock()
		return
	}
	c.clearWrite()
	c.mu.Unlock()
	done(fmt.Errorf("%w: socket not writable before deadline", api.ErrSendTimeout))
}

func (c *FDChannel) clearWrite() {
	if c.wtimer != nil {
		c.wtimer.Stop()
		c.wtimer = nil
	}
	c.wbufs, c.wdone = nil, nil
}

// Close unregisters and closes the descriptor. Pending operations fail
// with net.ErrClosed.
func (c *FDChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rdone, wdone := c.rdone, c.wdone
	c.rbuf, c.rdone = nil, nil
	c.clearWrite()
	c.mu.Unlock()

	err := errors.Join(c.r.Unregister(uintptr(c.fd)), unix.Close(c.fd))
	if rdone != nil {
		rdone(0, net.ErrClosed)
	}
	if wdone != nil {
		wdone(net.ErrClosed)
	}
	return err
}
