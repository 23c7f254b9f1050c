//go:build !linux

// File: transport/fd_other.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"fmt"
	"net"
	"runtime"
	"syscall"
	"time"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/reactor"
)

// FDChannel is only available on Linux.
type FDChannel struct{}

func NewFDChannel(fd int, r reactor.Reactor) (*FDChannel, error) {
	return nil, fmt.Errorf("fd channel on %s: %w", runtime.GOOS, api.ErrNotSupported)
}

func NewFDChannelFromConn(conn syscall.Conn, r reactor.Reactor) (*FDChannel, error) {
	return NewFDChannel(-1, r)
}

func (c *FDChannel) Read(p []byte, done func(int, error))               { done(0, net.ErrClosed) }
func (c *FDChannel) Write(bufs [][]byte, _ time.Time, done func(error)) { done(net.ErrClosed) }
func (c *FDChannel) Close() error                                       { return nil }
