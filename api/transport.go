// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Completion-style duplex byte channel consumed by the asynchronous driver.

package api

import "time"

// AsyncChannel is a non-blocking duplex byte channel. At most one Read and
// one Write are outstanding at a time. done callbacks run exactly once,
// either before the call returns or later on another goroutine.
type AsyncChannel interface {
	// Read reads into p and reports the count, or an error (io.EOF at end
	// of stream).
	Read(p []byte, done func(n int, err error))
	// Write writes every byte of bufs. A non-zero deadline bounds the
	// write; expiry fails it with an error wrapping ErrSendTimeout.
	Write(bufs [][]byte, deadline time.Time, done func(err error))
	// Close closes the channel; outstanding operations fail.
	Close() error
}

// WriteDeadliner is implemented by blocking connections that support write
// deadlines, such as net.Conn.
type WriteDeadliner interface {
	SetWriteDeadline(t time.Time) error
}
