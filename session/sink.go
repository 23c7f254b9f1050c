// File: session/sink.go
// Author: momentics <momentics@gmail.com>
//
// Transport adapters for the writer.

package session

import (
	"io"
	"time"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/transport"
)

// sink writes whole buffers. done runs exactly once, possibly before write
// returns.
type sink interface {
	write(bufs [][]byte, deadline time.Time, done func(error))
}

type channelSink struct{ ch api.AsyncChannel }

func (c channelSink) write(bufs [][]byte, deadline time.Time, done func(error)) {
	c.ch.Write(bufs, deadline, done)
}

// connSink writes to a blocking connection on the calling goroutine.
// Connections without write deadlines are bounded by a timer that calls
// expire, which is expected to close the connection.
type connSink struct {
	w      io.Writer
	expire func()
}

func (c *connSink) write(bufs [][]byte, deadline time.Time, done func(error)) {
	done(transport.WriteBuffers(c.w, bufs, deadline, c.expire))
}
