// File: transport/write.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/momentics/wsengine/api"
)

// WriteBuffers writes every non-empty buffer of bufs to w as one gathered
// write. Writers implementing api.WriteDeadliner get deadline applied
// directly. For other writers, or when setting the deadline fails, a
// non-zero deadline arms a timer that calls expire, which must unblock the
// write (normally by closing w). Deadline failures wrap api.ErrSendTimeout.
func WriteBuffers(w io.Writer, bufs [][]byte, deadline time.Time, expire func()) error {
	var (
		expired atomic.Bool
		timer   *time.Timer
	)
	arm := !deadline.IsZero() && expire != nil
	if wd, ok := w.(api.WriteDeadliner); ok {
		if err := wd.SetWriteDeadline(deadline); err == nil {
			arm = false
		}
	}
	if arm {
		timer = time.AfterFunc(time.Until(deadline), func() {
			expired.Store(true)
			expire()
		})
	}
	nb := make(net.Buffers, 0, len(bufs))
	for _, b := range bufs {
		if len(b) > 0 {
			nb = append(nb, b)
		}
	}
	_, err := nb.WriteTo(w)
	if timer != nil {
		timer.Stop()
	}
	if err != nil && (expired.Load() || errors.Is(err, os.ErrDeadlineExceeded)) {
		err = fmt.Errorf("%w: %w", api.ErrSendTimeout, err)
	}
	return err
}
