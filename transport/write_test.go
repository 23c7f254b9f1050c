package transport_test

import (
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/transport"
)

// stuckWriter blocks every write until it is closed and cannot take a
// write deadline.
type stuckWriter struct {
	once   sync.Once
	closed chan struct{}
}

func (w *stuckWriter) Write([]byte) (int, error) {
	<-w.closed
	return 0, net.ErrClosed
}

func (w *stuckWriter) SetWriteDeadline(time.Time) error { return errors.ErrUnsupported }

func (w *stuckWriter) Close() { w.once.Do(func() { close(w.closed) }) }

func TestWriteBuffersFallsBackToTimer(t *testing.T) {
	w := &stuckWriter{closed: make(chan struct{})}
	expired := make(chan struct{}, 1)
	err := transport.WriteBuffers(w, [][]byte{[]byte("hdr"), []byte("body")}, time.Now().Add(20*time.Millisecond), func() {
		expired <- struct{}{}
		w.Close()
	})
	assert.Check(t, is.ErrorIs(err, api.ErrSendTimeout))
	assert.Check(t, is.ErrorIs(err, net.ErrClosed))
	recv(t, expired)
}

func TestWriteBuffersUsesConnDeadline(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	err := transport.WriteBuffers(a, [][]byte{[]byte("nobody reads")}, time.Now().Add(20*time.Millisecond), func() {
		t.Error("timer armed although the connection takes deadlines")
	})
	assert.Check(t, is.ErrorIs(err, api.ErrSendTimeout))
	assert.Check(t, is.ErrorIs(err, os.ErrDeadlineExceeded))
}

func TestWriteBuffersSkipsEmpty(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := b.Read(buf)
		got <- buf[:n]
	}()
	assert.NilError(t, transport.WriteBuffers(a, [][]byte{nil, []byte("frame")}, time.Time{}, nil))
	assert.Check(t, is.Equal(string(recv(t, got)), "frame"))
}
