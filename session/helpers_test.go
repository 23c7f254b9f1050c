package session_test

import (
	"context"
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/control"
	"github.com/momentics/wsengine/fake"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/session"
)

const waitTimeout = 5 * time.Second

// events records endpoint callbacks.
type events struct {
	opened chan struct{}
	closed chan protocol.CloseReason
	errs   chan error
}

func newEvents() *events {
	return &events{
		opened: make(chan struct{}, 1),
		closed: make(chan protocol.CloseReason, 1),
		errs:   make(chan error, 4),
	}
}

func (e *events) endpoint() session.EndpointFuncs {
	return session.EndpointFuncs{
		Open:  func(*session.Session) { e.opened <- struct{}{} },
		Close: func(_ *session.Session, r protocol.CloseReason) { e.closed <- r },
		Error: func(_ *session.Session, err error) { e.errs <- err },
	}
}

type served struct {
	s      *session.Session
	conn   *fake.Conn
	ev     *events
	result chan error
}

// serve runs a blocking session over a fake connection until the test ends.
func serve(t *testing.T, role api.Role, opts ...session.Option) *served {
	t.Helper()
	conn := fake.NewConn()
	ev := newEvents()
	s, err := session.New(conn, role, ev.endpoint(), opts...)
	assert.NilError(t, err)
	result := make(chan error, 1)
	go func() { result <- s.Serve(context.Background()) }()
	t.Cleanup(func() {
		conn.Close()
		<-s.Done()
	})
	recv(t, ev.opened)
	return &served{s: s, conn: conn, ev: ev, result: result}
}

// start runs an asynchronous session over a fake channel.
func start(t *testing.T, role api.Role, opts ...session.Option) (*session.Session, *fake.Channel, *events) {
	t.Helper()
	ch := fake.NewChannel()
	ev := newEvents()
	s, err := session.NewAsync(ch, role, ev.endpoint(), opts...)
	assert.NilError(t, err)
	assert.NilError(t, s.Start())
	t.Cleanup(func() {
		ch.Close()
		<-s.Done()
	})
	recv(t, ev.opened)
	return s, ch, ev
}

type piped struct {
	s      *session.Session
	result chan error
}

// pipe connects a server and a client session over net.Pipe.
func pipe(t *testing.T, srvOpts, clOpts []session.Option) (srv, cl *piped) {
	t.Helper()
	a, b := net.Pipe()
	run := func(conn net.Conn, role api.Role, opts []session.Option) *piped {
		s, err := session.New(conn, role, nil, opts...)
		assert.NilError(t, err)
		p := &piped{s: s, result: make(chan error, 1)}
		go func() { p.result <- s.Serve(context.Background()) }()
		t.Cleanup(func() {
			conn.Close()
			<-s.Done()
		})
		return p
	}
	return run(a, api.RoleServer, srvOpts), run(b, api.RoleClient, clOpts)
}

func config(fn func(*control.Config)) session.Option {
	cfg := control.Default()
	fn(&cfg)
	return session.WithConfig(cfg)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an event")
	}
	var zero T
	return zero
}

func waitDone(t *testing.T, s *session.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("session did not finish")
	}
}

// frames decodes everything written so far.
func frames(t *testing.T, written []byte) []fake.Frame {
	t.Helper()
	fs, err := fake.Frames(written)
	assert.NilError(t, err)
	return fs
}

// waitFrames polls until at least n whole frames have been written.
func waitFrames(t *testing.T, written func() []byte, n int) []fake.Frame {
	t.Helper()
	var fs []fake.Frame
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		var err error
		fs, err = fake.Frames(written())
		if err == nil && len(fs) >= n {
			return poll.Success()
		}
		return poll.Continue("%d frames written", len(fs))
	}, poll.WithTimeout(waitTimeout))
	return fs
}

// fragments splits payload into n frames of the given message opcode.
func fragments(op protocol.Opcode, payload []byte, n int, masked bool) [][]byte {
	size := (len(payload) + n - 1) / n
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		lo, hi := min(i*size, len(payload)), min((i+1)*size, len(payload))
		frameOp := op
		if i > 0 {
			frameOp = protocol.OpcodeContinuation
		}
		out = append(out, fake.Encode(frameOp, i == n-1, 0, masked, payload[lo:hi]))
	}
	return out
}

func closeFrame(t *testing.T, f fake.Frame) protocol.CloseReason {
	t.Helper()
	assert.Equal(t, f.Opcode, protocol.OpcodeClose)
	r, err := protocol.ParseClosePayload(f.Payload)
	assert.NilError(t, err)
	return r
}
