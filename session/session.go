// File: session/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Session is one WebSocket connection after the upgrade: the frame reader,
// the send pipeline and the close handshake over a duplex byte stream.

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/google/uuid"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/control"
	"github.com/momentics/wsengine/internal/fsm"
	"github.com/momentics/wsengine/pool"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/transform"
)

var (
	errWrongDriver   = fmt.Errorf("session was created for the other driver: %w", errdefs.ErrFailedPrecondition)
	errStarted       = fmt.Errorf("session already started: %w", errdefs.ErrFailedPrecondition)
	errReaderStopped = errors.New("reader stopped")
	errCloseTimeout  = fmt.Errorf("peer did not answer the close frame: %w", context.DeadlineExceeded)
)

type Session struct {
	id      string
	role    api.Role
	ep      Endpoint
	cfg     control.Config
	metrics *control.Metrics
	log     *log.Entry
	pool    *pool.BufferPool

	conn   io.ReadWriteCloser
	ch     api.AsyncChannel
	closer io.Closer

	chain  *transform.Chain
	reader *reader
	writer *writer

	hmu      sync.Mutex
	handlers atomic.Pointer[handlers]

	readState fsm.ReadStateMachine
	sendState fsm.SendStateMachine
	status    atomic.Int32
	maxText   atomic.Int64
	maxBinary atomic.Int64
	started   atomic.Bool
	resume    chan struct{}

	releaseOnce sync.Once
	finishing   atomic.Bool
	done        chan struct{}

	// lastActive is the UnixNano time of the last frame read or written.
	lastActive atomic.Int64

	mu          sync.Mutex
	localReason protocol.CloseReason
	closeTimer  *time.Timer
	idleTimer   *time.Timer
	finished    bool
	reason      protocol.CloseReason
	err         error
}

// New creates a session driven by Serve over a blocking connection.
func New(conn io.ReadWriteCloser, role api.Role, ep Endpoint, opts ...Option) (*Session, error) {
	s, err := newSession(role, ep, conn, opts)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.writer.sink = &connSink{w: conn, expire: func() { s.abort("send timed out", api.ErrSendTimeout) }}
	return s, nil
}

// NewAsync creates a session driven by completions of ch. Call Start to
// begin reading.
func NewAsync(ch api.AsyncChannel, role api.Role, ep Endpoint, opts ...Option) (*Session, error) {
	s, err := newSession(role, ep, ch, opts)
	if err != nil {
		return nil, err
	}
	s.ch = ch
	s.writer.sink = channelSink{ch: ch}
	return s, nil
}

func newSession(role api.Role, ep Endpoint, closer io.Closer, opts []Option) (*Session, error) {
	o := options{ctx: context.Background(), cfg: control.Default(), pool: pool.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if ep == nil {
		ep = EndpointFuncs{}
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	s := &Session{
		id:      o.id,
		role:    role,
		ep:      ep,
		cfg:     o.cfg,
		metrics: o.metrics,
		pool:    o.pool,
		closer:  closer,
		resume:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.log = log.G(o.ctx).WithFields(log.Fields{"session": s.id, "role": role.String()})
	s.handlers.Store(&handlers{})
	s.maxText.Store(int64(o.cfg.MaxTextMessageBufferSize))
	s.maxBinary.Store(int64(o.cfg.MaxBinaryMessageBufferSize))

	frame := &transform.Frame{}
	s.chain = transform.NewChain(frame, role == api.RoleServer, o.extensions...)
	s.reader = newReader(s, s.chain, frame, role == api.RoleServer)
	s.writer = newWriter(s, s.chain, role == api.RoleClient)
	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Role() api.Role { return s.role }

// Status reports the close handshake state.
func (s *Session) Status() api.SessionStatus { return api.SessionStatus(s.status.Load()) }

// Extensions returns the negotiated extension stages.
func (s *Session) Extensions() []transform.Transformation { return s.chain.Extensions() }

// Done is closed after OnClose has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// CloseReason returns the final close reason once the session is done.
func (s *Session) CloseReason() protocol.CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Err returns the failure that ended the session, or nil when it ended
// with a completed close handshake or is still running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SetMaxTextMessageBufferSize changes the text buffer size used from the
// next message on.
func (s *Session) SetMaxTextMessageBufferSize(n int) {
	s.maxText.Store(int64(max(n, 4)))
}

// SetMaxBinaryMessageBufferSize changes the binary buffer size used from
// the next message on.
func (s *Session) SetMaxBinaryMessageBufferSize(n int) {
	s.maxBinary.Store(int64(max(n, 1)))
}

// Suspend pauses message delivery at the next frame boundary. Buffered
// input is kept.
func (s *Session) Suspend() {
	if st, ok := s.readState.Suspend(); !ok {
		s.log.WithField("state", st.String()).Warn("suspend ignored")
	}
}

// Resume undoes Suspend. Buffered input is processed before the next read.
func (s *Session) Resume() {
	st, restart, ok := s.readState.Resume()
	if !ok {
		s.log.WithField("state", st.String()).Warn("resume ignored")
		return
	}
	if restart {
		s.resumeProcessing()
	}
}

func (s *Session) open() {
	s.log.Debug("session opened")
	s.armIdleTimer()
	if err := s.call(func() { s.ep.OnOpen(s) }); err != nil {
		s.fail(err)
	}
}

// call runs a handler and converts a panic into an internal error close.
func (s *Session) call(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = protocol.WrapCloseError(protocol.CloseInternalServerErr, fmt.Errorf("handler panic: %v", p))
		}
	}()
	fn()
	return nil
}

// abort ends the session without a close frame.
func (s *Session) abort(msg string, err error) {
	s.finish(protocol.CloseReason{Code: protocol.CloseAbnormalClosure, Reason: protocol.TruncateReason(msg)}, err)
}

// finish runs once: it stops reading and writing, closes the transport
// and reports the outcome to the endpoint. Closing the transport may fail
// an outstanding read on this goroutine, which calls finish again; that
// call returns at once.
func (s *Session) finish(reason protocol.CloseReason, err error) {
	if !s.finishing.CompareAndSwap(false, true) {
		return
	}
	prev := s.readState.Close()
	s.status.Store(int32(api.SessionClosed))
	s.mu.Lock()
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.finished = true
	s.reason, s.err = reason, err
	s.mu.Unlock()

	s.writer.abort()
	if cerr := s.closer.Close(); cerr != nil {
		s.log.WithError(cerr).Debug("closing transport")
	}
	// a reader in the middle of processing releases its own state
	if prev != fsm.Processing && prev != fsm.SuspendingProcess {
		s.releaseReader()
	}
	s.metrics.Closed(uint16(reason.Code))

	entry := s.log.WithField("reason", reason.String())
	if err != nil {
		entry.WithError(err).Debug("session failed")
		s.notify("OnError", func() { s.ep.OnError(s, err) })
	}
	entry.Debug("session closed")
	s.notify("OnClose", func() { s.ep.OnClose(s, reason) })
	close(s.done)
}

func (s *Session) notify(name string, fn func()) {
	if err := s.call(fn); err != nil {
		s.log.WithError(err).Errorf("%s handler failed", name)
	}
}

func (s *Session) releaseReader() {
	s.releaseOnce.Do(func() {
		s.reader.release()
		if err := s.chain.Close(); err != nil {
			s.log.WithError(err).Debug("closing extensions")
		}
	})
}
