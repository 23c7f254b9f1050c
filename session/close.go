// File: session/close.go
// Author: momentics <momentics@gmail.com>
//
// Close handshake: Active -> Closing (our close frame sent or being sent)
// -> Closed.

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/containerd/errdefs"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/transform"
)

func closeParts(r protocol.CloseReason) []transform.MessagePart {
	return []transform.MessagePart{{
		Fin:     true,
		Opcode:  protocol.OpcodeClose,
		Payload: protocol.AppendClosePayload(nil, r),
	}}
}

// Close sends a close frame with reason and returns once it is written.
// The session then waits up to the configured close timeout for the
// peer's close frame; Done reports completion. A zero code means normal
// closure and CloseNoStatusRcvd sends an empty close frame. Closing a
// session that is already closing is a no-op.
func (s *Session) Close(ctx context.Context, reason protocol.CloseReason) error {
	if reason.Code == 0 {
		reason.Code = protocol.CloseNormalClosure
	}
	if reason.Code != protocol.CloseNoStatusRcvd && !reason.Code.ValidOnWire() {
		return fmt.Errorf("close code %d may not be sent: %w", uint16(reason.Code), errdefs.ErrInvalidArgument)
	}
	reason.Reason = protocol.TruncateReason(reason.Reason)
	if !s.status.CompareAndSwap(int32(api.SessionActive), int32(api.SessionClosing)) {
		return nil
	}
	s.mu.Lock()
	s.localReason = reason
	s.mu.Unlock()

	s.log.WithField("reason", reason.String()).Debug("sending close")
	if err := s.writer.sendBlock(ctx, closeParts(reason)); err != nil {
		return err
	}
	s.armCloseTimer()
	return nil
}

func (s *Session) armCloseTimer() {
	d := time.Duration(s.cfg.CloseTimeout)
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closeTimer != nil {
		return
	}
	s.closeTimer = time.AfterFunc(d, func() {
		s.abort("close handshake timed out", errCloseTimeout)
	})
}

func (s *Session) touch() {
	if s.cfg.MaxIdleTimeout > 0 {
		s.lastActive.Store(time.Now().UnixNano())
	}
}

func (s *Session) armIdleTimer() {
	d := time.Duration(s.cfg.MaxIdleTimeout)
	if d <= 0 {
		return
	}
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.idleTimer != nil {
		return
	}
	s.idleTimer = time.AfterFunc(d, s.checkIdle)
}

// checkIdle closes the session with going away once no frame has moved
// for the max idle timeout, and otherwise waits out the remainder.
func (s *Session) checkIdle() {
	if s.Status() != api.SessionActive {
		return
	}
	d := time.Duration(s.cfg.MaxIdleTimeout)
	idle := time.Since(time.Unix(0, s.lastActive.Load()))
	if idle < d {
		s.mu.Lock()
		if !s.finished {
			s.idleTimer.Reset(d - idle)
		}
		s.mu.Unlock()
		return
	}
	s.log.WithField("idle", idle).Debug("session idle")
	err := s.Close(context.Background(), protocol.CloseReason{Code: protocol.CloseGoingAway, Reason: "idle timeout"})
	if err != nil {
		s.log.WithError(err).Debug("closing idle session")
	}
}

// onPeerClose runs on the reader once a valid close frame arrived.
func (s *Session) onPeerClose(peer protocol.CloseReason) {
	s.log.WithField("reason", peer.String()).Debug("close received")
	if s.status.CompareAndSwap(int32(api.SessionActive), int32(api.SessionClosing)) {
		s.writer.sendAsync(closeParts(peer), func(err error) {
			if err != nil {
				s.log.WithError(err).Debug("close echo failed")
			}
			s.finish(peer, nil)
		})
		return
	}
	s.mu.Lock()
	local := s.localReason
	s.mu.Unlock()
	s.finish(local, nil)
}

// fail ends the session after a protocol violation or local error. The
// peer is told why when the code may appear on the wire and no close
// frame has been sent yet.
func (s *Session) fail(err error) {
	reason := protocol.CloseReasonOf(err)
	var ce *protocol.CloseError
	if errors.As(err, &ce) {
		s.metrics.ProtocolError()
	}
	if reason.Code.ValidOnWire() && s.status.CompareAndSwap(int32(api.SessionActive), int32(api.SessionClosing)) {
		s.log.WithError(err).WithField("code", uint16(reason.Code)).Debug("closing after error")
		s.armCloseTimer()
		s.writer.sendAsync(closeParts(reason), func(error) { s.finish(reason, err) })
		return
	}
	s.finish(reason, err)
}

// readFailed ends the session after the transport read side failed.
func (s *Session) readFailed(err error) {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	s.abort(err.Error(), err)
}
