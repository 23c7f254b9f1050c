// File: session/send.go
// Author: momentics <momentics@gmail.com>
//
// Application send API. Only one data send may be in progress at a time;
// starting another fails at once with api.ErrInvalidState. Control frames
// are not limited.

package session

import (
	"context"
	"unicode/utf8"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/transform"
)

func (s *Session) checkOpen() error {
	if s.Status() != api.SessionActive {
		return api.ErrSessionClosed
	}
	return nil
}

func dataPart(op protocol.Opcode, payload []byte, last bool) []transform.MessagePart {
	return []transform.MessagePart{{Fin: last, Opcode: op, Payload: payload}}
}

// SendText sends a whole text message and waits for it to be written.
func (s *Session) SendText(ctx context.Context, text string) error {
	if !utf8.ValidString(text) {
		return api.ErrInvalidUTF8
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.sendState.TextStart(); err != nil {
		return err
	}
	defer s.sendState.Complete(true)
	return s.writer.sendBlock(ctx, dataPart(protocol.OpcodeText, []byte(text), true))
}

// SendBinary sends a whole binary message and waits for it to be written.
func (s *Session) SendBinary(ctx context.Context, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.sendState.BinaryStart(); err != nil {
		return err
	}
	defer s.sendState.Complete(true)
	return s.writer.sendBlock(ctx, dataPart(protocol.OpcodeBinary, data, true))
}

// SendPartialText sends one fragment of a text message. The fragment
// must hold whole characters. A fragment that fails without ending the
// session may be sent again.
func (s *Session) SendPartialText(ctx context.Context, fragment string, last bool) error {
	if !utf8.ValidString(fragment) {
		return api.ErrInvalidUTF8
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.sendState.TextPartialStart(); err != nil {
		return err
	}
	if err := s.writer.sendBlock(ctx, dataPart(protocol.OpcodeText, []byte(fragment), last)); err != nil {
		s.sendState.Fail()
		return err
	}
	s.sendState.Complete(last)
	return nil
}

// SendPartialBinary sends one fragment of a binary message.
func (s *Session) SendPartialBinary(ctx context.Context, fragment []byte, last bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.sendState.BinaryPartialStart(); err != nil {
		return err
	}
	if err := s.writer.sendBlock(ctx, dataPart(protocol.OpcodeBinary, fragment, last)); err != nil {
		s.sendState.Fail()
		return err
	}
	s.sendState.Complete(last)
	return nil
}

// SendTextAsync queues a whole text message. done, if not nil, receives
// the outcome. The message may be written on the calling goroutine.
func (s *Session) SendTextAsync(text string, done func(error)) {
	if !utf8.ValidString(text) {
		finishAsync(done, api.ErrInvalidUTF8)
		return
	}
	if err := s.startAsync(s.sendState.TextStart); err != nil {
		finishAsync(done, err)
		return
	}
	s.writer.sendAsync(dataPart(protocol.OpcodeText, []byte(text), true), s.completeAsync(done))
}

// SendBinaryAsync queues a whole binary message. data must not be modified
// until done is called.
func (s *Session) SendBinaryAsync(data []byte, done func(error)) {
	if err := s.startAsync(s.sendState.BinaryStart); err != nil {
		finishAsync(done, err)
		return
	}
	s.writer.sendAsync(dataPart(protocol.OpcodeBinary, data, true), s.completeAsync(done))
}

func (s *Session) startAsync(start func() error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return start()
}

func (s *Session) completeAsync(done func(error)) func(error) {
	return func(err error) {
		s.sendState.Complete(true)
		finishAsync(done, err)
	}
}

func finishAsync(done func(error), err error) {
	if done != nil {
		done(err)
	}
}

// SendPing sends a ping with up to 125 bytes of payload.
func (s *Session) SendPing(ctx context.Context, payload []byte) error {
	return s.sendControl(ctx, protocol.OpcodePing, payload)
}

// SendPong sends an unsolicited pong.
func (s *Session) SendPong(ctx context.Context, payload []byte) error {
	return s.sendControl(ctx, protocol.OpcodePong, payload)
}

func (s *Session) sendControl(ctx context.Context, op protocol.Opcode, payload []byte) error {
	if len(payload) > protocol.MaxControlPayloadLen {
		return api.ErrControlPayloadTooLarge
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writer.sendBlock(ctx, dataPart(op, payload, true))
}

// replyPong answers a ping from the reader without blocking it.
func (s *Session) replyPong(payload []byte) {
	if s.Status() != api.SessionActive {
		return
	}
	s.writer.sendAsync(dataPart(protocol.OpcodePong, payload, true), func(err error) {
		if err != nil {
			s.log.WithError(err).Debug("pong failed")
		}
	})
}

// Flush writes out batched frames.
func (s *Session) Flush(ctx context.Context) error {
	return s.writer.sendBlock(ctx, dataPart(opFlush, nil, true))
}

// SetBatching turns batching of outbound frames on or off. Turning it off
// flushes what has been batched.
func (s *Session) SetBatching(ctx context.Context, allowed bool) error {
	s.writer.batching.Store(allowed)
	if allowed {
		return nil
	}
	return s.Flush(ctx)
}

// Batching reports whether outbound frames are batched.
func (s *Session) Batching() bool { return s.writer.batching.Load() }
