// File: session/stream.go
// Author: momentics <momentics@gmail.com>
//
// Streaming senders. Writes are buffered up to the output buffer size and
// each full buffer goes out as a non-final frame; Close sends the rest as
// the final frame.

package session

import (
	"context"
	"io"
	"unicode/utf8"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
)

type messageStream struct {
	s      *Session
	ctx    context.Context
	opcode protocol.Opcode
	buf    []byte
	closed bool
	// started is set once a frame of the message is on the wire.
	started bool
}

// SendStream starts a binary message written through the returned
// stream. The message ends when the stream is closed.
func (s *Session) SendStream(ctx context.Context) (io.WriteCloser, error) {
	if err := s.startAsync(s.sendState.StreamStart); err != nil {
		return nil, err
	}
	return s.newStream(ctx, protocol.OpcodeBinary), nil
}

// SendWriter starts a text message written through the returned writer.
// A character split across Write calls is held back until complete.
func (s *Session) SendWriter(ctx context.Context) (io.WriteCloser, error) {
	if err := s.startAsync(s.sendState.WriterStart); err != nil {
		return nil, err
	}
	return s.newStream(ctx, protocol.OpcodeText), nil
}

func (s *Session) newStream(ctx context.Context, op protocol.Opcode) *messageStream {
	return &messageStream{s: s, ctx: ctx, opcode: op, buf: make([]byte, 0, int(s.cfg.OutputBufferSize))}
}

func (m *messageStream) Write(p []byte) (int, error) {
	if m.closed {
		return 0, api.ErrStreamClosed
	}
	written := 0
	for len(p) > 0 {
		if len(m.buf) == cap(m.buf) {
			if err := m.flush(); err != nil {
				return written, err
			}
		}
		n := copy(m.buf[len(m.buf):cap(m.buf)], p)
		m.buf = m.buf[:len(m.buf)+n]
		p = p[n:]
		written += n
	}
	return written, nil
}

// flush sends the buffer as a non-final frame. Text keeps an incomplete
// trailing character for the next frame.
func (m *messageStream) flush() error {
	cut := len(m.buf)
	if m.opcode == protocol.OpcodeText {
		cut -= partialRuneLen(m.buf)
		if !utf8.Valid(m.buf[:cut]) {
			return api.ErrInvalidUTF8
		}
	}
	if err := m.s.writer.sendBlock(m.ctx, dataPart(m.opcode, m.buf[:cut], false)); err != nil {
		return err
	}
	m.started = true
	m.buf = m.buf[:copy(m.buf, m.buf[cut:])]
	return nil
}

// Close sends the final frame, even when nothing was written, and ends
// the message. Text that is not valid UTF-8 is dropped and the message
// is ended empty. If the final frame cannot be sent after earlier frames
// went out, the session is failed.
func (m *messageStream) Close() error {
	if m.closed {
		return nil
	}
	var err error
	if m.opcode == protocol.OpcodeText && !utf8.Valid(m.buf) {
		err = api.ErrInvalidUTF8
		m.buf = m.buf[:0]
	}
	serr := m.s.writer.sendBlock(m.ctx, dataPart(m.opcode, m.buf, true))
	m.closed = true
	if serr != nil {
		if m.started {
			m.s.abort("message left unfinished", serr)
		}
		m.s.sendState.Fail()
		return serr
	}
	m.s.sendState.Complete(true)
	return err
}

// partialRuneLen returns how many bytes at the end of b start a character
// that is not complete yet.
func partialRuneLen(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if utf8.FullRune(b[len(b)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}
