// File: session/reader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Inbound frame state machine. The reader decodes headers straight out of
// the input buffer and pulls payload through the transformation chain into
// the control, text or binary message buffer, dispatching control frames
// itself and complete (or partial) messages to the registered handlers.

package session

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/text/encoding"
	texttransform "golang.org/x/text/transform"

	"github.com/momentics/wsengine/pool"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/transform"
)

type frameState int

const (
	stateNewFrame frameState = iota
	statePartialHeader
	stateData
)

// stopReason says why reader.process returned without an error.
type stopReason int

const (
	stopUnderflow stopReason = iota
	stopSuspended
	stopClosed
)

// controlFrameRoom is the size of the largest masked control frame. The
// input buffer is compacted at frame boundaries when less than this is
// left after the read cursor.
const controlFrameRoom = protocol.MaxControlPayloadLen + 6

type reader struct {
	s      *Session
	pool   *pool.BufferPool
	chain  *transform.Chain
	frame  *transform.Frame
	masked bool

	input *pool.Buffer

	state  frameState
	fin    bool
	rsv    uint8
	opcode protocol.Opcode
	base   byte

	continuationExpected bool
	textMessage          bool
	closed               bool
	h                    *handlers

	control *pool.Buffer
	binary  *pool.Buffer
	// raw holds payload bytes not yet run through the UTF-8 validator; at
	// most an incomplete rune survives between calls.
	raw       *pool.Buffer
	text      *pool.Buffer
	validator texttransform.Transformer
}

func newReader(s *Session, chain *transform.Chain, frame *transform.Frame, masked bool) *reader {
	r := &reader{
		s:         s,
		pool:      s.pool,
		chain:     chain,
		frame:     frame,
		masked:    masked,
		input:     s.pool.Get(int(s.cfg.InputBufferSize)),
		control:   pool.NewBuffer(protocol.MaxControlPayloadLen),
		validator: encoding.UTF8Validator,
		h:         &handlers{},
	}
	frame.Input = r.input
	return r
}

// readBuffer returns the free tail of the input buffer for the next
// transport read.
func (r *reader) readBuffer() ([]byte, error) {
	if r.input == nil {
		return nil, errReaderStopped
	}
	if r.input.Available() == 0 {
		r.input.Compact()
		if r.input.Available() == 0 {
			return nil, protocol.NewCloseError(protocol.CloseMessageTooBig, "input buffer is full")
		}
	}
	return r.input.Free(), nil
}

func (r *reader) received(n int) {
	if n > 0 {
		r.input.Commit(n)
		r.s.metrics.Received(n)
		r.s.touch()
	}
}

// process decodes buffered input until it runs out, a suspend takes
// effect or a close frame has been handled.
func (r *reader) process() (stopReason, error) {
	for {
		if r.closed {
			return stopClosed, nil
		}
		if r.s.readState.Load().IsSuspended() {
			return stopSuspended, nil
		}
		var (
			ok  bool
			err error
		)
		switch r.state {
		case stateNewFrame:
			ok, err = r.initialHeader()
		case statePartialHeader:
			ok, err = r.remainingHeader()
		case stateData:
			ok, err = r.data()
		}
		if err != nil {
			return stopUnderflow, err
		}
		if !ok {
			return stopUnderflow, nil
		}
	}
}

func protocolError(format string, args ...any) error {
	return protocol.NewCloseError(protocol.CloseProtocolError, fmt.Sprintf(format, args...))
}

func (r *reader) initialHeader() (bool, error) {
	if r.input.Len() < 2 {
		return false, nil
	}
	b := r.input.Next(2)
	r.fin = b[0]&protocol.FinBit != 0
	r.rsv = (b[0] & protocol.RsvMask) >> 4
	r.opcode = protocol.Opcode(b[0] & protocol.OpcodeMask)
	if !r.chain.ValidateRsv(r.rsv, r.opcode) {
		return false, protocolError("unexpected reserved bits 0x%x on %s frame", r.rsv, r.opcode)
	}

	if r.opcode.IsControl() {
		if !r.fin {
			return false, protocolError("fragmented %s frame", r.opcode)
		}
		switch r.opcode {
		case protocol.OpcodeClose, protocol.OpcodePing, protocol.OpcodePong:
		default:
			return false, protocolError("unknown opcode 0x%x", byte(r.opcode))
		}
	} else {
		if r.continuationExpected {
			if !r.opcode.IsContinuation() {
				return false, protocolError("%s frame inside a fragmented message", r.opcode)
			}
		} else {
			switch r.opcode {
			case protocol.OpcodeText:
				r.startMessage(true)
			case protocol.OpcodeBinary:
				r.startMessage(false)
			case protocol.OpcodeContinuation:
				return false, protocolError("continuation frame without a message")
			default:
				return false, protocolError("unknown opcode 0x%x", byte(r.opcode))
			}
		}
		r.continuationExpected = !r.fin
	}

	masked := b[1]&protocol.MaskBit != 0
	switch {
	case r.masked && !masked:
		return false, protocolError("client frame is not masked")
	case !r.masked && masked:
		return false, protocolError("server frame is masked")
	}
	r.base = b[1] & protocol.LengthMask
	r.state = statePartialHeader
	return true, nil
}

func (r *reader) remainingHeader() (bool, error) {
	need := protocol.ExtendedLengthSize(r.base)
	if r.masked {
		need += 4
	}
	if r.input.Len() < need {
		return false, nil
	}
	b := r.input.Next(need)
	length, err := protocol.DecodeExtendedLength(r.base, b)
	if err != nil {
		return false, protocol.WrapCloseError(protocol.CloseProtocolError, err)
	}
	h := protocol.Header{Fin: r.fin, Opcode: r.opcode, Length: length}
	if err := h.CheckControl(); err != nil {
		return false, protocol.WrapCloseError(protocol.CloseProtocolError, err)
	}
	r.frame.Length, r.frame.Written, r.frame.MaskIndex = length, 0, 0
	if r.masked {
		copy(r.frame.Mask[:], b[need-4:])
	}
	r.s.metrics.FrameReceived(r.opcode.String())
	r.state = stateData
	r.checkRoomPayload()
	return true, nil
}

func (r *reader) data() (bool, error) {
	switch {
	case r.opcode.IsControl():
		return r.controlData()
	case r.textMessage && r.h.hasText():
		return r.textData()
	case !r.textMessage && r.h.hasBinary():
		return r.binaryData()
	}
	return r.swallow()
}

func (r *reader) controlData() (bool, error) {
	res, err := r.chain.MoreData(r.opcode, true, r.rsv, r.control)
	if err != nil {
		return false, err
	}
	if res != transform.EndOfFrame {
		return false, nil
	}
	payload := r.control.Bytes()
	switch r.opcode {
	case protocol.OpcodeClose:
		reason, err := protocol.ParseClosePayload(payload)
		if err != nil {
			return false, err
		}
		r.closed = true
		r.control.Reset()
		r.newFrame()
		r.s.onPeerClose(reason)
		return true, nil
	case protocol.OpcodePing:
		r.s.replyPong(bytes.Clone(payload))
	case protocol.OpcodePong:
		if fn := r.s.handlers.Load().pong; fn != nil {
			p := bytes.Clone(payload)
			if err := r.s.call(func() { fn(p) }); err != nil {
				return false, err
			}
		}
	}
	r.control.Reset()
	r.newFrame()
	return true, nil
}

func (r *reader) textData() (bool, error) {
	for {
		res, err := r.chain.MoreData(r.opcode, r.fin, r.rsv, r.raw)
		if err != nil {
			return false, err
		}
		if err := r.decode(false); err != nil {
			return false, err
		}
		switch res {
		case transform.Underflow:
			return false, nil
		case transform.EndOfFrame:
			if r.fin {
				if err := r.decode(true); err != nil {
					return false, err
				}
				if err := r.deliverText(true); err != nil {
					return false, err
				}
			}
			r.newFrame()
			return true, nil
		}
	}
}

// decode validates raw into the text buffer. Text that does not fit is
// handed to a partial handler or fails the message.
func (r *reader) decode(atEOF bool) error {
	for {
		nDst, nSrc, err := r.validator.Transform(r.text.Free(), r.raw.Bytes(), atEOF)
		r.text.Commit(nDst)
		r.raw.Advance(nSrc)
		switch {
		case err == nil, errors.Is(err, texttransform.ErrShortSrc):
			r.raw.Compact()
			return nil
		case errors.Is(err, texttransform.ErrShortDst):
			if r.h.partialText == nil || r.text.Len() == 0 {
				return protocol.NewCloseError(protocol.CloseMessageTooBig,
					fmt.Sprintf("text message larger than %d bytes", r.text.Cap()))
			}
			if err := r.deliverText(false); err != nil {
				return err
			}
		default:
			return protocol.WrapCloseError(protocol.CloseInvalidPayloadData, err)
		}
	}
}

func (r *reader) deliverText(last bool) error {
	h := r.h
	text := string(r.text.Bytes())
	r.text.Reset()
	if h.partialText != nil {
		return r.s.call(func() { h.partialText(text, last) })
	}
	if !last {
		return nil
	}
	return r.s.call(func() { h.text(text) })
}

func (r *reader) binaryData() (bool, error) {
	for {
		res, err := r.chain.MoreData(r.opcode, r.fin, r.rsv, r.binary)
		if err != nil {
			return false, err
		}
		switch res {
		case transform.Underflow:
			return false, nil
		case transform.EndOfFrame:
			if r.fin || (r.h.partialBinary != nil && r.binary.Len() > 0) {
				if err := r.deliverBinary(r.fin); err != nil {
					return false, err
				}
			}
			r.newFrame()
			return true, nil
		}
		if r.h.partialBinary == nil {
			return false, protocol.NewCloseError(protocol.CloseMessageTooBig,
				fmt.Sprintf("binary message larger than %d bytes", r.binary.Cap()))
		}
		if err := r.deliverBinary(false); err != nil {
			return false, err
		}
	}
}

func (r *reader) deliverBinary(last bool) error {
	h := r.h
	data := r.binary.Bytes()
	defer r.binary.Reset()
	if h.partialBinary != nil {
		return r.s.call(func() { h.partialBinary(data, last) })
	}
	return r.s.call(func() { h.binary(data) })
}

// swallow drains a message nobody listens for. The payload still runs
// through the chain so compression state stays in step with the peer.
func (r *reader) swallow() (bool, error) {
	for {
		r.raw.Reset()
		res, err := r.chain.MoreData(r.opcode, r.fin, r.rsv, r.raw)
		if err != nil {
			return false, err
		}
		switch res {
		case transform.Underflow:
			return false, nil
		case transform.EndOfFrame:
			r.newFrame()
			return true, nil
		}
	}
}

// startMessage picks the handlers and sizes the buffers for a new data
// message. Buffers follow the configured maximum of the moment.
func (r *reader) startMessage(text bool) {
	r.h = r.s.handlers.Load()
	r.textMessage = text
	r.raw = r.resize(r.raw, int(r.s.cfg.InputBufferSize))
	r.raw.Reset()
	if text {
		r.validator.Reset()
		r.text = r.resize(r.text, int(r.s.maxText.Load()))
		r.text.Reset()
		return
	}
	r.binary = r.resize(r.binary, int(r.s.maxBinary.Load()))
	r.binary.Reset()
}

func (r *reader) resize(b *pool.Buffer, size int) *pool.Buffer {
	if b != nil && b.Cap() == size {
		return b
	}
	r.pool.Put(b)
	return r.pool.Get(size)
}

func (r *reader) newFrame() {
	r.state = stateNewFrame
	if r.input.Len() == 0 {
		r.input.Reset()
		return
	}
	r.checkRoomHeaders()
}

func (r *reader) checkRoomHeaders() {
	if r.input.Cap()-r.input.ReadOffset() < controlFrameRoom {
		r.input.Compact()
	}
}

func (r *reader) checkRoomPayload() {
	if int64(r.input.Cap()-r.input.ReadOffset()) < r.frame.Remaining() {
		r.input.Compact()
	}
}

// release returns the message buffers. The input buffer is released
// separately by the driver once no read can be outstanding.
func (r *reader) release() {
	r.pool.Put(r.raw)
	r.pool.Put(r.text)
	r.pool.Put(r.binary)
	r.raw, r.text, r.binary = nil, nil, nil
}

func (r *reader) releaseInput() {
	if r.input != nil {
		r.pool.Put(r.input)
		r.input, r.frame.Input = nil, nil
	}
}
