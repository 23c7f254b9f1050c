// File: fake/frames.go
// Author: momentics <momentics@gmail.com>
//
// Raw frame builders and a strict frame splitter for inspecting what a
// session wrote.

package fake

import (
	"errors"

	"github.com/momentics/wsengine/protocol"
)

// Frame is a decoded frame with its payload already unmasked.
type Frame struct {
	protocol.Header
	Payload []byte
}

// Encode builds a raw frame. When masked is true a fixed key is used so
// test output is reproducible.
func Encode(op protocol.Opcode, fin bool, rsv uint8, masked bool, payload []byte) []byte {
	h := protocol.Header{Fin: fin, Rsv: rsv, Opcode: op, Masked: masked, Length: int64(len(payload))}
	if masked {
		h.Mask = [4]byte{0x37, 0xfa, 0x21, 0x3d}
	}
	b := protocol.AppendHeader(nil, h)
	start := len(b)
	b = append(b, payload...)
	if masked {
		protocol.Mask(h.Mask, 0, b[start:])
	}
	return b
}

// Text, Binary, Ping, Pong and Close build final frames masked the way a
// client would send them when masked is set.
func Text(s string, masked bool) []byte {
	return Encode(protocol.OpcodeText, true, 0, masked, []byte(s))
}

func Binary(b []byte, masked bool) []byte {
	return Encode(protocol.OpcodeBinary, true, 0, masked, b)
}

func Ping(b []byte, masked bool) []byte {
	return Encode(protocol.OpcodePing, true, 0, masked, b)
}

func Pong(b []byte, masked bool) []byte {
	return Encode(protocol.OpcodePong, true, 0, masked, b)
}

func Close(r protocol.CloseReason, masked bool) []byte {
	return Encode(protocol.OpcodeClose, true, 0, masked, protocol.AppendClosePayload(nil, r))
}

var ErrTruncated = errors.New("fake: truncated frame")

// Frames splits b into frames. Trailing bytes that do not form a whole
// frame yield ErrTruncated along with the frames decoded so far.
func Frames(b []byte) ([]Frame, error) {
	var out []Frame
	for len(b) > 0 {
		h, n, err := protocol.ParseHeader(b)
		if err != nil {
			return out, err
		}
		if n == 0 || int64(len(b)-n) < h.Length {
			return out, ErrTruncated
		}
		payload := append([]byte(nil), b[n:n+int(h.Length)]...)
		if h.Masked {
			protocol.Mask(h.Mask, 0, payload)
		}
		out = append(out, Frame{Header: h, Payload: payload})
		b = b[n+int(h.Length):]
	}
	return out, nil
}
