// File: protocol/header.go
// Package protocol implements the RFC 6455 frame header codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Header encoding and incremental decoding. Payload bytes are never copied
// here; the session reader streams them through the transformation chain.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Header is a decoded frame header.
type Header struct {
	Fin    bool
	Rsv    uint8
	Opcode Opcode
	Masked bool
	Mask   [4]byte
	Length int64
}

var (
	ErrNegativeLength  = errors.New("64-bit payload length has the most significant bit set")
	ErrControlTooLarge = errors.New("control frame payload exceeds 125 bytes")
	ErrControlFragment = errors.New("control frame is fragmented")
)

// ExtendedLengthSize returns how many extended length bytes follow a
// 7-bit base length.
func ExtendedLengthSize(base byte) int {
	switch base {
	case 126:
		return 2
	case 127:
		return 8
	}
	return 0
}

// DecodeExtendedLength reads the extended payload length that follows the
// base value. b must hold at least ExtendedLengthSize(base) bytes.
func DecodeExtendedLength(base byte, b []byte) (int64, error) {
	switch base {
	case 126:
		return int64(binary.BigEndian.Uint16(b)), nil
	case 127:
		v := binary.BigEndian.Uint64(b)
		if v>>63 != 0 {
			return 0, ErrNegativeLength
		}
		return int64(v), nil
	}
	return int64(base), nil
}

// HeaderLen returns the encoded size of a header for the given length.
func HeaderLen(length int64, masked bool) int {
	n := 2
	switch {
	case length > 0xFFFF:
		n += 8
	case length > 125:
		n += 2
	}
	if masked {
		n += 4
	}
	return n
}

// AppendHeader encodes h and appends it to dst.
func AppendHeader(dst []byte, h Header) []byte {
	b0 := byte(h.Opcode) & OpcodeMask
	if h.Fin {
		b0 |= FinBit
	}
	b0 |= (h.Rsv << 4) & RsvMask

	var b1 byte
	if h.Masked {
		b1 = MaskBit
	}
	switch {
	case h.Length <= 125:
		dst = append(dst, b0, b1|byte(h.Length))
	case h.Length <= 0xFFFF:
		dst = append(dst, b0, b1|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(h.Length))
	default:
		dst = append(dst, b0, b1|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(h.Length))
	}
	if h.Masked {
		dst = append(dst, h.Mask[:]...)
	}
	return dst
}

// ParseHeader decodes a complete header from the front of b. It returns
// n == 0 and a nil error when b does not yet hold the whole header.
func ParseHeader(b []byte) (h Header, n int, err error) {
	if len(b) < 2 {
		return h, 0, nil
	}
	h.Fin = b[0]&FinBit != 0
	h.Rsv = (b[0] & RsvMask) >> 4
	h.Opcode = Opcode(b[0] & OpcodeMask)
	h.Masked = b[1]&MaskBit != 0
	base := b[1] & LengthMask

	n = 2 + ExtendedLengthSize(base)
	if h.Masked {
		n += 4
	}
	if len(b) < n {
		return Header{}, 0, nil
	}
	if h.Length, err = DecodeExtendedLength(base, b[2:]); err != nil {
		return Header{}, 0, err
	}
	if h.Masked {
		copy(h.Mask[:], b[n-4:n])
	}
	if err = h.CheckControl(); err != nil {
		return Header{}, 0, err
	}
	return h, n, nil
}

// CheckControl validates the RFC 6455 constraints on control frames.
func (h Header) CheckControl() error {
	if !h.Opcode.IsControl() {
		return nil
	}
	if !h.Fin {
		return ErrControlFragment
	}
	if h.Length > MaxControlPayloadLen {
		return fmt.Errorf("%w: %d", ErrControlTooLarge, h.Length)
	}
	return nil
}
