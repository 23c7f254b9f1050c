// File: protocol/constants.go
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

import "fmt"

// Opcode is the 4-bit frame type carried in the first header byte.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

const (
	// Frame limit settings
	MaxControlPayloadLen = 125
	MaxFrameHeaderLen    = 14 // for extended payloads with masking

	// Bit masks
	FinBit     = 0x80
	RsvMask    = 0x70
	OpcodeMask = 0x0F
	MaskBit    = 0x80
	LengthMask = 0x7F

	// RSV1 as seen in the 3-bit rsv field.
	Rsv1 = 0x4
)

// IsControl reports whether the opcode is a control opcode (close, ping, pong
// and the reserved 0xB-0xF range).
func (o Opcode) IsControl() bool { return o&0x08 != 0 }

// IsContinuation reports whether the opcode marks a continuation frame.
func (o Opcode) IsContinuation() bool { return o == OpcodeContinuation }

func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	}
	return fmt.Sprintf("opcode(0x%x)", byte(o))
}
