// File: transform/transform.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transformation contract shared by the frame reader and the send pipeline.

package transform

import (
	"time"

	"github.com/momentics/wsengine/pool"
	"github.com/momentics/wsengine/protocol"
)

// Result reports why a MoreData call returned.
type Result int

const (
	// Underflow means the source has no more bytes right now.
	Underflow Result = iota
	// Overflow means the destination is full.
	Overflow
	// EndOfFrame means the payload of the current frame has been delivered.
	EndOfFrame
)

func (r Result) String() string {
	switch r {
	case Underflow:
		return "underflow"
	case Overflow:
		return "overflow"
	case EndOfFrame:
		return "end-of-frame"
	}
	return "unknown"
}

// Source pulls payload bytes of the current frame from the stage closer
// to the wire.
type Source func(opcode protocol.Opcode, fin bool, rsv uint8, dst *pool.Buffer) (Result, error)

// MessagePart is one outbound frame worth of payload.
type MessagePart struct {
	Fin     bool
	Rsv     uint8
	Opcode  protocol.Opcode
	Payload []byte
	// Done is called once the part has been written. Parts that a stage
	// split off ahead of the last part of a message carry a nil Done.
	Done     func(error)
	Deadline time.Time
}

// Transformation is one stage of a Chain.
type Transformation interface {
	// MoreData moves payload of the current frame into dst. next is nil for
	// terminal stages, which read the raw frame directly.
	MoreData(next Source, opcode protocol.Opcode, fin bool, rsv uint8, dst *pool.Buffer) (Result, error)
	// ValidateRsv checks the reserved bits this stage owns and returns the
	// bits left for later stages.
	ValidateRsv(rsv uint8, opcode protocol.Opcode) (uint8, bool)
	// SendMessagePart rewrites outbound parts.
	SendMessagePart(parts []MessagePart) ([]MessagePart, error)
	// Close releases stage resources.
	Close() error
}

// Frame is the raw payload of the inbound frame currently being read. The
// session reader owns it and the terminal stage drains it.
type Frame struct {
	Input     *pool.Buffer
	Length    int64
	Written   int64
	Mask      [4]byte
	MaskIndex int
}

// Remaining returns how many payload bytes have not been delivered yet.
func (f *Frame) Remaining() int64 { return f.Length - f.Written }

func (f *Frame) transfer(dst *pool.Buffer, unmask bool) Result {
	n := min(int64(f.Input.Len()), f.Remaining(), int64(dst.Available()))
	if n > 0 {
		free := dst.Free()[:n]
		copy(free, f.Input.Next(int(n)))
		if unmask {
			f.MaskIndex = protocol.Mask(f.Mask, f.MaskIndex, free)
		}
		dst.Commit(int(n))
		f.Written += n
	}
	switch {
	case f.Written == f.Length:
		return EndOfFrame
	case f.Input.Len() == 0:
		return Underflow
	}
	return Overflow
}
