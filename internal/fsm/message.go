// File: internal/fsm/message.go
// Author: momentics <momentics@gmail.com>

package fsm

import (
	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
)

// MessageState tracks the fragmentation and type of the outbound message
// on the wire. Start computes the next values for a part; Commit applies
// them once that part's write has completed. Callers serialise access.
type MessageState struct {
	fragmented     bool
	nextFragmented bool
	text           bool
	nextText       bool
}

// Start prepares a part for writing and reports whether it is the first
// frame of its message. Control parts keep the current state.
func (m *MessageState) Start(opcode protocol.Opcode, fin bool) (first bool, err error) {
	if opcode.IsControl() {
		m.Hold()
		return true, nil
	}
	isText := opcode == protocol.OpcodeText
	if m.fragmented {
		if m.text != isText {
			return false, api.ErrMessageTypeChanged
		}
		m.nextText = m.text
		m.nextFragmented = !fin
		return false, nil
	}
	m.nextFragmented = !fin
	m.nextText = isText
	return true, nil
}

// Hold makes the next values equal to the current ones.
func (m *MessageState) Hold() {
	m.nextFragmented = m.fragmented
	m.nextText = m.text
}

// Commit applies the values computed by the last Start.
func (m *MessageState) Commit() {
	m.fragmented = m.nextFragmented
	m.text = m.nextText
}

// Fragmented reports whether a fragmented message is open on the wire.
func (m *MessageState) Fragmented() bool { return m.fragmented }
