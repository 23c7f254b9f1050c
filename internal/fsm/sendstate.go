// File: internal/fsm/sendstate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Application level send state. Only one data message may be in flight per
// connection; a second attempt fails immediately instead of blocking.

package fsm

import (
	"fmt"
	"sync"

	"github.com/momentics/wsengine/api"
)

// SendState is the state of the application's outbound data stream.
type SendState int

const (
	Open SendState = iota
	StreamWriting
	WriterWriting
	BinaryPartialWriting
	BinaryPartialReady
	BinaryFullWriting
	TextPartialWriting
	TextPartialReady
	TextFullWriting
)

var sendStateNames = [...]string{
	"OPEN", "STREAM_WRITING", "WRITER_WRITING",
	"BINARY_PARTIAL_WRITING", "BINARY_PARTIAL_READY", "BINARY_FULL_WRITING",
	"TEXT_PARTIAL_WRITING", "TEXT_PARTIAL_READY", "TEXT_FULL_WRITING",
}

func (s SendState) String() string {
	if int(s) < len(sendStateNames) {
		return sendStateNames[s]
	}
	return fmt.Sprintf("SendState(%d)", int(s))
}

type SendStateMachine struct {
	mu    sync.Mutex
	state SendState
	prev  SendState
}

func (m *SendStateMachine) State() SendState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SendStateMachine) StreamStart() error {
	return m.transition("stream", StreamWriting, Open)
}

func (m *SendStateMachine) WriterStart() error {
	return m.transition("writer", WriterWriting, Open)
}

func (m *SendStateMachine) BinaryPartialStart() error {
	return m.transition("partial binary", BinaryPartialWriting, Open, BinaryPartialReady)
}

func (m *SendStateMachine) BinaryStart() error {
	return m.transition("binary", BinaryFullWriting, Open)
}

func (m *SendStateMachine) TextPartialStart() error {
	return m.transition("partial text", TextPartialWriting, Open, TextPartialReady)
}

func (m *SendStateMachine) TextStart() error {
	return m.transition("text", TextFullWriting, Open)
}

// Complete ends the current send. last is false only for a partial send
// that leaves its message open.
func (m *SendStateMachine) Complete(last bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last {
		m.state = Open
		return
	}
	switch m.state {
	case TextPartialWriting:
		m.state = TextPartialReady
	case BinaryPartialWriting:
		m.state = BinaryPartialReady
	}
}

// Fail ends a send that put nothing on the wire. A partial send returns to
// the state it started from, so an open message can still be finished.
func (m *SendStateMachine) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case TextPartialWriting, BinaryPartialWriting:
		m.state = m.prev
	default:
		m.state = Open
	}
}

func (m *SendStateMachine) transition(kind string, next SendState, allowed ...SendState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range allowed {
		if m.state == s {
			m.prev, m.state = m.state, next
			return nil
		}
	}
	return fmt.Errorf("cannot start %s send in state %s: %w", kind, m.state, api.ErrInvalidState)
}
