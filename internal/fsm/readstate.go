// File: internal/fsm/readstate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Read side suspend/resume life cycle. Every transition is a compare and
// swap so suspend and resume may race with the I/O completion path.

package fsm

import (
	"fmt"
	"sync/atomic"
)

// ReadState is the read-processing state of a connection.
type ReadState int32

const (
	// Waiting: idle, a read is outstanding or about to be issued.
	Waiting ReadState = iota
	// Processing: buffered input is being decoded.
	Processing
	// SuspendingWait: suspend requested while waiting for input.
	SuspendingWait
	// SuspendingProcess: suspend requested while processing.
	SuspendingProcess
	// Suspended: no read outstanding and no processing.
	Suspended
	// Closing is terminal.
	Closing
)

var readStateNames = [...]string{"WAITING", "PROCESSING", "SUSPENDING_WAIT", "SUSPENDING_PROCESS", "SUSPENDED", "CLOSING"}

func (s ReadState) String() string {
	if int(s) < len(readStateNames) {
		return readStateNames[s]
	}
	return fmt.Sprintf("ReadState(%d)", int32(s))
}

// IsSuspended reports whether processing should stop at the next frame
// boundary.
func (s ReadState) IsSuspended() bool {
	return s == SuspendingWait || s == SuspendingProcess || s == Suspended || s == Closing
}

// ReadStateMachine holds a ReadState. The zero value is Waiting.
type ReadStateMachine struct {
	v atomic.Int32
}

func (m *ReadStateMachine) Load() ReadState { return ReadState(m.v.Load()) }

func (m *ReadStateMachine) Store(s ReadState) { m.v.Store(int32(s)) }

func (m *ReadStateMachine) CompareAndSwap(old, next ReadState) bool {
	return m.v.CompareAndSwap(int32(old), int32(next))
}

// Close moves to the terminal state and returns the state it replaced.
func (m *ReadStateMachine) Close() ReadState {
	return ReadState(m.v.Swap(int32(Closing)))
}

// Suspend requests a pause. It returns the state it found when the
// request could not apply (already suspending, suspended or closing) and
// ok == false; callers typically log that.
func (m *ReadStateMachine) Suspend() (ReadState, bool) {
	for {
		switch s := m.Load(); s {
		case Waiting:
			if m.CompareAndSwap(Waiting, SuspendingWait) {
				return SuspendingWait, true
			}
		case Processing:
			if m.CompareAndSwap(Processing, SuspendingProcess) {
				return SuspendingProcess, true
			}
		default:
			return s, false
		}
	}
}

// Resume undoes a suspend. resumeProcessing is true when the reader had
// fully stopped (Suspended) and the caller must restart it.
func (m *ReadStateMachine) Resume() (state ReadState, resumeProcessing bool, ok bool) {
	for {
		switch s := m.Load(); s {
		case SuspendingWait:
			if m.CompareAndSwap(SuspendingWait, Waiting) {
				return Waiting, false, true
			}
		case SuspendingProcess:
			if m.CompareAndSwap(SuspendingProcess, Processing) {
				return Processing, false, true
			}
		case Suspended:
			if m.CompareAndSwap(Suspended, Waiting) {
				return Waiting, true, true
			}
		default:
			return s, false, false
		}
	}
}
