// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface for readiness-driven IO.

package reactor

import "context"

// FDEventType is a set of readiness events.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	// EventError reports a hang-up or socket error. It is always delivered
	// together with the read and write bits so pending operations retry
	// and observe the failure.
	EventError
)

// FDCallback is invoked on the polling goroutine with the events that
// fired. It must not block.
type FDCallback func(fd uintptr, events FDEventType)

// Reactor multiplexes readiness of non-blocking descriptors. Interest is
// one-shot: after an event fires it must be re-armed with Arm.
type Reactor interface {
	// Register adds fd with no interest armed. cb receives its events.
	Register(fd uintptr, cb FDCallback) error
	// Arm adds events to the interest of fd until they fire.
	Arm(fd uintptr, events FDEventType) error
	// Unregister removes fd. Events already collected may still be
	// delivered.
	Unregister(fd uintptr) error
	// Poll waits up to timeoutMs (negative: forever) and dispatches the
	// events collected.
	Poll(timeoutMs int) error
	// Run polls until ctx is done or the reactor is closed.
	Run(ctx context.Context) error
	// Close stops Run and releases the reactor.
	Close() error
}
