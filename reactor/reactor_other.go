//go:build !linux

// File: reactor/reactor_other.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"fmt"
	"runtime"

	"github.com/momentics/wsengine/api"
)

// New reports that no reactor exists for this platform.
func New() (Reactor, error) {
	return nil, fmt.Errorf("reactor on %s: %w", runtime.GOOS, api.ErrNotSupported)
}
