// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a poll-mode event reactor with one-shot
// readiness callbacks, implemented with epoll on Linux. Other platforms
// get a constructor that reports api.ErrNotSupported.
package reactor
