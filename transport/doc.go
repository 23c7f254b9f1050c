// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport adapts byte streams to the api.AsyncChannel contract
// used by asynchronously driven sessions. StreamChannel wraps any blocking
// io.ReadWriteCloser; FDChannel drives a non-blocking socket descriptor
// from a reactor.Reactor (Linux only).
package transport
