// Package api
// Author: momentics <momentics@gmail.com>
//
// Common errors used across the engine. They wrap containerd errdefs
// classes so callers can test with errdefs.IsFailedPrecondition and
// friends, or with errors.Is against the values below.

package api

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrSessionClosed: the endpoint has sent its close frame or the
	// connection is gone.
	ErrSessionClosed = fmt.Errorf("session is closed: %w", errdefs.ErrFailedPrecondition)
	// ErrInvalidState: a send was started while another data send is in
	// progress.
	ErrInvalidState = fmt.Errorf("send already in progress: %w", errdefs.ErrFailedPrecondition)
	// ErrMessageTypeChanged: a text part was sent inside an open binary
	// message or the reverse.
	ErrMessageTypeChanged = fmt.Errorf("message type changed inside a fragmented message: %w", errdefs.ErrFailedPrecondition)
	// ErrStreamClosed: write on a closed stream.
	ErrStreamClosed = fmt.Errorf("stream is closed: %w", errdefs.ErrFailedPrecondition)
	// ErrInvalidUTF8: outbound text is not valid UTF-8.
	ErrInvalidUTF8 = fmt.Errorf("text is not valid UTF-8: %w", errdefs.ErrInvalidArgument)
	// ErrControlPayloadTooLarge: ping or pong payload over 125 bytes.
	ErrControlPayloadTooLarge = fmt.Errorf("control frame payload exceeds 125 bytes: %w", errdefs.ErrInvalidArgument)
	// ErrSendTimeout: a blocking send or transport write ran out of time.
	ErrSendTimeout = fmt.Errorf("send timed out: %w", context.DeadlineExceeded)
	// ErrNotSupported: the platform lacks the requested facility.
	ErrNotSupported = fmt.Errorf("operation not supported: %w", errdefs.ErrNotImplemented)
)
