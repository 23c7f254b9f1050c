// File: protocol/errors.go
// Author: momentics <momentics@gmail.com>

package protocol

import (
	"errors"
	"fmt"
)

// CloseError is a fatal connection condition together with the close
// reason sent to the peer and reported to the endpoint.
type CloseError struct {
	Reason CloseReason
	Err    error
}

// NewCloseError builds a CloseError whose reason text is msg.
func NewCloseError(code CloseCode, msg string) *CloseError {
	return &CloseError{Reason: CloseReason{Code: code, Reason: TruncateReason(msg)}, Err: errors.New(msg)}
}

// WrapCloseError attaches a close code to an underlying error.
func WrapCloseError(code CloseCode, err error) *CloseError {
	return &CloseError{Reason: CloseReason{Code: code, Reason: TruncateReason(err.Error())}, Err: err}
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket: %s: %v", e.Reason.Code, e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }

// CloseReasonOf extracts the close reason carried by err, falling back to
// an abnormal closure for plain I/O failures.
func CloseReasonOf(err error) CloseReason {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return CloseReason{Code: CloseAbnormalClosure, Reason: TruncateReason(err.Error())}
}
