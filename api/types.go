// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// SessionStatus enumerates the state of a WebSocket session.
type SessionStatus int32

const (
	// SessionActive: open in both directions.
	SessionActive SessionStatus = iota
	// SessionClosing: our close frame is sent or being sent, the peer's
	// has not arrived.
	SessionClosing
	// SessionClosed: handshake complete or connection aborted.
	SessionClosed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role selects which side of the connection a session plays. Servers read
// masked frames and write unmasked ones; clients do the opposite.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}
