// Package session
// Author: momentics <momentics@gmail.com>
//
// WebSocket session engine for an already upgraded connection.
//
// A Session reads frames, validates them, answers pings, reassembles
// fragmented messages and hands them to the registered handlers. It sends
// messages through a single ordered pipeline that lets control frames
// interleave with a fragmented message, and runs the close handshake.
//
// Two drivers share the same protocol logic:
//   - New + Serve: a blocking read loop over an io.ReadWriteCloser
//   - NewAsync + Start: read and write completions of an api.AsyncChannel
//
// Negotiated extensions such as permessage-deflate are installed with
// WithExtensions.
package session
