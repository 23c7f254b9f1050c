// File: session/endpoint.go
// Author: momentics <momentics@gmail.com>
//
// Endpoint lifecycle hooks and message handler registration.

package session

import (
	"github.com/momentics/wsengine/protocol"
)

// Endpoint receives session lifecycle events. OnClose is called exactly
// once; OnError, when the session fails, is called just before it.
type Endpoint interface {
	OnOpen(s *Session)
	OnClose(s *Session, reason protocol.CloseReason)
	OnError(s *Session, err error)
}

// EndpointFuncs adapts plain functions to Endpoint. Nil fields are skipped.
type EndpointFuncs struct {
	Open  func(s *Session)
	Close func(s *Session, reason protocol.CloseReason)
	Error func(s *Session, err error)
}

func (f EndpointFuncs) OnOpen(s *Session) {
	if f.Open != nil {
		f.Open(s)
	}
}

func (f EndpointFuncs) OnClose(s *Session, reason protocol.CloseReason) {
	if f.Close != nil {
		f.Close(s, reason)
	}
}

func (f EndpointFuncs) OnError(s *Session, err error) {
	if f.Error != nil {
		f.Error(s, err)
	}
}

// handlers is an immutable snapshot; registration swaps in a new copy.
type handlers struct {
	text          func(string)
	partialText   func(text string, last bool)
	binary        func([]byte)
	partialBinary func(data []byte, last bool)
	pong          func([]byte)
}

func (h *handlers) hasText() bool   { return h.text != nil || h.partialText != nil }
func (h *handlers) hasBinary() bool { return h.binary != nil || h.partialBinary != nil }

func (s *Session) updateHandlers(fn func(h *handlers)) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	next := *s.handlers.Load()
	fn(&next)
	s.handlers.Store(&next)
}

// OnText registers a handler for whole text messages. It replaces any
// partial text handler.
func (s *Session) OnText(fn func(text string)) {
	s.updateHandlers(func(h *handlers) { h.text, h.partialText = fn, nil })
}

// OnPartialText registers a handler that receives text as it is decoded.
// last is true for the final piece of a message.
func (s *Session) OnPartialText(fn func(text string, last bool)) {
	s.updateHandlers(func(h *handlers) { h.text, h.partialText = nil, fn })
}

// OnBinary registers a handler for whole binary messages. The slice is only
// valid during the call.
func (s *Session) OnBinary(fn func(data []byte)) {
	s.updateHandlers(func(h *handlers) { h.binary, h.partialBinary = fn, nil })
}

// OnPartialBinary registers a handler for binary messages delivered in
// buffer-sized chunks. The slice is only valid during the call.
func (s *Session) OnPartialBinary(fn func(data []byte, last bool)) {
	s.updateHandlers(func(h *handlers) { h.binary, h.partialBinary = nil, fn })
}

// OnPong registers a handler for pong frames. It receives its own copy of
// the payload.
func (s *Session) OnPong(fn func(payload []byte)) {
	s.updateHandlers(func(h *handlers) { h.pong = fn })
}
