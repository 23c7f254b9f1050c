// File: session/readloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Read drivers. The frame reader is the same for both; Serve drives it
// from a blocking read loop and Start from read completions.

package session

import (
	"context"
	"sync/atomic"

	"github.com/momentics/wsengine/internal/fsm"
)

type drainResult int

const (
	drainReadMore drainResult = iota
	drainSuspended
	drainStopped
)

// drain processes buffered input and reports what the driver does next.
func (s *Session) drain() drainResult {
	for {
		switch st := s.readState.Load(); st {
		case fsm.Waiting:
			if !s.readState.CompareAndSwap(fsm.Waiting, fsm.Processing) {
				continue
			}
			return s.processInput()
		case fsm.SuspendingWait:
			if !s.readState.CompareAndSwap(fsm.SuspendingWait, fsm.Suspended) {
				continue
			}
			return drainSuspended
		case fsm.Closing:
			s.releaseReader()
			return drainStopped
		default:
			s.log.WithField("state", st.String()).Error("reader entered in an unexpected state")
			return drainStopped
		}
	}
}

// processInput runs with the read state owned by the driver (Processing).
func (s *Session) processInput() drainResult {
	for {
		stop, err := s.reader.process()
		if err != nil {
			s.fail(err)
			s.releaseReader()
			return drainStopped
		}
		if stop == stopClosed {
			s.readState.Close()
			s.releaseReader()
			return drainStopped
		}
	settle:
		for {
			switch s.readState.Load() {
			case fsm.Processing:
				if stop == stopSuspended {
					// resumed before we noticed; keep going
					break settle
				}
				if s.readState.CompareAndSwap(fsm.Processing, fsm.Waiting) {
					return drainReadMore
				}
			case fsm.SuspendingProcess:
				if s.readState.CompareAndSwap(fsm.SuspendingProcess, fsm.Suspended) {
					return drainSuspended
				}
			case fsm.Closing:
				s.releaseReader()
				return drainStopped
			}
		}
	}
}

// Serve reads and processes frames until the session ends. It returns
// nil after a completed close handshake and the error that ended the
// session otherwise. Cancelling ctx aborts the session.
func (s *Session) Serve(ctx context.Context) error {
	if s.conn == nil {
		return errWrongDriver
	}
	if !s.started.CompareAndSwap(false, true) {
		return errStarted
	}
	stop := context.AfterFunc(ctx, func() { s.abort("context done", context.Cause(ctx)) })
	defer stop()
	defer s.reader.releaseInput()

	s.open()
	for {
		switch s.drain() {
		case drainStopped:
			<-s.done
			return s.Err()
		case drainSuspended:
			select {
			case <-s.resume:
				continue
			case <-s.done:
				return s.Err()
			}
		}
		in, err := s.reader.readBuffer()
		if err != nil {
			s.fail(err)
			continue
		}
		n, err := s.conn.Read(in)
		s.reader.received(n)
		if err != nil {
			s.drain()
			s.readFailed(err)
			<-s.done
			return s.Err()
		}
	}
}

// Start opens the session and issues the first read on the channel.
func (s *Session) Start() error {
	if s.ch == nil {
		return errWrongDriver
	}
	if !s.started.CompareAndSwap(false, true) {
		return errStarted
	}
	s.open()
	s.readLoop()
	return nil
}

// readLoop issues reads until one stays pending, the reader is suspended
// or the session stops.
func (s *Session) readLoop() {
	for {
		in, err := s.reader.readBuffer()
		if err != nil {
			s.fail(err)
			return
		}
		var (
			phase atomic.Int32
			n     int
			rerr  error
		)
		s.ch.Read(in, func(nn int, err error) {
			n, rerr = nn, err
			if phase.CompareAndSwap(opRunning, opInline) {
				return
			}
			if s.received(nn, err) {
				s.readLoop()
			}
		})
		if phase.CompareAndSwap(opRunning, opPending) {
			return
		}
		if !s.received(n, rerr) {
			return
		}
	}
}

// received handles a completed channel read and reports whether another
// read should be issued.
func (s *Session) received(n int, err error) bool {
	s.reader.received(n)
	res := s.drain()
	if err != nil {
		s.readFailed(err)
		s.reader.releaseInput()
		return false
	}
	if res == drainStopped {
		s.reader.releaseInput()
	}
	return res == drainReadMore
}

func (s *Session) resumeProcessing() {
	if s.ch == nil {
		select {
		case s.resume <- struct{}{}:
		default:
		}
		return
	}
	if s.received(0, nil) {
		s.readLoop()
	}
}
