// File: transform/inflater.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The flate reader pulls its input and treats a dry source as a permanent
// error, while frames arrive whenever the transport delivers them. inflater
// runs the reader on its own goroutine against a source that parks until
// input is supplied, and exposes a push interface: setInput adds compressed
// bytes, inflate drains whatever output is ready and returns 0 once the
// decompressor is waiting for more input.

package transform

import (
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

const inflateChunk = 4096

var errInflaterClosed = errors.New("inflater closed")

type inflater struct {
	mu       sync.Mutex
	cond     sync.Cond
	in       []byte
	out      []byte
	outBuf   []byte
	starved  bool
	finished bool
	closed   bool
	err      error
}

func newInflater() *inflater {
	i := &inflater{outBuf: make([]byte, inflateChunk)}
	i.cond.L = &i.mu
	go i.run()
	return i
}

func (i *inflater) run() {
	fr := flate.NewReader(&inflaterSource{i: i})
	defer fr.Close()
	buf := make([]byte, inflateChunk)
	for {
		n, err := fr.Read(buf)
		i.mu.Lock()
		if n > 0 {
			for len(i.out) > 0 && !i.closed {
				i.cond.Wait()
			}
			if i.closed {
				i.mu.Unlock()
				return
			}
			i.out = i.outBuf[:copy(i.outBuf, buf[:n])]
			i.cond.Broadcast()
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				i.finished = true
			case !i.closed:
				i.err = err
			}
			i.cond.Broadcast()
			i.mu.Unlock()
			return
		}
		i.mu.Unlock()
	}
}

// setInput queues compressed bytes. b is copied.
func (i *inflater) setInput(b []byte) {
	i.mu.Lock()
	i.in = append(i.in, b...)
	i.cond.Broadcast()
	i.mu.Unlock()
}

// inflate copies ready output into dst. It returns 0 when the decompressor
// has consumed all input and needs more, or has seen the final block.
func (i *inflater) inflate(dst []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for {
		if len(i.out) > 0 {
			n := copy(dst, i.out)
			i.out = i.out[n:]
			if len(i.out) == 0 {
				i.cond.Broadcast()
			}
			return n, nil
		}
		switch {
		case i.err != nil:
			return 0, i.err
		case i.finished:
			return 0, nil
		case i.starved && len(i.in) == 0:
			return 0, nil
		}
		i.cond.Wait()
	}
}

// done reports whether the stream carried a final deflate block, after
// which the decompressor cannot continue.
func (i *inflater) done() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.finished
}

func (i *inflater) close() {
	i.mu.Lock()
	i.closed = true
	i.cond.Broadcast()
	i.mu.Unlock()
}

// inflaterSource is only touched by the decompressor goroutine. It takes
// all queued input at once so ReadByte stays lock free.
type inflaterSource struct {
	i     *inflater
	chunk []byte
	off   int
}

func (s *inflaterSource) fill() error {
	i := s.i
	i.mu.Lock()
	defer i.mu.Unlock()
	for len(i.in) == 0 && !i.closed {
		i.starved = true
		i.cond.Broadcast()
		i.cond.Wait()
	}
	i.starved = false
	if i.closed {
		return errInflaterClosed
	}
	s.chunk = append(s.chunk[:0], i.in...)
	s.off = 0
	i.in = i.in[:0]
	return nil
}

func (s *inflaterSource) Read(p []byte) (int, error) {
	if s.off == len(s.chunk) {
		if err := s.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.chunk[s.off:])
	s.off += n
	return n, nil
}

func (s *inflaterSource) ReadByte() (byte, error) {
	if s.off == len(s.chunk) {
		if err := s.fill(); err != nil {
			return 0, err
		}
	}
	c := s.chunk[s.off]
	s.off++
	return c, nil
}
