// File: session/bufwrite.go
// Author: momentics <momentics@gmail.com>

package session

import (
	"sync/atomic"
	"time"

	"github.com/momentics/wsengine/protocol"
)

// bufferedWrite copies a frame into the output buffer, masking on the way
// when required, and writes the buffer out each time it fills. The mask
// index carries across buffer flushes. Completions that arrive inline are
// handled by looping in run rather than by nesting callbacks.
type bufferedWrite struct {
	w        *writer
	header   []byte
	payload  []byte
	masked   bool
	key      [4]byte
	maskIdx  int
	flush    bool
	deadline time.Time
	done     func(error)

	phase atomic.Int32
	err   error
}

func (b *bufferedWrite) run() {
	out := b.w.output
	for {
		switch {
		case len(b.header) > 0:
			if out.Available() < len(b.header) {
				if !b.write() {
					return
				}
				continue
			}
			out.Write(b.header)
			b.header = nil
		case len(b.payload) > 0:
			if out.Available() == 0 {
				if !b.write() {
					return
				}
				continue
			}
			n := min(out.Available(), len(b.payload))
			free := out.Free()[:n]
			copy(free, b.payload[:n])
			if b.masked {
				b.maskIdx = protocol.Mask(b.key, b.maskIdx, free)
			}
			out.Commit(n)
			b.payload = b.payload[n:]
		case b.flush && out.Len() > 0:
			b.flush = false
			if !b.write() {
				return
			}
		default:
			// batched output stays in the buffer for a later flush
			b.done(nil)
			return
		}
	}
}

// write hands the output buffer to the transport and reports whether run
// may carry on in the current call.
func (b *bufferedWrite) write() bool {
	b.phase.Store(opRunning)
	b.w.sink.write([][]byte{b.w.output.Bytes()}, b.deadline, b.written)
	if b.phase.CompareAndSwap(opRunning, opPending) {
		return false
	}
	if b.err != nil {
		b.done(b.err)
		return false
	}
	return true
}

func (b *bufferedWrite) written(err error) {
	b.err = err
	b.w.output.Reset()
	if b.phase.CompareAndSwap(opRunning, opInline) {
		return
	}
	if err != nil {
		b.done(err)
		return
	}
	b.run()
}
