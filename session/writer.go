// File: session/writer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound pipeline. Every frame goes through writeMessagePart while its
// writer holds the single in-progress permit. Parts that arrive while the
// permit is taken wait in a FIFO queue and are dispatched, in order, as
// each write completes. Blocking senders wait for the permit itself, so
// anything queued by an asynchronous sender (a pong reply or a close echo)
// goes out ahead of them.

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sync/semaphore"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/internal/fsm"
	"github.com/momentics/wsengine/pool"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/transform"
)

// opFlush is an internal opcode that pushes batched output to the
// transport. It never reaches the wire.
const opFlush protocol.Opcode = 0xFF

// Completion phases of an operation that may finish before the call that
// started it returns.
const (
	opRunning int32 = iota
	opInline
	opPending
)

type writer struct {
	s            *Session
	sink         sink
	chain        *transform.Chain
	chainMu      sync.Mutex
	mask         bool
	timeout      time.Duration
	asyncTimeout time.Duration

	mu      sync.Mutex
	queue   *queue.Queue
	sem     *semaphore.Weighted
	aborted bool

	// closed is set once a close frame has been handed to writeMessagePart.
	closed   atomic.Bool
	batching atomic.Bool

	// Owned by the permit holder.
	state  fsm.MessageState
	output *pool.Buffer
	header []byte

	ctx    context.Context
	cancel context.CancelFunc
}

func newWriter(s *Session, chain *transform.Chain, mask bool) *writer {
	w := &writer{
		s:            s,
		chain:        chain,
		mask:         mask,
		timeout:      time.Duration(s.cfg.BlockingSendTimeout),
		asyncTimeout: time.Duration(s.cfg.AsyncSendTimeout),
		queue:        queue.New(),
		sem:          semaphore.NewWeighted(1),
		output:       pool.NewBuffer(int(s.cfg.OutputBufferSize)),
		header:       make([]byte, 0, protocol.MaxFrameHeaderLen),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.batching.Store(s.cfg.BatchingAllowed)
	return w
}

func (w *writer) transform(parts []transform.MessagePart) ([]transform.MessagePart, error) {
	w.chainMu.Lock()
	defer w.chainMu.Unlock()
	return w.chain.SendMessagePart(parts)
}

// sendAsync sends parts without blocking. done runs once the last part
// has been written or the send has failed.
func (w *writer) sendAsync(parts []transform.MessagePart, done func(error)) {
	var deadline time.Time
	if w.asyncTimeout > 0 {
		deadline = time.Now().Add(w.asyncTimeout)
		done = w.expireAsync(done)
	}
	parts[len(parts)-1].Done = done
	parts, err := w.transform(parts)
	if err != nil {
		done(err)
		return
	}
	if len(parts) == 0 {
		done(nil)
		return
	}
	for i := range parts {
		parts[i].Deadline = deadline
	}
	w.mu.Lock()
	if w.aborted {
		w.mu.Unlock()
		done(api.ErrSessionClosed)
		return
	}
	acquired := w.sem.TryAcquire(1)
	queued := parts
	if acquired {
		queued = parts[1:]
	}
	for _, p := range queued {
		w.queue.Add(p)
	}
	w.mu.Unlock()
	if acquired {
		w.dispatch(parts[0])
	}
}

// expireAsync fails the session when done has not run by the async send
// timeout, since a write still in progress may be half done. done then
// reports api.ErrSendTimeout.
func (w *writer) expireAsync(done func(error)) func(error) {
	var settled atomic.Bool
	timer := time.AfterFunc(w.asyncTimeout, func() {
		if settled.CompareAndSwap(false, true) {
			w.s.abort("send timed out", api.ErrSendTimeout)
		}
	})
	return func(err error) {
		if !settled.CompareAndSwap(false, true) && err != nil {
			err = api.ErrSendTimeout
		}
		timer.Stop()
		done(err)
	}
}

// sendBlock sends parts and waits for them to be written. The wait is
// bounded by ctx and the configured blocking send timeout; running out of
// time fails the connection since a frame may be half written.
func (w *writer) sendBlock(ctx context.Context, parts []transform.MessagePart) error {
	parts, err := w.transform(parts)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return nil
	}
	deadline, ok := ctx.Deadline()
	if w.timeout > 0 {
		if d := time.Now().Add(w.timeout); !ok || d.Before(deadline) {
			deadline = d
		}
	}
	var cancel context.CancelFunc
	if deadline.IsZero() {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	w.mu.Lock()
	aborted := w.aborted
	w.mu.Unlock()
	if aborted {
		return api.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return w.blockFailed(err, false)
	}
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return w.blockFailed(err, false)
	}
	for _, p := range parts {
		p.Deadline = deadline
		res := make(chan error, 1)
		w.writeMessagePart(p, func(err error) { res <- err })
		select {
		case err = <-res:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			return w.blockFailed(err, true)
		}
	}
	w.endMessage()
	return nil
}

func (w *writer) blockFailed(err error, writing bool) error {
	if w.ctx.Err() != nil {
		// the session ended while we waited; a timeout that ended it is
		// still reported as such
		if errors.Is(w.s.Err(), api.ErrSendTimeout) {
			return api.ErrSendTimeout
		}
		return api.ErrSessionClosed
	}
	switch {
	case errors.Is(err, api.ErrSessionClosed), errors.Is(err, api.ErrMessageTypeChanged):
		if writing {
			w.endMessage()
		}
		return err
	case errors.Is(err, context.DeadlineExceeded):
		w.s.abort("send timed out", api.ErrSendTimeout)
		return api.ErrSendTimeout
	case errors.Is(err, context.Canceled) && !writing && len(w.chain.Extensions()) == 0:
		return err
	}
	// extensions have already transformed parts the peer will never see
	w.s.abort("write failed", err)
	return err
}

// endMessage hands the permit to the next queued part or releases it.
func (w *writer) endMessage() {
	if next, ok := w.next(); ok {
		w.dispatch(next)
	}
}

func (w *writer) next() (transform.MessagePart, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.queue.Length() > 0 {
		return w.queue.Remove().(transform.MessagePart), true
	}
	w.sem.Release(1)
	return transform.MessagePart{}, false
}

// dispatch writes p and every part queued behind it. Writes that complete
// inline are looped over here instead of recursing through callbacks.
func (w *writer) dispatch(p transform.MessagePart) {
	for {
		var (
			phase atomic.Int32
			res   error
		)
		w.writeMessagePart(p, func(err error) {
			res = err
			if phase.CompareAndSwap(opRunning, opInline) {
				return
			}
			w.partDone(p, err)
		})
		if phase.CompareAndSwap(opRunning, opPending) {
			return
		}
		w.writeFailed(res)
		next, ok := w.next()
		if p.Done != nil {
			p.Done(res)
		}
		if !ok {
			return
		}
		p = next
	}
}

func (w *writer) partDone(p transform.MessagePart, err error) {
	w.writeFailed(err)
	next, ok := w.next()
	if p.Done != nil {
		p.Done(err)
	}
	if ok {
		w.dispatch(next)
	}
}

// writeFailed ends the session after an asynchronous write error. Refused
// parts leave the connection usable.
func (w *writer) writeFailed(err error) {
	switch {
	case err == nil, errors.Is(err, api.ErrSessionClosed), errors.Is(err, api.ErrMessageTypeChanged):
	case errors.Is(err, api.ErrSendTimeout):
		w.s.abort("send timed out", err)
	default:
		w.s.abort("write failed", err)
	}
}

// writeMessagePart encodes one frame. The caller holds the permit. The
// message state is committed only when the write succeeds.
func (w *writer) writeMessagePart(p transform.MessagePart, done func(error)) {
	if w.closed.Load() {
		done(api.ErrSessionClosed)
		return
	}
	if p.Opcode == opFlush {
		w.state.Hold()
		if w.output.Len() == 0 {
			done(nil)
			return
		}
		bw := &bufferedWrite{w: w, flush: true, deadline: p.Deadline, done: done}
		bw.run()
		return
	}

	first, err := w.state.Start(p.Opcode, p.Fin)
	if err != nil {
		done(err)
		return
	}
	op := p.Opcode
	if !first {
		op = protocol.OpcodeContinuation
	}
	h := protocol.Header{Fin: p.Fin, Rsv: p.Rsv, Opcode: op, Masked: w.mask, Length: int64(len(p.Payload))}
	if w.mask {
		h.Mask = protocol.NewMaskKey()
	}
	w.header = protocol.AppendHeader(w.header[:0], h)
	if p.Opcode == protocol.OpcodeClose {
		w.closed.Store(true)
		w.batching.Store(false)
	}
	w.s.metrics.FrameSent(op.String())
	w.s.metrics.Sent(len(w.header) + len(p.Payload))
	w.s.touch()

	complete := func(err error) {
		if err == nil {
			w.state.Commit()
		}
		done(err)
	}
	batching := w.batching.Load()
	if batching || w.mask || w.output.Len() > 0 {
		bw := &bufferedWrite{
			w:        w,
			header:   w.header,
			payload:  p.Payload,
			masked:   w.mask,
			key:      h.Mask,
			flush:    !batching,
			deadline: p.Deadline,
			done:     complete,
		}
		bw.run()
		return
	}
	w.sink.write([][]byte{w.header, p.Payload}, p.Deadline, complete)
}

// abort stops the writer for good and fails every queued part.
func (w *writer) abort() {
	w.mu.Lock()
	w.aborted = true
	w.closed.Store(true)
	var failed []transform.MessagePart
	for w.queue.Length() > 0 {
		failed = append(failed, w.queue.Remove().(transform.MessagePart))
	}
	w.mu.Unlock()
	w.cancel()
	for _, p := range failed {
		if p.Done != nil {
			p.Done(api.ErrSessionClosed)
		}
	}
}
