package session_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/control"
	"github.com/momentics/wsengine/fake"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/session"
)

func TestServerFramesAreNotMasked(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)
	ctx := context.Background()

	assert.NilError(t, s.SendText(ctx, "hello"))
	assert.NilError(t, s.SendBinary(ctx, []byte{1, 2, 3}))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 2))
	assert.Check(t, is.Equal(fs[0].Opcode, protocol.OpcodeText))
	assert.Check(t, is.Equal(string(fs[0].Payload), "hello"))
	assert.Check(t, is.Equal(fs[1].Opcode, protocol.OpcodeBinary))
	assert.Check(t, is.DeepEqual(fs[1].Payload, []byte{1, 2, 3}))
	for _, f := range fs {
		assert.Check(t, f.Fin)
		assert.Check(t, !f.Masked)
	}
}

func TestClientMaskingSurvivesOutputFlushes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		out := rapid.IntRange(16, 64).Draw(t, "output buffer")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 300).Draw(t, "payload")

		ch := fake.NewChannel()
		s, err := session.NewAsync(ch, api.RoleClient, nil,
			config(func(c *control.Config) { c.OutputBufferSize = control.ByteSize(out) }))
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SendBinary(context.Background(), payload); err != nil {
			t.Fatal(err)
		}
		fs, err := fake.Frames(ch.Written())
		if err != nil {
			t.Fatal(err)
		}
		if len(fs) != 1 || !fs[0].Masked || !fs[0].Fin {
			t.Fatalf("unexpected frames %+v", fs)
		}
		if !bytes.Equal(fs[0].Payload, payload) {
			t.Fatalf("payload mismatch with a %d byte output buffer", out)
		}
	})
}

func TestClientMasksWithFreshKeys(t *testing.T) {
	s, ch, _ := start(t, api.RoleClient)
	ctx := context.Background()
	for range 4 {
		assert.NilError(t, s.SendText(ctx, "same text"))
	}

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 4))
	keys := map[[4]byte]bool{}
	for _, f := range fs {
		assert.Check(t, f.Masked)
		assert.Check(t, is.Equal(string(f.Payload), "same text"))
		keys[f.Mask] = true
	}
	assert.Check(t, len(keys) > 1, "mask keys were reused")
}

func TestOnlyOneDataSendInFlight(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)
	ctx := context.Background()

	ch.HoldWrites()
	first := make(chan error, 1)
	s.SendTextAsync("one", func(err error) { first <- err })
	assert.Assert(t, ch.WritePending())

	assert.Check(t, is.ErrorIs(s.SendBinary(ctx, []byte("two")), api.ErrInvalidState))
	assert.Check(t, is.ErrorIs(s.SendText(ctx, "two"), api.ErrInvalidState))
	_, err := s.SendStream(ctx)
	assert.Check(t, is.ErrorIs(err, api.ErrInvalidState))
	refused := make(chan error, 1)
	s.SendBinaryAsync([]byte("two"), func(err error) { refused <- err })
	assert.Check(t, is.ErrorIs(recv(t, refused), api.ErrInvalidState))

	// control frames are not limited; the ping waits for the text frame
	ping := make(chan error, 1)
	go func() { ping <- s.SendPing(ctx, []byte("p")) }()

	assert.Check(t, ch.CompleteWrite(nil))
	assert.NilError(t, recv(t, first))
	assert.NilError(t, recv(t, ping))

	done := make(chan error, 1)
	s.SendBinaryAsync([]byte("three"), func(err error) { done <- err })
	assert.NilError(t, recv(t, done))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 3))
	assert.Check(t, is.Equal(string(fs[0].Payload), "one"))
	assert.Check(t, is.Equal(fs[1].Opcode, protocol.OpcodePing))
	assert.Check(t, is.Equal(string(fs[2].Payload), "three"))
}

func TestPartialSends(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)
	ctx := context.Background()

	assert.NilError(t, s.SendPartialText(ctx, "hel", false))
	assert.Check(t, is.ErrorIs(s.SendPartialBinary(ctx, []byte("x"), true), api.ErrInvalidState))
	assert.NilError(t, s.SendPartialText(ctx, "lo", true))
	assert.NilError(t, s.SendPartialBinary(ctx, []byte{1}, false))
	assert.NilError(t, s.SendPartialBinary(ctx, []byte{2}, true))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 4))
	want := []struct {
		op  protocol.Opcode
		fin bool
	}{
		{protocol.OpcodeText, false},
		{protocol.OpcodeContinuation, true},
		{protocol.OpcodeBinary, false},
		{protocol.OpcodeContinuation, true},
	}
	for i, w := range want {
		assert.Check(t, is.Equal(fs[i].Opcode, w.op), "frame %d", i)
		assert.Check(t, is.Equal(fs[i].Fin, w.fin), "frame %d", i)
	}
}

func TestSendRejectsBadInput(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)
	ctx := context.Background()

	assert.Check(t, is.ErrorIs(s.SendText(ctx, "bad \xff"), api.ErrInvalidUTF8))
	assert.Check(t, is.ErrorIs(s.SendPartialText(ctx, "\xe2\x82", false), api.ErrInvalidUTF8))
	assert.Check(t, is.ErrorIs(s.SendPing(ctx, make([]byte, 126)), api.ErrControlPayloadTooLarge))
	assert.NilError(t, s.SendPong(ctx, make([]byte, 125)))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 1))
	assert.Check(t, is.Equal(fs[0].Opcode, protocol.OpcodePong))
}

func TestBatching(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer, config(func(c *control.Config) { c.BatchingAllowed = true }))
	ctx := context.Background()
	assert.Assert(t, s.Batching())

	assert.NilError(t, s.SendText(ctx, "a"))
	assert.NilError(t, s.SendBinary(ctx, []byte("b")))
	assert.Check(t, is.Len(ch.Written(), 0))

	assert.NilError(t, s.Flush(ctx))
	assert.Check(t, is.Len(frames(t, ch.Written()), 2))

	assert.NilError(t, s.SendText(ctx, "c"))
	assert.NilError(t, s.SetBatching(ctx, false))
	assert.Check(t, !s.Batching())
	assert.Check(t, is.Len(frames(t, ch.Written()), 3))

	assert.NilError(t, s.SendText(ctx, "d"))
	assert.Check(t, is.Len(frames(t, ch.Written()), 4))
}

func TestCloseFlushesBatchedFrames(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer, config(func(c *control.Config) { c.BatchingAllowed = true }))
	ctx := context.Background()

	assert.NilError(t, s.SendText(ctx, "pending"))
	assert.Check(t, is.Len(ch.Written(), 0))
	assert.NilError(t, s.Close(ctx, protocol.CloseReason{Code: protocol.CloseGoingAway}))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 2))
	assert.Check(t, is.Equal(string(fs[0].Payload), "pending"))
	assert.Check(t, is.Equal(closeFrame(t, fs[1]).Code, protocol.CloseGoingAway))
}

func TestBlockingSendTimeout(t *testing.T) {
	srv := serve(t, api.RoleServer, config(func(c *control.Config) {
		c.BlockingSendTimeout = control.Duration(50 * time.Millisecond)
	}))
	srv.conn.HoldWrites()

	err := srv.s.SendText(context.Background(), "stuck")
	assert.Check(t, is.ErrorIs(err, api.ErrSendTimeout))

	waitDone(t, srv.s)
	assert.Check(t, is.Equal(srv.s.CloseReason().Code, protocol.CloseAbnormalClosure))
	assert.Check(t, is.ErrorIs(srv.s.Err(), api.ErrSendTimeout))
	assert.Check(t, is.ErrorIs(srv.s.SendText(context.Background(), "late"), api.ErrSessionClosed))
}

func TestSendContextCancelledWhileWaiting(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)
	ch.HoldWrites()
	s.SendTextAsync("holds the pipeline", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.SendPing(ctx, nil)
	assert.Check(t, is.ErrorIs(err, context.Canceled))
	assert.Check(t, is.Equal(s.Status(), api.SessionActive))
	assert.Check(t, ch.CompleteWrite(nil))
}

func TestAsyncWriteErrorEndsSession(t *testing.T) {
	s, ch, ev := start(t, api.RoleServer)
	ch.HoldWrites()
	done := make(chan error, 1)
	s.SendTextAsync("lost", func(err error) { done <- err })

	broken := errors.New("connection reset")
	assert.Check(t, ch.CompleteWrite(broken))
	assert.Check(t, is.ErrorIs(recv(t, done), broken))

	waitDone(t, s)
	assert.Check(t, is.Equal(s.CloseReason().Code, protocol.CloseAbnormalClosure))
	assert.Check(t, is.ErrorIs(recv(t, ev.errs), broken))
}

func TestFailedLastFragmentKeepsMessageOpen(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)
	ctx := context.Background()
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	assert.NilError(t, s.SendPartialBinary(ctx, []byte("ab"), false))
	assert.Check(t, is.ErrorIs(s.SendPartialBinary(cancelled, []byte("cd"), true), context.Canceled))
	assert.Check(t, is.Equal(s.Status(), api.SessionActive))
	// the binary message is still open on the wire
	assert.Check(t, is.ErrorIs(s.SendBinary(ctx, []byte("new")), api.ErrInvalidState))

	assert.NilError(t, s.SendPartialBinary(ctx, []byte("cd"), true))
	assert.NilError(t, s.SendBinary(ctx, []byte("new")))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 3))
	want := []struct {
		op      protocol.Opcode
		fin     bool
		payload string
	}{
		{protocol.OpcodeBinary, false, "ab"},
		{protocol.OpcodeContinuation, true, "cd"},
		{protocol.OpcodeBinary, true, "new"},
	}
	for i, w := range want {
		assert.Check(t, is.Equal(fs[i].Opcode, w.op), "frame %d", i)
		assert.Check(t, is.Equal(fs[i].Fin, w.fin), "frame %d", i)
		assert.Check(t, is.Equal(string(fs[i].Payload), w.payload), "frame %d", i)
	}
}

func TestFailedFirstFragmentFreesSender(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)
	ctx := context.Background()
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	assert.Check(t, is.ErrorIs(s.SendPartialText(cancelled, "he", false), context.Canceled))
	assert.NilError(t, s.SendText(ctx, "whole"))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 1))
	assert.Check(t, is.Equal(fs[0].Opcode, protocol.OpcodeText))
	assert.Check(t, fs[0].Fin)
}

func TestAsyncSendTimeout(t *testing.T) {
	s, ch, ev := start(t, api.RoleServer, config(func(c *control.Config) {
		c.AsyncSendTimeout = control.Duration(50 * time.Millisecond)
	}))
	ch.HoldWrites()
	done := make(chan error, 1)
	s.SendTextAsync("stuck", func(err error) { done <- err })

	assert.Check(t, is.ErrorIs(recv(t, done), api.ErrSendTimeout))
	waitDone(t, s)
	assert.Check(t, is.Equal(s.CloseReason().Code, protocol.CloseAbnormalClosure))
	assert.Check(t, is.ErrorIs(s.Err(), api.ErrSendTimeout))
	assert.Check(t, is.ErrorIs(recv(t, ev.errs), api.ErrSendTimeout))
}

func TestAsyncSendWithinTimeout(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer, config(func(c *control.Config) {
		c.AsyncSendTimeout = control.Duration(50 * time.Millisecond)
	}))
	ch.HoldWrites()
	done := make(chan error, 1)
	s.SendBinaryAsync([]byte("slow"), func(err error) { done <- err })
	assert.Check(t, ch.CompleteWrite(nil))
	assert.NilError(t, recv(t, done))

	time.Sleep(100 * time.Millisecond)
	assert.Check(t, is.Equal(s.Status(), api.SessionActive))
	assert.NilError(t, s.SendText(context.Background(), "still open"))
}

func TestQueuedPongGoesBeforeBlockedPing(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)
	ch.HoldWrites()
	s.SendTextAsync("held", nil)

	ping := make(chan error, 1)
	go func() { ping <- s.SendPing(context.Background(), []byte("mine")) }()
	ch.Feed(fake.Ping([]byte("yours"), true))
	assert.Check(t, ch.CompleteWrite(nil))
	assert.NilError(t, recv(t, ping))

	fs := waitFrames(t, ch.Written, 3)
	assert.Assert(t, is.Len(fs, 3))
	assert.Check(t, is.Equal(string(fs[0].Payload), "held"))
	assert.Check(t, is.Equal(fs[1].Opcode, protocol.OpcodePong))
	assert.Check(t, is.Equal(string(fs[1].Payload), "yours"))
	assert.Check(t, is.Equal(fs[2].Opcode, protocol.OpcodePing))
	assert.Check(t, is.Equal(string(fs[2].Payload), "mine"))
}
