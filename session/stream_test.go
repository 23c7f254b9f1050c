package session_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/control"
	"github.com/momentics/wsengine/protocol"
)

var smallOutput = config(func(c *control.Config) { c.OutputBufferSize = 16 })

func TestTextWriterKeepsCharactersWhole(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer, smallOutput)

	w, err := s.SendWriter(context.Background())
	assert.NilError(t, err)
	// the euro sign straddles the 16 byte buffer boundary
	_, err = io.WriteString(w, "abcdefghijklmn€xyz")
	assert.NilError(t, err)
	assert.NilError(t, w.Close())

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 2))
	assert.Check(t, is.Equal(fs[0].Opcode, protocol.OpcodeText))
	assert.Check(t, !fs[0].Fin)
	assert.Check(t, is.Equal(string(fs[0].Payload), "abcdefghijklmn"))
	assert.Check(t, is.Equal(fs[1].Opcode, protocol.OpcodeContinuation))
	assert.Check(t, fs[1].Fin)
	assert.Check(t, is.Equal(string(fs[1].Payload), "€xyz"))
}

func TestTextWriterByteAtATime(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer, smallOutput)
	msg := strings.Repeat("zß水🙂", 10)

	w, err := s.SendWriter(context.Background())
	assert.NilError(t, err)
	for i := 0; i < len(msg); i++ {
		_, err := w.Write([]byte{msg[i]})
		assert.NilError(t, err)
	}
	assert.NilError(t, w.Close())

	var got strings.Builder
	fs := frames(t, ch.Written())
	for i, f := range fs {
		assert.Check(t, is.Equal(f.Fin, i == len(fs)-1))
		got.Write(f.Payload)
	}
	assert.Check(t, is.Equal(got.String(), msg))
}

func TestBinaryStream(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer, smallOutput)
	ctx := context.Background()
	payload := []byte(strings.Repeat("0123456789", 4))

	w, err := s.SendStream(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.ErrorIs(s.SendText(ctx, "busy"), api.ErrInvalidState))
	n, err := w.Write(payload)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(n, len(payload)))
	assert.NilError(t, w.Close())
	assert.NilError(t, w.Close())

	_, err = w.Write([]byte("more"))
	assert.Check(t, is.ErrorIs(err, api.ErrStreamClosed))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 3))
	assert.Check(t, is.Equal(fs[0].Opcode, protocol.OpcodeBinary))
	assert.Check(t, is.Equal(fs[1].Opcode, protocol.OpcodeContinuation))
	assert.Check(t, is.Equal(fs[2].Opcode, protocol.OpcodeContinuation))
	assert.Check(t, fs[2].Fin)
	assert.Check(t, is.Len(fs[2].Payload, 8))

	assert.NilError(t, s.SendText(ctx, "free again"))
}

func TestEmptyStreamSendsFinalFrame(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)

	w, err := s.SendStream(context.Background())
	assert.NilError(t, err)
	assert.NilError(t, w.Close())

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 1))
	assert.Check(t, fs[0].Fin)
	assert.Check(t, is.Equal(fs[0].Opcode, protocol.OpcodeBinary))
	assert.Check(t, is.Len(fs[0].Payload, 0))
}

func TestTextWriterRejectsInvalidText(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer)
	ctx := context.Background()

	w, err := s.SendWriter(ctx)
	assert.NilError(t, err)
	_, err = w.Write([]byte{0xff, 0xfe})
	assert.NilError(t, err)
	assert.Check(t, is.ErrorIs(w.Close(), api.ErrInvalidUTF8))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 1))
	assert.Check(t, fs[0].Fin)
	assert.Check(t, is.Len(fs[0].Payload, 0))
	assert.NilError(t, s.SendText(ctx, "still usable"))
}

func TestStreamCloseFailureAfterFirstFrameEndsSession(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer, smallOutput)
	ctx, cancel := context.WithCancel(context.Background())

	w, err := s.SendStream(ctx)
	assert.NilError(t, err)
	_, err = w.Write([]byte(strings.Repeat("x", 20)))
	assert.NilError(t, err)
	cancel()
	assert.Check(t, is.ErrorIs(w.Close(), context.Canceled))

	waitDone(t, s)
	assert.Check(t, is.Equal(s.CloseReason().Code, protocol.CloseAbnormalClosure))
	assert.Check(t, is.ErrorIs(s.SendBinary(context.Background(), []byte("next")), api.ErrSessionClosed))

	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 1))
	assert.Check(t, is.Equal(fs[0].Opcode, protocol.OpcodeBinary))
	assert.Check(t, !fs[0].Fin)
}

func TestStreamCloseFailureBeforeFirstFrame(t *testing.T) {
	s, ch, _ := start(t, api.RoleServer, smallOutput)
	ctx, cancel := context.WithCancel(context.Background())

	w, err := s.SendStream(ctx)
	assert.NilError(t, err)
	_, err = w.Write([]byte("abc"))
	assert.NilError(t, err)
	cancel()
	assert.Check(t, is.ErrorIs(w.Close(), context.Canceled))
	assert.Check(t, is.Equal(s.Status(), api.SessionActive))

	assert.NilError(t, s.SendBinary(context.Background(), []byte("next")))
	fs := frames(t, ch.Written())
	assert.Assert(t, is.Len(fs, 1))
	assert.Check(t, is.Equal(fs[0].Opcode, protocol.OpcodeBinary))
	assert.Check(t, fs[0].Fin)
	assert.Check(t, is.Equal(string(fs[0].Payload), "next"))
}
