package transform_test

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/wsengine/pool"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/transform"
)

func TestUnmaskResults(t *testing.T) {
	key := [4]byte{0xA, 0xB, 0xC, 0xD}
	payload := []byte("hello, world")
	masked := append([]byte(nil), payload...)
	protocol.Mask(key, 0, masked)

	frame := &transform.Frame{Input: pool.NewBuffer(64), Length: int64(len(payload)), Mask: key}
	chain := transform.NewChain(frame, true)
	dst := pool.NewBuffer(5)

	// nothing buffered yet
	res, err := chain.MoreData(protocol.OpcodeText, true, 0, dst)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res, transform.Underflow))

	frame.Input.Write(masked[:7])
	res, err = chain.MoreData(protocol.OpcodeText, true, 0, dst)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res, transform.Overflow))
	got := append([]byte(nil), dst.Bytes()...)
	dst.Reset()

	res, err = chain.MoreData(protocol.OpcodeText, true, 0, dst)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res, transform.Underflow))
	got = append(got, dst.Bytes()...)
	dst.Reset()

	frame.Input.Write(masked[7:])
	frame.Input.Write([]byte{0x81}) // start of the next frame must not be consumed
	res, err = chain.MoreData(protocol.OpcodeText, true, 0, dst)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res, transform.EndOfFrame))
	got = append(got, dst.Bytes()...)

	assert.Check(t, is.DeepEqual(got, payload))
	assert.Check(t, is.Equal(frame.Input.Len(), 1))
}

func TestChainValidateRsv(t *testing.T) {
	frame := &transform.Frame{Input: pool.NewBuffer(16)}
	plain := transform.NewChain(frame, false)
	assert.Check(t, plain.ValidateRsv(0, protocol.OpcodeText))
	assert.Check(t, !plain.ValidateRsv(protocol.Rsv1, protocol.OpcodeText))

	d, err := transform.NewPerMessageDeflate(transform.DeflateParams{ServerContextTakeover: true, ClientContextTakeover: true}, 0)
	assert.NilError(t, err)
	defer d.Close()
	compressed := transform.NewChain(frame, false, d)
	assert.Check(t, compressed.ValidateRsv(protocol.Rsv1, protocol.OpcodeText))
	assert.Check(t, !compressed.ValidateRsv(protocol.Rsv1, protocol.OpcodeContinuation))
	assert.Check(t, !compressed.ValidateRsv(protocol.Rsv1, protocol.OpcodePing))
	assert.Check(t, !compressed.ValidateRsv(protocol.Rsv1|0x2, protocol.OpcodeBinary))
	assert.Check(t, is.Len(compressed.Extensions(), 1))
}
