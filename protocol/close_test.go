package protocol_test

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/wsengine/protocol"
)

func TestParseClosePayload(t *testing.T) {
	r, err := protocol.ParseClosePayload(nil)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(r.Code, protocol.CloseNoStatusRcvd))

	r, err = protocol.ParseClosePayload([]byte{0x03, 0xE8, 'b', 'y', 'e'})
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(r, protocol.CloseReason{Code: protocol.CloseNormalClosure, Reason: "bye"}))
}

func TestParseClosePayloadRejects(t *testing.T) {
	for name, body := range map[string][]byte{
		"one byte":     {0x03},
		"invalid utf8": {0x03, 0xE8, 0xC3},
		"reserved":     {0x03, 0xED}, // 1005
		"below 1000":   {0x00, 0x10},
	} {
		_, err := protocol.ParseClosePayload(body)
		var ce *protocol.CloseError
		assert.Assert(t, errors.As(err, &ce), name)
		assert.Check(t, is.Equal(ce.Reason.Code, protocol.CloseProtocolError), name)
	}
}

func TestAppendClosePayloadTruncatesOnRuneBoundary(t *testing.T) {
	reason := strings.Repeat("é", 100)
	b := protocol.AppendClosePayload(nil, protocol.CloseReason{Code: protocol.CloseGoingAway, Reason: reason})
	assert.Check(t, len(b) <= protocol.MaxControlPayloadLen)
	assert.Check(t, utf8.Valid(b[2:]))

	r, err := protocol.ParseClosePayload(b)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(r.Code, protocol.CloseGoingAway))
	assert.Check(t, strings.HasPrefix(reason, r.Reason))
}

func TestAppendClosePayloadNoStatus(t *testing.T) {
	b := protocol.AppendClosePayload(nil, protocol.CloseReason{Code: protocol.CloseNoStatusRcvd})
	assert.Check(t, is.Len(b, 0))
}

func TestCloseReasonOf(t *testing.T) {
	ce := protocol.NewCloseError(protocol.CloseMessageTooBig, "too big")
	assert.Check(t, is.Equal(protocol.CloseReasonOf(ce).Code, protocol.CloseMessageTooBig))
	assert.Check(t, is.Equal(protocol.CloseReasonOf(errors.New("eof")).Code, protocol.CloseAbnormalClosure))
}
