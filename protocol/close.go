// File: protocol/close.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Close codes, close reasons and the close frame body codec.

package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// CloseCode is a RFC 6455 section 7.4 status code.
type CloseCode uint16

const (
	CloseNormalClosure      CloseCode = 1000
	CloseGoingAway          CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	CloseUnsupportedData    CloseCode = 1003
	CloseNoStatusRcvd       CloseCode = 1005
	CloseAbnormalClosure    CloseCode = 1006
	CloseInvalidPayloadData CloseCode = 1007
	ClosePolicyViolation    CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseMissingExtension   CloseCode = 1010
	CloseInternalServerErr  CloseCode = 1011
	CloseTLSHandshake       CloseCode = 1015
)

// MaxCloseReasonLen is the room left for reason text in a control frame.
const MaxCloseReasonLen = MaxControlPayloadLen - 2

var closeCodeNames = map[CloseCode]string{
	CloseNormalClosure:      "normal closure",
	CloseGoingAway:          "going away",
	CloseProtocolError:      "protocol error",
	CloseUnsupportedData:    "unsupported data",
	CloseNoStatusRcvd:       "no status received",
	CloseAbnormalClosure:    "abnormal closure",
	CloseInvalidPayloadData: "invalid payload data",
	ClosePolicyViolation:    "policy violation",
	CloseMessageTooBig:      "message too big",
	CloseMissingExtension:   "missing extension",
	CloseInternalServerErr:  "internal error",
	CloseTLSHandshake:       "TLS handshake failure",
}

func (c CloseCode) String() string {
	if name, ok := closeCodeNames[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}

// ValidOnWire reports whether a peer may legally send the code in a close
// frame. 1005, 1006 and 1015 are reserved for local reporting.
func (c CloseCode) ValidOnWire() bool {
	switch {
	case c < 1000:
		return false
	case c <= 1003:
		return true
	case c >= 1007 && c <= 1011:
		return true
	case c >= 3000 && c <= 4999:
		return true
	}
	return false
}

// CloseReason is the code and text of a close frame.
type CloseReason struct {
	Code   CloseCode
	Reason string
}

func (r CloseReason) String() string {
	if r.Reason == "" {
		return fmt.Sprintf("%d (%s)", uint16(r.Code), r.Code)
	}
	return fmt.Sprintf("%d (%s): %s", uint16(r.Code), r.Code, r.Reason)
}

// AppendClosePayload appends the close frame body for r to dst. A
// CloseNoStatusRcvd reason produces an empty body; the reason text is
// truncated on a rune boundary so the body fits a control frame.
func AppendClosePayload(dst []byte, r CloseReason) []byte {
	if r.Code == CloseNoStatusRcvd || r.Code == 0 {
		return dst
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(r.Code))
	return append(dst, TruncateReason(r.Reason)...)
}

// TruncateReason shortens s to at most MaxCloseReasonLen bytes without
// splitting a UTF-8 sequence.
func TruncateReason(s string) string {
	if len(s) <= MaxCloseReasonLen {
		return s
	}
	cut := MaxCloseReasonLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ParseClosePayload decodes a received close frame body. An empty body
// yields CloseNoStatusRcvd. A one byte body, an illegal code or a reason
// that is not valid UTF-8 are protocol errors.
func ParseClosePayload(b []byte) (CloseReason, error) {
	switch len(b) {
	case 0:
		return CloseReason{Code: CloseNoStatusRcvd}, nil
	case 1:
		return CloseReason{}, NewCloseError(CloseProtocolError, "close frame with a one byte payload")
	}
	code := CloseCode(binary.BigEndian.Uint16(b))
	if !code.ValidOnWire() {
		return CloseReason{}, NewCloseError(CloseProtocolError, fmt.Sprintf("invalid close code %d", uint16(code)))
	}
	if !utf8.Valid(b[2:]) {
		return CloseReason{}, NewCloseError(CloseProtocolError, "close reason is not valid UTF-8")
	}
	return CloseReason{Code: code, Reason: string(b[2:])}, nil
}
