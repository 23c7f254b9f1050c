// File: transform/deflate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// permessage-deflate (RFC 7692) negotiation and transformation stage.

package transform

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/klauspost/compress/flate"

	"github.com/momentics/wsengine/pool"
	"github.com/momentics/wsengine/protocol"
)

const (
	DeflateExtensionName = "permessage-deflate"

	serverNoContextTakeover = "server_no_context_takeover"
	clientNoContextTakeover = "client_no_context_takeover"
	serverMaxWindowBits     = "server_max_window_bits"
	clientMaxWindowBits     = "client_max_window_bits"

	maxWindowBits = 15
	minWindowBits = 8

	deflateReadBufferSize = 8192
	// DefaultDeflateFrameSize bounds the payload of one compressed frame.
	DefaultDeflateFrameSize = 8192
)

// eomBytes is the empty stored block a sync flush ends with. Senders strip
// it from every message and receivers put it back.
var eomBytes = []byte{0x00, 0x00, 0xFF, 0xFF}

// DeflateParams is an agreed permessage-deflate configuration. Window bits
// of 0 mean the parameter was not present.
type DeflateParams struct {
	Server                bool
	ServerContextTakeover bool
	ClientContextTakeover bool
	ServerMaxWindowBits   int
	ClientMaxWindowBits   int
}

// NegotiateDeflate returns the first preference set this side can honour.
// The compressor always runs with a 32KiB window, so this side's own
// max_window_bits must be 15; a smaller window requested for the peer is
// accepted because decompressing with the full window is always safe.
// Sets with unknown, duplicate or malformed parameters are skipped.
func NegotiateDeflate(preferences [][]Parameter, server bool) (DeflateParams, bool) {
	for _, pref := range preferences {
		if p, ok := deflatePreference(pref, server); ok {
			return p, true
		}
	}
	return DeflateParams{}, false
}

func deflatePreference(pref []Parameter, server bool) (DeflateParams, bool) {
	p := DeflateParams{Server: server, ServerContextTakeover: true, ClientContextTakeover: true}
	seen := make(map[string]bool, len(pref))
	for _, param := range pref {
		if seen[param.Name] {
			return p, false
		}
		seen[param.Name] = true
		switch param.Name {
		case serverNoContextTakeover:
			if param.Value != "" {
				return p, false
			}
			p.ServerContextTakeover = false
		case clientNoContextTakeover:
			if param.Value != "" {
				return p, false
			}
			p.ClientContextTakeover = false
		case serverMaxWindowBits:
			bits, ok := windowBits(param.Value)
			if !ok || (server && bits != maxWindowBits) {
				return p, false
			}
			p.ServerMaxWindowBits = bits
		case clientMaxWindowBits:
			bits := maxWindowBits
			if param.Value != "" {
				var ok bool
				if bits, ok = windowBits(param.Value); !ok {
					return p, false
				}
			}
			if !server && bits != maxWindowBits {
				return p, false
			}
			p.ClientMaxWindowBits = bits
		default:
			return p, false
		}
	}
	return p, true
}

func windowBits(v string) (int, bool) {
	bits, err := strconv.Atoi(v)
	if err != nil || bits < minWindowBits || bits > maxWindowBits {
		return 0, false
	}
	return bits, true
}

// NegotiateDeflateHeader parses a Sec-WebSocket-Extensions value and
// negotiates permessage-deflate from it.
func NegotiateDeflateHeader(header string, server bool) (DeflateParams, bool, error) {
	exts, err := ParseExtensions(header)
	if err != nil {
		return DeflateParams{}, false, err
	}
	p, ok := NegotiateDeflate(Preferences(exts, DeflateExtensionName), server)
	return p, ok, nil
}

// Extension renders the agreed parameters, e.g. for the handshake response.
func (p DeflateParams) Extension() Extension {
	ext := Extension{Name: DeflateExtensionName}
	if !p.ServerContextTakeover {
		ext.Params = append(ext.Params, Parameter{Name: serverNoContextTakeover})
	}
	if !p.ClientContextTakeover {
		ext.Params = append(ext.Params, Parameter{Name: clientNoContextTakeover})
	}
	if p.ServerMaxWindowBits != 0 {
		ext.Params = append(ext.Params, Parameter{Name: serverMaxWindowBits, Value: strconv.Itoa(p.ServerMaxWindowBits)})
	}
	if p.ClientMaxWindowBits != 0 {
		ext.Params = append(ext.Params, Parameter{Name: clientMaxWindowBits, Value: strconv.Itoa(p.ClientMaxWindowBits)})
	}
	return ext
}

// PerMessageDeflate is the transformation stage for one connection.
type PerMessageDeflate struct {
	params    DeflateParams
	frameSize int

	// inbound
	inf      *inflater
	readBuf  *pool.Buffer
	skip     bool
	eomFed   bool
	peerTake bool

	// outbound
	fw           *flate.Writer
	wbuf         bytes.Buffer
	ownTake      bool
	firstWritten bool
	emptyMessage bool
}

// NewPerMessageDeflate creates the stage for the agreed parameters.
// frameSize bounds compressed frame payloads; zero selects the default.
func NewPerMessageDeflate(p DeflateParams, frameSize int) (*PerMessageDeflate, error) {
	if frameSize <= 0 {
		frameSize = DefaultDeflateFrameSize
	}
	d := &PerMessageDeflate{
		params:       p,
		frameSize:    frameSize,
		inf:          newInflater(),
		readBuf:      pool.NewBuffer(deflateReadBufferSize),
		emptyMessage: true,
	}
	if p.Server {
		d.ownTake, d.peerTake = p.ServerContextTakeover, p.ClientContextTakeover
	} else {
		d.ownTake, d.peerTake = p.ClientContextTakeover, p.ServerContextTakeover
	}
	fw, err := flate.NewWriter(&d.wbuf, flate.DefaultCompression)
	if err != nil {
		d.inf.close()
		return nil, err
	}
	d.fw = fw
	return d, nil
}

// Params returns the parameters the stage was built with.
func (d *PerMessageDeflate) Params() DeflateParams { return d.params }

// Response renders the agreed extension as a Sec-WebSocket-Extensions
// header value.
func (d *PerMessageDeflate) Response() string {
	return FormatExtensions([]Extension{d.params.Extension()})
}

func (d *PerMessageDeflate) MoreData(next Source, opcode protocol.Opcode, fin bool, rsv uint8, dst *pool.Buffer) (Result, error) {
	// control frames are never compressed and may sit inside a message
	if opcode.IsControl() {
		return next(opcode, fin, rsv, dst)
	}
	if !opcode.IsContinuation() {
		d.skip = rsv&protocol.Rsv1 == 0
	}
	if d.skip {
		return next(opcode, fin, rsv, dst)
	}
	rsv &^= protocol.Rsv1
	for {
		if dst.Available() == 0 {
			return Overflow, nil
		}
		n, err := d.inf.inflate(dst.Free())
		if err != nil {
			return Underflow, protocol.WrapCloseError(protocol.CloseInvalidPayloadData,
				fmt.Errorf("corrupt compressed payload: %w", err))
		}
		if n > 0 {
			dst.Commit(n)
			continue
		}
		if d.eomFed {
			d.eomFed = false
			if !d.peerTake || d.inf.done() {
				d.resetInflater()
			}
			return EndOfFrame, nil
		}
		d.readBuf.Reset()
		res, err := next(opcode, fin, rsv, d.readBuf)
		if err != nil {
			return res, err
		}
		got := d.readBuf.Len()
		if got > 0 {
			d.inf.setInput(d.readBuf.Bytes())
		}
		switch res {
		case Underflow:
			if got == 0 {
				return Underflow, nil
			}
		case EndOfFrame:
			if got == 0 {
				if !fin {
					return EndOfFrame, nil
				}
				d.inf.setInput(eomBytes)
				d.eomFed = true
			}
		}
	}
}

func (d *PerMessageDeflate) resetInflater() {
	d.inf.close()
	d.inf = newInflater()
}

func (d *PerMessageDeflate) ValidateRsv(rsv uint8, opcode protocol.Opcode) (uint8, bool) {
	if rsv&protocol.Rsv1 == 0 {
		return rsv, true
	}
	// only the first frame of a data message may announce compression
	if opcode.IsControl() || opcode.IsContinuation() {
		return rsv, false
	}
	return rsv &^ protocol.Rsv1, true
}

// SendMessagePart compresses data parts. A part the compressor absorbs
// without producing output yields no parts at all.
func (d *PerMessageDeflate) SendMessagePart(parts []MessagePart) ([]MessagePart, error) {
	out := make([]MessagePart, 0, len(parts))
	for _, p := range parts {
		if p.Opcode.IsControl() {
			out = append(out, p)
			continue
		}
		d.emptyMessage = d.emptyMessage && len(p.Payload) == 0
		if d.emptyMessage && p.Fin {
			// nothing to compress; send the empty message as is
			out = append(out, p)
			continue
		}
		if len(p.Payload) > 0 {
			if _, err := d.fw.Write(p.Payload); err != nil {
				return nil, err
			}
		}
		if p.Fin {
			if err := d.fw.Flush(); err != nil {
				return nil, err
			}
		}
		compressed := bytes.Clone(d.wbuf.Bytes())
		d.wbuf.Reset()
		if p.Fin {
			compressed = bytes.TrimSuffix(compressed, eomBytes)
		}
		out = append(out, d.split(p, compressed)...)
		if p.Fin {
			d.startNewMessage()
		}
	}
	return out, nil
}

func (d *PerMessageDeflate) split(p MessagePart, compressed []byte) []MessagePart {
	if len(compressed) == 0 && !p.Fin {
		return nil
	}
	var parts []MessagePart
	for {
		n := min(len(compressed), d.frameSize)
		last := n == len(compressed)
		mp := MessagePart{
			Fin:      p.Fin && last,
			Rsv:      p.Rsv | d.firstRsv(),
			Opcode:   p.Opcode,
			Payload:  compressed[:n],
			Deadline: p.Deadline,
		}
		compressed = compressed[n:]
		if last {
			mp.Done = p.Done
			return append(parts, mp)
		}
		parts = append(parts, mp)
	}
}

func (d *PerMessageDeflate) firstRsv() uint8 {
	if d.firstWritten {
		return 0
	}
	d.firstWritten = true
	return protocol.Rsv1
}

func (d *PerMessageDeflate) startNewMessage() {
	d.firstWritten = false
	d.emptyMessage = true
	if !d.ownTake {
		d.fw.Reset(&d.wbuf)
	}
}

func (d *PerMessageDeflate) Close() error {
	d.inf.close()
	return nil
}
