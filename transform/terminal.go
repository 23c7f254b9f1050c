// File: transform/terminal.go
// Author: momentics <momentics@gmail.com>

package transform

import (
	"github.com/momentics/wsengine/pool"
	"github.com/momentics/wsengine/protocol"
)

// Unmask is the terminal stage for masked input (server role).
type Unmask struct{ frame *Frame }

// Passthrough is the terminal stage for unmasked input (client role).
type Passthrough struct{ frame *Frame }

func (u *Unmask) MoreData(_ Source, _ protocol.Opcode, _ bool, _ uint8, dst *pool.Buffer) (Result, error) {
	return u.frame.transfer(dst, true), nil
}

func (p *Passthrough) MoreData(_ Source, _ protocol.Opcode, _ bool, _ uint8, dst *pool.Buffer) (Result, error) {
	return p.frame.transfer(dst, false), nil
}

// Terminal stages own no reserved bits; anything left over is an error.
func (u *Unmask) ValidateRsv(rsv uint8, _ protocol.Opcode) (uint8, bool)      { return rsv, rsv == 0 }
func (p *Passthrough) ValidateRsv(rsv uint8, _ protocol.Opcode) (uint8, bool) { return rsv, rsv == 0 }

func (u *Unmask) SendMessagePart(parts []MessagePart) ([]MessagePart, error)      { return parts, nil }
func (p *Passthrough) SendMessagePart(parts []MessagePart) ([]MessagePart, error) { return parts, nil }

func (u *Unmask) Close() error      { return nil }
func (p *Passthrough) Close() error { return nil }
