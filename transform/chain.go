// File: transform/chain.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Chain is an ordered list of stages: negotiated extensions first, the
// terminal stage last. Inbound data is pulled from stage 0, which pulls
// from stage 1 and so on down to the raw frame.

package transform

import (
	"errors"

	"github.com/momentics/wsengine/pool"
	"github.com/momentics/wsengine/protocol"
)

type Chain struct {
	stages  []Transformation
	sources []Source
}

// NewChain builds a chain over frame. masked selects the Unmask terminal.
func NewChain(frame *Frame, masked bool, extensions ...Transformation) *Chain {
	var terminal Transformation = &Passthrough{frame: frame}
	if masked {
		terminal = &Unmask{frame: frame}
	}
	c := &Chain{stages: append(append([]Transformation(nil), extensions...), terminal)}
	c.sources = make([]Source, len(c.stages)+1)
	for i := range c.stages {
		c.sources[i] = c.source(i)
	}
	return c
}

func (c *Chain) source(i int) Source {
	return func(opcode protocol.Opcode, fin bool, rsv uint8, dst *pool.Buffer) (Result, error) {
		return c.stages[i].MoreData(c.sources[i+1], opcode, fin, rsv, dst)
	}
}

// MoreData drains the current frame through every stage into dst.
func (c *Chain) MoreData(opcode protocol.Opcode, fin bool, rsv uint8, dst *pool.Buffer) (Result, error) {
	return c.sources[0](opcode, fin, rsv, dst)
}

// ValidateRsv reports whether every reserved bit of a frame is claimed by
// some stage.
func (c *Chain) ValidateRsv(rsv uint8, opcode protocol.Opcode) bool {
	for _, st := range c.stages {
		var ok bool
		if rsv, ok = st.ValidateRsv(rsv, opcode); !ok {
			return false
		}
	}
	return true
}

// SendMessagePart runs outbound parts through the stages in order.
func (c *Chain) SendMessagePart(parts []MessagePart) ([]MessagePart, error) {
	var err error
	for _, st := range c.stages {
		if parts, err = st.SendMessagePart(parts); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// Extensions returns the negotiated extension stages.
func (c *Chain) Extensions() []Transformation {
	return c.stages[:len(c.stages)-1]
}

// Close closes every stage.
func (c *Chain) Close() error {
	var errs []error
	for _, st := range c.stages {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
