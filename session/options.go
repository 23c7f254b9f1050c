// File: session/options.go
// Author: momentics <momentics@gmail.com>

package session

import (
	"context"

	"github.com/momentics/wsengine/control"
	"github.com/momentics/wsengine/pool"
	"github.com/momentics/wsengine/transform"
)

type options struct {
	ctx        context.Context
	cfg        control.Config
	metrics    *control.Metrics
	pool       *pool.BufferPool
	extensions []transform.Transformation
	id         string
}

// Option customises a Session.
type Option func(*options)

// WithConfig replaces the default engine configuration.
func WithConfig(cfg control.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithMetrics records traffic into m.
func WithMetrics(m *control.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithContext sets the context the session logger is taken from.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithBufferPool sets the pool read buffers are taken from.
func WithBufferPool(p *pool.BufferPool) Option {
	return func(o *options) { o.pool = p }
}

// WithExtensions installs negotiated extension stages, outermost first.
// The session closes them when it ends.
func WithExtensions(exts ...transform.Transformation) Option {
	return func(o *options) { o.extensions = append(o.extensions, exts...) }
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}
