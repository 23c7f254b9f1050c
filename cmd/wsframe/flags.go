// File: cmd/wsframe/flags.go
// Author: momentics <momentics@gmail.com>

package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	units "github.com/docker/go-units"
	"github.com/spf13/pflag"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/session"
	"github.com/momentics/wsengine/transform"
)

type roleValue api.Role

var _ pflag.Value = (*roleValue)(nil)

func (r *roleValue) Set(s string) error {
	switch s {
	case "server":
		*r = roleValue(api.RoleServer)
	case "client":
		*r = roleValue(api.RoleClient)
	default:
		return fmt.Errorf("unknown role %q: %w", s, errdefs.ErrInvalidArgument)
	}
	return nil
}

func (r *roleValue) String() string { return api.Role(*r).String() }
func (r *roleValue) Type() string   { return "role" }

// sizeValue accepts byte counts such as "4096" or "4KiB".
type sizeValue int64

var _ pflag.Value = (*sizeValue)(nil)

func (s *sizeValue) Set(v string) error {
	n, err := units.RAMInBytes(v)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("size %q is negative: %w", v, errdefs.ErrInvalidArgument)
	}
	*s = sizeValue(n)
	return nil
}

func (s *sizeValue) String() string {
	if *s == 0 {
		return "0"
	}
	return units.BytesSize(float64(*s))
}

func (s *sizeValue) Type() string { return "bytes" }

type formatValue string

var _ pflag.Value = (*formatValue)(nil)

func (f *formatValue) Set(s string) error {
	if s != "hex" && s != "raw" {
		return fmt.Errorf("unknown format %q, want hex or raw: %w", s, errdefs.ErrInvalidArgument)
	}
	*f = formatValue(s)
	return nil
}

func (f *formatValue) String() string { return string(*f) }
func (f *formatValue) Type() string   { return "format" }

func (f formatValue) write(w io.Writer, b []byte) error {
	if f == "raw" {
		_, err := w.Write(b)
		return err
	}
	_, err := fmt.Fprintln(w, hex.EncodeToString(b))
	return err
}

func (f formatValue) parse(b []byte) ([]byte, error) {
	if f == "raw" {
		return b, nil
	}
	out, err := hex.DecodeString(strings.Join(strings.Fields(string(b)), ""))
	if err != nil {
		return nil, fmt.Errorf("decoding hex input: %w: %w", err, errdefs.ErrInvalidArgument)
	}
	return out, nil
}

// readInput reads name, or in when name is "-".
func readInput(in io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(name)
}

type deflateOptions struct {
	enabled           bool
	noContextTakeover bool
}

func (d *deflateOptions) install(flags *pflag.FlagSet) {
	flags.BoolVar(&d.enabled, "deflate", false, "Use permessage-deflate")
	flags.BoolVar(&d.noContextTakeover, "no-context-takeover", false, "Reset the compression context after every message")
}

// option returns the deflate stage for role, or nil when disabled.
func (d *deflateOptions) option(role api.Role) (session.Option, error) {
	if !d.enabled {
		return nil, nil
	}
	p := transform.DeflateParams{
		Server:                role == api.RoleServer,
		ServerContextTakeover: !d.noContextTakeover,
		ClientContextTakeover: !d.noContextTakeover,
	}
	stage, err := transform.NewPerMessageDeflate(p, transform.DefaultDeflateFrameSize)
	if err != nil {
		return nil, err
	}
	return session.WithExtensions(stage), nil
}

// captureConn records writes and blocks reads until closed.
type captureConn struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	closed    chan struct{}
	closeOnce sync.Once
}

func newCaptureConn() *captureConn {
	return &captureConn{closed: make(chan struct{})}
}

func (c *captureConn) Read([]byte) (int, error) {
	<-c.closed
	return 0, io.EOF
}

func (c *captureConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *captureConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *captureConn) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

// replayConn serves a recorded stream and discards what the session
// writes back.
type replayConn struct {
	*bytes.Reader
}

func (replayConn) Write(p []byte) (int, error) { return len(p), nil }
func (replayConn) Close() error                { return nil }
