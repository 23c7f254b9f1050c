// File: cmd/wsframe/decode.go
// Author: momentics <momentics@gmail.com>

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/containerd/log"
	"github.com/spf13/cobra"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/control"
	"github.com/momentics/wsengine/session"
)

type decodeOptions struct {
	role       roleValue
	format     formatValue
	file       string
	maxMessage sizeValue
	deflate    deflateOptions
}

func newDecodeCommand(g *globalOptions) *cobra.Command {
	opts := decodeOptions{format: "hex", file: "-"}
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Run a raw frame stream through a session and print what it delivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), g, &opts)
		},
	}
	flags := cmd.Flags()
	flags.Var(&opts.role, "role", "Receiving side: server (expects masked frames) or client")
	flags.Var(&opts.format, "format", "Input format: hex or raw")
	flags.StringVarP(&opts.file, "file", "f", opts.file, `Frame stream to read ("-" for stdin)`)
	flags.Var(&opts.maxMessage, "max-message", "Text and binary message buffer size")
	opts.deflate.install(flags)
	return cmd
}

func runDecode(ctx context.Context, in io.Reader, out io.Writer, g *globalOptions, opts *decodeOptions) error {
	raw, err := readInput(in, opts.file)
	if err != nil {
		return err
	}
	stream, err := opts.format.parse(raw)
	if err != nil {
		return err
	}

	cfg, err := g.engineConfig()
	if err != nil {
		return err
	}
	if opts.maxMessage > 0 {
		cfg.MaxTextMessageBufferSize = control.ByteSize(opts.maxMessage)
		cfg.MaxBinaryMessageBufferSize = control.ByteSize(opts.maxMessage)
	}
	role := roleOf(opts.role)
	sessOpts := []session.Option{session.WithConfig(cfg), session.WithContext(ctx)}
	if d, err := opts.deflate.option(role); err != nil {
		return err
	} else if d != nil {
		sessOpts = append(sessOpts, d)
	}

	s, err := session.New(replayConn{bytes.NewReader(stream)}, role, nil, sessOpts...)
	if err != nil {
		return err
	}
	s.OnText(func(text string) { fmt.Fprintf(out, "text %q\n", text) })
	s.OnBinary(func(data []byte) { fmt.Fprintf(out, "binary %s\n", hex.EncodeToString(data)) })
	s.OnPong(func(payload []byte) { fmt.Fprintf(out, "pong %q\n", payload) })

	serveErr := s.Serve(ctx)
	fmt.Fprintf(out, "close %s\n", s.CloseReason())
	log.G(ctx).WithField("bytes", len(stream)).Debug("decoded frame stream")
	if serveErr != nil {
		return fmt.Errorf("stream did not end with a close handshake: %w", serveErr)
	}
	return nil
}

func roleOf(r roleValue) api.Role { return api.Role(r) }
