// File: cmd/wsframe/encode.go
// Author: momentics <momentics@gmail.com>

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/spf13/cobra"

	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/session"
)

type encodeOptions struct {
	role        roleValue
	format      formatValue
	binary      bool
	file        string
	fragment    sizeValue
	deflate     deflateOptions
	ping        string
	closeCode   uint16
	closeReason string
}

func newEncodeCommand(g *globalOptions) *cobra.Command {
	opts := encodeOptions{format: "hex"}
	cmd := &cobra.Command{
		Use:   "encode [MESSAGE...]",
		Short: "Write a message, a ping and a close frame as a raw frame stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), g, &opts, args)
		},
	}
	flags := cmd.Flags()
	flags.Var(&opts.role, "role", "Sending side: server or client (client frames are masked)")
	flags.Var(&opts.format, "format", "Output format: hex or raw")
	flags.BoolVar(&opts.binary, "binary", false, "Send a binary message instead of text")
	flags.StringVarP(&opts.file, "file", "f", "", `Read the message from a file ("-" for stdin)`)
	flags.Var(&opts.fragment, "fragment", "Split the message into fragments of this size")
	flags.StringVar(&opts.ping, "ping", "", "Send a ping with this payload after the message")
	flags.Uint16Var(&opts.closeCode, "close", 0, "Finish with a close frame carrying this code")
	flags.StringVar(&opts.closeReason, "close-reason", "", "Reason text for the close frame")
	opts.deflate.install(flags)
	return cmd
}

func runEncode(ctx context.Context, in io.Reader, out io.Writer, g *globalOptions, opts *encodeOptions, args []string) error {
	var message []byte
	hasMessage := len(args) > 0 || opts.file != ""
	switch {
	case len(args) > 0 && opts.file != "":
		return fmt.Errorf("message arguments and --file are exclusive: %w", errdefs.ErrInvalidArgument)
	case opts.file != "":
		b, err := readInput(in, opts.file)
		if err != nil {
			return err
		}
		message = b
	default:
		message = []byte(strings.Join(args, " "))
	}
	if !hasMessage && opts.ping == "" && opts.closeCode == 0 {
		return fmt.Errorf("nothing to encode: give a message, --ping or --close: %w", errdefs.ErrInvalidArgument)
	}

	cfg, err := g.engineConfig()
	if err != nil {
		return err
	}
	role := roleOf(opts.role)
	sessOpts := []session.Option{session.WithConfig(cfg), session.WithContext(ctx)}
	if d, err := opts.deflate.option(role); err != nil {
		return err
	} else if d != nil {
		sessOpts = append(sessOpts, d)
	}

	conn := newCaptureConn()
	s, err := session.New(conn, role, nil, sessOpts...)
	if err != nil {
		return err
	}
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()

	err = encodeFrames(ctx, s, opts, hasMessage, message)
	conn.Close()
	<-served
	if err != nil {
		return err
	}
	log.G(ctx).WithField("bytes", len(conn.Bytes())).Debug("encoded frame stream")
	return opts.format.write(out, conn.Bytes())
}

func encodeFrames(ctx context.Context, s *session.Session, opts *encodeOptions, hasMessage bool, message []byte) error {
	if hasMessage {
		var err error
		switch {
		case opts.fragment > 0:
			err = sendFragments(ctx, s, message, int(opts.fragment), opts.binary)
		case opts.binary:
			err = s.SendBinary(ctx, message)
		default:
			err = s.SendText(ctx, string(message))
		}
		if err != nil {
			return fmt.Errorf("encoding message: %w", err)
		}
	}
	if opts.ping != "" {
		if err := s.SendPing(ctx, []byte(opts.ping)); err != nil {
			return fmt.Errorf("encoding ping: %w", err)
		}
	}
	if opts.closeCode != 0 {
		reason := protocol.CloseReason{Code: protocol.CloseCode(opts.closeCode), Reason: opts.closeReason}
		if err := s.Close(ctx, reason); err != nil {
			return fmt.Errorf("encoding close: %w", err)
		}
	}
	return nil
}

// sendFragments sends message in pieces of at most size bytes. Text
// pieces end on a character boundary.
func sendFragments(ctx context.Context, s *session.Session, message []byte, size int, binary bool) error {
	if !binary && !utf8.Valid(message) {
		return errors.New("message is not valid UTF-8; use --binary")
	}
	for {
		n := min(size, len(message))
		if !binary {
			for n < len(message) && n > 0 && !utf8.RuneStart(message[n]) {
				n--
			}
			if n == 0 {
				// a character wider than the fragment size
				_, n = utf8.DecodeRune(message)
			}
		}
		piece, last := message[:n], n == len(message)
		var err error
		if binary {
			err = s.SendPartialBinary(ctx, piece, last)
		} else {
			err = s.SendPartialText(ctx, string(piece), last)
		}
		if err != nil || last {
			return err
		}
		message = message[n:]
	}
}
