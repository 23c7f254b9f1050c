// File: cmd/wsframe/main.go
// Author: momentics <momentics@gmail.com>
//
// wsframe encodes messages into raw WebSocket frame streams and decodes
// frame streams through the engine.

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/wsengine/control"
)

type globalOptions struct {
	logLevel   string
	configFile string
}

func newRootCommand() *cobra.Command {
	var opts globalOptions
	cmd := &cobra.Command{
		Use:           "wsframe",
		Short:         "Encode and decode raw WebSocket frame streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logrus.SetOutput(cmd.ErrOrStderr())
			logrus.SetFormatter(&logrus.TextFormatter{
				TimestampFormat: log.RFC3339NanoFixed,
				FullTimestamp:   true,
			})
			return log.SetLevel(opts.logLevel)
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.configFile, "config", "", "Engine configuration file (JSON)")

	cmd.AddCommand(
		newEncodeCommand(&opts),
		newDecodeCommand(&opts),
	)
	return cmd
}

func (o *globalOptions) engineConfig() (control.Config, error) {
	if o.configFile == "" {
		return control.Default(), nil
	}
	f, err := os.Open(o.configFile)
	if err != nil {
		return control.Config{}, err
	}
	defer f.Close()
	return control.Load(f)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.G(ctx).WithError(err).Error("wsframe failed")
		os.Exit(1)
	}
}
