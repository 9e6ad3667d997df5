// Package cli implements the clnode command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/clnode/internal/config"
)

type rootOptions struct {
	url     string
	verbose bool
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "clnode",
		Short: "clnode - shared memory for coding agent swarms",
		Long: `clnode records the lifecycle hooks of an AI coding assistant and its
sub-agents, and feeds each new agent the context its peers left behind.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.url, "url", "", "daemon URL (default $CLNODE_URL or http://localhost:3100)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	root.AddCommand(newRegisterCmd(opts))
	return root
}

// Execute runs the root command.
func Execute(version string) error {
	if err := NewRootCmd(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// newLogger builds the process logger: JSON with timestamp and caller, or a
// console writer in development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(w).With().Timestamp().Caller().Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	return logger
}

// clientConfig loads config for the client commands and applies --url.
func (o *rootOptions) clientConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.url != "" {
		cfg.URL = o.url
	}
	return cfg, nil
}

func (o *rootOptions) clientLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logger := newLogger(cfg, w)
	if o.verbose {
		return logger.Level(zerolog.DebugLevel)
	}
	return logger.Level(zerolog.WarnLevel)
}
