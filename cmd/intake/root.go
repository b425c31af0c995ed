package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/intake/pkg/config"
)

// RootOptions holds global flags and the state every command shares.
type RootOptions struct {
	EnvFile  string
	LogLevel string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand creates the intake command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "intake",
		Short:         "Submission lifecycle runtime for agent-driven forms",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(opts.EnvFile); err != nil {
				return fmt.Errorf("load %s: %w", opts.EnvFile, err)
			}
			opts.cfg = config.Load()
			if opts.LogLevel != "" {
				opts.cfg.LogLevel = opts.LogLevel
			}
			logger, err := newLogger(cmd.ErrOrStderr(), opts.cfg.LogLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (overrides LOG_LEVEL)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMCPCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}

// newLogger writes JSON lines to w at the named level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
