package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/mcptools"
)

// NewMCPCommand creates the mcp command, which serves the tools on stdio.
func NewMCPCommand(rootOpts *RootOptions) *cobra.Command {
	var actorID string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the submission tools over MCP on stdin/stdout",
		Long: `Serve the submission lifecycle as MCP tools on stdin/stdout.

Logs go to stderr so they never interleave with protocol messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := rootOpts.logger
			st, err := openStack(ctx, rootOpts.cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			go st.runDispatcher(ctx, logger)

			var actor contracts.Actor
			if actorID != "" {
				actor = contracts.Actor{Kind: contracts.ActorAgent, ID: actorID}
			}
			h := mcptools.NewHandlers(st.subs, st.reviews, actor, logger.With("component", "mcptools"))
			return mcptools.ServeStdio(ctx, mcptools.NewServer(h, version))
		},
	}

	cmd.Flags().StringVar(&actorID, "actor", "", "agent id attributed to calls that name no actor")
	return cmd
}
