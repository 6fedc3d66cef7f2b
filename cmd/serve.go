package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/search-console-tap/internal/app"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API that queues and executes sync runs",
		Long: `Starts the HTTP API on server.port. Runs submitted to /v1/runs are
queued and executed one at a time; SIGINT or SIGTERM drains the server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := resolveRuntime(ctx)
			if err != nil {
				return err
			}
			svc, err := newApp(ctx, rt.cfg, rt.logger, app.Options{Stdout: cmd.OutOrStdout()})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer svc.Close(context.WithoutCancel(ctx))
			return svc.Serve(ctx)
		},
	}
}
