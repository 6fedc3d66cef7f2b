package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/search-console-tap/internal/app"
	"github.com/JakeFAU/search-console-tap/internal/catalog"
	"github.com/JakeFAU/search-console-tap/internal/streams"
)

// newDiscoverCmd creates the 'discover' subcommand.
func newDiscoverCmd() *cobra.Command {
	var listSites bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Print the catalog of available streams",
		Long: `Prints the catalog as JSON. Every stream is selected by default; edit
the "selected" metadata and pass the file to sync --catalog to narrow a run.
With --list-sites the properties visible to the credentials are printed
instead, which needs a config file.`,
		Annotations: map[string]string{annotationConfig: "optional"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listSites {
				return runListSites(cmd)
			}
			return writeIndented(cmd, catalog.Discover(streams.Default()))
		},
	}
	cmd.Flags().BoolVar(&listSites, "list-sites", false, "list the properties the credentials can read")
	return cmd
}

func runListSites(cmd *cobra.Command) error {
	ctx := cmd.Context()
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	svc, err := newApp(ctx, rt.cfg, rt.logger, app.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer svc.Close(context.WithoutCancel(ctx))

	sites, err := svc.ListSites(ctx)
	if err != nil {
		return err
	}
	return writeIndented(cmd, sites)
}

func writeIndented(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
