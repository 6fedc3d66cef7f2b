// Package cmd defines the searchtap CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/app"
	"github.com/JakeFAU/search-console-tap/internal/config"
	"github.com/JakeFAU/search-console-tap/internal/logging"
	"github.com/JakeFAU/search-console-tap/internal/searchconsole"
	"github.com/JakeFAU/search-console-tap/internal/tap"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// annotationConfig marks commands that can run without a config file.
const annotationConfig = "config"

// Service is what the subcommands need from the application. It is an
// interface so tests can inject a fake.
type Service interface {
	Sync(ctx context.Context, req tap.RunRequest) (string, tap.RunCounters, error)
	Serve(ctx context.Context) error
	ListSites(ctx context.Context) ([]searchconsole.Site, error)
	Close(ctx context.Context)
}

// runtime is the config and logger prepared before a subcommand runs.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (Service, error) {
	return app.Build(ctx, cfg, logger, opts)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "searchtap",
		Short: "Extract Google Search Console performance reports as a Singer tap.",
		Long: `searchtap pulls Search Console performance reports for one or more
properties and writes them as Singer SCHEMA, RECORD and STATE messages on
stdout. Runs are incremental: bookmarks are kept per stream, property and
search type so the next run continues where the last one stopped.`,
		SilenceUsage: true,

		// Load config and logger once so every subcommand sees the same runtime.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationConfig] == "optional" && cfgFile == "" {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars prefixed TAP_ override it)")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(runtime)
	if !ok {
		return runtime{}, errors.New("configuration not loaded; pass --config")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
