// Package cmd defines the CLI commands of the harvester executable.
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

	"github.com/JakeFAU/steam-harvester/internal/app"
	"github.com/JakeFAU/steam-harvester/internal/config"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can inject
// stubbed collaborators.
var newApp = func(cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(cfg, logger)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "A polite, resumable harvester for the Steam catalog.",
		Long: `harvester walks every application of the Steam catalog, classifies each
detail response, and keeps the accepted records, the not-yet-released ids and
the discarded ids so an interrupted crawl resumes where it stopped.

Single-process crawls persist to local JSON files. The enqueue, work and
publish commands share state through Postgres so several processes can crawl
one campaign and stream new records to a search index.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// This hook runs before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			a, err := newApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().Bool("dev-logs", true, "human readable development logs")
	cmd.PersistentFlags().String("metrics-addr", "", "serve /metrics and /v1/status on this address")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newWorkCmd())
	cmd.AddCommand(newPublishCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// closeApp releases a and folds a close failure into err.
func closeApp(a *app.App, err *error) {
	if cerr := a.Close(); cerr != nil {
		*err = errors.Join(*err, cerr)
	}
}

// Execute runs the CLI and returns the process exit code. An interrupt is a
// clean stop once state has been flushed; any other failure exits 1.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, newRootCmd(), os.Args[1:])
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	// Replaced by the configured logger once the config loads.
	if fallback, ferr := logging.New(false); ferr == nil {
		zap.ReplaceGlobals(fallback)
	}
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	logger := zap.L()
	defer logging.Sync(logger) //nolint:errcheck // best-effort flush

	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		logger.Warn("interrupted; state flushed")
		return 0
	case errors.Is(err, harvest.ErrPersistence):
		logger.Error("persistence failure", zap.Error(err))
	case errors.Is(err, harvest.ErrRetriesExhausted):
		logger.Error("catalog API unavailable, retries exhausted", zap.Error(err))
	case errors.Is(err, harvest.ErrEmptyWorkSource):
		logger.Error("work source is empty, nothing to crawl", zap.Error(err))
	default:
		logger.Error("command failed", zap.Error(err))
	}
	return 1
}
