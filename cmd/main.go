package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/weblink-backend/internal/app"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "weblink",
		Short:         "Weblink ingestion and indexing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newSubmitCmd(),
		newEventsCmd(),
	)
	return root
}

// bootstrap loads config and the logger. The returned context is cancelled on
// SIGINT or SIGTERM.
func bootstrap(cmd *cobra.Command) (context.Context, context.CancelFunc, *logger.Logger, app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, nil, app.Config{}, err
	}
	log, err := app.NewLogger(cfg.LogMode)
	if err != nil {
		return nil, nil, nil, app.Config{}, err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	return ctx, stop, log, cfg, nil
}

func newServeCmd() *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the job worker and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop, log, cfg, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer stop()

			a, err := app.New(ctx, log, cfg)
			if err != nil {
				log.Error("App init failed", "error", err)
				return err
			}
			defer a.Close()

			if !noWorker {
				a.StartBackground()
			}
			return a.RunHTTP(ctx)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve HTTP only, without consuming jobs")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume ingestion jobs without serving HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop, log, cfg, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer stop()

			a, err := app.New(ctx, log, cfg)
			if err != nil {
				log.Error("App init failed", "error", err)
				return err
			}
			defer a.Close()

			a.StartBackground()
			log.Info("Worker running", "concurrency", cfg.Worker.Concurrency)
			<-ctx.Done()
			log.Info("Worker shutting down")
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, stop, log, cfg, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer stop()
			defer log.Sync()

			if err := app.Migrate(log, cfg); err != nil {
				return err
			}
			log.Info("Migration complete")
			return nil
		},
	}
}
