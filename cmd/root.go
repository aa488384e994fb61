// Package cmd implements the dataset-monitor command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
)

var (
	// cfgFile is the --config flag.
	cfgFile string

	// debug is the --debug flag.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "dataset-monitor",
		Short: "Ingest provider dataset catalogs and monitor dataset URLs",
		Long: `dataset-monitor discovers new datasets published by data centers, stores
their metadata, and periodically checks that every dataset URL still answers.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $CONFIG_PATH or ./config.yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCommand(),
		newFetchCommand(),
		newMonitorCommand(),
		newMigrateCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
}

// loadRuntime loads the configuration and creates the logger shared by the
// subcommands.
func loadRuntime() (*config.Config, logger.Logger, error) {
	cfg, err := bootstrap.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	log, err := bootstrap.CreateLogger(cfg, debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// withApp builds the full application, runs fn and releases it.
func withApp(ctx context.Context, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	app, err := bootstrap.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("Startup failed", logger.Error(err))
		return fmt.Errorf("startup: %w", err)
	}
	defer app.Close()

	return fn(ctx, app)
}
