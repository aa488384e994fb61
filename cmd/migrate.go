package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or revert the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{database.DirectionUp, database.DirectionDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return runMigrate(cfg, log, args[0])
		},
	}
}

func runMigrate(cfg *config.Config, log logger.Logger, direction string) error {
	log.Info("Running migrations",
		logger.String("direction", direction),
		logger.String("database", cfg.Database.Database),
	)

	if err := database.Migrate(&cfg.Database, direction); err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	log.Info("Migrations complete", logger.String("direction", direction))
	return nil
}
