package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the health/metrics server",
		Long: `serve runs one fetch cycle at startup, then fetches every fetch_interval_days
and probes every check_interval_days until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				app.Log.Info("Starting dataset monitor",
					logger.String("version", app.Config.Service.Version),
					logger.Int("port", app.Config.Service.Port),
					logger.Int("providers", len(app.Config.EnabledProviders())),
				)
				return bootstrap.Serve(ctx, app)
			})
		},
	}
}
