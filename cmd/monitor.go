package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/bootstrap"
)

func newMonitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Probe every stored dataset URL once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				res, err := app.Pipeline.RunMonitor(ctx)
				if err != nil {
					return err
				}

				s := res.Summary
				fmt.Fprintf(cmd.OutOrStdout(), "probed %d: %d ok, %d local issues, %d remote issues\n",
					s.Total, s.Success, s.Local, s.Remote)
				return nil
			})
		},
	}
}
