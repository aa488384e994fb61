package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/bootstrap"
)

func newFetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Run one discovery and detail fetch cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				report, err := app.Pipeline.RunFetch(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, p := range report.Providers {
					status := "ok"
					if p.Err != nil {
						status = p.Err.Error()
					}
					fmt.Fprintf(out, "%s: %d new, %d stored (%s)\n", p.Provider, p.Discovered, p.Processed, status)
				}
				return nil
			})
		},
	}
}
