package cmd

import (
	"context"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/analytics"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/dedup"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending and processed datasets per provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			db, err := bootstrap.SetupDatabase(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			return printStatus(ctx, cmd.OutOrStdout(), dedup.NewRepository(db), analytics.NewWriter(db))
		},
	}
}

type statusCounter interface {
	StatusCounts(ctx context.Context) ([]dedup.StatusCount, error)
}

type incompleteCounter interface {
	CountIncomplete(ctx context.Context) (int64, error)
}

type providerStatus struct {
	pending   int64
	processed int64
}

func printStatus(ctx context.Context, out io.Writer, ids statusCounter, records incompleteCounter) error {
	counts, err := ids.StatusCounts(ctx)
	if err != nil {
		return err
	}
	incomplete, err := records.CountIncomplete(ctx)
	if err != nil {
		return err
	}

	byProvider := make(map[string]*providerStatus)
	for _, c := range counts {
		ps, ok := byProvider[c.Provider]
		if !ok {
			ps = &providerStatus{}
			byProvider[c.Provider] = ps
		}
		switch c.Status {
		case domain.StatusPending:
			ps.pending += c.Count
		case domain.StatusProcessed:
			ps.processed += c.Count
		}
	}

	names := make([]string, 0, len(byProvider))
	for name := range byProvider {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Provider", "Pending", "Processed"})

	var totalPending, totalProcessed int64
	for _, name := range names {
		ps := byProvider[name]
		t.AppendRow(table.Row{name, ps.pending, ps.processed})
		totalPending += ps.pending
		totalProcessed += ps.processed
	}
	t.AppendFooter(table.Row{"Total", totalPending, totalProcessed})
	t.Render()

	status := table.NewWriter()
	status.SetOutputMirror(out)
	status.SetStyle(table.StyleLight)
	status.AppendRow(table.Row{"Health checks never completed", incomplete})
	status.Render()

	return nil
}
