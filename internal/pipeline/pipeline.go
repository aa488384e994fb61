// Package pipeline runs the fetch cycle (discovery then detail fetch for each
// provider) and the monitor cycle (probe every stored dataset URL).
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/probe"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/telemetry"
)

// Cycle names used in logs and metrics.
const (
	CycleFetch   = "fetch"
	CycleMonitor = "monitor"
)

// Discoverer records new dataset ids of a provider.
type Discoverer interface {
	Discover(ctx context.Context, p domain.Provider) (int, error)
}

// DetailProcessor stores the documents of pending ids.
type DetailProcessor interface {
	ProcessPending(ctx context.Context, p domain.Provider) (int, error)
}

// DocumentSource lists the stored dataset documents of a provider.
type DocumentSource interface {
	Datasets(ctx context.Context, providerName string) ([]domain.DatasetDocument, error)
}

// Prober probes a batch of documents.
type Prober interface {
	ProbeAll(ctx context.Context, docs []domain.DatasetDocument) (*probe.Result, error)
}

// ProviderReport is the fetch outcome of one provider.
type ProviderReport struct {
	Provider   string
	Discovered int
	Processed  int
	Err        error
}

// FetchReport is the outcome of a fetch cycle.
type FetchReport struct {
	Providers []ProviderReport
}

// Failed returns the number of providers that reported an error.
func (r *FetchReport) Failed() int {
	n := 0
	for _, p := range r.Providers {
		if p.Err != nil {
			n++
		}
	}
	return n
}

// Pipeline wires the components of both cycles.
type Pipeline struct {
	providers  []domain.Provider
	discoverer Discoverer
	details    DetailProcessor
	documents  DocumentSource
	prober     Prober
	log        logger.Logger
	metrics    *telemetry.Metrics
}

// Deps groups the components a Pipeline drives.
type Deps struct {
	Discoverer Discoverer
	Details    DetailProcessor
	Documents  DocumentSource
	Prober     Prober
	Logger     logger.Logger
	Metrics    *telemetry.Metrics
}

// New creates a pipeline over the enabled providers.
func New(providers []domain.Provider, deps Deps) *Pipeline {
	enabled := make([]domain.Provider, 0, len(providers))
	for _, p := range providers {
		if p.IsEnabled() {
			enabled = append(enabled, p)
		}
	}

	return &Pipeline{
		providers:  enabled,
		discoverer: deps.Discoverer,
		details:    deps.Details,
		documents:  deps.Documents,
		prober:     deps.Prober,
		log:        deps.Logger,
		metrics:    deps.Metrics,
	}
}

// RunFetch processes providers one after another. A provider failure is
// logged and recorded in the report; a storage failure ends the cycle.
func (p *Pipeline) RunFetch(ctx context.Context) (*FetchReport, error) {
	started := time.Now()
	report := &FetchReport{Providers: make([]ProviderReport, 0, len(p.providers))}

	for _, prov := range p.providers {
		pr, err := p.fetchProvider(ctx, prov)
		report.Providers = append(report.Providers, pr)
		if err != nil {
			return report, err
		}
	}

	p.metrics.RecordCycle(CycleFetch)
	p.log.Info("Fetch cycle complete",
		logger.Int("providers", len(report.Providers)),
		logger.Int("failed", report.Failed()),
		logger.Duration("duration", time.Since(started)),
	)
	return report, nil
}

func (p *Pipeline) fetchProvider(ctx context.Context, prov domain.Provider) (ProviderReport, error) {
	pr := ProviderReport{Provider: prov.Name}
	log := p.log.With(logger.String("provider", prov.Name))

	discovered, err := p.discoverer.Discover(ctx, prov)
	switch {
	case err == nil:
		pr.Discovered = discovered
		log.Info("Discovery finished", logger.Int("new_ids", discovered))
	case errors.Is(err, domain.ErrStorage):
		pr.Err = err
		return pr, err
	case errors.Is(err, domain.ErrAuth):
		pr.Err = err
		log.Error("Provider skipped, authentication failed", logger.Error(err))
		return pr, nil
	default:
		pr.Err = err
		log.Error("Discovery failed, processing earlier pending ids", logger.Error(err))
	}

	processed, err := p.details.ProcessPending(ctx, prov)
	pr.Processed = processed
	if err != nil {
		pr.Err = errors.Join(pr.Err, err)
		if errors.Is(err, domain.ErrStorage) {
			return pr, err
		}
		log.Error("Detail fetch failed", logger.Error(err))
	}

	return pr, nil
}

// RunMonitor probes the URLs of every stored dataset of the enabled
// providers in one batch.
func (p *Pipeline) RunMonitor(ctx context.Context) (*probe.Result, error) {
	var docs []domain.DatasetDocument
	for _, prov := range p.providers {
		batch, err := p.documents.Datasets(ctx, prov.Name)
		if err != nil {
			return nil, err
		}
		p.log.Info("Loaded datasets",
			logger.String("provider", prov.Name),
			logger.Int("count", len(batch)),
		)
		docs = append(docs, batch...)
	}

	res, err := p.prober.ProbeAll(ctx, docs)
	if err != nil {
		return nil, err
	}

	p.metrics.RecordCycle(CycleMonitor)
	return res, nil
}
