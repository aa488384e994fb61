// Package discovery finds dataset ids a provider lists that have not been
// seen before and records them as pending.
package discovery

import (
	"context"
	"errors"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/provider"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/telemetry"
)

// CredentialSource hands out a valid credential for a provider and forgets it
// once the provider rejects it.
type CredentialSource interface {
	GetOrRefresh(ctx context.Context, p domain.Provider) (*domain.Credential, error)
	Invalidate(ctx context.Context, providerName string)
}

// Lister calls a provider's dataset list service.
type Lister interface {
	ListDatasetIDs(ctx context.Context, p domain.Provider, cred *domain.Credential) ([]string, error)
}

// IDStore is the dedup state discovery reads and extends.
type IDStore interface {
	KnownIDs(ctx context.Context, providerName string) (map[string]struct{}, error)
	SavePending(ctx context.Context, providerName string, ids []string) error
}

// Engine runs discovery for one provider at a time.
type Engine struct {
	creds   CredentialSource
	lister  Lister
	store   IDStore
	log     logger.Logger
	metrics *telemetry.Metrics
}

// NewEngine creates a discovery engine. metrics may be nil.
func NewEngine(creds CredentialSource, lister Lister, store IDStore, log logger.Logger, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		creds:   creds,
		lister:  lister,
		store:   store,
		log:     log,
		metrics: metrics,
	}
}

// Discover lists the provider's dataset ids and saves the ones not known yet,
// whatever their status, as pending. It returns the number saved.
func (e *Engine) Discover(ctx context.Context, p domain.Provider) (int, error) {
	cred, err := e.creds.GetOrRefresh(ctx, p)
	if err != nil {
		return 0, err
	}

	fetched, err := e.lister.ListDatasetIDs(ctx, p, cred)
	if err != nil {
		var statusErr *provider.StatusError
		if errors.As(err, &statusErr) {
			e.log.Error("Dataset list request rejected",
				logger.String("provider", p.Name),
				logger.Int("status_code", statusErr.StatusCode),
				logger.String("body", statusErr.Body),
			)
		}
		if provider.IsUnauthorized(err) {
			e.creds.Invalidate(ctx, p.Name)
		}
		return 0, domain.NewError(domain.ErrDiscovery, "list datasets", p.Name, err)
	}

	known, err := e.store.KnownIDs(ctx, p.Name)
	if err != nil {
		return 0, err
	}

	fresh := Unseen(fetched, known)
	e.log.Info("Dataset list received",
		logger.String("provider", p.Name),
		logger.Int("listed", len(fetched)),
		logger.Int("known", len(known)),
		logger.Int("new", len(fresh)),
	)
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := e.store.SavePending(ctx, p.Name, fresh); err != nil {
		return 0, err
	}
	e.metrics.RecordDiscovered(p.Name, len(fresh))

	return len(fresh), nil
}

// Unseen returns the ids of fetched missing from known, in first-seen order
// and without duplicates.
func Unseen(fetched []string, known map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(fetched))
	out := make([]string, 0, len(fetched))
	for _, id := range fetched {
		if _, ok := known[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
