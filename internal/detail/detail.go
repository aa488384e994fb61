// Package detail fetches the metadata document of every pending dataset id
// and stores it in the document store.
package detail

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"

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

// DetailsClient calls a provider's dataset details service.
type DetailsClient interface {
	FetchDetails(ctx context.Context, cred *domain.Credential, id string) ([]byte, error)
}

// IDStore is the dedup state the fetcher drains.
type IDStore interface {
	PendingIDs(ctx context.Context, providerName string) ([]string, error)
	MarkProcessed(ctx context.Context, providerName string, ids ...string) error
}

// DocumentStore receives parsed documents. It reports a document it refuses
// with domain.ErrRejected.
type DocumentStore interface {
	Upsert(ctx context.Context, doc *domain.DatasetDocument) error
}

// Fetcher turns pending ids into stored documents.
type Fetcher struct {
	creds   CredentialSource
	client  DetailsClient
	ids     IDStore
	docs    DocumentStore
	log     logger.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMetrics records detail fetch outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithClock replaces time.Now for the sync timestamp.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a detail fetcher.
func NewFetcher(creds CredentialSource, client DetailsClient, ids IDStore, docs DocumentStore, log logger.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		creds:  creds,
		client: client,
		ids:    ids,
		docs:   docs,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ProcessPending fetches, stores and marks processed every pending id of the
// provider and returns how many made it all the way. A failing id, including
// one the document store rejects, is logged and stays pending. A rejected
// token is dropped and a new one requested. Credential, service lookup and storage
// failures end the batch with an error.
func (f *Fetcher) ProcessPending(ctx context.Context, p domain.Provider) (int, error) {
	cred, err := f.creds.GetOrRefresh(ctx, p)
	if err != nil {
		return 0, err
	}
	if _, ok := cred.ServiceURL(domain.ServiceDatasetDetails); !ok {
		return 0, domain.NewError(domain.ErrDetailFetch, "lookup service", p.Name,
			errors.New(domain.ServiceDatasetDetails+" not published"))
	}

	pending, err := f.ids.PendingIDs(ctx, p.Name)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		f.log.Info("No pending datasets", logger.String("provider", p.Name))
		return 0, nil
	}

	f.log.Info("Fetching dataset details",
		logger.String("provider", p.Name),
		logger.Int("pending", len(pending)),
	)

	limiter := newLimiter(p.DetailRate)
	count := 0
	for _, id := range pending {
		if waitErr := limiter.Wait(ctx); waitErr != nil {
			return count, waitErr
		}

		doc, fetchErr := f.fetch(ctx, p, cred, id)
		if fetchErr != nil {
			f.metrics.RecordDetail(p.Name, fetchErr)
			f.logFailure(p.Name, id, fetchErr)
			if provider.IsUnauthorized(fetchErr) {
				f.creds.Invalidate(ctx, p.Name)
				if cred, err = f.creds.GetOrRefresh(ctx, p); err != nil {
					return count, err
				}
			}
			continue
		}

		if upsertErr := f.docs.Upsert(ctx, doc); upsertErr != nil {
			if !errors.Is(upsertErr, domain.ErrRejected) {
				return count, upsertErr
			}
			f.metrics.RecordDetail(p.Name, upsertErr)
			f.logFailure(p.Name, id, upsertErr)
			continue
		}
		f.metrics.RecordDetail(p.Name, nil)
		if markErr := f.ids.MarkProcessed(ctx, p.Name, id); markErr != nil {
			return count, markErr
		}
		count++
	}

	f.log.Info("Dataset details stored",
		logger.String("provider", p.Name),
		logger.Int("processed", count),
		logger.Int("remaining", len(pending)-count),
	)
	return count, nil
}

func (f *Fetcher) fetch(ctx context.Context, p domain.Provider, cred *domain.Credential, id string) (*domain.DatasetDocument, error) {
	body, err := f.client.FetchDetails(ctx, cred, id)
	if err != nil {
		return nil, idError(domain.ErrDetailFetch, "fetch details", p.Name, id, err)
	}

	var doc domain.DatasetDocument
	if err := json.Unmarshal([]byte(StripControl(string(body))), &doc); err != nil {
		return nil, idError(domain.ErrParse, "parse details", p.Name, id, err)
	}

	doc.ExternalID = id
	doc.Provider = p.Name
	doc.SyncDate = f.now().UTC()
	return &doc, nil
}

func (f *Fetcher) logFailure(providerName, id string, err error) {
	fields := []logger.Field{
		logger.String("provider", providerName),
		logger.String("dataset_id", id),
		logger.Error(err),
	}

	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		fields = append(fields, logger.Int("status_code", statusErr.StatusCode))
	}

	f.log.Warn("Dataset detail skipped", fields...)
}

// StripControl removes control characters other than newline, carriage
// return and tab.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func idError(kind error, op, providerName, id string, err error) error {
	e := domain.NewError(kind, op, providerName, err)
	e.ID = id
	return e
}
