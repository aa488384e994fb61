// Package credential keeps one access ticket per provider and refreshes it
// shortly before the provider lets it lapse.
package credential

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/provider"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/telemetry"
)

// DefaultSafetyMargin is subtracted from every advertised ticket lifetime.
const DefaultSafetyMargin = 5 * time.Minute

// TicketIssuer requests new tickets from a provider.
type TicketIssuer interface {
	RequestTicket(ctx context.Context, p domain.Provider) (*provider.Ticket, error)
}

// SharedStore is a second-level store shared between processes. Get returns
// nil without error on a miss.
type SharedStore interface {
	Get(ctx context.Context, provider string) (*domain.Credential, error)
	Put(ctx context.Context, provider string, cred *domain.Credential) error
	Delete(ctx context.Context, provider string) error
}

// Cache maps provider names to their current credential.
type Cache struct {
	issuer  TicketIssuer
	shared  SharedStore
	margin  time.Duration
	now     func() time.Time
	log     logger.Logger
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	entries map[string]*domain.Credential
}

// Option configures a Cache.
type Option func(*Cache)

// WithSafetyMargin overrides DefaultSafetyMargin.
func WithSafetyMargin(d time.Duration) Option {
	return func(c *Cache) { c.margin = d }
}

// WithSharedStore enables the cross-process tier.
func WithSharedStore(s SharedStore) Option {
	return func(c *Cache) { c.shared = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records ticket requests.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache creates an empty cache.
func NewCache(issuer TicketIssuer, log logger.Logger, opts ...Option) *Cache {
	c := &Cache{
		issuer:  issuer,
		margin:  DefaultSafetyMargin,
		now:     time.Now,
		log:     log,
		entries: make(map[string]*domain.Credential),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrRefresh returns the cached credential while it is valid, otherwise
// requests a new ticket and replaces the entry. Concurrent misses may each
// refresh; the last write wins. Failures are domain.ErrAuth.
func (c *Cache) GetOrRefresh(ctx context.Context, p domain.Provider) (*domain.Credential, error) {
	if cred := c.lookup(p.Name); cred.Valid(c.now()) {
		return cred, nil
	}

	if cred := c.fromShared(ctx, p.Name); cred != nil {
		c.store(p.Name, cred)
		return cred, nil
	}

	c.log.Info("Requesting new ticket", logger.String("provider", p.Name))

	ticket, err := c.issuer.RequestTicket(ctx, p)
	c.metrics.RecordCredentialRefresh(p.Name, err)
	if err != nil {
		return nil, domain.NewError(domain.ErrAuth, "request ticket", p.Name, err)
	}

	cred := &domain.Credential{
		Token:     ticket.Token,
		Version:   ticket.Version,
		Services:  ticket.Services,
		ExpiresAt: c.now().Add(ticket.Lifetime - c.margin),
	}
	c.store(p.Name, cred)
	c.toShared(ctx, p.Name, cred)

	return cred, nil
}

// Invalidate drops the credential of a provider from both tiers, so the next
// GetOrRefresh requests a new ticket. Used when a provider rejects a token
// before its advertised expiry.
func (c *Cache) Invalidate(ctx context.Context, providerName string) {
	c.mu.Lock()
	delete(c.entries, providerName)
	c.mu.Unlock()

	if c.shared == nil {
		return
	}
	if err := c.shared.Delete(ctx, providerName); err != nil {
		c.log.Warn("Shared credential delete failed",
			logger.String("provider", providerName),
			logger.Error(err),
		)
	}
}

func (c *Cache) lookup(name string) *domain.Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[name]
}

func (c *Cache) store(name string, cred *domain.Credential) {
	c.mu.Lock()
	c.entries[name] = cred
	c.mu.Unlock()
}

func (c *Cache) fromShared(ctx context.Context, name string) *domain.Credential {
	if c.shared == nil {
		return nil
	}

	cred, err := c.shared.Get(ctx, name)
	if err != nil {
		c.log.Warn("Shared credential lookup failed",
			logger.String("provider", name),
			logger.Error(err),
		)
		return nil
	}
	if !cred.Valid(c.now()) {
		return nil
	}
	return cred
}

func (c *Cache) toShared(ctx context.Context, name string, cred *domain.Credential) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Put(ctx, name, cred); err != nil {
		c.log.Warn("Shared credential write failed",
			logger.String("provider", name),
			logger.Error(err),
		)
	}
}
