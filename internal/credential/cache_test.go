package credential_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/credential"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/provider"
)

type fakeIssuer struct {
	calls    atomic.Int32
	lifetime time.Duration
	err      error
}

func (f *fakeIssuer) RequestTicket(_ context.Context, p domain.Provider) (*provider.Ticket, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Ticket{
		Token:    p.Name + "-token-" + string(rune('0'+n)),
		Version:  "1.0",
		Services: map[string]string{domain.ServiceDatasetList: "http://list"},
		Lifetime: f.lifetime,
	}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var alpha = domain.Provider{Name: "alpha", URL: "http://ticket", SecretKey: "k"}

func TestGetOrRefresh_ReusesValidCredential(t *testing.T) {
	t.Parallel()

	issuer := &fakeIssuer{lifetime: time.Hour}
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := credential.NewCache(issuer, logger.NewNop(), credential.WithClock(clk.Now))
	ctx := context.Background()

	first, err := cache.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)
	second, err := cache.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), issuer.calls.Load())
	assert.Equal(t, clk.Now().Add(55*time.Minute), first.ExpiresAt)
}

func TestGetOrRefresh_RefreshesOnceAfterExpiry(t *testing.T) {
	t.Parallel()

	issuer := &fakeIssuer{lifetime: time.Hour}
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := credential.NewCache(issuer, logger.NewNop(),
		credential.WithClock(clk.Now),
		credential.WithSafetyMargin(10*time.Minute),
	)
	ctx := context.Background()

	first, err := cache.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)

	clk.Advance(50 * time.Minute)

	refreshed, err := cache.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)
	again, err := cache.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)

	assert.NotSame(t, first, refreshed)
	assert.Same(t, refreshed, again)
	assert.NotEqual(t, first.Token, refreshed.Token)
	assert.Equal(t, int32(2), issuer.calls.Load())
}

func TestGetOrRefresh_ProvidersAreIndependent(t *testing.T) {
	t.Parallel()

	issuer := &fakeIssuer{lifetime: time.Hour}
	cache := credential.NewCache(issuer, logger.NewNop())
	ctx := context.Background()

	a, err := cache.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)
	b, err := cache.GetOrRefresh(ctx, domain.Provider{Name: "beta"})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), issuer.calls.Load())

	cache.Invalidate(ctx, "alpha")
	_, err = cache.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)
	assert.Equal(t, int32(3), issuer.calls.Load())
}

func TestGetOrRefresh_FailureIsAuthError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	cache := credential.NewCache(&fakeIssuer{err: cause}, logger.NewNop())

	cred, err := cache.GetOrRefresh(context.Background(), alpha)
	assert.Nil(t, cred)
	require.ErrorIs(t, err, domain.ErrAuth)
	require.ErrorIs(t, err, cause)
}

func TestGetOrRefresh_ConcurrentCallersGetUsableCredential(t *testing.T) {
	t.Parallel()

	issuer := &fakeIssuer{lifetime: time.Hour}
	cache := credential.NewCache(issuer, logger.NewNop())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := cache.GetOrRefresh(context.Background(), alpha)
			assert.NoError(t, err)
			assert.NotEmpty(t, cred.Token)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, issuer.calls.Load(), int32(1))
}

func TestGetOrRefresh_SharedStoreAvoidsSecondTicket(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	issuer := &fakeIssuer{lifetime: time.Hour}
	ctx := context.Background()

	first := credential.NewCache(issuer, logger.NewNop(),
		credential.WithSharedStore(credential.NewRedisStore(client, "test")))
	second := credential.NewCache(issuer, logger.NewNop(),
		credential.WithSharedStore(credential.NewRedisStore(client, "test")))

	a, err := first.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)
	b, err := second.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)

	assert.Equal(t, a.Token, b.Token)
	assert.Equal(t, int32(1), issuer.calls.Load())
	assert.True(t, mr.Exists("test:credential:alpha"))
}

func TestGetOrRefresh_SharedStoreOutageFallsBack(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	issuer := &fakeIssuer{lifetime: time.Hour}
	cache := credential.NewCache(issuer, logger.NewNop(),
		credential.WithSharedStore(credential.NewRedisStore(client, "test")))

	cred, err := cache.GetOrRefresh(context.Background(), alpha)
	require.NoError(t, err)
	assert.NotEmpty(t, cred.Token)
	assert.Equal(t, int32(1), issuer.calls.Load())
}

func TestRedisStore_MissAndExpired(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := credential.NewRedisStore(client, "test")
	ctx := context.Background()

	cred, err := store.Get(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, store.Put(ctx, "old", &domain.Credential{Token: "t", ExpiresAt: time.Now().Add(-time.Minute)}))
	assert.False(t, mr.Exists("test:credential:old"))

	require.NoError(t, store.Put(ctx, "fresh", &domain.Credential{Token: "t", ExpiresAt: time.Now().Add(time.Hour)}))
	got, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "t", got.Token)
	assert.Greater(t, mr.TTL("test:credential:fresh"), 50*time.Minute)
}

func TestInvalidate_ClearsSharedTier(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	issuer := &fakeIssuer{lifetime: time.Hour}
	cache := credential.NewCache(issuer, logger.NewNop(),
		credential.WithSharedStore(credential.NewRedisStore(client, "test")))
	ctx := context.Background()

	first, err := cache.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)
	require.True(t, mr.Exists("test:credential:alpha"))

	cache.Invalidate(ctx, "alpha")
	assert.False(t, mr.Exists("test:credential:alpha"))

	second, err := cache.GetOrRefresh(ctx, alpha)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, int32(2), issuer.calls.Load())
}
