package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
)

// RedisStore shares credentials between processes through Redis. Entries
// expire together with the credential.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store writing keys under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(providerName string) string {
	return s.prefix + ":credential:" + providerName
}

// Get loads the credential of a provider, nil when absent.
func (s *RedisStore) Get(ctx context.Context, providerName string) (*domain.Credential, error) {
	raw, err := s.client.Get(ctx, s.key(providerName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}

	var cred domain.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &cred, nil
}

// Put stores the credential until it expires. Already expired credentials
// are not written.
func (s *RedisStore) Put(ctx context.Context, providerName string, cred *domain.Credential) error {
	ttl := cred.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	if err := s.client.Set(ctx, s.key(providerName), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

// Delete removes the shared credential of a provider.
func (s *RedisStore) Delete(ctx context.Context, providerName string) error {
	if err := s.client.Del(ctx, s.key(providerName)).Err(); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
