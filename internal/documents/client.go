package documents

import (
	"context"
	"fmt"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/retry"
)

const pingTimeout = 5 * time.Second

// ClientConfig holds the cluster address and credentials.
type ClientConfig struct {
	URL      string
	Username string
	Password string
}

// NewClient creates an Elasticsearch client and waits for the cluster to
// answer a ping.
func NewClient(ctx context.Context, cfg ClientConfig, log logger.Logger) (*es.Client, error) {
	addr := cfg.URL
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}

	client, err := es.NewClient(es.Config{
		Addresses: []string{addr},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	store := &Store{client: client, log: log}
	pingErr := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := store.Ping(pingCtx); err != nil {
			log.Debug("Elasticsearch not ready", logger.Error(err))
			return err
		}
		return nil
	})
	if pingErr != nil {
		return nil, fmt.Errorf("connect to elasticsearch at %s: %w", addr, pingErr)
	}

	log.Info("Elasticsearch connection established", logger.String("url", addr))
	return client, nil
}
