package bootstrap_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
)

func TestLoadConfig_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: alpha
    url: https://alpha.example.org/ticket
    secret_key: k
`), 0o600))

	cfg, err := bootstrap.LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, domain.ListMethodGet, cfg.Providers[0].ListMethod)
}

func TestLoadConfig_MissingFileIsConfigError(t *testing.T) {
	_, err := bootstrap.LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestCreateLogger(t *testing.T) {
	cfg := &config.Config{Service: config.ServiceConfig{Name: "dataset-monitor"}}
	cfg.Logging.SetDefaults()

	log, err := bootstrap.CreateLogger(cfg, true)
	require.NoError(t, err)
	require.NotNil(t, log)
	_ = log.Sync()
}

func TestSetupRedis(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{}
	client, err := bootstrap.SetupRedis(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, client)

	mr := miniredis.RunT(t)
	cfg.Redis = config.RedisConfig{Enabled: true, Address: mr.Addr()}
	client, err = bootstrap.SetupRedis(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.NoError(t, client.Close())

	mr.Close()
	_, err = bootstrap.SetupRedis(ctx, cfg, logger.NewNop())
	assert.Error(t, err)
}
