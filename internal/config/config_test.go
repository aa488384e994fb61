package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
)

const sampleConfig = `
providers:
  - name: alpha
    url: https://alpha.example.org/ticket
    secret_key: s3cret
  - name: beta
    url: https://beta.example.org/ticket
    secret_key: other
    list_method: post
    detail_rate: 2.5
  - name: gamma
    url: https://gamma.example.org/ticket
    secret_key: third
    enabled: false
database:
  host: db.internal
  password: pw
monitor:
  max_concurrent: 8
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "dataset-monitor", cfg.Service.Name)
	assert.Equal(t, 8095, cfg.Service.Port)
	assert.Equal(t, 30, cfg.Monitor.FetchIntervalDays)
	assert.Equal(t, 7, cfg.Monitor.CheckIntervalDays)
	assert.Equal(t, 30*time.Second, cfg.Monitor.HTTPTimeout)
	assert.Equal(t, 8, cfg.Monitor.MaxConcurrent)
	assert.Equal(t, 10, cfg.Monitor.MaxRedirects)
	assert.Equal(t, 5*time.Minute, cfg.Credential.SafetyMargin)
	assert.Equal(t, "datasets_", cfg.Elasticsearch.IndexPrefix)
	assert.True(t, cfg.Database.ShouldAutoMigrate())

	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, domain.ListMethodGet, cfg.Providers[0].ListMethod)
	assert.Equal(t, domain.ListMethodPost, cfg.Providers[1].ListMethod)
	assert.InDelta(t, 2.5, cfg.Providers[1].DetailRate, 0.001)

	enabled := cfg.EnabledProviders()
	require.Len(t, enabled, 2)
	assert.Equal(t, "alpha", enabled[0].Name)
	assert.Equal(t, "beta", enabled[1].Name)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("POSTGRES_MONITOR_HOST", "pg.override")
	t.Setenv("MONITOR_HTTP_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "pg.override", cfg.Database.Host)
	assert.Equal(t, 5*time.Second, cfg.Monitor.HTTPTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ValidationFailuresAreConfigErrors(t *testing.T) {
	testCases := []struct {
		name  string
		body  string
		field string
	}{
		{
			name:  "missing secret",
			body:  "providers:\n  - name: a\n    url: http://a\n",
			field: "providers[0].secret_key",
		},
		{
			name:  "bad list method",
			body:  "providers:\n  - name: a\n    url: http://a\n    secret_key: k\n    list_method: PUT\n",
			field: "providers[0].list_method",
		},
		{
			name:  "duplicate provider",
			body:  "providers:\n  - {name: a, url: http://a, secret_key: k}\n  - {name: a, url: http://b, secret_key: k}\n",
			field: "providers[1].name",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			require.Error(t, err)
			require.ErrorIs(t, err, domain.ErrConfig)

			var vErr *config.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, config.DefaultPath, config.GetConfigPath(config.DefaultPath))

	t.Setenv("CONFIG_PATH", "/etc/dataset-monitor.yml")
	assert.Equal(t, "/etc/dataset-monitor.yml", config.GetConfigPath(config.DefaultPath))
}
