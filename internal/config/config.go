// Package config loads the dataset-monitor configuration from YAML with
// .env and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
)

// Default service configuration values.
const (
	defaultServiceName    = "dataset-monitor"
	defaultServiceVersion = "1.0.0"
	defaultServicePort    = 8095
)

// Default database configuration values.
const (
	defaultDBHost          = "localhost"
	defaultDBPort          = 5432
	defaultDBUser          = "postgres"
	defaultDBName          = "dataset_monitor"
	defaultDBSSLMode       = "disable"
	defaultDBMaxConns      = 25
	defaultDBMaxIdleConns  = 5
	defaultDBConnLifetimeH = 1
)

// Default store configuration values.
const (
	defaultESURL       = "http://localhost:9200"
	defaultIndexPrefix = "datasets_"
	defaultRedisAddr   = "localhost:6379"
	defaultRedisPrefix = "dataset-monitor"
)

// Default monitor values.
const (
	defaultFetchIntervalDays = 30
	defaultCheckIntervalDays = 7
	defaultHTTPTimeout       = 30 * time.Second
	defaultMaxConcurrent     = 50
	defaultMaxRedirects      = 10
	defaultSafetyMargin      = 5 * time.Minute
	defaultProviderTimeout   = 60 * time.Second
)

// Config holds the application configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Providers     []domain.Provider   `yaml:"providers"`
	Database      DatabaseConfig      `yaml:"database"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis"`
	Credential    CredentialConfig    `yaml:"credential"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Logging       logger.Config       `yaml:"logging"`
}

// ServiceConfig holds service identity and the ops server port.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"DATASET_MONITOR_PORT" yaml:"port"`
	Debug   bool   `env:"APP_DEBUG"            yaml:"debug"`
}

// DatabaseConfig holds the PostgreSQL settings of the dedup and analytical
// stores.
type DatabaseConfig struct {
	Host                  string        `env:"POSTGRES_MONITOR_HOST"     yaml:"host"`
	Port                  int           `env:"POSTGRES_MONITOR_PORT"     yaml:"port"`
	User                  string        `env:"POSTGRES_MONITOR_USER"     yaml:"user"`
	Password              string        `env:"POSTGRES_MONITOR_PASSWORD" yaml:"password"`
	Database              string        `env:"POSTGRES_MONITOR_DB"       yaml:"database"`
	SSLMode               string        `yaml:"sslmode"`
	MaxConnections        int           `yaml:"max_connections"`
	MaxIdleConns          int           `yaml:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
	AutoMigrate           *bool         `yaml:"auto_migrate"`
}

// ElasticsearchConfig holds the document store settings.
type ElasticsearchConfig struct {
	URL         string `env:"ELASTICSEARCH_URL"      yaml:"url"`
	Username    string `env:"ELASTICSEARCH_USERNAME" yaml:"username"`
	Password    string `env:"ELASTICSEARCH_PASSWORD" yaml:"password"`
	IndexPrefix string `yaml:"index_prefix"`
}

// RedisConfig holds the optional shared credential store settings.
type RedisConfig struct {
	Enabled   bool   `env:"REDIS_ENABLED"  yaml:"enabled"`
	Address   string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password  string `env:"REDIS_PASSWORD" yaml:"password"`
	DB        int    `env:"REDIS_DB"       yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CredentialConfig holds ticket handling settings.
type CredentialConfig struct {
	// SafetyMargin is subtracted from the advertised ticket lifetime.
	SafetyMargin time.Duration `yaml:"safety_margin"`
	// RequestTimeout bounds ticket, list and detail requests.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MonitorConfig holds scheduling and probing settings.
type MonitorConfig struct {
	FetchIntervalDays int           `yaml:"fetch_interval_days"`
	CheckIntervalDays int           `yaml:"check_interval_days"`
	HTTPTimeout       time.Duration `env:"MONITOR_HTTP_TIMEOUT"   yaml:"http_timeout"`
	MaxConcurrent     int           `env:"MONITOR_MAX_CONCURRENT" yaml:"max_concurrent"`
	MaxRedirects      int           `yaml:"max_redirects"`
}

// Load reads the configuration file, applies defaults and env overrides, then
// validates. Every failure is a domain.ErrConfig.
func Load(path string) (*Config, error) {
	cfg, loadErr := loadFile(path, setDefaults)
	if loadErr != nil {
		return nil, domain.NewError(domain.ErrConfig, "load", "", loadErr)
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, domain.NewError(domain.ErrConfig, "validate", "", validateErr)
	}

	return cfg, nil
}

// EnabledProviders returns the providers that take part in runs, in
// configuration order.
func (c *Config) EnabledProviders() []domain.Provider {
	out := make([]domain.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return &ValidationError{Field: "service.port", Message: "must be between 1 and 65535"}
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			return &ValidationError{Field: field + ".name", Message: "is required"}
		}
		if _, dup := seen[p.Name]; dup {
			return &ValidationError{Field: field + ".name", Message: "duplicate provider " + p.Name}
		}
		seen[p.Name] = struct{}{}

		if p.URL == "" {
			return &ValidationError{Field: field + ".url", Message: "is required"}
		}
		if p.SecretKey == "" {
			return &ValidationError{Field: field + ".secret_key", Message: "is required"}
		}
		if p.ListMethod != domain.ListMethodGet && p.ListMethod != domain.ListMethodPost {
			return &ValidationError{Field: field + ".list_method", Message: "must be GET or POST"}
		}
		if p.DetailRate < 0 {
			return &ValidationError{Field: field + ".detail_rate", Message: "must not be negative"}
		}
	}

	if c.Database.Host == "" {
		return &ValidationError{Field: "database.host", Message: "is required"}
	}
	if c.Monitor.MaxConcurrent < 1 {
		return &ValidationError{Field: "monitor.max_concurrent", Message: "must be at least 1"}
	}
	if c.Monitor.FetchIntervalDays < 1 || c.Monitor.CheckIntervalDays < 1 {
		return &ValidationError{Field: "monitor", Message: "intervals must be at least one day"}
	}
	if c.Credential.SafetyMargin < 0 {
		return &ValidationError{Field: "credential.safety_margin", Message: "must not be negative"}
	}

	return nil
}

// ShouldAutoMigrate reports whether migrations run at startup.
func (d *DatabaseConfig) ShouldAutoMigrate() bool {
	return d.AutoMigrate == nil || *d.AutoMigrate
}

// DSN returns the lib/pq connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// MigrateURL returns the postgres URL used by golang-migrate.
func (d *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setProviderDefaults(cfg.Providers)
	setDatabaseDefaults(&cfg.Database)
	setStoreDefaults(cfg)
	setMonitorDefaults(&cfg.Monitor)
	cfg.Logging.SetDefaults()

	if cfg.Credential.SafetyMargin == 0 {
		cfg.Credential.SafetyMargin = defaultSafetyMargin
	}
	if cfg.Credential.RequestTimeout == 0 {
		cfg.Credential.RequestTimeout = defaultProviderTimeout
	}
}

func setServiceDefaults(s *ServiceConfig) {
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultServiceVersion
	}
	if s.Port == 0 {
		s.Port = defaultServicePort
	}
}

func setProviderDefaults(providers []domain.Provider) {
	for i := range providers {
		providers[i].ListMethod = strings.ToUpper(providers[i].ListMethod)
		if providers[i].ListMethod == "" {
			providers[i].ListMethod = domain.ListMethodGet
		}
	}
}

func setDatabaseDefaults(d *DatabaseConfig) {
	if d.Host == "" {
		d.Host = defaultDBHost
	}
	if d.Port == 0 {
		d.Port = defaultDBPort
	}
	if d.User == "" {
		d.User = defaultDBUser
	}
	if d.Database == "" {
		d.Database = defaultDBName
	}
	if d.SSLMode == "" {
		d.SSLMode = defaultDBSSLMode
	}
	if d.MaxConnections == 0 {
		d.MaxConnections = defaultDBMaxConns
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = defaultDBMaxIdleConns
	}
	if d.ConnectionMaxLifetime == 0 {
		d.ConnectionMaxLifetime = defaultDBConnLifetimeH * time.Hour
	}
}

func setStoreDefaults(cfg *Config) {
	if cfg.Elasticsearch.URL == "" {
		cfg.Elasticsearch.URL = defaultESURL
	}
	if cfg.Elasticsearch.IndexPrefix == "" {
		cfg.Elasticsearch.IndexPrefix = defaultIndexPrefix
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = defaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = defaultRedisPrefix
	}
}

func setMonitorDefaults(m *MonitorConfig) {
	if m.FetchIntervalDays == 0 {
		m.FetchIntervalDays = defaultFetchIntervalDays
	}
	if m.CheckIntervalDays == 0 {
		m.CheckIntervalDays = defaultCheckIntervalDays
	}
	if m.HTTPTimeout == 0 {
		m.HTTPTimeout = defaultHTTPTimeout
	}
	if m.MaxConcurrent == 0 {
		m.MaxConcurrent = defaultMaxConcurrent
	}
	if m.MaxRedirects == 0 {
		m.MaxRedirects = defaultMaxRedirects
	}
}
