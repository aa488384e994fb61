package bootstrap

import (
	"context"
	"errors"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/analytics"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/credential"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/dedup"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/detail"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/discovery"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/documents"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/pipeline"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/probe"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/provider"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/telemetry"
)

// App holds the connections and components of a running service.
type App struct {
	Config  *config.Config
	Log     logger.Logger
	Metrics *telemetry.Metrics

	DB    *sqlx.DB
	ES    *es.Client
	Redis *redis.Client

	IDs       *dedup.Repository
	Documents *documents.Store
	Analytics *analytics.Writer
	Pipeline  *pipeline.Pipeline
}

// NewApp connects every store and builds the pipeline. Connections opened
// before a failure are closed.
func NewApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log, Metrics: telemetry.New()}

	var err error
	if app.DB, err = SetupDatabase(ctx, cfg, log); err != nil {
		return nil, err
	}
	if app.ES, err = SetupElasticsearch(ctx, cfg, log); err != nil {
		app.Close()
		return nil, err
	}
	if app.Redis, err = SetupRedis(ctx, cfg, log); err != nil {
		app.Close()
		return nil, err
	}

	app.IDs = dedup.NewRepository(app.DB)
	app.Documents = documents.NewStore(app.ES, cfg.Elasticsearch.IndexPrefix, log)
	app.Analytics = analytics.NewWriter(app.DB)
	app.Pipeline = app.buildPipeline()

	return app, nil
}

func (a *App) buildPipeline() *pipeline.Pipeline {
	cfg := a.Config
	client := provider.NewClient(cfg.Credential.RequestTimeout)

	opts := []credential.Option{
		credential.WithSafetyMargin(cfg.Credential.SafetyMargin),
		credential.WithMetrics(a.Metrics),
	}
	if a.Redis != nil {
		opts = append(opts, credential.WithSharedStore(credential.NewRedisStore(a.Redis, cfg.Redis.KeyPrefix)))
	}
	creds := credential.NewCache(client, a.Log, opts...)

	return pipeline.New(cfg.Providers, pipeline.Deps{
		Discoverer: discovery.NewEngine(creds, client, a.IDs, a.Log, a.Metrics),
		Details:    detail.NewFetcher(creds, client, a.IDs, a.Documents, a.Log, detail.WithMetrics(a.Metrics)),
		Documents:  a.Documents,
		Prober: probe.NewProber(probe.Config{
			Timeout:       cfg.Monitor.HTTPTimeout,
			MaxConcurrent: cfg.Monitor.MaxConcurrent,
			MaxRedirects:  cfg.Monitor.MaxRedirects,
		}, a.Analytics, a.Log, a.Metrics),
		Logger:  a.Log,
		Metrics: a.Metrics,
	})
}

// Close releases the connections.
func (a *App) Close() {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.Log.Error("Failed to close connections", logger.Error(err))
	}
}
