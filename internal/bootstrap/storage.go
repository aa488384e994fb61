package bootstrap

import (
	"context"
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/documents"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
)

// SetupDatabase connects to PostgreSQL and, unless disabled, applies pending
// migrations.
func SetupDatabase(ctx context.Context, cfg *config.Config, log logger.Logger) (*sqlx.DB, error) {
	db, err := database.Connect(ctx, &cfg.Database, log)
	if err != nil {
		return nil, err
	}

	log.Info("Database connection established",
		logger.String("host", cfg.Database.Host),
		logger.String("database", cfg.Database.Database),
	)

	if cfg.Database.ShouldAutoMigrate() {
		if migrateErr := database.Migrate(&cfg.Database, database.DirectionUp); migrateErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", migrateErr)
		}
		log.Info("Database migrations applied")
	}

	return db, nil
}

// SetupElasticsearch connects to the document store cluster.
func SetupElasticsearch(ctx context.Context, cfg *config.Config, log logger.Logger) (*es.Client, error) {
	return documents.NewClient(ctx, documents.ClientConfig{
		URL:      cfg.Elasticsearch.URL,
		Username: cfg.Elasticsearch.Username,
		Password: cfg.Elasticsearch.Password,
	}, log)
}

// SetupRedis connects to Redis when enabled. A nil client means the shared
// credential tier is off.
func SetupRedis(ctx context.Context, cfg *config.Config, log logger.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Address, err)
	}

	log.Info("Redis connection established", logger.String("address", cfg.Redis.Address))
	return client, nil
}
