// Package dedup persists which dataset ids have been discovered and which of
// them already have a stored document.
package dedup

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
)

const (
	insertPendingQuery = `
		INSERT INTO processed_dataset_ids (center_name, dataset_id, status)
		SELECT $1, unnest($2::text[]), 'pending'
		ON CONFLICT (center_name, dataset_id) DO NOTHING`

	knownIDsQuery = `
		SELECT dataset_id FROM processed_dataset_ids
		WHERE center_name = $1`

	pendingIDsQuery = `
		SELECT dataset_id FROM processed_dataset_ids
		WHERE center_name = $1 AND status = 'pending'
		ORDER BY created_at, dataset_id`

	markProcessedQuery = `
		UPDATE processed_dataset_ids
		SET status = 'processed', updated_at = NOW()
		WHERE center_name = $1 AND dataset_id = ANY($2::text[]) AND status = 'pending'`

	statusCountsQuery = `
		SELECT center_name, status, COUNT(*) AS count
		FROM processed_dataset_ids
		GROUP BY center_name, status
		ORDER BY center_name, status`
)

// StatusCount is the number of ids of one provider in one state.
type StatusCount struct {
	Provider string `db:"center_name"`
	Status   string `db:"status"`
	Count    int64  `db:"count"`
}

// Repository stores ProcessedID rows in PostgreSQL.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new dedup repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// KnownIDs returns every id recorded for the provider regardless of status.
func (r *Repository) KnownIDs(ctx context.Context, providerName string) (map[string]struct{}, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, knownIDsQuery, providerName); err != nil {
		return nil, storageErr("load known ids", providerName, err)
	}

	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return known, nil
}

// SavePending records ids as pending. Ids already present keep their status.
func (r *Repository) SavePending(ctx context.Context, providerName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := r.db.ExecContext(ctx, insertPendingQuery, providerName, pq.Array(ids)); err != nil {
		return storageErr("save pending ids", providerName, err)
	}
	return nil
}

// PendingIDs returns the ids still waiting for their document.
func (r *Repository) PendingIDs(ctx context.Context, providerName string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, pendingIDsQuery, providerName); err != nil {
		return nil, storageErr("load pending ids", providerName, err)
	}
	return ids, nil
}

// MarkProcessed moves ids from pending to processed. Processed ids are left
// untouched.
func (r *Repository) MarkProcessed(ctx context.Context, providerName string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := r.db.ExecContext(ctx, markProcessedQuery, providerName, pq.Array(ids)); err != nil {
		return storageErr("mark processed", providerName, err)
	}
	return nil
}

// StatusCounts returns per provider and status totals.
func (r *Repository) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	if err := r.db.SelectContext(ctx, &counts, statusCountsQuery); err != nil {
		return nil, storageErr("count statuses", "", err)
	}
	return counts, nil
}

func storageErr(op, providerName string, err error) error {
	return domain.NewError(domain.ErrStorage, op, providerName, fmt.Errorf("processed_dataset_ids: %w", err))
}
