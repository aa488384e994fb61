// Package analytics writes health records to the dataset_monitor table in
// bulk: a COPY for the pre-probe insert and a staging-table join for the
// result update.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
)

const (
	tableName   = "dataset_monitor"
	stagingName = "dataset_monitor_staging"
)

var insertColumns = []string{
	"id", "raw_id", "url", "name", "center_name", "date_published", "check_time",
	"status_code", "status_text", "error_category", "error_msg", "error_detail",
	"response_time_ms", "is_likely_local_issue", "headers", "created_at", "updated_at",
}

var resultColumns = []string{
	"id", "check_time", "status_code", "status_text", "error_category", "error_msg",
	"error_detail", "response_time_ms", "is_likely_local_issue", "headers",
}

const (
	createStagingQuery = `
		CREATE TEMP TABLE dataset_monitor_staging (
			id UUID PRIMARY KEY,
			check_time TIMESTAMPTZ NOT NULL,
			status_code INTEGER,
			status_text TEXT,
			error_category TEXT,
			error_msg TEXT,
			error_detail TEXT,
			response_time_ms BIGINT,
			is_likely_local_issue BOOLEAN,
			headers TEXT
		) ON COMMIT DROP`

	mergeStagingQuery = `
		UPDATE dataset_monitor AS t SET
			check_time = s.check_time,
			status_code = s.status_code,
			status_text = s.status_text,
			error_category = s.error_category,
			error_msg = s.error_msg,
			error_detail = s.error_detail,
			response_time_ms = s.response_time_ms,
			is_likely_local_issue = s.is_likely_local_issue,
			headers = s.headers,
			updated_at = NOW()
		FROM dataset_monitor_staging AS s
		WHERE t.id = s.id`

	countIncompleteQuery = `
		SELECT COUNT(*) FROM dataset_monitor
		WHERE status_code IS NULL AND error_category IS NULL`
)

// Writer serializes bulk writes to the analytical store.
type Writer struct {
	db *sqlx.DB
	mu sync.Mutex
}

// NewWriter creates a writer on the given connection.
func NewWriter(db *sqlx.DB) *Writer {
	return &Writer{db: db}
}

// Insert copies the records into dataset_monitor in one transaction. An empty
// slice issues no statements.
func (w *Writer) Insert(ctx context.Context, records []domain.HealthRecord) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.inTx(ctx, func(tx *sqlx.Tx) error {
		return copyRows(ctx, tx, tableName, insertColumns, records, insertRow)
	})
	if err != nil {
		return storageErr("insert health records", err)
	}
	return nil
}

// Update writes probe results for records inserted earlier, matched on the
// synthetic id. The statement count does not grow with the batch.
func (w *Writer) Update(ctx context.Context, records []domain.HealthRecord) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, createStagingQuery); err != nil {
			return fmt.Errorf("create staging table: %w", err)
		}
		if err := copyRows(ctx, tx, stagingName, resultColumns, records, resultRow); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, mergeStagingQuery); err != nil {
			return fmt.Errorf("merge staging table: %w", err)
		}
		return nil
	})
	if err != nil {
		return storageErr("update health records", err)
	}
	return nil
}

// CountIncomplete returns the number of rows whose probe never finished.
func (w *Writer) CountIncomplete(ctx context.Context) (int64, error) {
	var n int64
	if err := w.db.GetContext(ctx, &n, countIncompleteQuery); err != nil {
		return 0, storageErr("count incomplete records", err)
	}
	return n, nil
}

func (w *Writer) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func copyRows(
	ctx context.Context,
	tx *sqlx.Tx,
	table string,
	columns []string,
	records []domain.HealthRecord,
	row func(*domain.HealthRecord) []any,
) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return fmt.Errorf("prepare copy into %s: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range records {
		if _, err := stmt.ExecContext(ctx, row(&records[i])...); err != nil {
			return fmt.Errorf("copy row into %s: %w", table, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush copy into %s: %w", table, err)
	}
	return nil
}

func insertRow(r *domain.HealthRecord) []any {
	return []any{
		r.ID, domain.CleanText(r.RawID), domain.CleanText(r.URL), domain.CleanText(r.Name),
		domain.CleanText(r.CenterName), domain.CleanText(r.DatePublished), r.CheckTime,
		nullInt(r.StatusCode), nullString(r.StatusText), nullCategory(r.ErrorCategory),
		nullString(r.ErrorMsg), nullString(r.ErrorDetail), nullInt64(r.ResponseTimeMS),
		nullBool(r.IsLikelyLocalIssue), nullString(r.Headers), r.CreatedAt, r.UpdatedAt,
	}
}

func resultRow(r *domain.HealthRecord) []any {
	return []any{
		r.ID, r.CheckTime,
		nullInt(r.StatusCode), nullString(r.StatusText), nullCategory(r.ErrorCategory),
		nullString(r.ErrorMsg), nullString(r.ErrorDetail), nullInt64(r.ResponseTimeMS),
		nullBool(r.IsLikelyLocalIssue), nullString(r.Headers),
	}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: domain.CleanText(*v), Valid: true}
}

func nullCategory(v *domain.ErrorCategory) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func storageErr(op string, err error) error {
	return domain.NewError(domain.ErrStorage, op, "", fmt.Errorf("%s: %w", tableName, err))
}
