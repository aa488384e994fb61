//nolint:testpackage // Testing the repository needs same package access
package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return NewRepository(sqlx.NewDb(mockDB, "postgres")), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_KnownIDs(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT dataset_id FROM processed_dataset_ids WHERE center_name = \\$1$").
		WithArgs("alpha").
		WillReturnRows(sqlmock.NewRows([]string{"dataset_id"}).AddRow("a").AddRow("b"))

	known, err := repo.KnownIDs(context.Background(), "alpha")
	require.NoError(t, err)

	assert.Len(t, known, 2)
	assert.Contains(t, known, "a")
	assert.Contains(t, known, "b")
	expectationsMet(t, mock)
}

func TestRepository_SavePending(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO processed_dataset_ids").
		WithArgs("alpha", pq.Array([]string{"c", "d"})).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.SavePending(context.Background(), "alpha", []string{"c", "d"}))
	expectationsMet(t, mock)
}

func TestRepository_SavePending_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)

	require.NoError(t, repo.SavePending(context.Background(), "alpha", nil))
	require.NoError(t, repo.MarkProcessed(context.Background(), "alpha"))
	expectationsMet(t, mock)
}

func TestRepository_PendingIDs(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("status = 'pending'").
		WithArgs("alpha").
		WillReturnRows(sqlmock.NewRows([]string{"dataset_id"}).AddRow("b"))

	ids, err := repo.PendingIDs(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
	expectationsMet(t, mock)
}

func TestRepository_MarkProcessed(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE processed_dataset_ids SET status = 'processed'").
		WithArgs("alpha", pq.Array([]string{"a"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkProcessed(context.Background(), "alpha", "a"))
	expectationsMet(t, mock)
}

func TestRepository_FailuresAreStorageErrors(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT dataset_id").
		WithArgs("alpha").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.KnownIDs(context.Background(), "alpha")
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.Contains(t, err.Error(), "connection reset")
	expectationsMet(t, mock)
}

func TestRepository_StatusCounts(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("GROUP BY center_name, status").
		WillReturnRows(sqlmock.NewRows([]string{"center_name", "status", "count"}).
			AddRow("alpha", "pending", 2).
			AddRow("alpha", "processed", 40))

	counts, err := repo.StatusCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, StatusCount{Provider: "alpha", Status: "processed", Count: 40}, counts[1])
	expectationsMet(t, mock)
}
