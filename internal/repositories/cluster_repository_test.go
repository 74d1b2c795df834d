package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scamnemesis/report-engine/internal/models"
)

func newMockClusterRepo(t *testing.T) (pgxmock.PgxPoolIface, *ClusterRepository, *Database) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	db := NewDatabaseWithPool(mock)
	return mock, NewClusterRepository(db), db
}

func TestMarkMergedStampsMergedAt(t *testing.T) {
	mock, repo, db := newMockClusterRepo(t)

	id := uuid.New()
	primary := uuid.New()

	mock.ExpectBegin()
	// The merge update must set merged_at in the same statement as the
	// status transition, so merged_at is present exactly on MERGED rows
	mock.ExpectExec(`UPDATE duplicate_clusters\s+SET status = \$3, primary_report_id = \$2, merged_at = NOW\(\)\s+WHERE id = \$1 AND status = \$4`).
		WithArgs(id, primary, models.ClusterStatusMerged, models.ClusterStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := db.WithTransaction(context.Background(), func(tx pgx.Tx) error {
		return repo.MarkMerged(context.Background(), tx, id, primary)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkMergedAlreadyResolved(t *testing.T) {
	mock, repo, db := newMockClusterRepo(t)

	id := uuid.New()
	primary := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE duplicate_clusters`).
		WithArgs(id, primary, models.ClusterStatusMerged, models.ClusterStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := db.WithTransaction(context.Background(), func(tx pgx.Tx) error {
		return repo.MarkMerged(context.Background(), tx, id, primary)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClusterNotPending))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDismissedLeavesMergedAtUnset(t *testing.T) {
	mock, repo, db := newMockClusterRepo(t)

	id := uuid.New()

	mock.ExpectBegin()
	// Dismissal only flips the status; the statement never touches
	// merged_at or primary_report_id
	mock.ExpectExec(`UPDATE duplicate_clusters\s+SET status = \$2\s+WHERE id = \$1 AND status = \$3`).
		WithArgs(id, models.ClusterStatusDismissed, models.ClusterStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := db.WithTransaction(context.Background(), func(tx pgx.Tx) error {
		return repo.MarkDismissed(context.Background(), tx, id)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDismissedAlreadyResolved(t *testing.T) {
	mock, repo, db := newMockClusterRepo(t)

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE duplicate_clusters`).
		WithArgs(id, models.ClusterStatusDismissed, models.ClusterStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := db.WithTransaction(context.Background(), func(tx pgx.Tx) error {
		return repo.MarkDismissed(context.Background(), tx, id)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClusterNotPending))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasDismissedSuppressesMemberKey(t *testing.T) {
	mock, repo, _ := newMockClusterRepo(t)

	memberKey := uuid.New().String() + ":" + uuid.New().String()

	mock.ExpectQuery(`SELECT EXISTS\(\s+SELECT 1 FROM duplicate_clusters\s+WHERE member_key = \$1 AND status = \$2`).
		WithArgs(memberKey, models.ClusterStatusDismissed).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	dismissed, err := repo.HasDismissed(context.Background(), memberKey)
	require.NoError(t, err)
	assert.True(t, dismissed)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(memberKey, models.ClusterStatusDismissed).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	dismissed, err = repo.HasDismissed(context.Background(), memberKey)
	require.NoError(t, err)
	assert.False(t, dismissed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStatusFilterPassthrough(t *testing.T) {
	mock, repo, _ := newMockClusterRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM duplicate_clusters`).
		WithArgs(models.ClusterStatusPending, "", 0).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM duplicate_clusters`).
		WithArgs(models.ClusterStatusPending, "", 0, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "match_type", "confidence", "status", "member_key",
			"primary_report_id", "merged_at", "created_at",
		}))

	clusters, total, err := repo.List(context.Background(), models.ClusterStatusPending, "", 0, 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, clusters)
	assert.NoError(t, mock.ExpectationsWereMet())
}
