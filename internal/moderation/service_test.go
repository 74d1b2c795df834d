package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scamnemesis/report-engine/internal/models"
	"github.com/scamnemesis/report-engine/internal/repositories"
)

func newMockService(t *testing.T) (pgxmock.PgxPoolIface, *Service) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	db := repositories.NewDatabaseWithPool(mock)
	svc := NewService(
		db,
		repositories.NewClusterRepository(db),
		repositories.NewReportRepository(db),
		repositories.NewAuditRepository(db),
		nil,
	)
	return mock, svc
}

var clusterColumns = []string{
	"id", "match_type", "confidence", "status", "member_key",
	"primary_report_id", "merged_at", "created_at",
}

var memberColumns = []string{"cluster_id", "report_id", "similarity", "is_primary"}

func TestListAllStatusDisablesFilter(t *testing.T) {
	mock, svc := newMockService(t)

	// "all" must reach the queries as an empty string, not as a literal
	// status value no cluster ever has
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM duplicate_clusters`).
		WithArgs("", "", 0).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`FROM duplicate_clusters`).
		WithArgs("", "", 0, 20, 0).
		WillReturnRows(pgxmock.NewRows(clusterColumns))

	_, total, err := svc.List(context.Background(), "all", "", 0, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListConcreteStatusForwarded(t *testing.T) {
	mock, svc := newMockService(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM duplicate_clusters`).
		WithArgs(models.ClusterStatusDismissed, "", 0).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM duplicate_clusters`).
		WithArgs(models.ClusterStatusDismissed, "", 0, 20, 0).
		WillReturnRows(pgxmock.NewRows(clusterColumns))

	clusters, total, err := svc.List(context.Background(), models.ClusterStatusDismissed, "", 0, 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, clusters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeConflictReportsCurrentStatus(t *testing.T) {
	mock, svc := newMockService(t)

	clusterID := uuid.New()
	primary := uuid.New()
	other := uuid.New()
	memberKey := primary.String() + ":" + other.String()
	createdAt := time.Now()
	mergedAt := time.Now()

	// Initial read sees the cluster still pending
	mock.ExpectQuery(`FROM duplicate_clusters\s+WHERE id = \$1`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(clusterColumns).
			AddRow(clusterID, models.MatchTypeIBANExact, 84, models.ClusterStatusPending, memberKey, nil, nil, createdAt))
	mock.ExpectQuery(`FROM cluster_members`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(memberColumns).
			AddRow(clusterID, primary, 84, true).
			AddRow(clusterID, other, 84, false))

	// Another moderator resolved it in between, so the guarded update
	// matches no rows and the transaction rolls back
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE duplicate_clusters`).
		WithArgs(clusterID, primary, models.ClusterStatusMerged, models.ClusterStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM duplicate_clusters\s+WHERE id = \$1`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(clusterColumns).
			AddRow(clusterID, models.MatchTypeIBANExact, 84, models.ClusterStatusMerged, memberKey, &primary, &mergedAt, createdAt))
	mock.ExpectQuery(`FROM cluster_members`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(memberColumns).
			AddRow(clusterID, primary, 84, true).
			AddRow(clusterID, other, 84, false))
	mock.ExpectRollback()

	_, err := svc.Merge(context.Background(), clusterID, uuid.Nil, Decision{UserID: uuid.New()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrClusterNotPending))
	assert.Contains(t, err.Error(), models.ClusterStatusMerged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeRejectsNonMemberPrimary(t *testing.T) {
	mock, svc := newMockService(t)

	clusterID := uuid.New()
	memberA := uuid.New()
	memberB := uuid.New()

	mock.ExpectQuery(`FROM duplicate_clusters\s+WHERE id = \$1`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(clusterColumns).
			AddRow(clusterID, models.MatchTypePhoneExact, 80, models.ClusterStatusPending, memberA.String()+":"+memberB.String(), nil, nil, time.Now()))
	mock.ExpectQuery(`FROM cluster_members`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(memberColumns).
			AddRow(clusterID, memberA, 80, true).
			AddRow(clusterID, memberB, 80, false))

	_, err := svc.Merge(context.Background(), clusterID, uuid.New(), Decision{UserID: uuid.New()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrimaryNotMember))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDismissConflictReportsCurrentStatus(t *testing.T) {
	mock, svc := newMockService(t)

	clusterID := uuid.New()
	memberA := uuid.New()
	memberB := uuid.New()
	memberKey := memberA.String() + ":" + memberB.String()

	mock.ExpectQuery(`FROM duplicate_clusters\s+WHERE id = \$1`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(clusterColumns).
			AddRow(clusterID, models.MatchTypeNameAndLocation, 65, models.ClusterStatusPending, memberKey, nil, nil, time.Now()))
	mock.ExpectQuery(`FROM cluster_members`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(memberColumns).
			AddRow(clusterID, memberA, 65, true).
			AddRow(clusterID, memberB, 65, false))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE duplicate_clusters`).
		WithArgs(clusterID, models.ClusterStatusDismissed, models.ClusterStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM duplicate_clusters\s+WHERE id = \$1`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(clusterColumns).
			AddRow(clusterID, models.MatchTypeNameAndLocation, 65, models.ClusterStatusDismissed, memberKey, nil, nil, time.Now()))
	mock.ExpectQuery(`FROM cluster_members`).
		WithArgs(clusterID).
		WillReturnRows(pgxmock.NewRows(memberColumns).
			AddRow(clusterID, memberA, 65, true).
			AddRow(clusterID, memberB, 65, false))
	mock.ExpectRollback()

	_, err := svc.Dismiss(context.Background(), clusterID, "same scam, different victims", Decision{UserID: uuid.New()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrClusterNotPending))
	assert.Contains(t, err.Error(), models.ClusterStatusDismissed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
