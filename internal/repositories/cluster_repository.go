package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scamnemesis/report-engine/internal/models"
)

var (
	ErrClusterNotFound    = errors.New("duplicate cluster not found")
	ErrClusterNotPending  = errors.New("duplicate cluster is not pending")
	ErrDuplicateCluster   = errors.New("pending cluster with same members already exists")
	ErrOverlappingCluster = errors.New("a member already belongs to a pending cluster")
)

// ClusterRepository handles duplicate cluster database operations
type ClusterRepository struct {
	db *Database
}

// NewClusterRepository creates a new cluster repository
func NewClusterRepository(db *Database) *ClusterRepository {
	return &ClusterRepository{db: db}
}

// Create creates a new pending cluster with its members. A partial unique
// index on member_key (WHERE status = 'PENDING') prevents duplicate open
// clusters for the same member set, and a report never sits in more than
// one pending cluster at a time.
func (r *ClusterRepository) Create(ctx context.Context, cluster *models.DuplicateCluster) error {
	cluster.ID = uuid.New()
	cluster.Status = models.ClusterStatusPending
	cluster.CreatedAt = time.Now()

	memberIDs := make([]uuid.UUID, 0, len(cluster.Members))
	for _, m := range cluster.Members {
		memberIDs = append(memberIDs, m.ReportID)
	}

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var overlapping bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM cluster_members cm
				JOIN duplicate_clusters dc ON dc.id = cm.cluster_id
				WHERE dc.status = $1 AND cm.report_id = ANY($2)
			)
		`, models.ClusterStatusPending, memberIDs).Scan(&overlapping)
		if err != nil {
			return err
		}
		if overlapping {
			return ErrOverlappingCluster
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO duplicate_clusters (id, match_type, confidence, status, member_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, cluster.ID, cluster.MatchType, cluster.Confidence, cluster.Status, cluster.MemberKey, cluster.CreatedAt)
		if err != nil {
			return err
		}

		for _, m := range cluster.Members {
			_, err := tx.Exec(ctx, `
				INSERT INTO cluster_members (cluster_id, report_id, similarity, is_primary)
				VALUES ($1, $2, $3, $4)
			`, cluster.ID, m.ReportID, m.Similarity, m.IsPrimary)
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateCluster
		}
		return err
	}
	return nil
}

// HasDismissed reports whether a cluster with the given member key was
// previously dismissed. Dismissed member sets are suppressed from re-surfacing.
func (r *ClusterRepository) HasDismissed(ctx context.Context, memberKey string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM duplicate_clusters
			WHERE member_key = $1 AND status = $2
		)
	`, memberKey, models.ClusterStatusDismissed).Scan(&exists)
	return exists, err
}

// GetByID retrieves a cluster with its members
func (r *ClusterRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DuplicateCluster, error) {
	cluster := &models.DuplicateCluster{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, match_type, confidence, status, member_key, primary_report_id, merged_at, created_at
		FROM duplicate_clusters
		WHERE id = $1
	`, id).Scan(
		&cluster.ID,
		&cluster.MatchType,
		&cluster.Confidence,
		&cluster.Status,
		&cluster.MemberKey,
		&cluster.PrimaryReportID,
		&cluster.MergedAt,
		&cluster.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClusterNotFound
		}
		return nil, err
	}

	if err := r.loadMembers(ctx, cluster); err != nil {
		return nil, err
	}
	return cluster, nil
}

// List retrieves clusters with pagination, optionally filtered by status,
// match type and minimum confidence. Results are ordered by confidence so
// moderators see the strongest matches first.
func (r *ClusterRepository) List(ctx context.Context, status, matchType string, minConfidence, page, pageSize int) ([]*models.DuplicateCluster, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `
		SELECT COUNT(*) FROM duplicate_clusters
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR match_type = $2)
		  AND confidence >= $3
	`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, status, matchType, minConfidence).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, match_type, confidence, status, member_key, primary_report_id, merged_at, created_at
		FROM duplicate_clusters
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR match_type = $2)
		  AND confidence >= $3
		ORDER BY confidence DESC, created_at DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.db.Pool.Query(ctx, query, status, matchType, minConfidence, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var clusters []*models.DuplicateCluster
	for rows.Next() {
		cluster := &models.DuplicateCluster{}
		if err := rows.Scan(
			&cluster.ID,
			&cluster.MatchType,
			&cluster.Confidence,
			&cluster.Status,
			&cluster.MemberKey,
			&cluster.PrimaryReportID,
			&cluster.MergedAt,
			&cluster.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		clusters = append(clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, cluster := range clusters {
		if err := r.loadMembers(ctx, cluster); err != nil {
			return nil, 0, err
		}
	}
	return clusters, total, nil
}

// MarkMerged transitions a pending cluster to merged within a transaction.
// The compare-and-swap on status guarantees each cluster is resolved once.
func (r *ClusterRepository) MarkMerged(ctx context.Context, tx pgx.Tx, id, primaryReportID uuid.UUID) error {
	result, err := tx.Exec(ctx, `
		UPDATE duplicate_clusters
		SET status = $3, primary_report_id = $2, merged_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, primaryReportID, models.ClusterStatusMerged, models.ClusterStatusPending)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClusterNotPending
	}
	return nil
}

// MarkDismissed transitions a pending cluster to dismissed within a transaction
func (r *ClusterRepository) MarkDismissed(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	result, err := tx.Exec(ctx, `
		UPDATE duplicate_clusters
		SET status = $2
		WHERE id = $1 AND status = $3
	`, id, models.ClusterStatusDismissed, models.ClusterStatusPending)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClusterNotPending
	}
	return nil
}

// GetStats retrieves aggregated cluster statistics
func (r *ClusterRepository) GetStats(ctx context.Context) (*models.ClusterStats, error) {
	stats := &models.ClusterStats{ByMatchType: make(map[string]int)}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COALESCE(AVG(confidence) FILTER (WHERE status = $1), 0)
		FROM duplicate_clusters
	`, models.ClusterStatusPending, models.ClusterStatusMerged, models.ClusterStatusDismissed).Scan(
		&stats.PendingCount,
		&stats.MergedCount,
		&stats.DismissedCount,
		&stats.AvgConfidence,
	)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT match_type, COUNT(*)
		FROM duplicate_clusters
		WHERE status = $1
		GROUP BY match_type
	`, models.ClusterStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var matchType string
		var count int
		if err := rows.Scan(&matchType, &count); err != nil {
			return nil, err
		}
		stats.ByMatchType[matchType] = count
	}
	return stats, rows.Err()
}

func (r *ClusterRepository) loadMembers(ctx context.Context, cluster *models.DuplicateCluster) error {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT cluster_id, report_id, similarity, is_primary
		FROM cluster_members
		WHERE cluster_id = $1
		ORDER BY is_primary DESC, report_id
	`, cluster.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var m models.ClusterMember
		if err := rows.Scan(&m.ClusterID, &m.ReportID, &m.Similarity, &m.IsPrimary); err != nil {
			return err
		}
		cluster.Members = append(cluster.Members, m)
	}
	return rows.Err()
}
