package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/scamnemesis/report-engine/internal/models"
	"github.com/scamnemesis/report-engine/internal/queue"
	"github.com/scamnemesis/report-engine/internal/repositories"
)

var (
	ErrPrimaryNotMember = errors.New("primary report is not a member of the cluster")
)

const statsCacheKey = "duplicates:stats"

// Decision captures who resolved a cluster and from where, for the audit trail
type Decision struct {
	UserID    uuid.UUID
	Role      string
	IPAddress string
	UserAgent string
	RequestID string
}

// Service implements the moderation workflow over duplicate clusters:
// listing pending clusters, merging their members and dismissing false
// positives. Every decision is recorded in the audit log within the same
// transaction as the state change.
type Service struct {
	db       *repositories.Database
	clusters *repositories.ClusterRepository
	reports  *repositories.ReportRepository
	audits   *repositories.AuditRepository
	cache    *queue.CacheClient
}

// NewService creates a new moderation service. cache may be nil.
func NewService(
	db *repositories.Database,
	clusters *repositories.ClusterRepository,
	reports *repositories.ReportRepository,
	audits *repositories.AuditRepository,
	cache *queue.CacheClient,
) *Service {
	return &Service{
		db:       db,
		clusters: clusters,
		reports:  reports,
		audits:   audits,
		cache:    cache,
	}
}

// List returns clusters for moderator review with member reports attached.
// status "all" disables the status filter.
func (s *Service) List(ctx context.Context, status, matchType string, minConfidence, page, pageSize int) ([]*models.DuplicateCluster, int, error) {
	if status == "all" {
		status = ""
	}
	clusters, total, err := s.clusters.List(ctx, status, matchType, minConfidence, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	for _, cluster := range clusters {
		if err := s.hydrateMembers(ctx, cluster); err != nil {
			return nil, 0, err
		}
	}
	return clusters, total, nil
}

// Get returns a single cluster with member reports attached
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.DuplicateCluster, error) {
	cluster, err := s.clusters.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.hydrateMembers(ctx, cluster); err != nil {
		return nil, err
	}
	return cluster, nil
}

// Merge resolves a pending cluster by merging all members into the primary
// report. The other members are marked MERGED and aliased to the primary.
// Only pending clusters can be merged; a second merge of the same cluster
// fails with ErrClusterNotPending.
func (s *Service) Merge(ctx context.Context, clusterID, primaryReportID uuid.UUID, decision Decision) (*models.DuplicateCluster, error) {
	cluster, err := s.clusters.GetByID(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	// Default to the suggested primary when the moderator didn't pick one
	if primaryReportID == uuid.Nil {
		for _, m := range cluster.Members {
			if m.IsPrimary {
				primaryReportID = m.ReportID
				break
			}
		}
	}

	isMember := false
	for _, m := range cluster.Members {
		if m.ReportID == primaryReportID {
			isMember = true
			break
		}
	}
	if !isMember {
		return nil, ErrPrimaryNotMember
	}

	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.clusters.MarkMerged(ctx, tx, clusterID, primaryReportID); err != nil {
			return s.describeNotPending(ctx, clusterID, err)
		}

		for _, m := range cluster.Members {
			if m.ReportID == primaryReportID {
				continue
			}
			if err := s.reports.MarkMerged(ctx, tx, m.ReportID, primaryReportID); err != nil {
				// A member can already be merged through an overlapping
				// cluster; that is not an error for this merge
				if errors.Is(err, repositories.ErrReportAlreadyMerged) {
					continue
				}
				return err
			}
		}

		return s.audits.CreateTx(ctx, tx, &models.AuditLog{
			EventType:  models.AuditEventCluster,
			EntityID:   clusterID,
			EntityType: "duplicate_cluster",
			UserID:     &decision.UserID,
			Action:     models.AuditActionDuplicateMerged,
			Payload: models.JSONB{
				"primary_report_id": primaryReportID.String(),
				"match_type":        cluster.MatchType,
				"confidence":        cluster.Confidence,
				"member_count":      len(cluster.Members),
				"moderator_role":    decision.Role,
			},
			IPAddress: decision.IPAddress,
			UserAgent: decision.UserAgent,
			RequestID: decision.RequestID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)

	log.Info().
		Str("cluster_id", clusterID.String()).
		Str("primary_report_id", primaryReportID.String()).
		Str("moderator_id", decision.UserID.String()).
		Msg("Duplicate cluster merged")

	return s.Get(ctx, clusterID)
}

// Dismiss resolves a pending cluster as a false positive. The member set is
// remembered so the same combination is never surfaced again.
func (s *Service) Dismiss(ctx context.Context, clusterID uuid.UUID, reason string, decision Decision) (*models.DuplicateCluster, error) {
	cluster, err := s.clusters.GetByID(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.clusters.MarkDismissed(ctx, tx, clusterID); err != nil {
			return s.describeNotPending(ctx, clusterID, err)
		}

		return s.audits.CreateTx(ctx, tx, &models.AuditLog{
			EventType:  models.AuditEventCluster,
			EntityID:   clusterID,
			EntityType: "duplicate_cluster",
			UserID:     &decision.UserID,
			Action:     models.AuditActionDuplicateDismissed,
			Payload: models.JSONB{
				"match_type":     cluster.MatchType,
				"confidence":     cluster.Confidence,
				"member_count":   len(cluster.Members),
				"reason":         reason,
				"moderator_role": decision.Role,
			},
			IPAddress: decision.IPAddress,
			UserAgent: decision.UserAgent,
			RequestID: decision.RequestID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)

	log.Info().
		Str("cluster_id", clusterID.String()).
		Str("moderator_id", decision.UserID.String()).
		Msg("Duplicate cluster dismissed")

	return s.Get(ctx, clusterID)
}

// Stats returns aggregated cluster statistics, cached for a short period
func (s *Service) Stats(ctx context.Context) (*models.ClusterStats, error) {
	if s.cache != nil {
		var cached models.ClusterStats
		if err := s.cache.Get(ctx, statsCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	stats, err := s.clusters.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statsCacheKey, stats, 1*time.Minute); err != nil {
			log.Warn().Err(err).Msg("Failed to cache cluster stats")
		}
	}
	return stats, nil
}

// History returns the audit trail of a cluster, newest first. The cluster
// must exist; its resolution events and any earlier decisions on overlapping
// member sets are returned page by page.
func (s *Service) History(ctx context.Context, clusterID uuid.UUID, page, pageSize int) ([]*models.AuditLog, int, error) {
	if _, err := s.clusters.GetByID(ctx, clusterID); err != nil {
		return nil, 0, err
	}
	return s.audits.GetByEntityID(ctx, "duplicate_cluster", clusterID, page, pageSize)
}

// describeNotPending enriches a failed status transition with the cluster's
// actual status, so a losing moderator sees what resolved it
func (s *Service) describeNotPending(ctx context.Context, clusterID uuid.UUID, err error) error {
	if !errors.Is(err, repositories.ErrClusterNotPending) {
		return err
	}
	current, gerr := s.clusters.GetByID(ctx, clusterID)
	if gerr != nil {
		return err
	}
	return fmt.Errorf("cluster is already %s: %w", current.Status, err)
}

func (s *Service) hydrateMembers(ctx context.Context, cluster *models.DuplicateCluster) error {
	ids := make([]uuid.UUID, 0, len(cluster.Members))
	for _, m := range cluster.Members {
		ids = append(ids, m.ReportID)
	}

	reports, err := s.reports.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}

	byID := make(map[uuid.UUID]*models.Report, len(reports))
	for _, r := range reports {
		byID[r.ID] = r
	}
	for i := range cluster.Members {
		cluster.Members[i].Report = byID[cluster.Members[i].ReportID]
	}
	return nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate stats cache")
	}
}
