package analytics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scamnemesis/report-engine/internal/models"
	"github.com/scamnemesis/report-engine/internal/queue"
	"github.com/scamnemesis/report-engine/internal/repositories"
)

const (
	dashboardCacheKey = "analytics:dashboard"
	dashboardCacheTTL = 2 * time.Minute
)

// Dashboard aggregates report and moderation activity for the admin UI
type Dashboard struct {
	ReportsByStatus map[string]int       `json:"reports_by_status"`
	ClusterStats    *models.ClusterStats `json:"cluster_stats"`
	RecentActivity  []*models.AuditLog   `json:"recent_activity"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// Service computes moderation analytics over the report store
type Service struct {
	db       *repositories.Database
	clusters *repositories.ClusterRepository
	audits   *repositories.AuditRepository
	cache    *queue.CacheClient
}

// NewService creates a new analytics service. cache may be nil.
func NewService(
	db *repositories.Database,
	clusters *repositories.ClusterRepository,
	audits *repositories.AuditRepository,
	cache *queue.CacheClient,
) *Service {
	return &Service{
		db:       db,
		clusters: clusters,
		audits:   audits,
		cache:    cache,
	}
}

// GetDashboard returns the admin dashboard aggregates, cached briefly since
// moderators poll this endpoint
func (s *Service) GetDashboard(ctx context.Context) (*Dashboard, error) {
	if s.cache != nil {
		var cached Dashboard
		if err := s.cache.Get(ctx, dashboardCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	dashboard := &Dashboard{
		ReportsByStatus: make(map[string]int),
		GeneratedAt:     time.Now(),
	}

	rows, err := s.db.Pool.Query(ctx, `
		SELECT status, COUNT(*) FROM reports GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		dashboard.ReportsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats, err := s.clusters.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	dashboard.ClusterStats = stats

	activity, err := s.audits.GetRecent(ctx, 20)
	if err != nil {
		return nil, err
	}
	dashboard.RecentActivity = activity

	if s.cache != nil {
		if err := s.cache.Set(ctx, dashboardCacheKey, dashboard, dashboardCacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache dashboard")
		}
	}

	return dashboard, nil
}
