package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scamnemesis/report-engine/configs"
	"github.com/scamnemesis/report-engine/internal/models"
	"github.com/scamnemesis/report-engine/internal/queue"
	"github.com/scamnemesis/report-engine/internal/repositories"
)

// Engine runs duplicate detection: it fingerprints a report, finds candidate
// reports sharing identifiers, scores the pairs and persists the resulting
// clusters for moderation.
type Engine struct {
	reports   *repositories.ReportRepository
	clusters  *repositories.ClusterRepository
	extractor *Extractor
	cache     *queue.CacheClient
	cfg       configs.DetectionConfig
}

// NewEngine creates a new detection engine. cache may be nil; it is only
// used to invalidate cached moderation statistics.
func NewEngine(
	reports *repositories.ReportRepository,
	clusters *repositories.ClusterRepository,
	cache *queue.CacheClient,
	cfg configs.DetectionConfig,
) *Engine {
	return &Engine{
		reports:   reports,
		clusters:  clusters,
		extractor: NewExtractor(cfg.DefaultCountryCodes),
		cache:     cache,
		cfg:       cfg,
	}
}

// Extractor returns the engine's fingerprint extractor
func (e *Engine) Extractor() *Extractor {
	return e.extractor
}

// IndexReport extracts and persists the indexed identifiers for a report so
// later submissions can find it as a candidate
func (e *Engine) IndexReport(ctx context.Context, report *models.Report) error {
	fp := e.extractor.Extract(report)
	return e.reports.ReplaceIdentifiers(ctx, report.ID, identifiersFor(fp))
}

// DetectForReport runs the full detection pipeline for one report and
// returns the clusters created in this pass. Clusters whose member set was
// previously dismissed, or that already exist as pending, are skipped.
func (e *Engine) DetectForReport(ctx context.Context, reportID uuid.UUID) ([]*models.DuplicateCluster, error) {
	report, err := e.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	if report.Status == models.ReportStatusMerged || report.Status == models.ReportStatusRejected {
		log.Debug().
			Str("report_id", reportID.String()).
			Str("status", report.Status).
			Msg("Skipping detection for inactive report")
		return nil, nil
	}

	fp := e.extractor.Extract(report)
	if err := e.reports.ReplaceIdentifiers(ctx, report.ID, identifiersFor(fp)); err != nil {
		return nil, fmt.Errorf("failed to index identifiers: %w", err)
	}

	if fp.IsEmpty() {
		return nil, nil
	}

	candidateIDs, err := e.reports.GetCandidateIDs(ctx, report.ID, identifiersFor(fp), e.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidates: %w", err)
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	candidates, err := e.reports.GetByIDs(ctx, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	// Pairwise comparison over the report and all candidates, so mutually
	// linked candidates end up in the same transitive cluster
	all := append([]*models.Report{report}, candidates...)
	fingerprints := make([]*Fingerprint, len(all))
	fingerprints[0] = fp
	for i := 1; i < len(all); i++ {
		fingerprints[i] = e.extractor.Extract(all[i])
	}

	var edges []pairEdge
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			match := MatchFingerprints(fingerprints[i], fingerprints[j])
			if match.Matched && match.Confidence >= e.cfg.MinConfidence {
				edges = append(edges, pairEdge{A: all[i].ID, B: all[j].ID, Match: match})
			}
		}
	}
	if len(edges) == 0 {
		return nil, nil
	}

	var created []*models.DuplicateCluster
	for _, comp := range groupEdges(edges) {
		memberKey := MemberKey(comp.Members)

		dismissed, err := e.clusters.HasDismissed(ctx, memberKey)
		if err != nil {
			return created, fmt.Errorf("failed to check dismissed clusters: %w", err)
		}
		if dismissed {
			log.Debug().
				Str("member_key", memberKey).
				Msg("Skipping previously dismissed member set")
			continue
		}

		cluster := &models.DuplicateCluster{
			MatchType:  comp.MatchType,
			Confidence: comp.Confidence,
			MemberKey:  memberKey,
			Members:    e.buildMembers(all, comp),
		}

		if err := e.clusters.Create(ctx, cluster); err != nil {
			// An identical pending cluster, or one already holding some of
			// these members, is waiting for a moderator; nothing to add
			if errors.Is(err, repositories.ErrDuplicateCluster) ||
				errors.Is(err, repositories.ErrOverlappingCluster) {
				continue
			}
			return created, fmt.Errorf("failed to create cluster: %w", err)
		}

		log.Info().
			Str("cluster_id", cluster.ID.String()).
			Str("match_type", cluster.MatchType).
			Int("confidence", cluster.Confidence).
			Int("members", len(cluster.Members)).
			Msg("Duplicate cluster created")

		created = append(created, cluster)
	}

	if len(created) > 0 && e.cache != nil {
		if err := e.cache.Delete(ctx, "duplicates:stats"); err != nil {
			log.Warn().Err(err).Msg("Failed to invalidate stats cache")
		}
	}

	return created, nil
}

// buildMembers assembles the cluster member rows, suggesting the oldest
// report as the merge primary
func (e *Engine) buildMembers(all []*models.Report, comp component) []models.ClusterMember {
	byID := make(map[uuid.UUID]*models.Report, len(all))
	for _, r := range all {
		byID[r.ID] = r
	}

	var oldest uuid.UUID
	for _, id := range comp.Members {
		r := byID[id]
		if r == nil {
			continue
		}
		if oldest == uuid.Nil || r.CreatedAt.Before(byID[oldest].CreatedAt) {
			oldest = id
		}
	}

	members := make([]models.ClusterMember, 0, len(comp.Members))
	for _, id := range comp.Members {
		members = append(members, models.ClusterMember{
			ReportID:   id,
			Similarity: comp.Similarity[id],
			IsPrimary:  id == oldest,
		})
	}
	return members
}

// identifiersFor flattens a fingerprint into indexable identifier rows.
// Names are indexed both verbatim and by Soundex code so typo variants are
// still recalled as candidates; precision is enforced by the pairwise
// matcher afterwards.
func identifiersFor(fp *Fingerprint) []repositories.Identifier {
	var ids []repositories.Identifier
	add := func(kind string, values ...string) {
		for _, v := range values {
			if v != "" {
				ids = append(ids, repositories.Identifier{Kind: kind, Value: v})
			}
		}
	}

	add(repositories.IdentifierPhone, fp.Phones...)
	add(repositories.IdentifierEmail, fp.Emails...)
	add(repositories.IdentifierIBAN, fp.IBANs...)
	add(repositories.IdentifierWallet, fp.Wallets...)
	add(repositories.IdentifierName, fp.Names...)
	for _, name := range fp.Names {
		add(repositories.IdentifierNamePhonic, Soundex(name))
	}
	for _, local := range fp.EmailLocals {
		add(repositories.IdentifierEmailLocal, Soundex(local))
	}
	add(repositories.IdentifierCity, fp.City)
	add(repositories.IdentifierWebsite, fp.Websites...)

	return ids
}
