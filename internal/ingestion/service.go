package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scamnemesis/report-engine/internal/models"
	"github.com/scamnemesis/report-engine/internal/queue"
	"github.com/scamnemesis/report-engine/internal/repositories"
)

// Service handles report intake: persisting the report, assigning its case
// number and publishing the event that triggers duplicate detection
type Service struct {
	reports *repositories.ReportRepository
	audits  *repositories.AuditRepository
	stream  *queue.RedisStreamClient
	cache   *queue.CacheClient
}

// NewService creates a new ingestion service. cache may be nil.
func NewService(
	reports *repositories.ReportRepository,
	audits *repositories.AuditRepository,
	stream *queue.RedisStreamClient,
	cache *queue.CacheClient,
) *Service {
	return &Service{
		reports: reports,
		audits:  audits,
		stream:  stream,
		cache:   cache,
	}
}

// Submit persists a new report and queues it for duplicate detection.
// Detection runs asynchronously; a failure to publish the event does not
// fail the submission, the report can be requeued later.
func (s *Service) Submit(ctx context.Context, report *models.Report, requestID, ipAddress, userAgent string) (*models.Report, error) {
	caseNumber, err := s.reports.NextCaseNumber(ctx)
	if err != nil {
		return nil, err
	}
	report.CaseNumber = caseNumber

	if err := s.reports.Create(ctx, report); err != nil {
		return nil, err
	}

	if err := s.audits.Create(ctx, &models.AuditLog{
		EventType:  models.AuditEventReport,
		EntityID:   report.ID,
		EntityType: "report",
		Action:     "REPORT_SUBMITTED",
		Payload: models.JSONB{
			"case_number": report.CaseNumber,
			"fraud_type":  report.FraudType,
		},
		IPAddress: ipAddress,
		UserAgent: userAgent,
		RequestID: requestID,
	}); err != nil {
		log.Warn().Err(err).Str("report_id", report.ID.String()).Msg("Failed to write audit log")
	}

	s.publishEvent(ctx, report, models.TriggerCreated)

	log.Info().
		Str("report_id", report.ID.String()).
		Str("case_number", report.CaseNumber).
		Str("fraud_type", report.FraudType).
		Msg("Report submitted")

	return report, nil
}

// RequestDetection requeues an existing report for duplicate detection.
// A short-lived lock collapses repeated requests for the same report into a
// single queued event.
func (s *Service) RequestDetection(ctx context.Context, reportID uuid.UUID) error {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return err
	}

	if s.cache != nil {
		acquired, err := s.cache.SetNX(ctx, "detect:requested:"+reportID.String(), 1, 30*time.Second)
		if err != nil {
			log.Warn().Err(err).Str("report_id", reportID.String()).Msg("Detection dedupe lock unavailable")
		} else if !acquired {
			log.Info().Str("report_id", reportID.String()).Msg("Detection already queued, skipping")
			return nil
		}
	}

	s.publishEvent(ctx, report, models.TriggerResubmitted)
	return nil
}

func (s *Service) publishEvent(ctx context.Context, report *models.Report, trigger string) {
	event := &models.ReportEvent{
		ReportID:   report.ID.String(),
		CaseNumber: report.CaseNumber,
		FraudType:  report.FraudType,
		Trigger:    trigger,
		Timestamp:  time.Now(),
	}

	if _, err := s.stream.Publish(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("report_id", report.ID.String()).
			Msg("Failed to publish report event")
	}
}
