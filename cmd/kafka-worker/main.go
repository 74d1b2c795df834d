package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scamnemesis/report-engine/configs"
	"github.com/scamnemesis/report-engine/internal/ingestion"
	"github.com/scamnemesis/report-engine/internal/models"
	"github.com/scamnemesis/report-engine/internal/queue"
	"github.com/scamnemesis/report-engine/internal/repositories"
)

// Partner intake pipeline: consumes fraud reports submitted in bulk by
// partner organizations (banks, hotlines, consumer protection agencies)
// from Kafka and feeds them through the same ingestion path as the public
// API, so partner reports participate in duplicate detection too.

// PartnerReport is the message schema partners publish
type PartnerReport struct {
	PartnerID     string   `json:"partner_id"`
	ExternalRef   string   `json:"external_ref"`
	FraudType     string   `json:"fraud_type"`
	Summary       string   `json:"summary"`
	Description   string   `json:"description"`
	FinancialLoss *float64 `json:"financial_loss"`
	Currency      string   `json:"currency"`
	City          string   `json:"city"`
	Country       string   `json:"country"`
	Perpetrators  []struct {
		FullName string `json:"full_name"`
		Nickname string `json:"nickname"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
	} `json:"perpetrators"`
	IBAN          string `json:"iban"`
	BankName      string `json:"bank_name"`
	WalletAddress string `json:"wallet_address"`
	Blockchain    string `json:"blockchain"`
	Website       string `json:"website"`
	SubmittedAt   string `json:"submitted_at"`
}

// intakeMetricsKey is the Redis hash holding intake counters, shared
// across intake instances
const intakeMetricsKey = "partner:intake:metrics"

// IntakeMetrics tracks live intake counters in a Redis hash, so counts
// survive restarts and aggregate across instances
type IntakeMetrics struct {
	cache *queue.CacheClient
}

func NewIntakeMetrics(cache *queue.CacheClient) *IntakeMetrics {
	return &IntakeMetrics{cache: cache}
}

func (m *IntakeMetrics) RecordIngested(ctx context.Context, partnerID string) {
	if _, err := m.cache.HIncrBy(ctx, intakeMetricsKey, "ingested", 1); err != nil {
		log.Warn().Err(err).Msg("Failed to record intake metric")
		return
	}
	if _, err := m.cache.HIncrBy(ctx, intakeMetricsKey, "partner:"+partnerID, 1); err != nil {
		log.Warn().Err(err).Msg("Failed to record partner intake metric")
	}
}

func (m *IntakeMetrics) RecordRejected(ctx context.Context) {
	if _, err := m.cache.HIncrBy(ctx, intakeMetricsKey, "rejected", 1); err != nil {
		log.Warn().Err(err).Msg("Failed to record intake metric")
	}
}

// Snapshot returns all intake counters, including the per-partner ones
func (m *IntakeMetrics) Snapshot(ctx context.Context) (map[string]string, error) {
	return m.cache.HGetAll(ctx, intakeMetricsKey)
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENVIRONMENT") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Msg("Starting partner intake pipeline")

	// Load configuration
	cfg := configs.Load()

	// Connect to database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Connect to Redis (ingestion publishes detection events there)
	streamClient, err := queue.NewRedisStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	// Initialize services
	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis cache")
	}
	defer cacheClient.Close()

	reportRepo := repositories.NewReportRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	ingestionService := ingestion.NewService(reportRepo, auditRepo, streamClient, cacheClient)

	metrics := NewIntakeMetrics(cacheClient)

	// Create Kafka consumer
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Retry connecting to Kafka
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &PartnerIntakeHandler{
		ingestion: ingestionService,
		metrics:   metrics,
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping partner intake...")
		cancel()
	}()

	// Start metrics reporter (logs every 30 seconds)
	go handler.startMetricsReporter(ctx)

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Strs("topics", cfg.Kafka.Topics).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("Partner intake started - consuming reports")

	for {
		if err := consumerGroup.Consume(ctx, cfg.Kafka.Topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down partner intake")
			return
		}
	}
}

// PartnerIntakeHandler processes partner report messages
type PartnerIntakeHandler struct {
	ingestion *ingestion.Service
	metrics   *IntakeMetrics
}

func (h *PartnerIntakeHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Partner intake session started")
	return nil
}

func (h *PartnerIntakeHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Partner intake session ended")
	return nil
}

func (h *PartnerIntakeHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *PartnerIntakeHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var partnerReport PartnerReport
	if err := json.Unmarshal(message.Value, &partnerReport); err != nil {
		log.Error().Err(err).Msg("Failed to parse partner report")
		h.metrics.RecordRejected(ctx)
		return
	}

	if partnerReport.FraudType == "" || partnerReport.Summary == "" {
		log.Warn().
			Str("partner_id", partnerReport.PartnerID).
			Str("external_ref", partnerReport.ExternalRef).
			Msg("Rejecting partner report with missing required fields")
		h.metrics.RecordRejected(ctx)
		return
	}

	report := h.buildReport(&partnerReport)

	created, err := h.ingestion.Submit(ctx, report,
		"partner:"+partnerReport.PartnerID+":"+partnerReport.ExternalRef, "", "partner-intake")
	if err != nil {
		log.Error().
			Err(err).
			Str("partner_id", partnerReport.PartnerID).
			Str("external_ref", partnerReport.ExternalRef).
			Msg("Failed to ingest partner report")
		h.metrics.RecordRejected(ctx)
		return
	}

	h.metrics.RecordIngested(ctx, partnerReport.PartnerID)

	log.Info().
		Str("report_id", created.ID.String()).
		Str("case_number", created.CaseNumber).
		Str("partner_id", partnerReport.PartnerID).
		Msg("Partner report ingested")
}

func (h *PartnerIntakeHandler) buildReport(src *PartnerReport) *models.Report {
	report := &models.Report{
		FraudType:     src.FraudType,
		Summary:       src.Summary,
		Description:   src.Description,
		FinancialLoss: src.FinancialLoss,
		Currency:      src.Currency,
		City:          src.City,
		Country:       src.Country,
	}

	for _, p := range src.Perpetrators {
		report.Perpetrators = append(report.Perpetrators, models.Perpetrator{
			FullName: p.FullName,
			Nickname: p.Nickname,
			Email:    p.Email,
			Phone:    p.Phone,
		})
	}

	if src.IBAN != "" {
		report.FinancialInfo = &models.FinancialInfo{
			IBAN:     src.IBAN,
			BankName: src.BankName,
		}
	}

	if src.WalletAddress != "" {
		report.CryptoInfo = &models.CryptoInfo{
			WalletAddress: src.WalletAddress,
			Blockchain:    src.Blockchain,
		}
	}

	if src.Website != "" {
		report.DigitalFootprint = &models.DigitalFootprint{
			Website: src.Website,
		}
	}

	return report
}

func (h *PartnerIntakeHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			counters, err := h.metrics.Snapshot(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to read intake metrics")
				continue
			}
			log.Info().
				Interface("counters", counters).
				Msg("Partner intake metrics")

		case <-ctx.Done():
			return
		}
	}
}
