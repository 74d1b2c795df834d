package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scamnemesis/report-engine/configs"
	"github.com/scamnemesis/report-engine/internal/dedup"
	"github.com/scamnemesis/report-engine/internal/queue"
	"github.com/scamnemesis/report-engine/internal/repositories"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("Starting duplicate detection worker")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	streamClient, err := queue.NewRedisStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// Initialize detection engine
	reportRepo := repositories.NewReportRepository(db)
	clusterRepo := repositories.NewClusterRepository(db)
	engine := dedup.NewEngine(reportRepo, clusterRepo, cacheClient, cfg.Detection)

	// Start worker pool
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := dedup.NewWorkerPool(cfg.Worker.Concurrency, engine, streamClient, cfg.Worker)

	go reportMetrics(ctx, pool, streamClient)

	if err := pool.Start(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Worker pool failed")
	}

	log.Info().Msg("Worker exited")
}

// reportMetrics periodically logs pool throughput and the stream backlog
func reportMetrics(ctx context.Context, pool *dedup.WorkerPool, streamClient *queue.RedisStreamClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pending, err := streamClient.GetPendingCount(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to read stream backlog")
				continue
			}
			log.Info().
				Int64("pending_messages", pending).
				Interface("workers", pool.GetAggregatedMetrics()).
				Msg("Detection worker metrics")

		case <-ctx.Done():
			return
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
