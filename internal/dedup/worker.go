package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scamnemesis/report-engine/configs"
	"github.com/scamnemesis/report-engine/internal/queue"
)

// Worker consumes report events from the stream and runs detection
type Worker struct {
	id           string
	engine       *Engine
	streamClient *queue.RedisStreamClient
	config       configs.WorkerConfig
	wg           sync.WaitGroup
	stopCh       chan struct{}
	metrics      *WorkerMetrics
}

// WorkerMetrics tracks worker performance
type WorkerMetrics struct {
	mu                sync.RWMutex
	ProcessedCount    int64
	FailedCount       int64
	ClustersCreated   int64
	TotalProcessingMs int64
	LastProcessedAt   time.Time
}

// NewWorker creates a new detection worker
func NewWorker(id string, engine *Engine, streamClient *queue.RedisStreamClient, config configs.WorkerConfig) *Worker {
	return &Worker{
		id:           id,
		engine:       engine,
		streamClient: streamClient,
		config:       config,
		stopCh:       make(chan struct{}),
		metrics:      &WorkerMetrics{},
	}
}

// Start starts the worker goroutines and blocks until Stop is called or the
// context is cancelled
func (w *Worker) Start(ctx context.Context) error {
	log.Info().
		Str("worker_id", w.id).
		Msg("Starting detection worker")

	// The pool owns parallelism; each worker runs a single consume loop
	w.wg.Add(1)
	go w.processLoop(ctx, w.id)

	<-ctx.Done()
	return w.Stop()
}

// Stop stops the worker gracefully
func (w *Worker) Stop() error {
	log.Info().Str("worker_id", w.id).Msg("Stopping worker...")
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Worker stopped")
	return nil
}

func (w *Worker) processLoop(ctx context.Context, consumerName string) {
	defer w.wg.Done()

	log.Info().Str("consumer", consumerName).Msg("Worker goroutine started")

	for {
		select {
		case <-w.stopCh:
			log.Info().Str("consumer", consumerName).Msg("Worker goroutine stopping")
			return
		case <-ctx.Done():
			return
		default:
			w.processBatch(ctx, consumerName)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, consumerName string) {
	messages, err := w.streamClient.Consume(ctx, consumerName, int64(w.config.BatchSize), w.config.PollInterval)
	if err != nil {
		log.Error().Err(err).Str("consumer", consumerName).Msg("Failed to consume messages")
		time.Sleep(time.Second) // Back off on error
		return
	}

	for _, msg := range messages {
		if err := w.processMessage(ctx, msg); err != nil {
			log.Error().
				Err(err).
				Str("message_id", msg.ID).
				Str("report_id", msg.Event.ReportID).
				Msg("Failed to process message")

			if msg.Event.RetryCount < w.streamClient.MaxRetries() {
				if _, reqErr := w.streamClient.Requeue(ctx, msg.Event); reqErr != nil {
					log.Error().Err(reqErr).Msg("Failed to requeue message")
				}
			} else {
				if dlqErr := w.streamClient.SendToDeadLetter(ctx, msg.Event, err); dlqErr != nil {
					log.Error().Err(dlqErr).Msg("Failed to send to dead letter queue")
				}
			}

			w.metrics.mu.Lock()
			w.metrics.FailedCount++
			w.metrics.mu.Unlock()
		}

		if err := w.streamClient.Acknowledge(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to acknowledge message")
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, msg queue.StreamMessage) error {
	startTime := time.Now()

	reportID, err := uuid.Parse(msg.Event.ReportID)
	if err != nil {
		return fmt.Errorf("invalid report ID %q: %w", msg.Event.ReportID, err)
	}

	clusters, err := w.engine.DetectForReport(ctx, reportID)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	processingTime := time.Since(startTime)

	w.metrics.mu.Lock()
	w.metrics.ProcessedCount++
	w.metrics.ClustersCreated += int64(len(clusters))
	w.metrics.TotalProcessingMs += processingTime.Milliseconds()
	w.metrics.LastProcessedAt = time.Now()
	w.metrics.mu.Unlock()

	return nil
}

// GetMetrics returns a snapshot of the worker metrics
func (w *Worker) GetMetrics() WorkerMetrics {
	w.metrics.mu.RLock()
	defer w.metrics.mu.RUnlock()
	return WorkerMetrics{
		ProcessedCount:    w.metrics.ProcessedCount,
		FailedCount:       w.metrics.FailedCount,
		ClustersCreated:   w.metrics.ClustersCreated,
		TotalProcessingMs: w.metrics.TotalProcessingMs,
		LastProcessedAt:   w.metrics.LastProcessedAt,
	}
}

// WorkerPool manages multiple workers
type WorkerPool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(
	numWorkers int,
	engine *Engine,
	streamClient *queue.RedisStreamClient,
	config configs.WorkerConfig,
) *WorkerPool {
	pool := &WorkerPool{
		workers: make([]*Worker, numWorkers),
	}

	for i := 0; i < numWorkers; i++ {
		pool.workers[i] = NewWorker(
			fmt.Sprintf("worker-%d", i),
			engine,
			streamClient,
			config,
		)
	}

	return pool
}

// Start starts all workers in the pool and blocks until the context is
// cancelled or a worker fails
func (p *WorkerPool) Start(ctx context.Context) error {
	log.Info().Int("num_workers", len(p.workers)).Msg("Starting worker pool")

	errCh := make(chan error, len(p.workers))

	for _, worker := range p.workers {
		w := worker
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := w.Start(ctx); err != nil && err != context.Canceled {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops all workers in the pool
func (p *WorkerPool) Stop() error {
	log.Info().Msg("Stopping worker pool")

	for _, worker := range p.workers {
		if err := worker.Stop(); err != nil {
			log.Error().Err(err).Str("worker_id", worker.id).Msg("Failed to stop worker")
		}
	}

	p.wg.Wait()
	log.Info().Msg("Worker pool stopped")
	return nil
}

// GetAggregatedMetrics returns aggregated metrics from all workers
func (p *WorkerPool) GetAggregatedMetrics() map[string]interface{} {
	var totalProcessed, totalFailed, totalClusters, totalProcessingMs int64
	var lastProcessedAt time.Time

	for _, worker := range p.workers {
		metrics := worker.GetMetrics()
		totalProcessed += metrics.ProcessedCount
		totalFailed += metrics.FailedCount
		totalClusters += metrics.ClustersCreated
		totalProcessingMs += metrics.TotalProcessingMs
		if metrics.LastProcessedAt.After(lastProcessedAt) {
			lastProcessedAt = metrics.LastProcessedAt
		}
	}

	avgProcessingMs := float64(0)
	if totalProcessed > 0 {
		avgProcessingMs = float64(totalProcessingMs) / float64(totalProcessed)
	}

	return map[string]interface{}{
		"total_processed":   totalProcessed,
		"total_failed":      totalFailed,
		"clusters_created":  totalClusters,
		"avg_processing_ms": avgProcessingMs,
		"last_processed_at": lastProcessedAt,
		"active_workers":    len(p.workers),
	}
}
