package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scamnemesis/report-engine/configs"
	"github.com/scamnemesis/report-engine/internal/analytics"
	"github.com/scamnemesis/report-engine/internal/auth"
	"github.com/scamnemesis/report-engine/internal/ingestion"
	"github.com/scamnemesis/report-engine/internal/models"
	"github.com/scamnemesis/report-engine/internal/moderation"
	"github.com/scamnemesis/report-engine/internal/queue"
	"github.com/scamnemesis/report-engine/internal/repositories"
	"github.com/scamnemesis/report-engine/internal/services"
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
		Str("port", cfg.Server.Port).
		Msg("Starting ScamNemesis Report Engine API Server")

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

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	reportRepo := repositories.NewReportRepository(db)
	clusterRepo := repositories.NewClusterRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Initialize services
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	authService := services.NewAuthService(userRepo, jwtManager)
	ingestionService := ingestion.NewService(reportRepo, auditRepo, streamClient, cacheClient)
	moderationService := moderation.NewService(db, clusterRepo, reportRepo, auditRepo, cacheClient)
	analyticsService := analytics.NewService(db, clusterRepo, auditRepo, cacheClient)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := NewRateLimiter(cacheClient, 100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	// Setup routes
	setupRoutes(router, jwtManager, authService, ingestionService, moderationService, analyticsService, streamClient, db, reportRepo)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
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

func setupRoutes(
	router *gin.Engine,
	jwtManager *auth.JWTManager,
	authService *services.AuthService,
	ingestionService *ingestion.Service,
	moderationService *moderation.Service,
	analyticsService *analytics.Service,
	streamClient *queue.RedisStreamClient,
	db *repositories.Database,
	reportRepo *repositories.ReportRepository,
) {
	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Auth routes (public)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(authService))
		authRoutes.POST("/login", loginHandler(authService))
		authRoutes.POST("/refresh", auth.AuthMiddleware(jwtManager), refreshTokenHandler(authService))
	}

	// Report routes (public submission, authenticated reads)
	reportRoutes := v1.Group("/reports")
	{
		reportRoutes.POST("", submitReportHandler(ingestionService))
		reportRoutes.GET("/:id", auth.AuthMiddleware(jwtManager), getReportHandler(reportRepo))
		reportRoutes.GET("", auth.AuthMiddleware(jwtManager), listReportsHandler(reportRepo))
	}

	// Admin routes (moderators and admins only)
	admin := v1.Group("/admin")
	admin.Use(auth.AuthMiddleware(jwtManager))
	admin.Use(auth.RoleMiddleware(models.RoleModerator, models.RoleAdmin))

	duplicates := admin.Group("/duplicates")
	{
		duplicates.GET("", listDuplicatesHandler(moderationService))
		duplicates.GET("/stats", duplicateStatsHandler(moderationService))
		duplicates.GET("/:id", getDuplicateHandler(moderationService))
		duplicates.GET("/:id/audit", duplicateAuditHandler(moderationService))
		duplicates.POST("/:id/merge", mergeDuplicateHandler(moderationService))
		duplicates.POST("/:id/dismiss", dismissDuplicateHandler(moderationService))
		duplicates.POST("/detect/:report_id", requestDetectionHandler(ingestionService))
	}

	// Analytics routes (admin only)
	analyticsRoutes := admin.Group("/analytics")
	{
		analyticsRoutes.GET("/dashboard", dashboardHandler(analyticsService))
	}

	// Metrics routes (admin only)
	metricsRoutes := admin.Group("/metrics")
	{
		metricsRoutes.GET("/system", systemMetricsHandler(streamClient, db))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter is a fixed-window rate limiter backed by Redis, so the limit
// holds across API server instances
type RateLimiter struct {
	cache  *queue.CacheClient
	rate   int           // requests per window
	window time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cache *queue.CacheClient, rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{cache: cache, rate: rate, window: window}
}

// Allow counts a request for ip and reports whether it stays within the
// limit. Redis failures fail open rather than blocking traffic.
func (rl *RateLimiter) Allow(ctx context.Context, ip string) bool {
	key := "ratelimit:" + ip

	count, err := rl.cache.Increment(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Rate limiter unavailable, allowing request")
		return true
	}
	if count == 1 {
		if err := rl.cache.Expire(ctx, key, rl.window); err != nil {
			log.Warn().Err(err).Msg("Failed to set rate limit window")
		}
	}

	return count <= int64(rl.rate)
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(c.Request.Context(), ip) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Auth handlers

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrWeakPassword) || errors.Is(err, repositories.ErrDuplicateUser) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrInvalidCredentials) {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if len(token) > 7 {
			token = token[7:] // Remove "Bearer "
		}

		resp, err := authService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// Report handlers

type submitReportRequest struct {
	FraudType     string   `json:"fraud_type" binding:"required"`
	Summary       string   `json:"summary" binding:"required"`
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
	FinancialInfo *struct {
		IBAN        string `json:"iban"`
		BankName    string `json:"bank_name"`
		BankCountry string `json:"bank_country"`
	} `json:"financial_info"`
	CryptoInfo *struct {
		WalletAddress string `json:"wallet_address"`
		Blockchain    string `json:"blockchain"`
	} `json:"crypto_info"`
	DigitalFootprint *struct {
		Website       string   `json:"website"`
		SocialHandles []string `json:"social_handles"`
	} `json:"digital_footprint"`
}

func submitReportHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		report := &models.Report{
			FraudType:     req.FraudType,
			Summary:       req.Summary,
			Description:   req.Description,
			FinancialLoss: req.FinancialLoss,
			Currency:      req.Currency,
			City:          req.City,
			Country:       req.Country,
		}
		for _, p := range req.Perpetrators {
			report.Perpetrators = append(report.Perpetrators, models.Perpetrator{
				FullName: p.FullName,
				Nickname: p.Nickname,
				Email:    p.Email,
				Phone:    p.Phone,
			})
		}
		if req.FinancialInfo != nil {
			report.FinancialInfo = &models.FinancialInfo{
				IBAN:        req.FinancialInfo.IBAN,
				BankName:    req.FinancialInfo.BankName,
				BankCountry: req.FinancialInfo.BankCountry,
			}
		}
		if req.CryptoInfo != nil {
			report.CryptoInfo = &models.CryptoInfo{
				WalletAddress: req.CryptoInfo.WalletAddress,
				Blockchain:    req.CryptoInfo.Blockchain,
			}
		}
		if req.DigitalFootprint != nil {
			report.DigitalFootprint = &models.DigitalFootprint{
				Website:       req.DigitalFootprint.Website,
				SocialHandles: req.DigitalFootprint.SocialHandles,
			}
		}

		created, err := ingestionService.Submit(
			c.Request.Context(),
			report,
			c.GetString("request_id"),
			c.ClientIP(),
			c.Request.UserAgent(),
		)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, created)
	}
}

func getReportHandler(reportRepo *repositories.ReportRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
			return
		}

		report, err := reportRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrReportNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

func listReportsHandler(reportRepo *repositories.ReportRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)
		status := c.Query("status")

		reports, total, err := reportRepo.List(c.Request.Context(), status, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"reports":    reports,
			"pagination": models.Pagination{Page: page, PageSize: pageSize, Total: total},
		})
	}
}

// Duplicate moderation handlers

func listDuplicatesHandler(moderationService *moderation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)
		status := c.DefaultQuery("status", models.ClusterStatusPending)
		matchType := c.Query("match_type")
		minConfidence := getIntParam(c, "min_confidence", 0)

		clusters, total, err := moderationService.List(c.Request.Context(), status, matchType, minConfidence, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"duplicates": clusters,
			"total":      total,
			"page":       page,
			"page_size":  pageSize,
		})
	}
}

func getDuplicateHandler(moderationService *moderation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cluster id"})
			return
		}

		cluster, err := moderationService.Get(c.Request.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrClusterNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, cluster)
	}
}

func mergeDuplicateHandler(moderationService *moderation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cluster id"})
			return
		}

		var req struct {
			PrimaryReportID string `json:"primary_report_id"`
			// legacy field name used by the previous admin UI
			PrimaryID string `json:"primaryId"`
		}
		// Body is optional; the suggested primary is used when absent
		_ = c.ShouldBindJSON(&req)

		raw := req.PrimaryReportID
		if raw == "" {
			raw = req.PrimaryID
		}

		primaryID := uuid.Nil
		if raw != "" {
			primaryID, err = uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid primary_report_id"})
				return
			}
		}

		userID, _ := auth.GetUserIDFromContext(c)
		role, _ := auth.GetUserRoleFromContext(c)
		cluster, err := moderationService.Merge(c.Request.Context(), id, primaryID, moderation.Decision{
			UserID:    userID,
			Role:      role,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: c.GetString("request_id"),
		})
		if err != nil {
			c.JSON(moderationErrorStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, cluster)
	}
}

func dismissDuplicateHandler(moderationService *moderation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cluster id"})
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&req)

		userID, _ := auth.GetUserIDFromContext(c)
		role, _ := auth.GetUserRoleFromContext(c)
		cluster, err := moderationService.Dismiss(c.Request.Context(), id, req.Reason, moderation.Decision{
			UserID:    userID,
			Role:      role,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: c.GetString("request_id"),
		})
		if err != nil {
			c.JSON(moderationErrorStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, cluster)
	}
}

func duplicateAuditHandler(moderationService *moderation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cluster id"})
			return
		}

		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		entries, total, err := moderationService.History(c.Request.Context(), id, page, pageSize)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrClusterNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"entries":    entries,
			"pagination": models.Pagination{Page: page, PageSize: pageSize, Total: total},
		})
	}
}

func duplicateStatsHandler(moderationService *moderation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := moderationService.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}

func requestDetectionHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		reportID, err := uuid.Parse(c.Param("report_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
			return
		}

		if err := ingestionService.RequestDetection(c.Request.Context(), reportID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrReportNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"message": "detection queued"})
	}
}

// moderationErrorStatus maps moderation errors to HTTP status codes
func moderationErrorStatus(err error) int {
	switch {
	case errors.Is(err, repositories.ErrClusterNotFound):
		return http.StatusNotFound
	case errors.Is(err, repositories.ErrClusterNotPending):
		return http.StatusConflict
	case errors.Is(err, moderation.ErrPrimaryNotMember):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Analytics handlers

func dashboardHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		dashboard, err := analyticsService.GetDashboard(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, dashboard)
	}
}

func systemMetricsHandler(streamClient *queue.RedisStreamClient, db *repositories.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		streamInfo, err := streamClient.GetStreamInfo(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		poolStats := db.Stats()
		c.JSON(http.StatusOK, gin.H{
			"stream": gin.H{
				"length":        streamInfo.Length,
				"pending_count": streamInfo.PendingCount,
				"groups":        streamInfo.Groups,
			},
			"database": gin.H{
				"total_conns":    poolStats.TotalConns(),
				"idle_conns":     poolStats.IdleConns(),
				"acquired_conns": poolStats.AcquiredConns(),
			},
		})
	}
}

// Helper functions

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}
