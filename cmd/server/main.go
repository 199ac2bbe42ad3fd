package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/flight-reservation-backend/internal/config"
	"github.com/smarttransit/flight-reservation-backend/internal/database"
	"github.com/smarttransit/flight-reservation-backend/internal/handlers"
	"github.com/smarttransit/flight-reservation-backend/internal/middleware"
	"github.com/smarttransit/flight-reservation-backend/internal/services"
	"github.com/smarttransit/flight-reservation-backend/pkg/distribution"
	"github.com/smarttransit/flight-reservation-backend/pkg/jwt"
	"github.com/smarttransit/flight-reservation-backend/pkg/notify"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit Flight Reservation Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Connect to database
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to apply schema: %v", err)
		}
		logger.Info("✓ Schema up to date")
	}

	// ============================================================================
	// SERVICES
	// ============================================================================
	logger.Info("Initializing services...")

	jwtService, err := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	if err != nil {
		logger.Fatalf("Failed to initialize JWT service: %v", err)
	}

	counterStore, closeCounters := newCounterStore(cfg.Redis, logger)
	defer closeCounters()

	notifier, closeNotifier := newNotifier(cfg.RabbitMQ, logger)
	defer closeNotifier()

	transport := distribution.NewHTTPTransport(distribution.HTTPConfig{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.RequestTimeout,
	}, logger)
	gateway := distribution.NewGateway(transport, distribution.GatewayConfig{
		MaxAttempts:    cfg.Provider.MaxAttempts,
		BaseBackoff:    cfg.Provider.BaseBackoff,
		MaxBackoff:     cfg.Provider.MaxBackoff,
		AttemptTimeout: cfg.Provider.AttemptTimeout,
	}, logger)

	auditService := services.NewAuditService(db)
	rateLimitService := services.NewRateLimitService(counterStore, services.RateLimitConfig{
		MaxLookupRequests: cfg.RateLimit.LookupRequests,
		LookupWindow:      cfg.RateLimit.LookupWindow,
	}, logger)

	reservationRepo := database.NewReservationRepository(db.DB)
	orchestrator := services.NewBookingOrchestratorService(
		reservationRepo,
		gateway,
		notifier,
		services.NewIdentifierGenerator(),
		services.BookingOrchestratorConfig{
			HoldTTL:               cfg.Booking.HoldTTL,
			UpdateCutoff:          cfg.Booking.UpdateCutoff,
			CompletionGrace:       cfg.Booking.CompletionGrace,
			IdentifierMaxAttempts: cfg.Booking.IdentifierMaxAttempts,
			NotifyTimeout:         cfg.Booking.NotifyTimeout,
			SweepBatchSize:        cfg.Booking.SweepBatchSize,
		},
		logger,
	).WithLookupGuards(rateLimitService, auditService)

	cronService := services.NewCronService(orchestrator, auditService, services.CronSchedules{
		Expiry:         cfg.Booking.ExpirySchedule,
		Resync:         cfg.Booking.ResyncSchedule,
		Completion:     cfg.Booking.CompletionSchedule,
		AuditCleanup:   cfg.Booking.AuditCleanupSchedule,
		AuditRetention: cfg.Booking.AuditRetention,
	}, logger)
	if cfg.Booking.EnableScheduler {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
		logger.Info("✓ Cron service started - Hold expiry, resync and completion enabled")
	} else {
		logger.Info("Cron service disabled - sweeps run only on demand")
	}

	logger.Info("Services initialized")

	reservationHandler := handlers.NewReservationHandler(orchestrator, cronService, auditService, logger)

	// ============================================================================
	// ROUTER
	// ============================================================================
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", handlers.HealthCheck(db, version))

	v1 := router.Group("/api/v1")
	{
		// Public lookup, throttled per client IP
		v1.GET("/public/bookings/:code", reservationHandler.LookupBooking)

		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService, logger))
		{
			bookings.POST("", reservationHandler.CreateBooking)
			bookings.GET("/:id", reservationHandler.GetBooking)
			bookings.PATCH("/:id", reservationHandler.UpdateBooking)
			bookings.POST("/:id/cancel", reservationHandler.CancelBooking)

			bookings.POST("/:id/refund", middleware.RequireRole(jwt.RoleAdmin), reservationHandler.RefundBooking)
			bookings.POST("/:id/resync", middleware.RequireRole(jwt.RoleAdmin), reservationHandler.ResyncBooking)
			bookings.GET("/:id/audit", middleware.RequireRole(jwt.RoleAdmin), reservationHandler.GetAuditTrail)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService, logger), middleware.RequireRole(jwt.RoleAdmin))
		{
			admin.POST("/sweeps/expire", reservationHandler.RunExpirySweep)
			admin.POST("/sweeps/resync", reservationHandler.RunResyncSweep)
			admin.POST("/sweeps/complete", reservationHandler.RunCompletionSweep)
			admin.GET("/jobs", func(c *gin.Context) {
				c.JSON(http.StatusOK, cronService.GetJobStatus())
			})
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Stopping cron service...")
	cronService.Stop()

	logger.Info("Waiting for pending notifications...")
	orchestrator.WaitForNotifications()

	logger.Info("Server exited successfully")
}

// newCounterStore uses Redis when configured so throttling holds across
// instances, and falls back to in-process counters otherwise
func newCounterStore(cfg config.RedisConfig, logger *logrus.Logger) (database.CounterStore, func()) {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set, lookup throttling is per instance")
		return database.NewMemoryCounterStore(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unreachable at startup, throttling fails open until it recovers")
	} else {
		logger.Info("✓ Redis counter store connected")
	}

	return database.NewRedisCounterStore(client, "flightres:"), func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
}

// newNotifier publishes to RabbitMQ when configured and logs events otherwise
func newNotifier(cfg config.RabbitMQConfig, logger *logrus.Logger) (services.Notifier, func()) {
	if cfg.URL == "" {
		logger.Warn("RABBITMQ_URL not set, reservation events are only logged")
		return notify.NewLogPublisher(logger), func() {}
	}

	publisher, err := notify.NewPublisher(cfg.URL, cfg.Exchange)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to RabbitMQ, reservation events are only logged")
		return notify.NewLogPublisher(logger), func() {}
	}
	logger.Infof("✓ Publishing reservation events to exchange %q", cfg.Exchange)

	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close RabbitMQ publisher")
		}
	}
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if userCtx, ok := middleware.GetUserContext(c); ok {
			fields["user_id"] = userCtx.UserID
		}

		entry := logger.WithFields(fields)
		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}
