package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/bus"
	"github.com/stayhub/hotel-reservation-backend/internal/cache"
	"github.com/stayhub/hotel-reservation-backend/internal/config"
	"github.com/stayhub/hotel-reservation-backend/internal/database"
	"github.com/stayhub/hotel-reservation-backend/internal/gateway"
	"github.com/stayhub/hotel-reservation-backend/internal/handlers"
	"github.com/stayhub/hotel-reservation-backend/internal/middleware"
	"github.com/stayhub/hotel-reservation-backend/internal/services"
	"github.com/stayhub/hotel-reservation-backend/internal/utils"
	"github.com/stayhub/hotel-reservation-backend/pkg/jwt"
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

	logger.Info("Starting StayHub Reservation Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize cache store; fall back to in-process when redis is not
	// configured
	var store cache.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := cache.NewRedisStore(cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		store = redisStore
		logger.Info("Redis connection established")
	} else {
		store = cache.NewMemoryStore()
		logger.Warn("REDIS_ADDR not set, using in-process cache")
	}
	defer store.Close()

	// Initialize repositories
	bookingRepo := database.NewBookingRepository(db)
	roomRepo := database.NewRoomRepository(db)
	hotelRepo := database.NewHotelRepository(db)

	// Initialize the notification bus
	notificationBus := bus.New(cfg.Bus, logger)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	availabilitySvc := services.NewAvailabilityService(roomRepo, bookingRepo, store, cfg.Reservation, logger)
	pricingSvc := services.NewPricingService(hotelRepo, roomRepo, bookingRepo, store, notificationBus, nil, cfg.Pricing, logger)
	transitionSvc := services.NewTransitionService(bookingRepo, roomRepo, hotelRepo, availabilitySvc, notificationBus, cfg.Reservation, logger)
	bookingSvc := services.NewBookingService(bookingRepo, hotelRepo, roomRepo, availabilitySvc, pricingSvc, cfg.Reservation, logger)
	rateLimitSvc := services.NewRateLimitService(db, services.DefaultRateLimitConfig())

	metricsFn := func() map[string]interface{} {
		published, dropped := notificationBus.Stats()
		return map[string]interface{}{
			"transitions": transitionSvc.Metrics().Snapshot(),
			"pricing":     pricingSvc.Metrics().Snapshot(),
			"bus": map[string]interface{}{
				"published": published,
				"dropped":   dropped,
			},
		}
	}

	schedulerSvc := services.NewSchedulerService(bookingRepo, transitionSvc, pricingSvc, notificationBus, cfg.Reservation, metricsFn, logger)
	if err := schedulerSvc.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	// Initialize the subscription gateway
	eventGateway := gateway.New(notificationBus, logger)

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(bookingSvc, transitionSvc, availabilitySvc, pricingSvc, rateLimitSvc, logger)
	streamHandler := handlers.NewStreamHandler(eventGateway, logger)
	adminHandler := handlers.NewAdminHandler(db, store, schedulerSvc, metricsFn)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", adminHandler.Health)

	api := router.Group("/api/v1")
	{
		// Public projections
		api.GET("/hotels/:id/availability", bookingHandler.CheckAvailability)
		api.GET("/hotels/:id/quote", bookingHandler.Quote)

		authed := api.Group("")
		authed.Use(middleware.RequireAuth(jwtService))
		{
			authed.POST("/bookings", bookingHandler.CreateBooking)
			authed.GET("/bookings", bookingHandler.ListMyBookings)
			authed.GET("/bookings/:id", bookingHandler.GetBooking)
			authed.GET("/bookings/number/:number", bookingHandler.GetBookingByNumber)
			authed.POST("/bookings/:id/transition", bookingHandler.Transition)
			authed.GET("/stream", streamHandler.Stream)

			staff := authed.Group("")
			staff.Use(middleware.RequireRole("ADMIN", "RECEPTIONIST"))
			{
				staff.GET("/hotels/:id/pricing-report", bookingHandler.PricingReport)
			}

			admin := authed.Group("/admin")
			admin.Use(middleware.RequireRole("ADMIN"))
			{
				admin.GET("/metrics", adminHandler.Metrics)
				admin.GET("/jobs", adminHandler.JobStatus)
				admin.POST("/jobs/:name/run", adminHandler.RunJob)
			}
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
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

	schedulerSvc.Stop()
	eventGateway.Shutdown()
	notificationBus.Close()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         utils.GetRealIP(c),
			"latency_ms": latency.Milliseconds(),
		}

		if actor, exists := middleware.ActorFromContext(c); exists {
			fields["actor_id"] = actor.ID
			fields["actor_role"] = actor.Role
		}

		entry := logger.WithFields(fields)

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
