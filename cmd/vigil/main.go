package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/vigilhq/vigil/internal/alerts/adapters"
	"github.com/vigilhq/vigil/internal/config"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/handlers"
	"github.com/vigilhq/vigil/internal/jobs"
	"github.com/vigilhq/vigil/internal/middleware"
	"github.com/vigilhq/vigil/internal/services"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting Vigil incident responder...")

	// Initialize JWT authentication middleware. Dashboard auth is optional;
	// when disabled the middleware passes every request through.
	var passwordHash string
	if cfg.AuthEnabled {
		if cfg.AdminPassword == "" {
			log.Fatalf("AUTH_ENABLED is set but ADMIN_PASSWORD is not")
		}
		passwordHash, err = middleware.HashPassword(cfg.AdminPassword)
		if err != nil {
			log.Fatalf("Failed to hash admin password: %v", err)
		}
	}

	skipPaths := []string{
		"/health",
		"/auth/login",
		"/webhook/*",
		"/ws/events",
	}
	if len(cfg.ServiceAPIKeys) > 0 {
		// Service callers authenticate with their key instead of a JWT.
		skipPaths = append(skipPaths, "/api/notify")
	}

	jwtAuthMiddleware := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           cfg.AuthEnabled,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths:         skipPaths,
	})
	if cfg.AuthEnabled {
		log.Printf("JWT authentication enabled for user: %s", cfg.AdminUsername)
	} else {
		log.Printf("JWT authentication disabled (set AUTH_ENABLED=true to protect the API)")
	}

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, gormLogLevel(cfg.LogLevel)); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Printf("Database connection established")

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize default database records
	if err := database.InitializeDefaults(cfg.CorrelationWindowMinutes); err != nil {
		log.Fatalf("Failed to initialize database defaults: %v", err)
	}

	// Initialize services
	alertService := services.NewAlertService(database.DB)
	incidentService := services.NewIncidentService(database.DB)
	scheduleService := services.NewScheduleService(database.DB, cfg.DefaultEscalationMinutes)
	policyService := services.NewPolicyService(database.DB)
	notificationService := services.NewNotificationService(database.DB, cfg)
	escalationService := services.NewEscalationService(database.DB, cfg, incidentService, scheduleService, policyService, notificationService)
	correlationService := services.NewCorrelationService(database.DB, incidentService, scheduleService, escalationService, notificationService)
	log.Printf("Services initialized")

	// Seed escalation policies from file, if configured. Create-only, so
	// operator edits made through the API survive restarts.
	if err := policyService.BootstrapFromFile(cfg.PolicyFile); err != nil {
		log.Printf("Warning: failed to load escalation policies from %s: %v", cfg.PolicyFile, err)
	} else if cfg.PolicyFile != "" {
		log.Printf("Escalation policies loaded from %s", cfg.PolicyFile)
	}

	// Initialize webhook handler and register alert source adapters
	webhookHandler := handlers.NewWebhookHandler(correlationService, alertService)
	webhookHandler.RegisterAdapter(adapters.NewAlertmanagerAdapter())
	webhookHandler.RegisterAdapter(adapters.NewGrafanaAdapter())
	webhookHandler.RegisterAdapter(adapters.NewDatadogAdapter())
	webhookHandler.RegisterAdapter(adapters.NewPagerDutyAdapter())
	webhookHandler.RegisterAdapter(adapters.NewZabbixAdapter())
	log.Printf("Alert source adapters registered: %v", webhookHandler.SourceTypes())

	// Initialize websocket event stream and wire it into incident updates
	eventStream := handlers.NewEventStreamHandler()
	incidentService.SetEventPublisher(eventStream)

	// Initialize remaining HTTP handlers
	apiHandler := handlers.NewAPIHandler(
		database.DB,
		alertService,
		incidentService,
		correlationService,
		scheduleService,
		escalationService,
		policyService,
		notificationService,
		webhookHandler,
	)
	authHandler := handlers.NewAuthHandler(jwtAuthMiddleware, cfg.JWTExpiryHours)
	healthHandler := handlers.NewHealthHandler(database.DB)

	// Set up HTTP server routes
	mux := http.NewServeMux()
	healthHandler.SetupRoutes(mux)
	webhookHandler.SetupRoutes(mux)
	eventStream.SetupRoutes(mux)
	apiHandler.SetupRoutes(mux)
	authHandler.SetupRoutes(mux)

	// Service-to-service keys guard the notify endpoint only
	serviceKeyMiddleware := middleware.NewServiceKeyMiddleware(&middleware.ServiceKeyConfig{
		APIKeys:    cfg.ServiceAPIKeys,
		GuardPaths: []string{"/api/notify"},
	})

	// Wrap routes: CORS first, then request IDs, then auth layers
	corsMiddleware := middleware.NewCORSMiddleware(cfg.CORSOrigins...)
	handler := corsMiddleware.Wrap(
		middleware.RequestIDMiddleware(
			serviceKeyMiddleware.Wrap(
				jwtAuthMiddleware.Wrap(mux))))

	// Start HTTP server in goroutine
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler,
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Start background jobs. Escalation deadlines and deferred alerts live
	// in the database, so both sweeps resume correctly after a restart.
	stopJobs := make(chan struct{})

	escalationMonitor := jobs.NewEscalationMonitor(escalationService)
	go escalationMonitor.Start(time.Duration(cfg.EscalationCheckSeconds)*time.Second, stopJobs)

	recorrelationJob := jobs.NewRecorrelationJob(database.DB, correlationService)
	go recorrelationJob.Start(time.Duration(cfg.RecorrelationIntervalSeconds)*time.Second, stopJobs)
	log.Printf("Background jobs started (escalation sweep every %ds, recorrelation every %ds)",
		cfg.EscalationCheckSeconds, cfg.RecorrelationIntervalSeconds)

	log.Printf("Vigil is running! Press Ctrl+C to exit.")
	log.Printf("Alert webhook endpoint: http://localhost:%d/webhook/{instance_uuid}", cfg.HTTPPort)
	log.Printf("Event stream endpoint: ws://localhost:%d/ws/events", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api", cfg.HTTPPort)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, cleaning up...")
	close(stopJobs)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	log.Println("Shutdown complete")
}

// gormLogLevel maps the LOG_LEVEL setting onto gorm's logger levels.
// Unknown values fall back to warn.
func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
