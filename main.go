package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/malwarebo/partnersync/api"
	"github.com/malwarebo/partnersync/cache"
	"github.com/malwarebo/partnersync/config"
	dbsetup "github.com/malwarebo/partnersync/config/db"
	"github.com/malwarebo/partnersync/db"
	"github.com/malwarebo/partnersync/middleware"
	"github.com/malwarebo/partnersync/monitoring"
	"github.com/malwarebo/partnersync/observability"
	"github.com/malwarebo/partnersync/providers"
	"github.com/malwarebo/partnersync/security"
	"github.com/malwarebo/partnersync/services"
	"github.com/malwarebo/partnersync/stores"
	"github.com/malwarebo/partnersync/utils"
	"go.uber.org/zap"
)

const version = "1.0.0"

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func printBanner() {
	fmt.Printf("%s%s", colorCyan, colorBold)
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║  PartnerSync Webhook Gateway                                 ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Signed webhooks in, durable deliveries out                  ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("%s", colorReset)
}

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func printInfo(message string) {
	fmt.Printf("%sℹ%s %s\n", colorCyan, colorReset, message)
}

func fail(format string, args ...interface{}) {
	printError(fmt.Sprintf(format, args...))
	os.Exit(1)
}

func compileRoutes(routes []config.MarketplaceRouteConfig) ([]services.MarketplaceRoute, error) {
	compiled := make([]services.MarketplaceRoute, 0, len(routes))
	for _, route := range routes {
		pattern, err := regexp.Compile(route.Pattern)
		if err != nil {
			return nil, fmt.Errorf("marketplace route %q: %w", route.Pattern, err)
		}
		compiled = append(compiled, services.MarketplaceRoute{Pattern: pattern, OwnerID: route.OwnerID})
	}
	return compiled, nil
}

func main() {
	printBanner()
	fmt.Println()
	ctx := context.Background()

	printStep("1/9", "Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}
	location, err := cfg.Location()
	if err != nil {
		fail("Invalid scheduler timezone: %v", err)
	}
	printSuccess(fmt.Sprintf("Configuration loaded (%s)", cfg.Environment))

	printStep("2/9", "Initializing logging and telemetry...")
	baseLogger, err := utils.InitLogger(cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat)
	if err != nil {
		fail("Failed to initialize logger: %v", err)
	}
	defer baseLogger.Sync()
	logger := utils.NewLogger("main")

	shutdownTelemetry, err := observability.Setup(ctx, &observability.Config{
		ServiceName:    "partnersync",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Monitoring.OTLPEndpoint,
		Insecure:       cfg.Monitoring.OTLPInsecure,
		EnableTracing:  cfg.Monitoring.EnableTracing,
		EnableMetrics:  cfg.Monitoring.EnableMetrics,
		SampleRate:     cfg.Monitoring.SampleRate,
	})
	if err != nil {
		fail("Failed to initialize telemetry: %v", err)
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		fail("Failed to register metrics: %v", err)
	}
	if cfg.Monitoring.OTLPEndpoint == "" {
		printWarning("No OTLP endpoint configured, telemetry stays local")
	} else {
		printSuccess(fmt.Sprintf("Exporting telemetry to %s", cfg.Monitoring.OTLPEndpoint))
	}

	printStep("3/9", "Connecting to database...")
	primaryDSN := cfg.GetDatabaseURL()
	if cfg.Database.Driver == "sqlite" {
		primaryDSN = cfg.Database.Path
	}
	database, err := dbsetup.CreateDB(dbsetup.ClusterConfig{
		Driver:       cfg.Database.Driver,
		PrimaryDSN:   primaryDSN,
		ReplicaDSNs:  cfg.Database.ReplicaDSNs,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxLifetime:  cfg.Database.MaxLifetime,
		MaxIdleTime:  cfg.Database.MaxIdleTime,
	})
	if err != nil {
		fail("Failed to connect to database: %v", err)
	}
	if err := db.Migrate(database.GetDB()); err != nil {
		fail("Failed to run migrations: %v", err)
	}
	printSuccess(fmt.Sprintf("Database ready (%s, %d replica(s))", cfg.Database.Driver, len(cfg.Database.ReplicaDSNs)))

	printStep("4/9", "Connecting to Redis...")
	var redisCache *cache.RedisCache
	tokenOpts := []cache.TokenCacheOption{}
	if cfg.Redis.Enabled {
		redisCache, err = cache.CreateRedisCache(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			printWarning(fmt.Sprintf("Failed to connect to Redis: %v (tokens stay in memory)", err))
			redisCache = nil
		} else {
			tokenOpts = append(tokenOpts, cache.WithMirror(cache.CreateRedisTokenMirror(redisCache)))
			printSuccess(fmt.Sprintf("Connected to Redis at %s:%d", cfg.Redis.Host, cfg.Redis.Port))
		}
	} else {
		printInfo("Redis disabled, tokens stay in memory")
	}
	tokens := cache.CreateTokenCache(tokenOpts...)
	if restored, err := tokens.Restore(ctx); err != nil {
		logger.Warn(ctx, "failed to restore partner token", zap.Error(err))
	} else if restored {
		printInfo("Restored partner token from Redis")
	}

	printStep("5/9", "Initializing security components...")
	encryptionKey, err := cfg.Webhook.EncryptionKeyBytes()
	if err != nil {
		fail("Invalid webhook encryption key: %v", err)
	}
	hmacKey, err := cfg.Webhook.HMACKeyBytes()
	if err != nil {
		fail("Invalid webhook HMAC key: %v", err)
	}
	encryption, err := security.CreateEncryptionManager(encryptionKey)
	if err != nil {
		fail("Failed to initialize encryption: %v", err)
	}
	verifier, err := security.CreateWebhookVerifier(hmacKey, encryption)
	if err != nil {
		fail("Failed to initialize webhook verifier: %v", err)
	}
	rateLimiter := security.CreateRateLimiter(security.RateLimitConfig{
		RequestsPerSecond: cfg.Webhook.RateLimitRPS,
		Burst:             cfg.Webhook.RateLimitBurst,
	})
	if cfg.Security.AdminAPIKey == "" {
		printWarning("No admin API key configured, admin endpoints will reject every request")
	}
	printSuccess("Security components initialized")

	printStep("6/9", "Initializing partner client and queue...")
	httpClient := providers.NewHTTPClient(cfg.Partner.RequestTimeout)
	partner := providers.CreatePartnerClient(providers.PartnerConfig{
		BaseURL:   cfg.Partner.BaseURL,
		LoginPath: cfg.Partner.LoginPath,
		Username:  cfg.Partner.Username,
		Password:  cfg.Partner.Password,
		Domain:    cfg.Partner.Domain,
		Timeout:   cfg.Partner.RequestTimeout,
	}, tokens, httpClient)
	queueStore := stores.CreateQueueStore(database.GetDB(), cfg.Queue.MaxAttempts)
	printSuccess(fmt.Sprintf("Partner client ready for %s", cfg.Partner.BaseURL))

	printStep("7/9", "Initializing services...")
	routes, err := compileRoutes(cfg.Webhook.MarketplaceRoutes)
	if err != nil {
		fail("Invalid marketplace routes: %v", err)
	}
	strategyRouter := services.NewStrategyRouter(
		queueStore,
		services.NewUnrecognizedStrategy(cfg.Webhook.DefaultOrderOwner),
		services.NewProductStrategy([2]int{cfg.Webhook.ProductOwnerIDs[0], cfg.Webhook.ProductOwnerIDs[1]}, cfg.Webhook.ProductCategory),
		services.NewOrderStrategy(routes, cfg.Webhook.DefaultOrderOwner, cfg.Webhook.OrderCategory),
	).WithMetrics(metrics)
	ingestion := services.NewIngestionService(verifier, services.NewPayloadClassifier(), strategyRouter, metrics)

	scheduler := services.NewJobScheduler(services.NewHTTPJobExecutor(httpClient, partner), services.SchedulerConfig{
		TickInterval:  cfg.Scheduler.TickInterval,
		JobTimeout:    cfg.Scheduler.JobTimeout,
		ShutdownGrace: cfg.Scheduler.ShutdownGrace,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		Location:      location,
	}, metrics)
	for _, def := range cfg.Scheduler.Jobs {
		if _, err := scheduler.AddOrUpdate(def); err != nil {
			logger.Warn(ctx, "skipping configured job", zap.String("job_id", def.ID), zap.Error(err))
			printWarning(fmt.Sprintf("Skipping job %q: %v", def.ID, err))
		}
	}

	worker := services.NewQueueWorker(queueStore,
		services.NewDeliveryHandler(cfg.Queue.DeliveryURL, providers.NewHTTPClient(cfg.Partner.RequestTimeout)),
		services.QueueWorkerConfig{
			Workers:           cfg.Queue.Workers,
			PollInterval:      cfg.Queue.PollInterval,
			ProcessingTimeout: cfg.Queue.ProcessingTimeout,
			RetentionAge:      cfg.Queue.RetentionAge,
			SweepInterval:     cfg.Queue.SweepInterval,
		}, metrics)
	if cfg.Queue.DeliveryURL == "" {
		printWarning("No delivery URL configured, queue items are acknowledged locally")
	}
	printSuccess(fmt.Sprintf("Services initialized (%d scheduled job(s))", len(scheduler.List())))

	printStep("8/9", "Registering health checks...")
	health := monitoring.CreateHealthService(version)
	health.AddCheck("database", database.Ping)
	health.AddCheck("scheduler", scheduler.CheckHealth)
	if redisCache != nil {
		health.AddNonCriticalCheck("redis", redisCache.Ping)
	}
	printSuccess("Health checks registered")

	printStep("9/9", "Setting up HTTP server...")
	webhookHandler := api.CreateWebhookHandler(ingestion, cfg.Webhook.SignatureHeader, cfg.Webhook.MaxBodyBytes)
	schedulerHandler := api.CreateSchedulerHandler(scheduler)
	queueHandler := api.CreateQueueHandler(queueStore)
	healthHandler := api.CreateHealthHandler(health)

	router := mux.NewRouter()
	router.Use(middleware.CorrelationIDMiddleware)
	router.Use(middleware.LoggingMiddleware(utils.NewLogger("http")))
	router.Use(middleware.HeadersMiddleware)
	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.RecoveryMiddleware(utils.NewLogger("http")))

	router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	router.HandleFunc("/metrics", api.MetricsHandler).Methods("GET")

	webhookRouter := router.PathPrefix("/api/v1/webhooks").Subrouter()
	webhookRouter.Use(middleware.RateLimitMiddleware(rateLimiter))
	webhookRouter.HandleFunc("/partner", webhookHandler.HandlePartnerWebhook).Methods("POST")

	schedulerRouter := router.PathPrefix("/api/v1/scheduler").Subrouter()
	schedulerRouter.Use(middleware.APIKeyMiddleware(cfg.Security.AdminAPIKey))
	schedulerRouter.HandleFunc("/jobs", schedulerHandler.HandleListJobs).Methods("GET")
	schedulerRouter.HandleFunc("/jobs", schedulerHandler.HandleCreateJob).Methods("POST")
	schedulerRouter.HandleFunc("/jobs/{id}", schedulerHandler.HandleGetJob).Methods("GET")
	schedulerRouter.HandleFunc("/jobs/{id}", schedulerHandler.HandleUpdateJob).Methods("PUT")
	schedulerRouter.HandleFunc("/jobs/{id}", schedulerHandler.HandleDeleteJob).Methods("DELETE")
	schedulerRouter.HandleFunc("/jobs/{id}/pause", schedulerHandler.HandlePauseJob).Methods("POST")
	schedulerRouter.HandleFunc("/jobs/{id}/resume", schedulerHandler.HandleResumeJob).Methods("POST")

	queueRouter := router.PathPrefix("/api/v1/queue").Subrouter()
	queueRouter.Use(middleware.APIKeyMiddleware(cfg.Security.AdminAPIKey))
	queueRouter.HandleFunc("/items", queueHandler.HandleListItems).Methods("GET")
	queueRouter.HandleFunc("/items/{id}", queueHandler.HandleGetItem).Methods("GET")
	queueRouter.HandleFunc("/items/{id}/cancel", queueHandler.HandleCancelItem).Methods("POST")
	queueRouter.HandleFunc("/stats", queueHandler.HandleStats).Methods("GET")

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	printSuccess("HTTP server configured")

	fmt.Println()
	fmt.Printf("%s%sPartnerSync is ready!%s\n", colorGreen, colorBold, colorReset)
	fmt.Println()
	fmt.Printf("%s%sAPI Endpoints:%s\n", colorPurple, colorBold, colorReset)
	fmt.Printf("  %s•%s Health Check: %shttp://localhost:%s/health%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Metrics:      %shttp://localhost:%s/metrics%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Webhooks:     %shttp://localhost:%s/api/v1/webhooks/partner%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Scheduler:    %shttp://localhost:%s/api/v1/scheduler/jobs%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Queue:        %shttp://localhost:%s/api/v1/queue/items%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Println()
	fmt.Printf("%s%sEnvironment:%s %s%s%s\n", colorPurple, colorBold, colorReset, colorYellow, cfg.Environment, colorReset)
	fmt.Printf("%s%sTimezone:%s %s%s%s\n", colorPurple, colorBold, colorReset, colorYellow, location.String(), colorReset)
	fmt.Println()
	fmt.Printf("%s%sPress Ctrl+C to stop the server%s\n", colorYellow, colorBold, colorReset)
	fmt.Println()

	scheduler.Start(ctx)
	worker.Start(ctx)

	go func() {
		printInfo(fmt.Sprintf("Starting HTTP server on port %s...", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			printError(fmt.Sprintf("Server failed to start: %v", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println()
	printWarning("Shutting down PartnerSync...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		printError(fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		printWarning(fmt.Sprintf("Scheduler stopped early: %v", err))
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		printWarning(fmt.Sprintf("Queue worker stopped early: %v", err))
	}
	rateLimiter.Close()
	if redisCache != nil {
		redisCache.Close()
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}
	if err := database.Close(); err != nil {
		logger.Warn(shutdownCtx, "database close failed", zap.Error(err))
	}

	printSuccess("PartnerSync stopped gracefully")
}
