package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ledger-backend/internal/auth"
	"ledger-backend/internal/cache"
	"ledger-backend/internal/calendar"
	"ledger-backend/internal/config"
	"ledger-backend/internal/database"
	"ledger-backend/internal/db"
	"ledger-backend/internal/handlers"
	"ledger-backend/internal/health"
	h "ledger-backend/internal/http"
	"ledger-backend/internal/jobs"
	"ledger-backend/internal/logger"
	"ledger-backend/internal/middleware"
	"ledger-backend/internal/repositories"
	"ledger-backend/internal/scheduler"
	"ledger-backend/internal/services"
	"ledger-backend/internal/storage"
	"ledger-backend/internal/timeutil"
	"ledger-backend/migrations"
)

const auditBuffer = 1000

func main() {
	port := flag.Int("port", 0, "Server port (overrides config)")
	migrateOnly := flag.Bool("migrate", false, "Run database migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logg, err := logger.New("ledger-backend", cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logg.Sync()

	if err := run(cfg, logg, *migrateOnly); err != nil {
		logg.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logg *zap.Logger, migrateOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	logg.Info("connected to postgres", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Name))

	migrator := database.NewMigrator(pool, migrations.FS, logg)
	if err := migrator.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if migrateOnly {
		return nil
	}

	// Redis is optional; the cache falls back to process memory
	redisClient, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logg.Warn("redis unavailable, using in-process cache", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	kpiCache := cache.NewService(redisClient, cfg.Cache.KPITTL, logg)

	zone := timeutil.NewZone(cfg.Occupancy.Timezone)

	// Repositories
	ledgerRepo := repositories.NewLedgerRepository(pool)
	unitRepo := repositories.NewUnitRepository(pool)
	bookingRepo := repositories.NewBookingRepository(pool)
	mappingRepo := repositories.NewMappingRepository(pool)
	snapshotRepo := repositories.NewSnapshotRepository(pool)
	extensionRepo := repositories.NewExtensionRepository(pool)
	auditRepo := repositories.NewAuditRepository(pool)

	// Services
	auditService := services.NewAuditService(auditRepo, logg, auditBuffer)

	ledgerService := services.NewLedgerService(ledgerRepo, auditService, logg, cfg.Ledger.DefaultCurrency, cfg.Ledger.InvoiceAttempts)
	ledgerService.SetCache(kpiCache)

	renewalService := services.NewRenewalService(extensionRepo, bookingRepo, mappingRepo, ledgerService, auditService, zone, services.RenewalConfig{
		MaxRenewals:   cfg.Renewal.MaxRenewals,
		WindowDays:    cfg.Renewal.WindowDays,
		DefaultMonths: cfg.Renewal.DefaultMonths,
	}, logg)

	webhookService := services.NewWebhookService(ledgerService, renewalService, bookingRepo, auditService, cfg.Webhook.Secret, cfg.Webhook.Provider, logg)

	occupancyService := services.NewOccupancyService(unitRepo, bookingRepo, mappingRepo, mappingRepo, snapshotRepo, auditService, zone, services.OccupancyConfig{
		CalendarTimeout: cfg.Occupancy.CalendarTimeout,
		ICalStaleAfter:  cfg.Occupancy.ICalStaleAfter,
		Concurrency:     cfg.Occupancy.Concurrency,
	}, logg)
	occupancyService.SetCache(kpiCache)

	retry := calendar.RetryConfig{
		Timeout:    cfg.Occupancy.CalendarTimeout,
		MaxRetries: cfg.Occupancy.MaxRetries,
	}
	httpClient := &http.Client{Timeout: cfg.Occupancy.CalendarTimeout}
	occupancyService.SetFeedFetcher(calendar.NewFeedFetcher(httpClient, retry))
	if cfg.PMS.BaseURL != "" {
		occupancyService.SetPMSClient(calendar.NewPMSClient(cfg.PMS.BaseURL, cfg.PMS.APIKey, httpClient, retry))
		logg.Info("PMS availability API enabled", zap.String("base_url", cfg.PMS.BaseURL))
	} else {
		logg.Warn("PMS base URL not set, API-mapped units will be reported as UNKNOWN")
	}

	if cfg.Storage.Enabled() {
		s3Client, err := cfg.Storage.NewS3Client(ctx)
		if err != nil {
			return err
		}
		occupancyService.SetFeedPublisher(storage.NewPublisher(s3Client, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL, logg))
		logg.Info("calendar feed publishing enabled", zap.String("bucket", cfg.Storage.Bucket))
	}

	kpiService := services.NewKPIService(ledgerRepo, unitRepo, snapshotRepo, zone, cfg.Ledger.DefaultCurrency, logg)
	kpiService.SetCache(kpiCache)

	invoiceRenderer := services.NewInvoiceRenderer(ledgerService, zone, cfg.Ledger.CompanyName)

	// Health
	checker := health.NewHealthChecker()
	checker.Register("postgres", pool)
	checker.Register("cache", kpiCache)

	// HTTP
	jwtManager := auth.NewJWTManager(cfg)
	authMiddleware := middleware.NewAuthMiddleware(jwtManager)

	router := h.NewRouter(h.Handlers{
		Ledger:    handlers.NewLedgerHandler(ledgerService, invoiceRenderer, zone, logg),
		KPI:       handlers.NewKPIHandler(kpiService, logg),
		Renewal:   handlers.NewRenewalHandler(renewalService, logg),
		Occupancy: handlers.NewOccupancyHandler(occupancyService, zone, logg),
		Webhook:   handlers.NewWebhookHandler(webhookService, cfg.Webhook.SignatureHeader, cfg.Webhook.Provider, cfg.Webhook.MaxBodyBytes, logg),
		Audit:     handlers.NewAuditHandler(auditService, zone, logg),
		Health:    handlers.NewHealthHandler(checker),
	}, authMiddleware)

	corsMiddleware := middleware.NewCORS(cfg)
	handler := middleware.PanicRecovery(logg)(middleware.APILogging(logg)(corsMiddleware(router)))

	// Scheduled jobs
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		runner := jobs.NewJobRunner(occupancyService, 0, logg)
		sched, err = scheduler.NewScheduler(runner, scheduler.Specs{
			Snapshot: cfg.Scheduler.SnapshotSpec,
			ICalSync: cfg.Scheduler.ICalSyncSpec,
			Export:   cfg.Scheduler.ExportSpec,
		}, zone.Loc, logg)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		sched.Start()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info("server listening", zap.String("addr", server.Addr), zap.String("timezone", cfg.Occupancy.Timezone))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logg.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("http shutdown failed", zap.Error(err))
	}
	if sched != nil {
		sched.Stop()
	}
	if err := auditService.Close(shutdownCtx); err != nil {
		logg.Error("audit log drain incomplete", zap.Error(err))
	}

	logg.Info("server stopped")
	return nil
}
