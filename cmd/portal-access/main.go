package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/config"
	"github.com/alshuail/portal-access/pkg/credentials"
	"github.com/alshuail/portal-access/pkg/observability"
	"github.com/alshuail/portal-access/pkg/rbac"
	"github.com/alshuail/portal-access/pkg/storage"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("portal-access exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = observability.WithLogger(ctx, logger)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Storage
	cm, err := storage.NewConnectionManager(cfg.Storage.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	db := cm.Primary()
	dialect := cm.Dialect()

	if cfg.Storage.AutoMigrate {
		if err := rbac.RunMigrations(ctx, db, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	var redisClient *storage.RedisClient
	if cfg.Storage.RedisEnabled() {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis connected; sessions and rate limits are shared")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}
	var otelMetrics *observability.OTelMetrics
	if cfg.Observability.OTelEnabled {
		otelMetrics, err = observability.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
	}

	// Directory and sessions
	var directory auth.Directory = auth.NewSQLDirectory(db)
	if cfg.DirectoryCache.Enabled {
		directory = auth.NewCachedDirectory(directory, cfg.DirectoryCache.Size, cfg.DirectoryCache.TTL, metrics)
	}

	var sessionStore auth.SessionStore = auth.NewMemorySessionStore()
	if redisClient != nil {
		sessionStore = auth.NewRedisSessionStore(redisClient.Client(), cfg.Session.RedisPrefix)
	}
	sessions := auth.NewSessionManager(sessionStore, directory, cfg.Session.TTL)

	// Audit
	auditDB, err := audit.NewDBLogger(ctx, db, dialect)
	if err != nil {
		return fmt.Errorf("failed to initialize audit table: %w", err)
	}
	sinks := []audit.Logger{auditDB}
	if cfg.Audit.FilePath != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.Audit.FilePath
		fileCfg.Logger = logger
		fileLogger, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return fmt.Errorf("failed to open audit file: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}
	asyncCfg := audit.DefaultAsyncLoggerConfig()
	asyncCfg.Workers = cfg.Audit.AsyncWorkers
	asyncCfg.QueueSize = cfg.Audit.AsyncQueue
	auditLogger := audit.NewAsyncLogger(ctx, audit.NewMultiLogger(sinks...), asyncCfg, logger)

	var archiver audit.Archiver
	if cfg.Audit.ArchiveEnabled() {
		archiveCfg := audit.ArchiveConfig{
			Bucket:          cfg.Audit.ArchiveBucket,
			Prefix:          cfg.Audit.ArchivePrefix,
			Region:          cfg.Audit.ArchiveRegion,
			Endpoint:        cfg.Audit.ArchiveEndpoint,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			UsePathStyle:    cfg.Audit.ArchivePathStyle,
		}
		client, err := audit.NewS3Client(ctx, archiveCfg)
		if err != nil {
			return err
		}
		s3Archiver, err := audit.NewS3Archiver(client, auditDB, archiveCfg, otelMetrics, logger)
		if err != nil {
			return err
		}
		archiver = s3Archiver
	}
	auditStore := audit.NewDBStore(auditDB, archiver)

	// Access engine
	manager, err := rbac.NewManager(rbac.NewSQLStore(db, dialect), directory, rbac.Config{
		Routes: rbac.Routes{
			Login:      cfg.Routes.Login,
			AdminHome:  cfg.Routes.AdminHome,
			MemberHome: cfg.Routes.MemberHome,
		},
		CatalogFile: cfg.Catalog.File,
	}, rbac.Dependencies{
		AuditLogger: auditLogger,
		Metrics:     metrics,
		OTelMetrics: otelMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to load role catalog: %w", err)
	}
	if err := manager.VerifyAssignments(ctx, time.Now()); err != nil {
		return fmt.Errorf("stored role assignments do not match the catalog: %w", err)
	}

	gate := credentials.NewGate(
		manager.Guard(),
		directory,
		credentials.NewSQLStore(db, dialect),
		credentials.NewBcryptHasher(cfg.Password.BcryptCost),
		passwordPolicy(cfg.Password),
		credentials.WithAuditLogger(auditLogger),
		credentials.WithEventSearcher(auditStore, cfg.Password.SecurityEvents),
		credentials.WithMetrics(metrics),
	)

	limits := newRateLimits(ctx, cfg.RateLimit, redisClient, logger)

	handler := newRouter(routerDeps{
		cfg:         cfg,
		logger:      logger,
		sessions:    sessions,
		manager:     manager,
		gate:        gate,
		auditLogger: auditLogger,
		auditStore:  auditStore,
		limits:      limits,
		metrics:     metrics,
		otelMetrics: otelMetrics,
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	redisForHealth := redisClientOrNil(redisClient)
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           newHealthRouter(observability.NewHealthChecker(db, redisForHealth, version), registry, cfg.Observability.MetricsEnabled),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Background work
	cm.StartHealthCheckRoutine(ctx, 30*time.Second, metrics)
	jobs, err := startJobs(ctx, jobDeps{
		cfg:      cfg.Audit,
		logger:   logger,
		store:    auditStore,
		archive:  archiver != nil,
		manager:  manager,
		interval: time.Minute,
	})
	if err != nil {
		return err
	}
	if cfg.Catalog.File != "" {
		if err := watchCatalog(ctx, cfg.Catalog.File, logger); err != nil {
			logger.WithError(err).Warn("catalog overlay watch disabled")
		}
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-jobs.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditLogger.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}

	go func() {
		defer observability.RecoverPanic(logger, "health_server")
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("health server failed")
		}
	}()
	go func() {
		defer observability.RecoverPanic(logger, "api_server")
		logger.WithFields(map[string]interface{}{
			"addr":    server.Addr,
			"version": version,
			"roles":   len(manager.Catalog().Roles()),
		}).Info("Portal access server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("API server failed")
			cancel()
		}
	}()

	err = shutdown.WaitForShutdown(ctx)
	cancel()
	if closeErr := cm.Close(); closeErr != nil {
		logger.WithError(closeErr).Warn("failed to close database connections")
	}
	logger.Info("Portal access server stopped")
	return err
}

func passwordPolicy(cfg config.PasswordConfig) credentials.StrengthPolicy {
	return credentials.StrengthPolicy{
		MinLength:     cfg.MinLength,
		MaxLength:     cfg.MaxLength,
		RequireUpper:  cfg.RequireUpper,
		RequireLower:  cfg.RequireLower,
		RequireDigit:  cfg.RequireDigit,
		RequireSymbol: cfg.RequireSymbol,
	}
}
