// Package main provides the main entry point for the creator console service
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/amirphl/creator-console/app/adapters"
	"github.com/amirphl/creator-console/app/audience"
	"github.com/amirphl/creator-console/app/cache"
	"github.com/amirphl/creator-console/app/handlers"
	"github.com/amirphl/creator-console/app/middleware"
	"github.com/amirphl/creator-console/app/router"
	"github.com/amirphl/creator-console/app/scheduler"
	"github.com/amirphl/creator-console/app/services"
	businessflow "github.com/amirphl/creator-console/business_flow"
	"github.com/amirphl/creator-console/config"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
	"github.com/amirphl/creator-console/utils"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	logger    *log.Logger
	runs      *businessflow.RunRegistry
	stopFuncs []func()
	closers   []io.Closer
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logCloser := utils.NewLogger(utils.LogOptions{
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	}, "[creator-console] ")
	defer logCloser.Close()
	log.SetOutput(logger.Writer())
	log.SetFlags(logger.Flags())

	logger.Printf("Starting creator console %s (%s, commit %s)", cfg.Deployment.Version, cfg.Deployment.Environment, cfg.Deployment.CommitHash)

	// Runs started by requests outlive them; this context ends them on shutdown
	baseCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	app, err := initializeApplication(baseCtx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = newMetricsServer(cfg.Metrics)
		g.Go(func() error {
			logger.Printf("Metrics listening on %s%s", metricsServer.Addr, cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Println("Shutting down gracefully...")

		// Stop background workers before cancelling runs so no scheduled run launches mid-shutdown
		for _, fn := range app.stopFuncs {
			fn()
		}
		cancelRuns()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		// Cancelled runs still record their results and conversations before the database closes
		if err := app.runs.Wait(shutdownCtx); err != nil {
			logger.Printf("Runs still finishing at shutdown: %v", err)
		}

		if err := app.router.GetApp().ShutdownWithContext(shutdownCtx); err != nil {
			logger.Printf("Error during shutdown: %v", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Printf("Error stopping metrics server: %v", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Printf("Server exited with error: %v", err)
	}

	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			logger.Printf("Error releasing resource: %v", err)
		}
	}

	logger.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger *log.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
	if cfg.SlowQueryLog {
		gormConfig.Logger = gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Println("Database schema migrated")
	}

	logger.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity.
// A nil client means locks and totals stay in process.
func initializeCache(cfg config.CacheConfig, logger *log.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to detect connectivity issues.
// The returned function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, logger *log.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					logger.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// startRunPruner drops finished runs from the in-memory registry once their retention passes
func startRunPruner(parent context.Context, runs *businessflow.RunRegistry, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				runs.Prune(now.UTC())
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func newMetricsServer(cfg config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// mockAudienceSize is the synthetic follower count per account when GRAPH_MOCK is set
const mockAudienceSize = 500

func initializeGraph(cfg config.GraphConfig, logger *log.Logger) services.GraphProvider {
	if cfg.Mock {
		logger.Println("Using mock social graph")
		return services.NewMockGraph(mockAudienceSize, cfg.PageSize)
	}
	return services.NewGraphClient(cfg)
}

func initializeApplication(baseCtx context.Context, cfg *config.ProductionConfig, logger *log.Logger) (*Application, error) {
	var (
		stopFuncs []func()
		closers   []io.Closer
	)

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		closers = append(closers, sqlDB)
	}

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	var (
		locks  scheduler.RunLock
		totals cache.AccountTotals
	)
	if rc != nil {
		locks = scheduler.NewRedisRunLock(rc, cfg.Cache.RedisPrefix, cfg.Cache.LockTTL)
		totals = cache.NewRedisAccountTotals(rc, cfg.Cache.RedisPrefix)
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(baseCtx, rc, 30*time.Second, logger))
		closers = append(closers, rc)
	} else {
		logger.Println("Cache disabled; account locks and totals are local to this instance")
		locks = scheduler.NewLocalRunLock()
		totals = cache.NewMemoryAccountTotals()
	}

	// Repositories
	audienceRepo := repository.NewAudienceRecordRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	runRepo := repository.NewDispatchRunRepository(db)
	resultRepo := repository.NewDispatchResultRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// Runs that were executing when the previous process died cannot resume
	reset, err := runRepo.ResetRunning(baseCtx, utils.UTCNow())
	if err != nil {
		return nil, fmt.Errorf("failed to reset interrupted runs: %w", err)
	}
	if reset > 0 {
		logger.Printf("Marked %d interrupted dispatch runs as failed", reset)
	}

	graph := initializeGraph(cfg.Graph, logger)
	exporter := services.NewExportService()
	stores := businessflow.NewAudienceStores(audience.NewRegistry(), audienceRepo)
	runs := businessflow.NewRunRegistry(utils.RunRetention)
	stopFuncs = append(stopFuncs, startRunPruner(baseCtx, runs, utils.RunRetention/4))

	// Business flows
	audienceFlow := businessflow.NewAudienceFlow(stores, audienceRepo, auditRepo, locks, exporter, logger)
	acquisitionFlow := businessflow.NewAcquisitionFlow(baseCtx, stores, audienceRepo, auditRepo, graph, locks, totals, runs, cfg.Acquisition, logger)
	dispatchFlow := businessflow.NewDispatchFlow(
		baseCtx,
		stores,
		repository.NewTransactor(db),
		runRepo,
		resultRepo,
		auditRepo,
		adapters.NewConversationUpserter(conversationRepo),
		graph,
		locks,
		runs,
		exporter,
		cfg.Dispatch,
		logger,
	)

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewDispatchScheduler(runRepo, dispatchFlow, logger, cfg.Scheduler.Interval, cfg.Scheduler.BatchSize)
		stopFuncs = append(stopFuncs, sched.Start(baseCtx))
		logger.Printf("Dispatch scheduler started (interval=%s, batch=%d)", cfg.Scheduler.Interval, cfg.Scheduler.BatchSize)
	}

	verifier, err := services.NewTokenVerifier(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	r := router.NewFiberRouter(
		cfg,
		middleware.NewAuthMiddleware(verifier),
		handlers.NewHealthHandler(runs, cfg.Deployment.Version),
		handlers.NewAudienceHandler(audienceFlow),
		handlers.NewAcquisitionHandler(acquisitionFlow),
		handlers.NewDispatchHandler(dispatchFlow),
		handlers.NewAuditHandler(businessflow.NewAuditFlow(auditRepo, logger)),
	)

	return &Application{
		router:    r,
		config:    cfg,
		logger:    logger,
		runs:      runs,
		stopFuncs: stopFuncs,
		closers:   closers,
	}, nil
}
