package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labcase_backend/internal/cases"
	casesvc "labcase_backend/internal/cases/service"
	"labcase_backend/internal/events"
	apphttp "labcase_backend/internal/http"
	"labcase_backend/internal/http/router"
	"labcase_backend/internal/notification"
	"labcase_backend/internal/scheduler"
	"labcase_backend/internal/shopify"
	"labcase_backend/internal/storage"
	"labcase_backend/internal/tickets"
	ticketsvc "labcase_backend/internal/tickets/service"
	"labcase_backend/migrations"
	"labcase_backend/platform/config"
	"labcase_backend/platform/db"
	"labcase_backend/platform/logger"
	"labcase_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Notification module subscribes to domain events (not HTTP-facing)
	notificationModule := notification.New(log)
	notificationModule.RegisterHandlers(eventBus)

	enqueuer, closeEnqueuer := initEmailEnqueuer(cfg, log)
	if closeEnqueuer != nil {
		defer closeEnqueuer()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	fetcher := initOrderFetcher(cfg, log)
	objects := initObjectStore(ctx, cfg, log)

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	ticketsModule := tickets.NewModule(pool, enqueuer, eventBus, val, log)

	// Cases compose tickets inside their own import transaction, so the
	// tickets service doubles as the composer dependency.
	casesModule := cases.NewModule(pool, ticketsModule.Service, fetcher, objects, eventBus, val, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			casesModule,
			ticketsModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initEmailEnqueuer wires the asynq-backed ticket email queue. Without
// Redis the queue is disabled and ticket emails surface as diagnostics.
func initEmailEnqueuer(cfg config.SchedulerConfig, log *logger.Logger) (ticketsvc.EmailEnqueuer, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; ticket email delivery disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize ticket email queue client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

// initOrderFetcher wires the Shopify order source. Without credentials,
// import by order number is rejected as unavailable.
func initOrderFetcher(cfg *config.Config, log *logger.Logger) casesvc.OrderFetcher {
	if cfg.GetShopifyShopDomain() == "" || cfg.GetShopifyAccessToken() == "" {
		log.Warn("shopify credentials not configured; order import disabled")
		return nil
	}
	return shopify.New(cfg)
}

// initObjectStore wires MinIO for case attachments. Without an endpoint,
// attachment endpoints are rejected as unavailable.
func initObjectStore(ctx context.Context, cfg *config.Config, log *logger.Logger) casesvc.ObjectStore {
	if !cfg.IsMinIOEnabled() {
		log.Warn("minio not configured; case attachments disabled")
		return nil
	}

	client, err := storage.New(cfg)
	if err != nil {
		log.Error("failed to initialize storage client", "error", err)
		panic("failed to initialize storage client: " + err.Error())
	}

	if err := withRetry(ctx, log, "ensure attachments bucket", 5, 2*time.Second, func() error {
		return client.EnsureBucket(ctx)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetMinIOBucket())
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
	log.Info("storage client initialized", "bucket", cfg.GetMinIOBucket())

	return client
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
