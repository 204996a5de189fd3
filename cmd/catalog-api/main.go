package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"catalog-cache/internal/cache"
	"catalog-cache/internal/catalog"
	"catalog-cache/internal/config"
	"catalog-cache/internal/handlers"
	"catalog-cache/internal/httpserver"
	"catalog-cache/internal/invalidation"
	"catalog-cache/internal/metrics"
	"catalog-cache/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("catalog-api exited with error: %v", err)
	}
}

func familyNames() []string {
	names := make([]string, 0, len(cache.DefaultTTLs))
	for name := range cache.DefaultTTLs {
		names = append(names, name)
	}
	return names
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer func() { _ = logger.Sync() }()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load(familyNames()...)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("loaded config", zap.Stringer("config", cfg))

	cascade, ok := invalidation.ParseReviewCascade(cfg.ReviewCascade)
	if !ok {
		return fmt.Errorf("config: unknown review cascade %q", cfg.ReviewCascade)
	}

	// ----- Cache store -----
	// A store that cannot be reached leaves the client degraded; reads fall
	// through to Postgres until the next restart.
	client := cache.NewClient(cache.Options{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		Prefix:    cfg.CachePrefix,
		OpTimeout: cfg.CacheOpTimeout,
		ScanBatch: cfg.CacheScanBatch,
	}, logger)
	if err := client.Connect(context.Background()); err != nil {
		logger.Warn("cache store unavailable, serving uncached", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	store := cache.NewInstrumentedStore(client)

	families, err := cache.NewRegistry(cache.DefaultFamilies(cfg.TTLOverrides)...)
	if err != nil {
		return err
	}
	writer := cache.NewWriter(store, cache.WriterOptions{
		QueueSize: cfg.CacheWriteQueue,
		Workers:   cfg.CacheWriteWorkers,
	}, logger)
	interceptor := cache.NewInterceptor(store, writer)

	coordinator := invalidation.New(store, invalidation.Options{
		Policy:      invalidation.Policy{Review: cascade},
		Concurrency: cfg.InvalidationConcurrency,
	}, logger)

	// ----- Store of record -----
	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	db, err := catalog.Open(startCtx, logger,
		catalog.WithDSN(cfg.DatabaseURL),
		catalog.WithMaxOpenConns(cfg.DBMaxOpenConns),
		catalog.WithConnectRetry(cfg.DBConnectAttempts, 200*time.Millisecond),
	)
	cancelStart()
	if err != nil {
		_ = client.Close()
		return err
	}

	repo := catalog.NewRepository(db, logger)
	writes := catalog.NewWriteService(repo, coordinator, logger)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.Deps{
		Logger:         logger,
		Store:          store,
		Families:       families,
		Interceptor:    interceptor,
		Reads:          handlers.NewCatalogHandler(repo, families),
		Writes:         handlers.NewWriteHandler(writes),
		RequestTimeout: cfg.RequestTimeout,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting catalog-api",
		zap.String("addr", srv.Addr),
		zap.String("cache_state", client.State().String()),
		zap.Strings("families", families.Names()),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		errs = append(errs, err)
	}
	// Queued cache writes still hold valid responses; flush them before the
	// store goes away.
	if err := writer.Close(shutdownCtx); err != nil {
		logger.Warn("cache writer did not drain", zap.Int("pending", writer.Pending()), zap.Error(err))
	}
	if err := client.Close(); err != nil {
		logger.Warn("cache store close error", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		errs = append(errs, err)
	}

	logger.Info("server shutdown complete")
	return errors.Join(errs...)
}
