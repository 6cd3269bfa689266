package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/shiftbill/pkg/api"
	"github.com/platinummonkey/shiftbill/pkg/billing"
	"github.com/platinummonkey/shiftbill/pkg/config"
	"github.com/platinummonkey/shiftbill/pkg/observability"
	"github.com/platinummonkey/shiftbill/pkg/orgs"
	"github.com/platinummonkey/shiftbill/pkg/pricing"
	"github.com/platinummonkey/shiftbill/pkg/subscriptions"
)

var version = "dev"

func main() {
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before reading the environment")
	ensurePlans := flag.Bool("ensure-plans", false, "Create missing provider plans before serving")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *ensurePlans); err != nil {
		logger.WithError(err).Fatal("shiftbill exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger, ensurePlans bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []observability.ShutdownFunc

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if tp != nil {
		closers = append(closers, func(ctx context.Context) error {
			return observability.ShutdownTracing(ctx, tp, logger)
		})
	}

	store, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	deduper, redisClient, err := openDeduper(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		closers = append(closers, func(context.Context) error { return redisClient.Close() })
	}

	promos := pricing.NewPromoCodes(nil)
	if cfg.PromoCodesFile != "" {
		promos, err = pricing.LoadPromoCodes(cfg.PromoCodesFile)
		if err != nil {
			return fmt.Errorf("failed to load promo codes: %w", err)
		}
		logger.WithField("count", promos.Len()).Info("promo codes loaded")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	client := billing.NewClient(cfg.Provider, logger, metrics)

	synchronizer := subscriptions.New(store, client, pricing.NewCalculator(cfg.Pricing), subscriptions.Options{
		ProductID:         cfg.Provider.ProductID,
		Promos:            promos,
		Deduper:           deduper,
		Logger:            logger,
		Metrics:           metrics,
		FanOutConcurrency: cfg.Store.FanOutConcurrency,
	})

	if ensurePlans {
		result, err := synchronizer.EnsurePlans(ctx)
		if err != nil {
			return fmt.Errorf("failed to ensure plans: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"product_id": result.ProductID,
			"created":    result.Created,
			"existing":   result.Existing,
		}).Info("provider plans ensured")
	}

	deps := api.Deps{
		Service:      synchronizer,
		Provider:     client,
		Logger:       logger,
		Metrics:      metrics,
		Health:       observability.NewHealthChecker(store, redisClient, version),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Tracing:      tp != nil,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Gatherer = registry
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewServer(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	for _, fn := range closers {
		shutdown.RegisterShutdownFunc(fn)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    httpServer.Addr,
			"store":   cfg.Store.Type,
			"version": version,
		}).Info("starting shiftbill")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		_ = shutdown.WaitForShutdown(ctx)
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		return err
	}
	logger.Info("shiftbill stopped")
	return nil
}

// openStore connects the entitlement store and applies migrations for postgres
func openStore(cfg config.StoreConfig, logger logrus.FieldLogger) (orgs.Store, observability.ShutdownFunc, error) {
	if cfg.Type == config.StoreMemory {
		logger.Warn("using in-memory store: entitlements are lost on restart")
		return orgs.NewMemoryStore(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := orgs.Migrate(db, logger); err != nil {
		db.Close()
		return nil, nil, err
	}

	return orgs.NewPostgresStore(db), func(context.Context) error { return db.Close() }, nil
}

// openDeduper prefers redis so redeliveries are caught across instances.
// An unreachable redis at startup falls back to the in-process cache.
func openDeduper(ctx context.Context, cfg config.StoreConfig, logger logrus.FieldLogger) (subscriptions.EventDeduper, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return subscriptions.NewLRUDeduper(cfg.DedupLRUSize, cfg.DedupTTL), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable, falling back to in-process event dedup")
		client.Close()
		return subscriptions.NewLRUDeduper(cfg.DedupLRUSize, cfg.DedupTTL), nil, nil
	}

	return subscriptions.NewRedisDeduper(client, cfg.DedupTTL), client, nil
}
