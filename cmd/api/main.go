package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wcagai/scanner-go/internal/analyzer"
	"github.com/wcagai/scanner-go/internal/api"
	"github.com/wcagai/scanner-go/internal/cache"
	"github.com/wcagai/scanner-go/internal/orchestrator"
	"github.com/wcagai/scanner-go/internal/pool"
	"github.com/wcagai/scanner-go/pkg/config"
	"github.com/wcagai/scanner-go/pkg/health"
	"github.com/wcagai/scanner-go/pkg/logging"
	"github.com/wcagai/scanner-go/pkg/metrics"
	"github.com/wcagai/scanner-go/pkg/resilience"
	"github.com/wcagai/scanner-go/pkg/security"
)

const (
	serviceName = "wcagai-scanner"
	version     = "3.0.0"
)

func main() {
	// Load .env if present, real environment wins
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: serviceName,
		Version:     version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Service terminated")
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(metrics.DefaultConfig())

	engine := analyzer.NewEngineClient(cfg.Engine, logger)

	browserPool := pool.NewPool(engine.Factory(), pool.Config{
		MinSize:             cfg.Pool.MinSize,
		MaxSize:             cfg.Pool.MaxSize,
		ProbeTimeout:        5 * time.Second,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
		ShutdownGrace:       cfg.Pool.ShutdownGrace,
	}, logger)

	if err := browserPool.Initialize(ctx); err != nil {
		return err
	}
	browserPool.Start(ctx)

	breakers := resilience.NewManager(resilience.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		CallTimeout:      cfg.Breaker.CallTimeout,
	})
	breakers.Subscribe(breakerMetricsObserver(m))

	orchOpts := []orchestrator.Option{
		orchestrator.WithMetrics(m),
	}

	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisClient(&cfg.Redis, cfg.RedisAddr())
		if err != nil {
			// Cache is an optimization, never a startup blocker
			logger.WithError(err).Warn("Redis unavailable, scan cache disabled")
		} else {
			redisClient = rc
			defer redisClient.Close()
			orchOpts = append(orchOpts,
				orchestrator.WithCache(cache.NewScanCache(redisClient, cfg.Redis.CacheTTL, logger)))
		}
	}

	validator := security.NewValidator(security.DefaultValidatorConfig())

	orch := orchestrator.NewOrchestrator(
		browserPool,
		engine.Analyzer(),
		validator,
		breakers,
		orchestrator.Config{
			MaxRetries:       cfg.Scan.MaxRetries,
			BaseDelay:        cfg.Scan.BaseDelay,
			MaxDelay:         cfg.Scan.MaxDelay,
			AcquireTimeout:   cfg.Pool.AcquireTimeout,
			ScanTimeout:      cfg.Scan.ScanTimeout,
			DiscardOnFailure: true,
		},
		logger,
		orchOpts...,
	)

	healthSvc := health.NewService(serviceName, version, logger)
	healthSvc.RegisterChecker("pool", health.CheckerFunc(func(ctx context.Context) error {
		stats := browserPool.Stats()
		if stats.Idle+stats.Active == 0 && stats.MinSize > 0 {
			return fmt.Errorf("no browser handles alive")
		}
		return nil
	}))
	if redisClient != nil {
		healthSvc.RegisterChecker("redis", health.CheckerFunc(redisClient.Ping))
	}

	go poolGaugeLoop(ctx, browserPool, m)

	router := api.NewRouter(cfg, orch, browserPool, breakers, healthSvc, m, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server error")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	// Drain HTTP first so no new scans arrive, then drain the pool
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}
	if err := browserPool.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Pool shutdown failed")
	}

	logger.Info("Service stopped")
	return nil
}

// breakerMetricsObserver exports breaker events as Prometheus metrics
func breakerMetricsObserver(m *metrics.Metrics) resilience.Observer {
	stateValue := func(s resilience.State) float64 {
		switch s {
		case resilience.StateOpen:
			return 1
		case resilience.StateHalfOpen:
			return 2
		default:
			return 0
		}
	}
	return resilience.ObserverFunc(func(event resilience.Event) {
		switch event.Kind {
		case resilience.EventStateChanged:
			m.BreakerState.WithLabelValues(event.Breaker).Set(stateValue(event.To))
			m.BreakerTransitions.WithLabelValues(event.Breaker, event.From.String(), event.To.String()).Inc()
		case resilience.EventCallRejected:
			m.BreakerRejections.WithLabelValues(event.Breaker).Inc()
		}
	})
}

// poolGaugeLoop periodically exports pool stats as Prometheus gauges
func poolGaugeLoop(ctx context.Context, p *pool.Pool, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastCreated, lastDestroyed, lastErrors uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.Stats()
			m.PoolIdle.Set(float64(stats.Idle))
			m.PoolActive.Set(float64(stats.Active))
			m.PoolWaiting.Set(float64(stats.Waiting))
			if d := stats.Created - lastCreated; d > 0 {
				m.PoolCreatedTotal.Add(float64(d))
			}
			if d := stats.Destroyed - lastDestroyed; d > 0 {
				m.PoolDestroyedTotal.Add(float64(d))
			}
			if d := stats.AcquireErrors - lastErrors; d > 0 {
				m.PoolAcquireErrors.Add(float64(d))
			}
			lastCreated, lastDestroyed, lastErrors = stats.Created, stats.Destroyed, stats.AcquireErrors
		}
	}
}
