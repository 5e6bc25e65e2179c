// Command vitalguard runs the real-time vital-signs monitoring
// backend: broker ingestion, anomaly detection, trend aggregation,
// and the query/control API, all composed in one process so C4's
// DetectorConfig and C3's BaselineRegistry can be shared in memory.
//
// Grounded on wisefido-card-aggregator/cmd/wisefido-card-aggregator/main.go
// and wisefido-alarm/cmd/wisefido-alarm/main.go for the
// config-load -> logger-init -> service-start -> signal-wait ->
// graceful-shutdown shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"vitalguard/internal/aggregator"
	"vitalguard/internal/baseline"
	"vitalguard/internal/broker"
	"vitalguard/internal/config"
	"vitalguard/internal/detector"
	"vitalguard/internal/httpapi"
	"vitalguard/internal/ingestion"
	"vitalguard/internal/llmproxy"
	"vitalguard/internal/logging"
	"vitalguard/internal/metrics"
	"vitalguard/internal/model"
	"vitalguard/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "vitalguard")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting vitalguard")

	if err := run(cfg, logger); err != nil {
		logger.Fatal("vitalguard exited with error", zap.Error(err))
	}
	logger.Info("vitalguard stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg)

	db, err := store.Open(cfg.Database, logging.WithComponent(logger, "store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	baselineRegistry := baseline.New()

	initialCfg := model.DetectorConfig{DetectorType: model.DetectorRangeBased, UserID: "default"}
	if loaded, err := db.LoadConfig(ctx); err != nil {
		logger.Warn("load persisted detector config failed, using default", zap.Error(err))
	} else {
		initialCfg = loaded
	}
	detectorCfg := detector.NewConfig(baselineRegistry, initialCfg.DetectorType, initialCfg.UserID)

	brokerGateway := broker.New(cfg.MQTT, logging.WithComponent(logger, "broker"), metricsReg)

	redisClient := aggregator.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisClient.Close()
	aggregatorLogger := logging.WithComponent(logger, "aggregator")
	trendCache := aggregator.NewRedisEnvelopeCache(redisClient, aggregatorLogger)
	trendAggregator := aggregator.New(db, trendCache, aggregatorLogger)

	llmClient := llmproxy.New(cfg.LLM, metricsReg)

	pipeline := ingestion.New(cfg.WorkerCount, cfg.QueueCapacity, detectorCfg, baselineRegistry, db, brokerGateway, logging.WithComponent(logger, "ingestion"), metricsReg)

	brokerGateway.OnRaw(func(payload []byte) {
		if err := pipeline.Ingest(ctx, payload); err != nil {
			logger.Debug("dropped raw sample", zap.Error(err))
		}
	})
	brokerGateway.OnConfig(func(payload []byte) {
		logger.Debug("received config echo", zap.ByteString("payload", payload))
	})

	pipeline.Start(ctx)

	brokerErrCh := make(chan error, 1)
	go func() {
		if err := brokerGateway.Connect(ctx); err != nil && ctx.Err() == nil {
			brokerErrCh <- err
		}
	}()

	apiHandler := httpapi.New(detectorCfg, baselineRegistry, db, trendAggregator, brokerGateway, llmClient, logging.WithComponent(logger, "httpapi"))
	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.RequestTimeout,
		WriteTimeout: cfg.HTTP.RequestTimeout,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-brokerErrCh:
		logger.Error("broker gateway failed", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("http server failed", zap.Error(err))
	}

	cancel()
	brokerGateway.Stop()
	pipeline.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
	defer shutdownCancel()

	var shutdownErr error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = multierr.Append(shutdownErr, fmt.Errorf("http server shutdown: %w", err))
	}

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	if err := db.SaveConfig(saveCtx, detectorCfg.Snapshot()); err != nil {
		shutdownErr = multierr.Append(shutdownErr, fmt.Errorf("persist detector config: %w", err))
	}

	return shutdownErr
}
