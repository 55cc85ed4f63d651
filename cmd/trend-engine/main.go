package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthtrack/trend-engine/internal/api"
	"github.com/healthtrack/trend-engine/internal/cache"
	"github.com/healthtrack/trend-engine/internal/config"
	"github.com/healthtrack/trend-engine/internal/engine"
	"github.com/healthtrack/trend-engine/internal/extractors"
	"github.com/healthtrack/trend-engine/internal/maintenance"
	"github.com/healthtrack/trend-engine/internal/metrics"
	"github.com/healthtrack/trend-engine/internal/repo"
	"github.com/healthtrack/trend-engine/internal/services"
	"github.com/healthtrack/trend-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	if err := run(logger, cfg); err != nil {
		logger.Error("trend-engine failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// run wires the service and blocks until a shutdown signal. Resources acquired here
// are released by deferred calls on every return path.
func run(logger *slog.Logger, cfg *config.Config) error {
	logger.Info("starting trend-engine", slog.String("address", cfg.Server.Address), slog.String("records", cfg.Records.Driver))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	catalog, err := extractors.LoadCatalog(cfg.Metrics.CatalogPath, logger)
	if err != nil {
		return fmt.Errorf("load metric catalog: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, closeRecords, err := openRecordSource(ctx, cfg.Records)
	if err != nil {
		return fmt.Errorf("open record source: %w", err)
	}
	defer closeRecords()

	var sharedTier cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, caching in process only", slog.Any("error", err))
		} else {
			sharedTier = provider
			defer provider.Close()
		}
	}
	resultCache := cache.NewAnalysisCache(logger, cache.AnalysisCacheOptions{
		Provider:  sharedTier,
		Retention: cfg.Cache.Retention,
	})

	dispatcher := engine.NewDispatcher(logger, engine.DispatcherConfig{
		Workers:          cfg.Compute.Workers,
		OffloadThreshold: cfg.Compute.OffloadThreshold,
		QueueSize:        cfg.Compute.QueueSize,
	})
	defer dispatcher.Close()

	analyzer := engine.NewAnalyzer(logger, records, resultCache, extractors.NewPointExtractor(catalog), dispatcher, engine.AnalyzerOptions{
		MinRecords:   cfg.Analysis.MinRecords,
		TrimOutliers: cfg.Analysis.TrimOutliers,
	})

	trendService := services.NewTrendService(logger, analyzer, cfg.Cache.Retention)

	server, err := api.NewServer(cfg.Server, trendService)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	if cfg.Cache.SweepInterval > 0 {
		sweeper, err := maintenance.NewSweeper(logger, analyzer, cfg.Cache.SweepInterval, cfg.Cache.Retention)
		if err != nil {
			return fmt.Errorf("create cache sweeper: %w", err)
		}
		go func() {
			if err := sweeper.Run(ctx); err != nil {
				logger.Error("cache sweeper exited", slog.Any("error", err))
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	stats := dispatcher.Stats()
	logger.Info("trend-engine stopped",
		slog.Int64("inline", stats.Inline),
		slog.Int64("offloaded", stats.Offloaded),
		slog.Int64("fallbacks", stats.Fallbacks))
	return nil
}

// openRecordSource builds the configured record source and its release func.
func openRecordSource(ctx context.Context, cfg config.RecordsConfig) (engine.RecordSource, func(), error) {
	switch cfg.Driver {
	case config.DriverHTTP:
		client := repo.NewRecordServiceClient(cfg.HTTP.BaseURL, cfg.HTTP.RecordsPath, cfg.HTTP.Timeout)
		return client, func() {}, nil
	case config.DriverMySQL:
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := repo.OpenMySQL(openCtx, repo.MySQLConfig{
			DSN:             cfg.MySQL.DSN,
			Addr:            cfg.MySQL.Addr,
			User:            cfg.MySQL.User,
			Password:        cfg.MySQL.Password,
			Database:        cfg.MySQL.Database,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo.NewMySQLRecordStore(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown records driver %q", cfg.Driver)
	}
}
