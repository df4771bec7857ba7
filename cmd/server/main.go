// Package main provides the API server entry point for the portfolio
// monitoring service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-monitor/internal/adapter"
	"github.com/portfolio-monitor/internal/api"
	"github.com/portfolio-monitor/internal/config"
	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/logging"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/monitor"
	"github.com/portfolio-monitor/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Databases
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Repositories
	configRepo := storage.NewConfigRepository(postgres)
	strategyRepo := storage.NewStrategyRepository(postgres)
	actionLogRepo := storage.NewActionLogRepository(postgres)
	executionRepo := storage.NewExecutionRepository(postgres)
	driftHistoryRepo := storage.NewDriftHistoryRepository(clickhouse)
	priceCache := storage.NewPriceCache(redis, cfg.PriceFeed.CacheTTL)

	// Chain and price feed adapters
	balanceFetcher, err := adapter.NewBalanceFetcher(cfg.RPC.URL, cfg.Monitor.Tokens)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize balance fetcher")
	}
	priceClient := adapter.NewPriceClient(&cfg.PriceFeed)

	var submitter monitor.ExecutionSubmitter
	if cfg.Executor.PrivateKey != "" {
		rebalancer, err := adapter.NewRebalanceSubmitter(cfg.RPC.URL, cfg.Executor.PrivateKey, cfg.RPC.ChainID, cfg.Executor.Network)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize rebalance submitter")
		}
		defer rebalancer.Close()
		submitter = rebalancer
		logger.WithField("network", cfg.Executor.Network).Info("Rebalance submitter initialized")
	} else {
		submitter = disabledSubmitter{}
		logger.Warn("No executor key configured, auto-execute wallets will record failed executions")
	}

	symbols := make([]string, 0, len(cfg.Monitor.Tokens))
	for _, token := range cfg.Monitor.Tokens {
		symbols = append(symbols, token.Symbol)
	}

	// Monitoring service
	scheduler := monitor.NewScheduler(monitor.SchedulerDeps{
		Configs:      configRepo,
		ActionLogs:   actionLogRepo,
		Executions:   executionRepo,
		DriftHistory: driftHistoryRepo,
		Snapshots: monitor.NewSnapshotProvider(
			balanceFetcher, priceClient, priceCache, symbols, cfg.Monitor.SnapshotTimeout, logger),
		Analyzer:      monitor.NewDriftAnalyzer(strategyRepo, cfg.Monitor.DefaultAllocation),
		Market:        monitor.NewAssessor(monitor.NewHeuristicScorer(priceClient, symbols), cfg.Monitor.MarketInterval, logger),
		Limiter:       monitor.NewTradeLimiter(),
		Submitter:     submitter,
		Logger:        logger,
		SweepInterval: cfg.Monitor.SweepInterval,
	})

	if err := scheduler.Start(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to start monitoring scheduler")
	}

	// HTTP server
	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: float64(cfg.RateLimit.RequestsPerSecond),
		Burst:             cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, scheduler, strategyRepo, actionLogRepo, executionRepo, driftHistoryRepo, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	scheduler.Stop()

	logger.Info("Server exited")
}

// disabledSubmitter stands in when no executor key is configured.
type disabledSubmitter struct{}

func (disabledSubmitter) SubmitRebalance(ctx context.Context, walletAddress string, trades map[string]models.TokenTrade, targetAllocation map[string]float64) (string, error) {
	return "", apperrors.NewExecutionFailedError(walletAddress, errNoExecutorKey)
}

var errNoExecutorKey = apperrors.NewInvalidConfigError("executor private key is not configured")
