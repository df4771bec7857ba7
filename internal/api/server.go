// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-monitor/internal/logging"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/monitor"
)

// Service interfaces for dependency injection and testing

// MonitorService defines the monitoring operations the API exposes.
type MonitorService interface {
	Start(ctx context.Context) error
	Stop()
	AddWallet(ctx context.Context, cfg *models.MonitoringConfig) error
	RemoveWallet(ctx context.Context, walletAddress string) error
	ForceCheck(ctx context.Context, walletAddress string) (*monitor.CycleResult, error)
	GetStatus(ctx context.Context, walletAddress string) (*monitor.WalletStatus, error)
	GetServiceStatus(ctx context.Context) (*monitor.ServiceStatus, error)
}

// StrategyStore defines the strategy persistence operations the API uses.
type StrategyStore interface {
	Save(ctx context.Context, strategy *models.Strategy) error
	LatestByWallet(ctx context.Context, walletAddress string) (*models.Strategy, error)
}

// ActionLogReader reads the autonomous action history.
type ActionLogReader interface {
	Recent(ctx context.Context, limit int) ([]*models.ActionLog, error)
}

// ExecutionReader reads dispatched executions.
type ExecutionReader interface {
	GetByID(ctx context.Context, executionID string) (*models.Execution, error)
	RecentAutonomous(ctx context.Context, limit int) ([]*models.Execution, error)
}

// DriftHistoryReader reads the per-wallet drift event history.
type DriftHistoryReader interface {
	RecentByWallet(ctx context.Context, walletAddress string, limit int) ([]*models.DriftEvent, error)
}

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	monitor      MonitorService
	strategies   StrategyStore
	actionLogs   ActionLogReader
	executions   ExecutionReader
	driftHistory DriftHistoryReader
	logger       *logging.Logger
	config       *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	monitorService MonitorService,
	strategies StrategyStore,
	actionLogs ActionLogReader,
	executions ExecutionReader,
	driftHistory DriftHistoryReader,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		monitor:      monitorService,
		strategies:   strategies,
		actionLogs:   actionLogs,
		executions:   executions,
		driftHistory: driftHistory,
		logger:       logger.WithField("component", "api"),
		config:       config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Middleware order matters: logging wraps everything, rate
	// limiting runs after CORS so preflights are never throttled.
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Monitoring endpoints
	api.HandleFunc("/monitoring/wallets", s.handleAddWallet).Methods("POST")
	api.HandleFunc("/monitoring/wallets/{address}", s.handleWalletStatus).Methods("GET")
	api.HandleFunc("/monitoring/wallets/{address}", s.handleRemoveWallet).Methods("DELETE")
	api.HandleFunc("/monitoring/wallets/{address}/check", s.handleForceCheck).Methods("POST")
	api.HandleFunc("/monitoring/wallets/{address}/drift-history", s.handleDriftHistory).Methods("GET")
	api.HandleFunc("/monitoring/status", s.handleServiceStatus).Methods("GET")
	api.HandleFunc("/monitoring/start", s.handleStart).Methods("POST")
	api.HandleFunc("/monitoring/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/monitoring/actions", s.handleRecentActions).Methods("GET")

	// Strategy endpoints
	api.HandleFunc("/strategies", s.handleSaveStrategy).Methods("POST")
	api.HandleFunc("/strategies/{address}", s.handleLatestStrategy).Methods("GET")

	// Execution endpoints
	api.HandleFunc("/executions", s.handleRecentExecutions).Methods("GET")
	api.HandleFunc("/executions/{id}", s.handleGetExecution).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-monitor",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the underlying router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
