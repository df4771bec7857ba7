package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/logging"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// ConfigStore is the persistence surface the scheduler needs for
// per-wallet monitoring configuration.
type ConfigStore interface {
	Upsert(ctx context.Context, cfg *models.MonitoringConfig) error
	Get(ctx context.Context, walletAddress string) (*models.MonitoringConfig, error)
	List(ctx context.Context, enabledOnly bool) ([]*models.MonitoringConfig, error)
	Delete(ctx context.Context, walletAddress string) error
	UpdateLastCheck(ctx context.Context, walletAddress string, checkedAt time.Time) error
	ResetDailyTrades(ctx context.Context, walletAddress string, midnight time.Time) error
	IncrementDailyTrades(ctx context.Context, walletAddress string) error
	Count(ctx context.Context) (total int, enabled int, err error)
}

// ActionLogStore records autonomous action decisions.
type ActionLogStore interface {
	Append(ctx context.Context, record *models.ActionLog) error
}

// ExecutionStore records dispatched executions and their status.
type ExecutionStore interface {
	Append(ctx context.Context, exec *models.Execution) error
	UpdateStatus(ctx context.Context, executionID string, status types.ExecutionStatus, txRef *string, errMsg *string) error
}

// DriftHistorySink receives one drift event per completed cycle.
type DriftHistorySink interface {
	Insert(ctx context.Context, event *models.DriftEvent) error
}

// ExecutionSubmitter dispatches a rebalance to the chain, returning an
// external transaction reference.
type ExecutionSubmitter interface {
	SubmitRebalance(ctx context.Context, walletAddress string, trades map[string]models.TokenTrade, targetAllocation map[string]float64) (string, error)
}

// Scheduler owns the set of monitored wallets. Each wallet runs one
// independently timed cycle goroutine; cycles for the same wallet are
// strictly serialized while cycles for different wallets interleave
// freely. A separate goroutine refreshes the market condition, and a
// sweep goroutine reconciles running tasks against the config store.
type Scheduler struct {
	configs      ConfigStore
	actionLogs   ActionLogStore
	executions   ExecutionStore
	driftHistory DriftHistorySink
	snapshots    *SnapshotProvider
	analyzer     *DriftAnalyzer
	market       *Assessor
	limiter      *TradeLimiter
	submitter    ExecutionSubmitter
	logger       *logging.Logger

	sweepInterval time.Duration

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	rootCtx   context.Context
	tasks     map[string]*walletTask
	wg        sync.WaitGroup

	// cycleLocks outlive tasks so a ForceCheck on an unmonitored
	// wallet still serializes against any concurrent cycle.
	lockMu     sync.Mutex
	cycleLocks map[string]*sync.Mutex
}

type walletTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerDeps bundles the scheduler's collaborators.
type SchedulerDeps struct {
	Configs      ConfigStore
	ActionLogs   ActionLogStore
	Executions   ExecutionStore
	DriftHistory DriftHistorySink
	Snapshots    *SnapshotProvider
	Analyzer     *DriftAnalyzer
	Market       *Assessor
	Limiter      *TradeLimiter
	Submitter    ExecutionSubmitter
	Logger       *logging.Logger

	SweepInterval time.Duration
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	return &Scheduler{
		configs:       deps.Configs,
		actionLogs:    deps.ActionLogs,
		executions:    deps.Executions,
		driftHistory:  deps.DriftHistory,
		snapshots:     deps.Snapshots,
		analyzer:      deps.Analyzer,
		market:        deps.Market,
		limiter:       deps.Limiter,
		submitter:     deps.Submitter,
		logger:        deps.Logger.WithField("component", "scheduler"),
		sweepInterval: deps.SweepInterval,
		tasks:         make(map[string]*walletTask),
		cycleLocks:    make(map[string]*sync.Mutex),
	}
}

// Start loads enabled wallet configs and launches their monitoring
// tasks plus the market assessment and sweep loops. Idempotent: a
// second Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	configs, err := s.configs.List(ctx, true)
	if err != nil {
		return err
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	s.rootCtx = rootCtx
	s.cancel = cancel
	s.running = true
	s.startedAt = time.Now().UTC()

	for _, cfg := range configs {
		s.limiter.Seed(cfg.WalletAddress, cfg.DailyTradesCount, cfg.LastTradeReset)
		s.spawnLocked(cfg.WalletAddress)
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.market.Run(rootCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.sweepLoop(rootCtx)
	}()

	s.logger.WithField("wallets", len(configs)).Info("monitoring started")
	return nil
}

// Stop cancels all wallet tasks and waits for them to finish.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.tasks = make(map[string]*walletTask)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("monitoring stopped")
}

// Running reports whether the scheduler has been started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// AddWallet validates and persists a monitoring config and, if the
// scheduler is running, launches its cycle task.
func (s *Scheduler) AddWallet(ctx context.Context, cfg *models.MonitoringConfig) error {
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return err
	}

	s.limiter.Seed(cfg.WalletAddress, cfg.DailyTradesCount, cfg.LastTradeReset)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && cfg.Enabled {
		s.spawnLocked(cfg.WalletAddress)
	}
	return nil
}

// RemoveWallet cancels the wallet's task and deletes its config. The
// task is cancelled before the row is removed so no orphaned cycle can
// reference a deleted config.
func (s *Scheduler) RemoveWallet(ctx context.Context, walletAddress string) error {
	key := strings.ToLower(walletAddress)

	s.mu.Lock()
	task, ok := s.tasks[key]
	if ok {
		task.cancel()
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	if ok {
		<-task.done
	}
	s.limiter.Forget(walletAddress)

	return s.configs.Delete(ctx, walletAddress)
}

// ForceCheck runs one immediate cycle for the wallet, ignoring the
// interval gate. If a cycle for the wallet is already in flight the
// call fails with a conflict instead of queueing a second one.
func (s *Scheduler) ForceCheck(ctx context.Context, walletAddress string) (*CycleResult, error) {
	cfg, err := s.configs.Get(ctx, walletAddress)
	if err != nil {
		return nil, err
	}

	lock := s.cycleLock(walletAddress)
	if !lock.TryLock() {
		return nil, apperrors.NewConflictError("a monitoring cycle for this wallet is already in flight")
	}
	defer lock.Unlock()

	return s.runCycle(ctx, cfg)
}

// WalletStatus is the per-wallet view exposed for status queries.
type WalletStatus struct {
	Config    *models.MonitoringConfig `json:"config"`
	Quota     QuotaState               `json:"quota"`
	Monitored bool                     `json:"monitored"`
}

// GetStatus returns the wallet's configuration, quota state, and
// whether a cycle task is currently scheduled for it. A missing wallet
// is an explicit not-found error, distinct from a disabled one.
func (s *Scheduler) GetStatus(ctx context.Context, walletAddress string) (*WalletStatus, error) {
	cfg, err := s.configs.Get(ctx, walletAddress)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, monitored := s.tasks[strings.ToLower(walletAddress)]
	s.mu.Unlock()

	return &WalletStatus{
		Config:    cfg,
		Quota:     s.limiter.State(walletAddress),
		Monitored: monitored,
	}, nil
}

// ServiceStatus is the process-wide view of the monitoring service.
// MonitoredCount is all registered wallets, ActiveCount the enabled
// subset, and ActiveTasks the cycle goroutines currently running.
type ServiceStatus struct {
	Running         bool                    `json:"running"`
	StartedAt       *time.Time              `json:"startedAt,omitempty"`
	MonitoredCount  int                     `json:"monitoredCount"`
	ActiveCount     int                     `json:"activeCount"`
	ActiveTasks     int                     `json:"activeTasks"`
	LastMarketCheck *time.Time              `json:"lastMarketCheck,omitempty"`
	MarketCondition *models.MarketCondition `json:"marketCondition"`
}

// GetServiceStatus returns the scheduler's overall state.
func (s *Scheduler) GetServiceStatus(ctx context.Context) (*ServiceStatus, error) {
	total, enabled, err := s.configs.Count(ctx)
	if err != nil {
		return nil, err
	}
	condition := s.market.Current()

	s.mu.Lock()
	defer s.mu.Unlock()

	status := &ServiceStatus{
		Running:         s.running,
		MonitoredCount:  total,
		ActiveCount:     enabled,
		ActiveTasks:     len(s.tasks),
		MarketCondition: condition,
	}
	if !condition.AssessedAt.IsZero() {
		assessedAt := condition.AssessedAt
		status.LastMarketCheck = &assessedAt
	}
	if s.running {
		startedAt := s.startedAt
		status.StartedAt = &startedAt
	}
	return status, nil
}

func (s *Scheduler) cycleLock(walletAddress string) *sync.Mutex {
	key := strings.ToLower(walletAddress)
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.cycleLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.cycleLocks[key] = lock
	}
	return lock
}

// spawnLocked launches the wallet's cycle task. Caller holds s.mu.
func (s *Scheduler) spawnLocked(walletAddress string) {
	key := strings.ToLower(walletAddress)
	if _, exists := s.tasks[key]; exists {
		return
	}

	taskCtx, cancel := context.WithCancel(s.rootCtx)
	task := &walletTask{cancel: cancel, done: make(chan struct{})}
	s.tasks[key] = task

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(task.done)
		s.runWallet(taskCtx, walletAddress)
	}()
}

// runWallet executes monitoring cycles for one wallet at its
// configured interval until cancelled or the config disappears. The
// config is reloaded every cycle so interval and threshold changes
// take effect without a restart.
func (s *Scheduler) runWallet(ctx context.Context, walletAddress string) {
	logger := s.logger.WithField("wallet", walletAddress)
	logger.Info("wallet monitoring task started")

	timer := time.NewTimer(s.initialDelay(ctx, walletAddress))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("wallet monitoring task stopped")
			return
		case <-timer.C:
		}

		cfg, err := s.configs.Get(ctx, walletAddress)
		if err != nil {
			if apperrors.Categorize(err).Category == apperrors.CategoryNotFound {
				logger.Info("config removed, stopping wallet task")
				s.dropTask(walletAddress)
				return
			}
			logger.WithError(err).Error("failed to load wallet config")
			timer.Reset(time.Minute)
			continue
		}
		if !cfg.Enabled {
			logger.Info("wallet disabled, stopping wallet task")
			s.dropTask(walletAddress)
			return
		}

		lock := s.cycleLock(walletAddress)
		lock.Lock()
		if _, err := s.runCycle(ctx, cfg); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("monitoring cycle failed")
		}
		lock.Unlock()

		timer.Reset(cfg.CheckInterval)
	}
}

// initialDelay offsets a task's first cycle by the time already
// elapsed since the persisted last_check, so a restart does not re-run
// every wallet at once. A wallet never checked, or one whose interval
// has already elapsed, runs immediately.
func (s *Scheduler) initialDelay(ctx context.Context, walletAddress string) time.Duration {
	cfg, err := s.configs.Get(ctx, walletAddress)
	if err != nil || cfg.LastCheck == nil {
		return 0
	}
	elapsed := time.Now().UTC().Sub(*cfg.LastCheck)
	if elapsed >= cfg.CheckInterval {
		return 0
	}
	return cfg.CheckInterval - elapsed
}

func (s *Scheduler) dropTask(walletAddress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, strings.ToLower(walletAddress))
}

// sweepLoop reconciles running tasks against the config store so
// wallets enabled through the API after startup come under monitoring
// without a restart.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		configs, err := s.configs.List(ctx, true)
		if err != nil {
			s.logger.WithError(err).Warn("sweep failed to list configs")
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		for _, cfg := range configs {
			if _, exists := s.tasks[strings.ToLower(cfg.WalletAddress)]; !exists {
				s.limiter.Seed(cfg.WalletAddress, cfg.DailyTradesCount, cfg.LastTradeReset)
				s.spawnLocked(cfg.WalletAddress)
			}
		}
		s.mu.Unlock()
	}
}

// CycleResult summarizes one monitoring cycle.
type CycleResult struct {
	WalletAddress string                  `json:"walletAddress"`
	CheckedAt     time.Time               `json:"checkedAt"`
	TotalUSDValue float64                 `json:"totalUsdValue"`
	Drift         *models.PortfolioDrift  `json:"drift,omitempty"`
	Decision      Decision                `json:"decision"`
	RateLimited   bool                    `json:"rateLimited"`
	ActionTaken   bool                    `json:"actionTaken"`
	ExecutionID   string                  `json:"executionId,omitempty"`
	Skipped       string                  `json:"skipped,omitempty"`
	Market        *models.MarketCondition `json:"market,omitempty"`
}

// runCycle performs one full monitoring cycle for a wallet: snapshot,
// drift analysis, policy decision, quota check, and dispatch. Callers
// must hold the wallet's cycle lock. A snapshot failure aborts the
// cycle without advancing last_check; once drift has been reasoned
// about, last_check advances even if later steps fail.
func (s *Scheduler) runCycle(ctx context.Context, cfg *models.MonitoringConfig) (*CycleResult, error) {
	wallet := cfg.WalletAddress
	logger := s.logger.WithField("wallet", wallet)
	now := time.Now().UTC()

	snapshot, err := s.snapshots.Snapshot(ctx, wallet)
	if err != nil {
		return nil, err
	}

	result := &CycleResult{
		WalletAddress: wallet,
		CheckedAt:     now,
		TotalUSDValue: snapshot.TotalUSDValue,
	}

	if snapshot.TotalUSDValue < cfg.MinPortfolioValueUSD {
		result.Skipped = "portfolio value below configured minimum"
		result.Decision = Decision{Reason: result.Skipped}
		s.finishCycle(ctx, cfg, result, logger)
		return result, nil
	}

	target, strategyID, err := s.analyzer.TargetAllocation(ctx, wallet)
	if err != nil {
		return nil, err
	}

	drift := s.analyzer.Analyze(snapshot, target)
	result.Drift = drift

	market := s.market.Current()
	result.Market = market
	result.Decision = ShouldAct(cfg, drift, market)

	if result.Decision.Act {
		allowed, resetOccurred := s.limiter.CanTradeToday(wallet, cfg.MaxDailyTrades, now)
		if resetOccurred {
			if err := s.configs.ResetDailyTrades(ctx, wallet, UTCMidnight(now)); err != nil {
				logger.WithError(err).Error("failed to persist daily trade reset")
			}
		}
		if !allowed {
			result.RateLimited = true
			logger.WithFields(map[string]interface{}{
				"total_drift": drift.TotalDriftPercent,
				"max_trades":  cfg.MaxDailyTrades,
			}).Info("action warranted but daily trade quota exhausted")
		} else {
			s.dispatch(ctx, cfg, snapshot, drift, strategyID, result, logger)
		}
	}

	s.finishCycle(ctx, cfg, result, logger)
	return result, nil
}

// dispatch records the action log, consumes quota, and, in execute
// mode, submits the rebalance. The quota is consumed for the attempt
// itself: a failed submission does not refund the slot.
func (s *Scheduler) dispatch(ctx context.Context, cfg *models.MonitoringConfig, snapshot *models.PortfolioSnapshot, drift *models.PortfolioDrift, strategyID string, result *CycleResult, logger *logging.Logger) {
	wallet := cfg.WalletAddress

	record := &models.ActionLog{
		ActionID:           uuid.New().String(),
		WalletAddress:      wallet,
		ActionType:         models.ActionTypeRebalance,
		TotalDriftPercent:  drift.TotalDriftPercent,
		TokenDrifts:        drift.TokenDrifts,
		UrgencyLevel:       drift.UrgencyLevel,
		TargetAllocation:   drift.SuggestedAllocation,
		RiskProfile:        cfg.RiskProfile,
		DriftThresholdUsed: cfg.DriftThresholdPercent,
		AutoExecute:        cfg.AutoExecute,
		Timestamp:          time.Now().UTC(),
	}
	if err := s.actionLogs.Append(ctx, record); err != nil {
		logger.WithError(err).Error("failed to record action log, aborting dispatch")
		return
	}

	result.ActionTaken = true
	s.limiter.RecordTrade(wallet)
	if err := s.configs.IncrementDailyTrades(ctx, wallet); err != nil {
		logger.WithError(err).Error("failed to persist daily trade count")
	}

	if !cfg.AutoExecute {
		logger.WithFields(map[string]interface{}{
			"total_drift": drift.TotalDriftPercent,
			"urgency":     drift.UrgencyLevel,
		}).Info("rebalance suggested")
		return
	}

	trades := ComputeTradePlan(snapshot, drift.SuggestedAllocation)
	exec := &models.Execution{
		ExecutionID:       uuid.New().String(),
		WalletAddress:     wallet,
		StrategyID:        strategyID,
		TargetAllocation:  drift.SuggestedAllocation,
		PreTradeBalances:  snapshot.Balances,
		Trades:            trades,
		Status:            types.ExecutionPending,
		ExecutionType:     models.ExecutionTypeAutonomous,
		TotalDriftPercent: drift.TotalDriftPercent,
		UrgencyLevel:      drift.UrgencyLevel,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.executions.Append(ctx, exec); err != nil {
		logger.WithError(err).Error("failed to record execution")
		return
	}
	result.ExecutionID = exec.ExecutionID

	txRef, err := s.submitter.SubmitRebalance(ctx, wallet, trades, drift.SuggestedAllocation)
	if err != nil {
		logger.WithError(err).Error("rebalance submission failed")
		msg := err.Error()
		if updateErr := s.executions.UpdateStatus(ctx, exec.ExecutionID, types.ExecutionFailed, nil, &msg); updateErr != nil {
			logger.WithError(updateErr).Error("failed to mark execution failed")
		}
		return
	}

	logger.WithFields(map[string]interface{}{
		"execution_id": exec.ExecutionID,
		"tx_ref":       txRef,
	}).Info("rebalance submitted")
	if err := s.executions.UpdateStatus(ctx, exec.ExecutionID, types.ExecutionPending, &txRef, nil); err != nil {
		logger.WithError(err).Error("failed to record transaction reference")
	}
}

// finishCycle writes the drift history row and advances last_check.
// Both are best effort; failures are logged and do not fail the cycle.
func (s *Scheduler) finishCycle(ctx context.Context, cfg *models.MonitoringConfig, result *CycleResult, logger *logging.Logger) {
	event := &models.DriftEvent{
		WalletAddress:    cfg.WalletAddress,
		TotalUSDValue:    result.TotalUSDValue,
		ActionTaken:      result.ActionTaken,
		UrgencyLevel:     types.UrgencyLow,
		NeedsRebalancing: false,
		Timestamp:        result.CheckedAt,
	}
	if result.Drift != nil {
		event.TotalDriftPercent = result.Drift.TotalDriftPercent
		event.UrgencyLevel = result.Drift.UrgencyLevel
		event.NeedsRebalancing = result.Drift.NeedsRebalancing
	}
	if err := s.driftHistory.Insert(ctx, event); err != nil {
		logger.WithError(err).Warn("failed to record drift event")
	}

	if err := s.configs.UpdateLastCheck(ctx, cfg.WalletAddress, result.CheckedAt); err != nil {
		logger.WithError(err).Warn("failed to advance last_check")
	}
}
