package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

type memConfigStore struct {
	mu      sync.Mutex
	configs map[string]*models.MonitoringConfig
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{configs: make(map[string]*models.MonitoringConfig)}
}

func (s *memConfigStore) Upsert(ctx context.Context, cfg *models.MonitoringConfig) error {
	if err := cfg.Validate(); err != nil {
		return apperrors.NewInvalidConfigError(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cfg
	s.configs[strings.ToLower(cfg.WalletAddress)] = &stored
	return nil
}

func (s *memConfigStore) Get(ctx context.Context, walletAddress string) (*models.MonitoringConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[strings.ToLower(walletAddress)]
	if !ok {
		return nil, apperrors.NewWalletNotFoundError(walletAddress)
	}
	copied := *cfg
	return &copied, nil
}

func (s *memConfigStore) List(ctx context.Context, enabledOnly bool) ([]*models.MonitoringConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.MonitoringConfig
	for _, cfg := range s.configs {
		if enabledOnly && !cfg.Enabled {
			continue
		}
		copied := *cfg
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memConfigStore) Delete(ctx context.Context, walletAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(walletAddress)
	if _, ok := s.configs[key]; !ok {
		return apperrors.NewWalletNotFoundError(walletAddress)
	}
	delete(s.configs, key)
	return nil
}

func (s *memConfigStore) UpdateLastCheck(ctx context.Context, walletAddress string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[strings.ToLower(walletAddress)]; ok {
		cfg.LastCheck = &checkedAt
	}
	return nil
}

func (s *memConfigStore) ResetDailyTrades(ctx context.Context, walletAddress string, midnight time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[strings.ToLower(walletAddress)]; ok {
		cfg.DailyTradesCount = 0
		cfg.LastTradeReset = &midnight
	}
	return nil
}

func (s *memConfigStore) IncrementDailyTrades(ctx context.Context, walletAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[strings.ToLower(walletAddress)]; ok {
		cfg.DailyTradesCount++
	}
	return nil
}

func (s *memConfigStore) Count(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled := 0
	for _, cfg := range s.configs {
		if cfg.Enabled {
			enabled++
		}
	}
	return len(s.configs), enabled, nil
}

type memActionLogs struct {
	mu      sync.Mutex
	records []*models.ActionLog
}

func (s *memActionLogs) Append(ctx context.Context, record *models.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *memActionLogs) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memExecutions struct {
	mu    sync.Mutex
	execs map[string]*models.Execution
}

func newMemExecutions() *memExecutions {
	return &memExecutions{execs: make(map[string]*models.Execution)}
}

func (s *memExecutions) Append(ctx context.Context, exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *exec
	s.execs[exec.ExecutionID] = &copied
	return nil
}

func (s *memExecutions) UpdateStatus(ctx context.Context, executionID string, status types.ExecutionStatus, txRef *string, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return apperrors.NewNotFoundError("execution", executionID)
	}
	exec.Status = status
	if txRef != nil {
		exec.TxRef = *txRef
	}
	exec.Error = errMsg
	return nil
}

func (s *memExecutions) get(executionID string) *models.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execs[executionID]
}

func (s *memExecutions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.execs)
}

type memDriftSink struct {
	mu     sync.Mutex
	events []*models.DriftEvent
}

func (s *memDriftSink) Insert(ctx context.Context, event *models.DriftEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memDriftSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memDriftSink) last() *models.DriftEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

type stubSubmitter struct {
	mu    sync.Mutex
	txRef string
	err   error
	calls int
}

func (s *stubSubmitter) SubmitRebalance(ctx context.Context, walletAddress string, trades map[string]models.TokenTrade, targetAllocation map[string]float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.txRef, s.err
}

// slowBalances tracks how many fetches are in flight at once, for the
// per-wallet serialization property.
type slowBalances struct {
	balances    map[string]float64
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *slowBalances) FetchBalances(ctx context.Context, walletAddress string, symbols []string) (map[string]float64, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxInFlight.Load()
		if current <= max || s.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.balances, nil
}

type schedulerFixture struct {
	scheduler  *Scheduler
	configs    *memConfigStore
	actionLogs *memActionLogs
	executions *memExecutions
	driftSink  *memDriftSink
	submitter  *stubSubmitter
	scorer     *stubScorer
	balances   BalanceSource
}

func newSchedulerFixture(t *testing.T, balances BalanceSource) *schedulerFixture {
	t.Helper()

	if balances == nil {
		// Heavily ETH-skewed against the 40/30/30 default target.
		balances = &stubBalances{balances: map[string]float64{"ETH": 5.0, "USDC": 0, "LINK": 0}}
	}
	prices := &stubPrices{prices: map[string]float64{"ETH": 2000, "USDC": 1, "LINK": 14}}

	f := &schedulerFixture{
		configs:    newMemConfigStore(),
		actionLogs: &memActionLogs{},
		executions: newMemExecutions(),
		driftSink:  &memDriftSink{},
		submitter:  &stubSubmitter{txRef: "0xdeadbeef"},
		scorer:     &stubScorer{condition: &models.MarketCondition{RiskScore: 40, TrendDirection: types.TrendSideways}},
		balances:   balances,
	}

	logger := testLogger()
	f.scheduler = NewScheduler(SchedulerDeps{
		Configs:       f.configs,
		ActionLogs:    f.actionLogs,
		Executions:    f.executions,
		DriftHistory:  f.driftSink,
		Snapshots:     NewSnapshotProvider(balances, prices, nil, []string{"ETH", "USDC", "LINK"}, 5*time.Second, logger),
		Analyzer:      NewDriftAnalyzer(&stubTargetSource{}, defaultAllocation),
		Market:        NewAssessor(f.scorer, time.Hour, logger),
		Limiter:       NewTradeLimiter(),
		Submitter:     f.submitter,
		Logger:        logger,
		SweepInterval: time.Hour,
	})
	t.Cleanup(f.scheduler.Stop)
	return f
}

func testMonitoringConfig(autoExecute bool) *models.MonitoringConfig {
	return &models.MonitoringConfig{
		WalletAddress:         "0xAbCdEf0123456789",
		Enabled:               true,
		CheckInterval:         10 * time.Minute,
		DriftThresholdPercent: 15,
		MaxDailyTrades:        5,
		RiskProfile:           types.ProfileBalanced,
		AutoExecute:           autoExecute,
	}
}

func TestScheduler_ForceCheck_ExecutesRebalance(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	cfg := testMonitoringConfig(true)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	result, err := f.scheduler.ForceCheck(context.Background(), cfg.WalletAddress)
	require.NoError(t, err)

	assert.True(t, result.Decision.Act, "reason: %s", result.Decision.Reason)
	assert.True(t, result.ActionTaken)
	assert.False(t, result.RateLimited)
	require.NotEmpty(t, result.ExecutionID)

	assert.Equal(t, 1, f.actionLogs.count())
	assert.Equal(t, 1, f.submitter.calls)

	exec := f.executions.get(result.ExecutionID)
	require.NotNil(t, exec)
	assert.Equal(t, types.ExecutionPending, exec.Status)
	assert.Equal(t, "0xdeadbeef", exec.TxRef)
	assert.Equal(t, models.ExecutionTypeAutonomous, exec.ExecutionType)
	assert.Empty(t, exec.StrategyID, "the default-allocation fallback has no strategy to reference")
	assert.NotEmpty(t, exec.Trades)

	stored, err := f.configs.Get(context.Background(), cfg.WalletAddress)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DailyTradesCount)
	require.NotNil(t, stored.LastCheck, "last_check must advance on a completed cycle")

	event := f.driftSink.last()
	require.NotNil(t, event)
	assert.True(t, event.ActionTaken)
	assert.True(t, event.NeedsRebalancing)
}

func TestScheduler_ForceCheck_SuggestOnlyMode(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	cfg := testMonitoringConfig(false)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	result, err := f.scheduler.ForceCheck(context.Background(), cfg.WalletAddress)
	require.NoError(t, err)

	assert.True(t, result.ActionTaken)
	assert.Empty(t, result.ExecutionID)
	assert.Equal(t, 1, f.actionLogs.count())
	assert.Zero(t, f.executions.count())
	assert.Zero(t, f.submitter.calls)

	// A suggestion still consumes daily quota.
	assert.Equal(t, 1, f.scheduler.limiter.State(cfg.WalletAddress).DailyTradesCount)
}

func TestScheduler_ForceCheck_SnapshotFailureAbortsCycle(t *testing.T) {
	f := newSchedulerFixture(t, &failingBalances{})
	cfg := testMonitoringConfig(true)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	_, err := f.scheduler.ForceCheck(context.Background(), cfg.WalletAddress)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryProvider, apperrors.Categorize(err).Category)

	stored, getErr := f.configs.Get(context.Background(), cfg.WalletAddress)
	require.NoError(t, getErr)
	assert.Nil(t, stored.LastCheck, "last_check must not advance when the cycle never ran")
	assert.Nil(t, f.driftSink.last())
	assert.Zero(t, f.actionLogs.count())
}

type failingBalances struct{}

func (f *failingBalances) FetchBalances(ctx context.Context, walletAddress string, symbols []string) (map[string]float64, error) {
	return nil, errors.New("explorer unreachable")
}

func TestScheduler_ForceCheck_QuotaExhausted(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	cfg := testMonitoringConfig(true)
	cfg.MaxDailyTrades = 2
	cfg.DailyTradesCount = 2
	today := UTCMidnight(time.Now())
	cfg.LastTradeReset = &today
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	result, err := f.scheduler.ForceCheck(context.Background(), cfg.WalletAddress)
	require.NoError(t, err)

	assert.True(t, result.Decision.Act)
	assert.True(t, result.RateLimited)
	assert.False(t, result.ActionTaken)
	assert.Zero(t, f.actionLogs.count(), "a rate-limited cycle records no action log")
	assert.Zero(t, f.executions.count())

	event := f.driftSink.last()
	require.NotNil(t, event, "drift history is recorded even when rate limited")
	assert.False(t, event.ActionTaken)
	assert.True(t, event.NeedsRebalancing)
}

func TestScheduler_ForceCheck_FailedExecutionConsumesQuota(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.submitter.err = apperrors.NewExecutionFailedError("0xabc", errors.New("nonce too low"))
	cfg := testMonitoringConfig(true)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	result, err := f.scheduler.ForceCheck(context.Background(), cfg.WalletAddress)
	require.NoError(t, err, "an execution failure does not fail the cycle")

	assert.True(t, result.ActionTaken)
	exec := f.executions.get(result.ExecutionID)
	require.NotNil(t, exec)
	assert.Equal(t, types.ExecutionFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Contains(t, *exec.Error, "nonce too low")

	// The attempt consumed the quota slot despite failing.
	assert.Equal(t, 1, f.scheduler.limiter.State(cfg.WalletAddress).DailyTradesCount)
}

func TestScheduler_ForceCheck_ExtremeMarketRiskBlocks(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.scorer.condition = &models.MarketCondition{RiskScore: 92, TrendDirection: types.TrendBearish}
	require.NoError(t, f.scheduler.market.Refresh(context.Background()))

	cfg := testMonitoringConfig(true)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	result, err := f.scheduler.ForceCheck(context.Background(), cfg.WalletAddress)
	require.NoError(t, err)

	assert.False(t, result.Decision.Act)
	assert.Contains(t, result.Decision.Reason, "market risk")
	assert.Zero(t, f.actionLogs.count())
}

func TestScheduler_ForceCheck_UnknownWallet(t *testing.T) {
	f := newSchedulerFixture(t, nil)

	_, err := f.scheduler.ForceCheck(context.Background(), "0xmissing")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.Categorize(err).Category)
}

func TestScheduler_ForceCheck_SerializedPerWallet(t *testing.T) {
	slow := &slowBalances{
		balances: map[string]float64{"ETH": 5.0, "USDC": 0, "LINK": 0},
		delay:    100 * time.Millisecond,
	}
	f := newSchedulerFixture(t, slow)
	cfg := testMonitoringConfig(false)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	const callers = 8
	var wg sync.WaitGroup
	var succeeded, conflicted atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.scheduler.ForceCheck(context.Background(), cfg.WalletAddress)
			if err == nil {
				succeeded.Add(1)
				return
			}
			if apperrors.Categorize(err).Category == apperrors.CategoryConflict {
				conflicted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), slow.maxInFlight.Load(), "at most one cycle in flight per wallet")
	assert.GreaterOrEqual(t, succeeded.Load(), int32(1))
	assert.Equal(t, int32(callers), succeeded.Load()+conflicted.Load())
}

func TestScheduler_Start_HonorsRecentLastCheck(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	cfg := testMonitoringConfig(false)
	now := time.Now().UTC()
	cfg.LastCheck = &now
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	require.NoError(t, f.scheduler.Start(context.Background()))
	time.Sleep(150 * time.Millisecond)

	assert.Zero(t, f.driftSink.count(), "a wallet checked moments ago waits out its interval")
	assert.Zero(t, f.actionLogs.count())
}

func TestScheduler_Start_RunsOverdueWalletsImmediately(t *testing.T) {
	// Two overdue wallets may cycle concurrently; slowBalances is safe
	// for that where the plain stub is not.
	f := newSchedulerFixture(t, &slowBalances{
		balances: map[string]float64{"ETH": 5.0, "USDC": 0, "LINK": 0},
		delay:    time.Millisecond,
	})

	never := testMonitoringConfig(false)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), never))

	stale := testMonitoringConfig(false)
	stale.WalletAddress = "0x00000000000000000000000000000000000000aa"
	checkedLongAgo := time.Now().UTC().Add(-stale.CheckInterval - time.Minute)
	stale.LastCheck = &checkedLongAgo
	require.NoError(t, f.scheduler.AddWallet(context.Background(), stale))

	require.NoError(t, f.scheduler.Start(context.Background()))

	require.Eventually(t, func() bool { return f.driftSink.count() >= 2 },
		2*time.Second, 10*time.Millisecond,
		"never-checked and overdue wallets both cycle right after start")
}

func TestScheduler_ForceCheck_ExecutionCarriesStrategyID(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.scheduler.analyzer = NewDriftAnalyzer(&stubTargetSource{
		strategy: &models.Strategy{StrategyID: "strat-7", TargetAllocation: defaultAllocation},
	}, defaultAllocation)
	cfg := testMonitoringConfig(true)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	result, err := f.scheduler.ForceCheck(context.Background(), cfg.WalletAddress)
	require.NoError(t, err)
	require.NotEmpty(t, result.ExecutionID)

	exec := f.executions.get(result.ExecutionID)
	require.NotNil(t, exec)
	assert.Equal(t, "strat-7", exec.StrategyID)
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	cfg := testMonitoringConfig(false)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	require.NoError(t, f.scheduler.Start(context.Background()))
	require.NoError(t, f.scheduler.Start(context.Background()), "second start is a no-op")
	assert.True(t, f.scheduler.Running())

	status, err := f.scheduler.GetServiceStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.MonitoredCount)
	assert.Equal(t, 1, status.ActiveCount)
	assert.Equal(t, 1, status.ActiveTasks)
	assert.NotNil(t, status.MarketCondition)
	assert.NotNil(t, status.LastMarketCheck)

	f.scheduler.Stop()
	f.scheduler.Stop()
	assert.False(t, f.scheduler.Running())
	status, err = f.scheduler.GetServiceStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestScheduler_GetServiceStatus_CountsDisabledWallets(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), testMonitoringConfig(false)))

	disabled := testMonitoringConfig(false)
	disabled.WalletAddress = "0x00000000000000000000000000000000000000ff"
	disabled.Enabled = false
	require.NoError(t, f.scheduler.AddWallet(context.Background(), disabled))

	require.NoError(t, f.scheduler.Start(context.Background()))

	status, err := f.scheduler.GetServiceStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, status.MonitoredCount)
	assert.Equal(t, 1, status.ActiveCount)
	assert.Equal(t, 1, status.ActiveTasks, "disabled wallets get no cycle task")
}

func TestScheduler_RemoveWalletCancelsTaskAndDeletesConfig(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	cfg := testMonitoringConfig(false)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))
	require.NoError(t, f.scheduler.Start(context.Background()))

	require.NoError(t, f.scheduler.RemoveWallet(context.Background(), cfg.WalletAddress))

	_, err := f.configs.Get(context.Background(), cfg.WalletAddress)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.Categorize(err).Category)

	status, err := f.scheduler.GetServiceStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, status.ActiveTasks)
	assert.Zero(t, status.MonitoredCount)
}

func TestScheduler_GetStatus(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	cfg := testMonitoringConfig(false)
	require.NoError(t, f.scheduler.AddWallet(context.Background(), cfg))

	status, err := f.scheduler.GetStatus(context.Background(), cfg.WalletAddress)
	require.NoError(t, err)
	assert.True(t, status.Config.Enabled)
	assert.False(t, status.Monitored, "not monitored before start")

	require.NoError(t, f.scheduler.Start(context.Background()))
	status, err = f.scheduler.GetStatus(context.Background(), cfg.WalletAddress)
	require.NoError(t, err)
	assert.True(t, status.Monitored)
}

func TestScheduler_AddWalletRejectsInvalidConfig(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	cfg := testMonitoringConfig(false)
	cfg.CheckInterval = time.Second // below the documented minimum

	err := f.scheduler.AddWallet(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryValidation, apperrors.Categorize(err).Category)
}
