package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

type stubTargetSource struct {
	strategy *models.Strategy
	err      error
}

func (s *stubTargetSource) LatestByWallet(ctx context.Context, walletAddress string) (*models.Strategy, error) {
	return s.strategy, s.err
}

var defaultAllocation = map[string]float64{"ETH": 40, "USDC": 30, "LINK": 30}

func snapshotWithValues(usdValues map[string]float64) *models.PortfolioSnapshot {
	total := 0.0
	for _, v := range usdValues {
		total += v
	}
	return &models.PortfolioSnapshot{
		WalletAddress: "0xabc",
		USDValues:     usdValues,
		TotalUSDValue: total,
		Timestamp:     time.Now().UTC(),
	}
}

func TestDriftAnalyzer_Analyze_PerfectAllocation(t *testing.T) {
	analyzer := NewDriftAnalyzer(&stubTargetSource{}, defaultAllocation)

	drift := analyzer.Analyze(snapshotWithValues(map[string]float64{
		"ETH": 4000, "USDC": 3000, "LINK": 3000,
	}), defaultAllocation)

	assert.InDelta(t, 0.0, drift.TotalDriftPercent, 0.0001)
	assert.False(t, drift.NeedsRebalancing)
	assert.Equal(t, types.UrgencyLow, drift.UrgencyLevel)
}

func TestUrgencyForDrift_Bands(t *testing.T) {
	cases := []struct {
		name       string
		totalDrift float64
		urgency    types.UrgencyLevel
	}{
		{"just below threshold", 9.99, types.UrgencyLow},
		{"exactly at threshold", 10.0, types.UrgencyLow},
		{"just above threshold", 10.01, types.UrgencyMedium},
		{"exactly fifteen", 15.0, types.UrgencyMedium},
		{"above fifteen", 15.01, types.UrgencyHigh},
		{"exactly twenty", 20.0, types.UrgencyHigh},
		{"above twenty", 20.01, types.UrgencyCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.urgency, urgencyForDrift(tc.totalDrift))
		})
	}
}

func TestDriftAnalyzer_Analyze_DriftAboveThreshold(t *testing.T) {
	analyzer := NewDriftAnalyzer(&stubTargetSource{}, defaultAllocation)
	target := map[string]float64{"ETH": 50, "USDC": 50}

	// 62/38 vs 50/50 drifts 12 points on each leg, 24 total.
	drift := analyzer.Analyze(snapshotWithValues(map[string]float64{
		"ETH": 6200, "USDC": 3800,
	}), target)

	assert.InDelta(t, 24.0, drift.TotalDriftPercent, 0.001)
	assert.True(t, drift.NeedsRebalancing)
	assert.Equal(t, types.UrgencyCritical, drift.UrgencyLevel)
	assert.Equal(t, target, drift.SuggestedAllocation)
}

func TestDriftAnalyzer_Analyze_SmallDriftBelowThreshold(t *testing.T) {
	analyzer := NewDriftAnalyzer(&stubTargetSource{}, defaultAllocation)
	target := map[string]float64{"ETH": 50, "USDC": 50}

	drift := analyzer.Analyze(snapshotWithValues(map[string]float64{
		"ETH": 5300, "USDC": 4700,
	}), target)

	assert.InDelta(t, 6.0, drift.TotalDriftPercent, 0.001)
	assert.False(t, drift.NeedsRebalancing)
	assert.Equal(t, types.UrgencyLow, drift.UrgencyLevel)
}

func TestDriftAnalyzer_Analyze_ZeroValuePortfolio(t *testing.T) {
	analyzer := NewDriftAnalyzer(&stubTargetSource{}, defaultAllocation)

	drift := analyzer.Analyze(snapshotWithValues(map[string]float64{
		"ETH": 0, "USDC": 0, "LINK": 0,
	}), defaultAllocation)

	assert.Zero(t, drift.TotalDriftPercent)
	assert.False(t, drift.NeedsRebalancing)
	assert.Equal(t, types.UrgencyLow, drift.UrgencyLevel)
}

func TestDriftAnalyzer_Analyze_MissingTokenCountsFullTarget(t *testing.T) {
	analyzer := NewDriftAnalyzer(&stubTargetSource{}, defaultAllocation)

	// Wallet holds only ETH; LINK and USDC legs each drift by their
	// full target share.
	drift := analyzer.Analyze(snapshotWithValues(map[string]float64{
		"ETH": 10000,
	}), defaultAllocation)

	assert.InDelta(t, 120.0, drift.TotalDriftPercent, 0.0001)
	assert.Equal(t, types.UrgencyCritical, drift.UrgencyLevel)
	assert.InDelta(t, 30.0, drift.TokenDrifts["USDC"], 0.0001)
	assert.InDelta(t, 30.0, drift.TokenDrifts["LINK"], 0.0001)
}

func TestDriftAnalyzer_TargetAllocation_FallsBackToDefault(t *testing.T) {
	analyzer := NewDriftAnalyzer(&stubTargetSource{strategy: nil}, defaultAllocation)

	target, strategyID, err := analyzer.TargetAllocation(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, defaultAllocation, target)
	assert.Empty(t, strategyID, "the default allocation carries no strategy reference")
}

func TestDriftAnalyzer_TargetAllocation_UsesStoredStrategy(t *testing.T) {
	stored := map[string]float64{"ETH": 60, "USDC": 40}
	analyzer := NewDriftAnalyzer(&stubTargetSource{
		strategy: &models.Strategy{StrategyID: "s1", TargetAllocation: stored},
	}, defaultAllocation)

	target, strategyID, err := analyzer.TargetAllocation(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, stored, target)
	assert.Equal(t, "s1", strategyID)
}
