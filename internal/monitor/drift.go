package monitor

import (
	"context"
	"math"

	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// Drift classification bands, in percentage points of total drift.
// The rebalancing threshold here is systemic; the per-wallet
// configurable threshold is applied separately by the action policy.
const (
	RebalanceThresholdPercent = 10.0
	HighUrgencyPercent        = 15.0
	CriticalUrgencyPercent    = 20.0
)

// TargetSource resolves the stored target allocation for a wallet.
// A nil strategy with a nil error means no strategy exists.
type TargetSource interface {
	LatestByWallet(ctx context.Context, walletAddress string) (*models.Strategy, error)
}

// DriftAnalyzer computes allocation drift between a snapshot and a
// wallet's target allocation.
type DriftAnalyzer struct {
	targets           TargetSource
	defaultAllocation map[string]float64
}

// NewDriftAnalyzer creates an analyzer. Wallets without a stored
// strategy are compared against the configured default allocation.
func NewDriftAnalyzer(targets TargetSource, defaultAllocation map[string]float64) *DriftAnalyzer {
	return &DriftAnalyzer{
		targets:           targets,
		defaultAllocation: defaultAllocation,
	}
}

// TargetAllocation returns the allocation to rebalance toward and the
// id of the strategy it came from: the wallet's most recent stored
// strategy, or the default (with an empty id) when none exists.
func (a *DriftAnalyzer) TargetAllocation(ctx context.Context, walletAddress string) (map[string]float64, string, error) {
	strategy, err := a.targets.LatestByWallet(ctx, walletAddress)
	if err != nil {
		return nil, "", err
	}
	if strategy == nil || len(strategy.TargetAllocation) == 0 {
		return a.defaultAllocation, "", nil
	}
	return strategy.TargetAllocation, strategy.StrategyID, nil
}

// Analyze computes the drift of a snapshot from a target allocation.
// A zero-value portfolio yields a neutral drift rather than a division
// by zero.
func (a *DriftAnalyzer) Analyze(snapshot *models.PortfolioSnapshot, target map[string]float64) *models.PortfolioDrift {
	if snapshot.TotalUSDValue <= 0 {
		return &models.PortfolioDrift{
			TokenDrifts:         map[string]float64{},
			NeedsRebalancing:    false,
			UrgencyLevel:        types.UrgencyLow,
			SuggestedAllocation: target,
		}
	}

	currentPct := make(map[string]float64, len(snapshot.USDValues))
	for symbol, usd := range snapshot.USDValues {
		currentPct[symbol] = usd / snapshot.TotalUSDValue * 100
	}

	tokenDrifts := make(map[string]float64, len(target))
	totalDrift := 0.0
	for symbol, targetPct := range target {
		drift := math.Abs(currentPct[symbol] - targetPct)
		tokenDrifts[symbol] = drift
		totalDrift += drift
	}

	return &models.PortfolioDrift{
		TotalDriftPercent:   totalDrift,
		TokenDrifts:         tokenDrifts,
		NeedsRebalancing:    totalDrift > RebalanceThresholdPercent,
		UrgencyLevel:        urgencyForDrift(totalDrift),
		SuggestedAllocation: target,
	}
}

func urgencyForDrift(totalDrift float64) types.UrgencyLevel {
	switch {
	case totalDrift > CriticalUrgencyPercent:
		return types.UrgencyCritical
	case totalDrift > HighUrgencyPercent:
		return types.UrgencyHigh
	case totalDrift > RebalanceThresholdPercent:
		return types.UrgencyMedium
	default:
		return types.UrgencyLow
	}
}
