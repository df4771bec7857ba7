package models

import (
	"time"

	"github.com/portfolio-monitor/internal/types"
)

// PortfolioSnapshot represents the observed state of a wallet at one
// point in time. Snapshots are ephemeral; only derived records (drift
// history, action logs, executions) are persisted.
type PortfolioSnapshot struct {
	WalletAddress string             `json:"walletAddress"`
	Balances      map[string]float64 `json:"balances"`
	Prices        map[string]float64 `json:"prices"`
	USDValues     map[string]float64 `json:"usdValues"`
	TotalUSDValue float64            `json:"totalUsdValue"`
	Timestamp     time.Time          `json:"timestamp"`
}

// PortfolioDrift represents the deviation of a snapshot from a target allocation.
type PortfolioDrift struct {
	TotalDriftPercent   float64            `json:"totalDriftPercent"`
	TokenDrifts         map[string]float64 `json:"tokenDrifts"`
	NeedsRebalancing    bool               `json:"needsRebalancing"`
	UrgencyLevel        types.UrgencyLevel `json:"urgencyLevel"`
	SuggestedAllocation map[string]float64 `json:"suggestedAllocation"`
}

// MarketCondition represents the process-wide market risk assessment.
// Instances are immutable once published; the assessor replaces the
// cached value wholesale instead of mutating fields in place.
type MarketCondition struct {
	RiskScore            float64              `json:"riskScore"`
	TrendDirection       types.TrendDirection `json:"trendDirection"`
	VolatilityHigh       bool                 `json:"volatilityHigh"`
	VolumeSpike          bool                 `json:"volumeSpike"`
	CorrelationBreakdown bool                 `json:"correlationBreakdown"`
	AssessedAt           time.Time            `json:"assessedAt"`
}

// TokenTrade represents one leg of a rebalancing plan.
type TokenTrade struct {
	Symbol     string          `json:"symbol"`
	Current    float64         `json:"current"`
	Target     float64         `json:"target"`
	Difference float64         `json:"difference"`
	Side       types.TradeSide `json:"side"`
}
