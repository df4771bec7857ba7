package models

import (
	"time"

	"github.com/portfolio-monitor/internal/types"
)

// Execution represents a dispatched rebalance, created only when an
// autonomous action is actually submitted to the execution collaborator.
type Execution struct {
	ExecutionID       string                `json:"executionId" db:"execution_id"`
	WalletAddress     string                `json:"walletAddress" db:"wallet_address"`
	StrategyID        string                `json:"strategyId" db:"strategy_id"`
	TargetAllocation  map[string]float64    `json:"targetAllocation" db:"target_allocation"`
	PreTradeBalances  map[string]float64    `json:"preTradeBalances" db:"pre_trade_balances"`
	Trades            map[string]TokenTrade `json:"trades" db:"trades"`
	TxRef             string                `json:"txRef" db:"tx_ref"`
	Status            types.ExecutionStatus `json:"status" db:"status"`
	ExecutionType     string                `json:"executionType" db:"execution_type"`
	TotalDriftPercent float64               `json:"totalDriftPercent" db:"total_drift_percent"`
	UrgencyLevel      types.UrgencyLevel    `json:"urgencyLevel" db:"urgency_level"`
	Error             *string               `json:"error,omitempty" db:"error"`
	CreatedAt         time.Time             `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time             `json:"updatedAt" db:"updated_at"`
}

// ExecutionTypeAutonomous marks executions dispatched by the scheduler
// rather than a direct user request.
const ExecutionTypeAutonomous = "autonomous"

// Strategy holds a stored target allocation for a wallet. The most
// recent strategy per wallet is the rebalancing target; wallets
// without one fall back to the configured default allocation.
type Strategy struct {
	StrategyID       string             `json:"strategyId" db:"strategy_id"`
	WalletAddress    string             `json:"walletAddress" db:"wallet_address"`
	Name             string             `json:"name" db:"name"`
	TargetAllocation map[string]float64 `json:"targetAllocation" db:"target_allocation"`
	CreatedAt        time.Time          `json:"createdAt" db:"created_at"`
}

// DriftEvent is one row of the append-only drift history, recorded for
// every completed monitoring cycle regardless of whether action was taken.
type DriftEvent struct {
	WalletAddress     string             `json:"walletAddress"`
	TotalDriftPercent float64            `json:"totalDriftPercent"`
	UrgencyLevel      types.UrgencyLevel `json:"urgencyLevel"`
	NeedsRebalancing  bool               `json:"needsRebalancing"`
	TotalUSDValue     float64            `json:"totalUsdValue"`
	ActionTaken       bool               `json:"actionTaken"`
	Timestamp         time.Time          `json:"timestamp"`
}
