package models

import (
	"time"

	"github.com/portfolio-monitor/internal/types"
)

// ActionLog is an append-only record of an autonomous decision.
// Written once per cycle where the policy warranted action; immutable
// after insert.
type ActionLog struct {
	ActionID            string             `json:"actionId" db:"action_id"`
	WalletAddress       string             `json:"walletAddress" db:"wallet_address"`
	ActionType          string             `json:"actionType" db:"action_type"`
	TotalDriftPercent   float64            `json:"totalDriftPercent" db:"total_drift_percent"`
	TokenDrifts         map[string]float64 `json:"tokenDrifts" db:"token_drifts"`
	UrgencyLevel        types.UrgencyLevel `json:"urgencyLevel" db:"urgency_level"`
	TargetAllocation    map[string]float64 `json:"targetAllocation" db:"target_allocation"`
	RiskProfile         types.RiskProfile  `json:"riskProfile" db:"risk_profile"`
	DriftThresholdUsed  float64            `json:"driftThresholdUsed" db:"drift_threshold_used"`
	AutoExecute         bool               `json:"autoExecute" db:"auto_execute"`
	Timestamp           time.Time          `json:"timestamp" db:"timestamp"`
}

// ActionTypeRebalance is the only action type the scheduler currently emits.
const ActionTypeRebalance = "autonomous_rebalance"
