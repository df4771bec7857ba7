// Package types provides common type definitions for the portfolio monitor system.
package types

import "fmt"

// RiskProfile represents the per-wallet policy knob gating how
// aggressively the system reacts to allocation drift.
type RiskProfile string

const (
	// ProfileConservative only acts on high or critical urgency drift
	ProfileConservative RiskProfile = "conservative"
	// ProfileBalanced acts on any drift above the configured threshold
	ProfileBalanced RiskProfile = "balanced"
	// ProfileAggressive acts on any drift above the configured threshold
	ProfileAggressive RiskProfile = "aggressive"
)

// ParseRiskProfile validates and converts a string into a RiskProfile.
func ParseRiskProfile(s string) (RiskProfile, error) {
	switch RiskProfile(s) {
	case ProfileConservative, ProfileBalanced, ProfileAggressive:
		return RiskProfile(s), nil
	default:
		return "", fmt.Errorf("unknown risk profile: %q", s)
	}
}

// UrgencyLevel represents the coarse bucket derived from total drift magnitude.
type UrgencyLevel string

const (
	// UrgencyLow represents total drift at or below the rebalancing threshold
	UrgencyLow UrgencyLevel = "low"
	// UrgencyMedium represents total drift above 10 percentage points
	UrgencyMedium UrgencyLevel = "medium"
	// UrgencyHigh represents total drift above 15 percentage points
	UrgencyHigh UrgencyLevel = "high"
	// UrgencyCritical represents total drift above 20 percentage points
	UrgencyCritical UrgencyLevel = "critical"
)

// Rank returns the ordering of an urgency level, low first.
// Unknown levels rank below low.
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyCritical:
		return 4
	default:
		return 0
	}
}

// TrendDirection represents the assessed market trend.
type TrendDirection string

const (
	// TrendBullish represents a rising market
	TrendBullish TrendDirection = "bullish"
	// TrendBearish represents a falling market
	TrendBearish TrendDirection = "bearish"
	// TrendSideways represents a flat or mixed market
	TrendSideways TrendDirection = "sideways"
)

// ExecutionStatus represents the lifecycle status of a rebalance execution.
type ExecutionStatus string

const (
	// ExecutionPending represents a submitted but unconfirmed execution
	ExecutionPending ExecutionStatus = "pending"
	// ExecutionConfirmed represents an execution confirmed on chain
	ExecutionConfirmed ExecutionStatus = "confirmed"
	// ExecutionFailed represents an execution that errored or was rejected
	ExecutionFailed ExecutionStatus = "failed"
)

// TradeSide represents the direction of a single rebalancing trade.
type TradeSide string

const (
	// TradeBuy represents acquiring more of a token
	TradeBuy TradeSide = "buy"
	// TradeSell represents reducing a token position
	TradeSell TradeSide = "sell"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
