package models

import (
	"fmt"
	"time"

	"github.com/portfolio-monitor/internal/types"
)

// Bounds enforced on monitoring configuration at the write boundary.
// Values outside these bounds never reach the scheduler.
const (
	MinCheckInterval = 5 * time.Minute
	MaxCheckInterval = 24 * time.Hour

	MinDriftThresholdPercent = 1.0
	MaxDriftThresholdPercent = 50.0
)

// MonitoringConfig holds the per-wallet monitoring configuration.
// One row per wallet, keyed by wallet address.
type MonitoringConfig struct {
	WalletAddress         string            `json:"walletAddress" db:"wallet_address"`
	Enabled               bool              `json:"enabled" db:"enabled"`
	CheckInterval         time.Duration     `json:"checkInterval" db:"check_interval"`
	DriftThresholdPercent float64           `json:"driftThresholdPercent" db:"drift_threshold_percent"`
	MaxDailyTrades        int               `json:"maxDailyTrades" db:"max_daily_trades"`
	RiskProfile           types.RiskProfile `json:"riskProfile" db:"risk_profile"`
	AutoExecute           bool              `json:"autoExecute" db:"auto_execute"`
	SlippageTolerance     float64           `json:"slippageTolerance" db:"slippage_tolerance"`
	MinPortfolioValueUSD  float64           `json:"minPortfolioValueUsd" db:"min_portfolio_value_usd"`
	CreatedAt             time.Time         `json:"createdAt" db:"created_at"`
	LastCheck             *time.Time        `json:"lastCheck,omitempty" db:"last_check"`
	DailyTradesCount      int               `json:"dailyTradesCount" db:"daily_trades_count"`
	LastTradeReset        *time.Time        `json:"lastTradeReset,omitempty" db:"last_trade_reset"`
}

// Validate checks that the configuration is within documented bounds.
func (c *MonitoringConfig) Validate() error {
	if c.WalletAddress == "" {
		return fmt.Errorf("wallet address is required")
	}
	if c.CheckInterval < MinCheckInterval || c.CheckInterval > MaxCheckInterval {
		return fmt.Errorf("check interval must be between %v and %v, got %v",
			MinCheckInterval, MaxCheckInterval, c.CheckInterval)
	}
	if c.DriftThresholdPercent < MinDriftThresholdPercent || c.DriftThresholdPercent > MaxDriftThresholdPercent {
		return fmt.Errorf("drift threshold must be between %.1f and %.1f percent, got %.2f",
			MinDriftThresholdPercent, MaxDriftThresholdPercent, c.DriftThresholdPercent)
	}
	if c.MaxDailyTrades < 0 {
		return fmt.Errorf("max daily trades cannot be negative, got %d", c.MaxDailyTrades)
	}
	if _, err := types.ParseRiskProfile(string(c.RiskProfile)); err != nil {
		return err
	}
	if c.SlippageTolerance < 0 {
		return fmt.Errorf("slippage tolerance cannot be negative, got %.2f", c.SlippageTolerance)
	}
	if c.MinPortfolioValueUSD < 0 {
		return fmt.Errorf("minimum portfolio value cannot be negative, got %.2f", c.MinPortfolioValueUSD)
	}
	return nil
}
