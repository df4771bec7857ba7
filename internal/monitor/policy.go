package monitor

import (
	"fmt"

	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// MaxActionableRiskScore is the market risk score above which no
// autonomous action is taken regardless of drift.
const MaxActionableRiskScore = 80.0

// Decision is the outcome of the action policy with the reason the
// first failing gate produced.
type Decision struct {
	Act    bool   `json:"act"`
	Reason string `json:"reason"`
}

// ShouldAct decides whether an autonomous action is warranted. Pure:
// no I/O, no clock, no mutation. Gates are evaluated in order and the
// first failing gate's reason is returned. A nil market condition
// passes the risk gate: no assessment means no grounds to refuse.
func ShouldAct(cfg *models.MonitoringConfig, drift *models.PortfolioDrift, market *models.MarketCondition) Decision {
	if !drift.NeedsRebalancing {
		return Decision{Reason: "drift below systemic rebalancing threshold"}
	}

	if drift.TotalDriftPercent < cfg.DriftThresholdPercent {
		return Decision{Reason: fmt.Sprintf("drift %.2f%% below configured threshold %.2f%%",
			drift.TotalDriftPercent, cfg.DriftThresholdPercent)}
	}

	if cfg.RiskProfile == types.ProfileConservative && drift.UrgencyLevel.Rank() < types.UrgencyHigh.Rank() {
		return Decision{Reason: "conservative profile requires high or critical urgency"}
	}

	if market != nil && market.RiskScore > MaxActionableRiskScore {
		return Decision{Reason: fmt.Sprintf("market risk score %.1f exceeds %.1f",
			market.RiskScore, MaxActionableRiskScore)}
	}

	return Decision{Act: true, Reason: "drift exceeds thresholds under acceptable market risk"}
}
