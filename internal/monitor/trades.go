package monitor

import (
	"math"
	"sort"

	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// minTradeDeltaPercent is the allocation difference below which a leg
// is dropped from the plan as dust.
const minTradeDeltaPercent = 0.001

// ComputeTradePlan derives the per-token buy/sell legs that move a
// snapshot to the target allocation. Legs whose allocation delta is
// below the dust threshold are omitted.
func ComputeTradePlan(snapshot *models.PortfolioSnapshot, target map[string]float64) map[string]models.TokenTrade {
	trades := make(map[string]models.TokenTrade)
	if snapshot.TotalUSDValue <= 0 {
		return trades
	}

	for _, symbol := range sortedSymbols(snapshot.USDValues, target) {
		currentPct := snapshot.USDValues[symbol] / snapshot.TotalUSDValue * 100
		targetPct := target[symbol]
		diff := targetPct - currentPct
		if math.Abs(diff) < minTradeDeltaPercent {
			continue
		}

		side := types.TradeBuy
		if diff < 0 {
			side = types.TradeSell
		}
		trades[symbol] = models.TokenTrade{
			Symbol:     symbol,
			Current:    currentPct,
			Target:     targetPct,
			Difference: diff,
			Side:       side,
		}
	}

	return trades
}

func sortedSymbols(current map[string]float64, target map[string]float64) []string {
	seen := make(map[string]struct{}, len(current)+len(target))
	symbols := make([]string, 0, len(current)+len(target))
	for symbol := range current {
		if _, ok := seen[symbol]; !ok {
			seen[symbol] = struct{}{}
			symbols = append(symbols, symbol)
		}
	}
	for symbol := range target {
		if _, ok := seen[symbol]; !ok {
			seen[symbol] = struct{}{}
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}
