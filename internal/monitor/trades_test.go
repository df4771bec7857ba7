package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-monitor/internal/types"
)

func TestComputeTradePlan_BuyAndSellLegs(t *testing.T) {
	snapshot := snapshotWithValues(map[string]float64{
		"ETH": 6000, "USDC": 2000, "LINK": 2000,
	})
	target := map[string]float64{"ETH": 40, "USDC": 30, "LINK": 30}

	trades := ComputeTradePlan(snapshot, target)
	require.Len(t, trades, 3)

	eth := trades["ETH"]
	assert.Equal(t, types.TradeSell, eth.Side)
	assert.InDelta(t, 60.0, eth.Current, 0.001)
	assert.InDelta(t, -20.0, eth.Difference, 0.001)

	usdc := trades["USDC"]
	assert.Equal(t, types.TradeBuy, usdc.Side)
	assert.InDelta(t, 10.0, usdc.Difference, 0.001)
}

func TestComputeTradePlan_SkipsDustLegs(t *testing.T) {
	snapshot := snapshotWithValues(map[string]float64{
		"ETH": 5000, "USDC": 5000,
	})
	target := map[string]float64{"ETH": 50, "USDC": 50}

	trades := ComputeTradePlan(snapshot, target)
	assert.Empty(t, trades)
}

func TestComputeTradePlan_TokenAbsentFromWallet(t *testing.T) {
	snapshot := snapshotWithValues(map[string]float64{
		"ETH": 10000,
	})
	target := map[string]float64{"ETH": 70, "LINK": 30}

	trades := ComputeTradePlan(snapshot, target)
	require.Len(t, trades, 2)
	assert.Equal(t, types.TradeSell, trades["ETH"].Side)
	link := trades["LINK"]
	assert.Equal(t, types.TradeBuy, link.Side)
	assert.Zero(t, link.Current)
	assert.InDelta(t, 30.0, link.Difference, 0.001)
}

func TestComputeTradePlan_EmptyPortfolio(t *testing.T) {
	snapshot := snapshotWithValues(map[string]float64{})
	trades := ComputeTradePlan(snapshot, map[string]float64{"ETH": 100})
	assert.Empty(t, trades)
}
