package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/storage"
)

type stubBalances struct {
	balances map[string]float64
	err      error
	calls    int
}

func (s *stubBalances) FetchBalances(ctx context.Context, walletAddress string, symbols []string) (map[string]float64, error) {
	s.calls++
	return s.balances, s.err
}

type stubPrices struct {
	prices map[string]float64
	err    error
	calls  int
}

func (s *stubPrices) FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	result := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		result[symbol] = s.prices[symbol]
	}
	return result, nil
}

func setupTestPriceCache(t *testing.T) *storage.PriceCache {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return storage.NewPriceCache(storage.NewRedisCacheFromClient(client), time.Minute)
}

func TestSnapshotProvider_Snapshot(t *testing.T) {
	balances := &stubBalances{balances: map[string]float64{"ETH": 2.0, "USDC": 1000}}
	prices := &stubPrices{prices: map[string]float64{"ETH": 2000, "USDC": 1}}

	provider := NewSnapshotProvider(balances, prices, setupTestPriceCache(t),
		[]string{"ETH", "USDC"}, 5*time.Second, testLogger())

	snapshot, err := provider.Snapshot(context.Background(), "0xabc")
	require.NoError(t, err)

	assert.Equal(t, "0xabc", snapshot.WalletAddress)
	assert.InDelta(t, 4000.0, snapshot.USDValues["ETH"], 0.001)
	assert.InDelta(t, 1000.0, snapshot.USDValues["USDC"], 0.001)
	assert.InDelta(t, 5000.0, snapshot.TotalUSDValue, 0.001)
	assert.False(t, snapshot.Timestamp.IsZero())
}

func TestSnapshotProvider_SecondSnapshotServedFromCache(t *testing.T) {
	balances := &stubBalances{balances: map[string]float64{"ETH": 1.0}}
	prices := &stubPrices{prices: map[string]float64{"ETH": 2000}}

	provider := NewSnapshotProvider(balances, prices, setupTestPriceCache(t),
		[]string{"ETH"}, 5*time.Second, testLogger())

	_, err := provider.Snapshot(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, 1, prices.calls)

	snapshot, err := provider.Snapshot(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 1, prices.calls, "second snapshot should hit the price cache")
	assert.InDelta(t, 2000.0, snapshot.TotalUSDValue, 0.001)
}

func TestSnapshotProvider_BalanceFailureIsUnavailable(t *testing.T) {
	balances := &stubBalances{err: errors.New("rpc unreachable")}
	prices := &stubPrices{prices: map[string]float64{"ETH": 2000}}

	provider := NewSnapshotProvider(balances, prices, setupTestPriceCache(t),
		[]string{"ETH"}, 5*time.Second, testLogger())

	_, err := provider.Snapshot(context.Background(), "0xabc")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryProvider, apperrors.Categorize(err).Category)
}

func TestSnapshotProvider_PriceFailureIsUnavailable(t *testing.T) {
	balances := &stubBalances{balances: map[string]float64{"ETH": 1.0}}
	prices := &stubPrices{err: errors.New("price feed down")}

	provider := NewSnapshotProvider(balances, prices, setupTestPriceCache(t),
		[]string{"ETH"}, 5*time.Second, testLogger())

	_, err := provider.Snapshot(context.Background(), "0xabc")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryProvider, apperrors.Categorize(err).Category)
}

func TestSnapshotProvider_WorksWithoutCache(t *testing.T) {
	balances := &stubBalances{balances: map[string]float64{"ETH": 1.0}}
	prices := &stubPrices{prices: map[string]float64{"ETH": 1500}}

	provider := NewSnapshotProvider(balances, prices, nil,
		[]string{"ETH"}, 5*time.Second, testLogger())

	snapshot, err := provider.Snapshot(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, snapshot.TotalUSDValue, 0.001)
}
