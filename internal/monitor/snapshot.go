// Package monitor implements the autonomous portfolio monitoring loop:
// per-wallet snapshot and drift computation, the process-wide market
// assessment, the action policy, daily trade quotas, and the scheduler
// that coordinates all of them.
package monitor

import (
	"context"
	"time"

	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/logging"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/storage"
)

// BalanceSource fetches on-chain token balances for a wallet.
type BalanceSource interface {
	FetchBalances(ctx context.Context, walletAddress string, symbols []string) (map[string]float64, error)
}

// PriceSource fetches current USD prices for token symbols.
type PriceSource interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// SnapshotProvider assembles portfolio snapshots from balances and
// prices. Prices go through the Redis cache first; only cache misses
// hit the live feed.
type SnapshotProvider struct {
	balances BalanceSource
	prices   PriceSource
	cache    *storage.PriceCache
	symbols  []string
	timeout  time.Duration
	logger   *logging.Logger
}

// NewSnapshotProvider creates a snapshot provider for the given token
// set. The cache may be nil, in which case every snapshot hits the
// live price feed.
func NewSnapshotProvider(balances BalanceSource, prices PriceSource, cache *storage.PriceCache, symbols []string, timeout time.Duration, logger *logging.Logger) *SnapshotProvider {
	return &SnapshotProvider{
		balances: balances,
		prices:   prices,
		cache:    cache,
		symbols:  symbols,
		timeout:  timeout,
		logger:   logger.WithField("component", "snapshot_provider"),
	}
}

// Snapshot fetches balances and prices for the wallet and returns the
// assembled portfolio state. Any missing balance or price fails the
// whole snapshot; downstream drift math must never run on partial data.
func (p *SnapshotProvider) Snapshot(ctx context.Context, walletAddress string) (*models.PortfolioSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	balances, err := p.balances.FetchBalances(ctx, walletAddress, p.symbols)
	if err != nil {
		return nil, apperrors.NewSnapshotUnavailableError(walletAddress, err)
	}

	prices, err := p.fetchPrices(ctx)
	if err != nil {
		return nil, apperrors.NewSnapshotUnavailableError(walletAddress, err)
	}

	usdValues := make(map[string]float64, len(p.symbols))
	total := 0.0
	for _, symbol := range p.symbols {
		value := balances[symbol] * prices[symbol]
		usdValues[symbol] = value
		total += value
	}

	return &models.PortfolioSnapshot{
		WalletAddress: walletAddress,
		Balances:      balances,
		Prices:        prices,
		USDValues:     usdValues,
		TotalUSDValue: total,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// fetchPrices serves prices from the cache where possible and fetches
// the rest from the live feed. Cache failures degrade to live fetches;
// a live fetch failure fails the call.
func (p *SnapshotProvider) fetchPrices(ctx context.Context) (map[string]float64, error) {
	if p.cache == nil {
		return p.prices.FetchPrices(ctx, p.symbols)
	}

	prices, missing, err := p.cache.GetPrices(ctx, p.symbols)
	if err != nil {
		p.logger.WithError(err).Warn("price cache read failed, falling back to live feed")
		prices = make(map[string]float64)
		missing = p.symbols
	}
	if len(missing) == 0 {
		return prices, nil
	}

	fetched, err := p.prices.FetchPrices(ctx, missing)
	if err != nil {
		return nil, err
	}
	for symbol, price := range fetched {
		prices[symbol] = price
	}

	if err := p.cache.SetPrices(ctx, fetched); err != nil {
		p.logger.WithError(err).Warn("price cache write failed")
	}

	return prices, nil
}
