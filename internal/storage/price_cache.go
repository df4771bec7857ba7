package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PriceCache caches token USD prices in Redis so bursts of concurrent
// monitoring cycles do not hammer the upstream price feed. Keys expire
// after the configured TTL; a stale price is never served.
type PriceCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewPriceCache creates a new price cache with the given TTL
func NewPriceCache(cache *RedisCache, ttl time.Duration) *PriceCache {
	return &PriceCache{cache: cache, ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// GetPrices returns cached prices for the requested symbols and the
// list of symbols without a live cache entry.
func (p *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, []string, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil, nil
	}

	keys := make([]string, len(symbols))
	for i, symbol := range symbols {
		keys[i] = priceKey(symbol)
	}

	values, err := p.cache.Client().MGet(ctx, keys...).Result()
	if err != nil && err != redis.Nil {
		return nil, symbols, err
	}

	prices := make(map[string]float64, len(symbols))
	var missing []string
	for i, symbol := range symbols {
		raw, ok := values[i].(string)
		if !ok {
			missing = append(missing, symbol)
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			missing = append(missing, symbol)
			continue
		}
		prices[symbol] = price
	}

	return prices, missing, nil
}

// SetPrices stores prices with the cache TTL
func (p *PriceCache) SetPrices(ctx context.Context, prices map[string]float64) error {
	pipe := p.cache.Client().Pipeline()
	for symbol, price := range prices {
		pipe.Set(ctx, priceKey(symbol), strconv.FormatFloat(price, 'f', -1, 64), p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
