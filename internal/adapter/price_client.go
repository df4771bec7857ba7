package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/portfolio-monitor/internal/circuitbreaker"
	"github.com/portfolio-monitor/internal/config"
	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/retry"
)

// symbolIDMap maps token symbols to CoinGecko asset ids
var symbolIDMap = map[string]string{
	"ETH":  "ethereum",
	"USDC": "usd-coin",
	"LINK": "chainlink",
	"BTC":  "bitcoin",
}

// PriceClient fetches USD token prices from a CoinGecko-compatible
// simple-price endpoint. Requests are rate limited client-side since
// the free tier throttles aggressively.
type PriceClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
}

// NewPriceClient creates a price client from configuration
func NewPriceClient(cfg *config.PriceFeedConfig) *PriceClient {
	return &PriceClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("price-feed")),
	}
}

// FetchPrices returns the current USD price for every requested symbol.
// A missing or non-positive price fails the whole call: substituting a
// fabricated price would corrupt drift and trade-sizing decisions.
func (c *PriceClient) FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	ids := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		id, ok := symbolIDMap[symbol]
		if !ok {
			return nil, apperrors.NewInvalidParameterError("symbol", fmt.Sprintf("no price feed mapping for %s", symbol))
		}
		ids = append(ids, id)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewProviderError("price-feed", err)
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	endpoint := fmt.Sprintf("%s/simple/price?%s", c.baseURL, params.Encode())

	var payload map[string]map[string]float64
	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		return c.breaker.Execute(ctx, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}

			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("price feed returned status %d", resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(&payload)
		})
	})
	if err != nil {
		return nil, apperrors.NewProviderError("price-feed", err)
	}

	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		price := payload[symbolIDMap[symbol]]["usd"]
		if price <= 0 {
			return nil, apperrors.NewProviderError("price-feed",
				fmt.Errorf("no usable price for %s", symbol))
		}
		prices[symbol] = price
	}

	return prices, nil
}
