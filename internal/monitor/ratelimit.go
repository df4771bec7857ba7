package monitor

import (
	"strings"
	"sync"
	"time"
)

// TradeLimiter enforces the per-wallet daily trade quota. Counters
// reset at UTC midnight: a check that observes a stale watermark first
// resets the counter, then allows. Each wallet has its own critical
// section so one wallet's quota update never blocks another's cycle.
type TradeLimiter struct {
	mu      sync.Mutex
	wallets map[string]*tradeCounter
}

type tradeCounter struct {
	mu      sync.Mutex
	count   int
	resetAt *time.Time // UTC midnight watermark, nil before first check
}

// QuotaState is a point-in-time view of a wallet's quota, for status
// reporting.
type QuotaState struct {
	DailyTradesCount int        `json:"dailyTradesCount"`
	LastTradeReset   *time.Time `json:"lastTradeReset,omitempty"`
}

// NewTradeLimiter creates an empty limiter. Counters are seeded from
// the persisted config as wallets come under monitoring.
func NewTradeLimiter() *TradeLimiter {
	return &TradeLimiter{wallets: make(map[string]*tradeCounter)}
}

func (l *TradeLimiter) counter(walletAddress string) *tradeCounter {
	key := strings.ToLower(walletAddress)
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.wallets[key]
	if !ok {
		c = &tradeCounter{}
		l.wallets[key] = c
	}
	return c
}

// Seed initializes a wallet's counter from persisted state. Later
// values win only if the wallet has no in-memory counter yet.
func (l *TradeLimiter) Seed(walletAddress string, count int, lastReset *time.Time) {
	c := l.counter(walletAddress)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resetAt == nil && c.count == 0 {
		c.count = count
		c.resetAt = lastReset
	}
}

// CanTradeToday reports whether the wallet has daily quota left. A
// stale or missing watermark triggers a reset to the current UTC day
// first; the reset itself allows without consuming a slot. The
// returned resetOccurred flag lets the caller persist the rollover.
func (l *TradeLimiter) CanTradeToday(walletAddress string, maxDailyTrades int, now time.Time) (allowed bool, resetOccurred bool) {
	midnight := UTCMidnight(now)

	c := l.counter(walletAddress)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resetAt == nil || c.resetAt.Before(midnight) {
		c.count = 0
		c.resetAt = &midnight
		return true, true
	}

	return c.count < maxDailyTrades, false
}

// RecordTrade consumes one quota slot. Called once per dispatched
// action, whether or not the execution later succeeds.
func (l *TradeLimiter) RecordTrade(walletAddress string) {
	c := l.counter(walletAddress)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

// State returns the wallet's current quota state.
func (l *TradeLimiter) State(walletAddress string) QuotaState {
	c := l.counter(walletAddress)
	c.mu.Lock()
	defer c.mu.Unlock()
	return QuotaState{DailyTradesCount: c.count, LastTradeReset: c.resetAt}
}

// Forget drops a wallet's counter, for wallet removal.
func (l *TradeLimiter) Forget(walletAddress string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.wallets, strings.ToLower(walletAddress))
}

// UTCMidnight returns the start of the UTC calendar day containing t.
func UTCMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
