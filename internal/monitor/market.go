package monitor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portfolio-monitor/internal/logging"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// Scorer produces a market condition reading. The scoring algorithm is
// deliberately pluggable; the assessor only commits to the output shape.
type Scorer interface {
	Score(ctx context.Context) (*models.MarketCondition, error)
}

// Assessor maintains the process-wide market condition singleton. The
// cached value is replaced wholesale on each assessment so concurrent
// readers never observe a half-updated record; on scorer failure the
// previous reading is kept.
type Assessor struct {
	scorer   Scorer
	interval time.Duration
	current  atomic.Pointer[models.MarketCondition]
	logger   *logging.Logger
}

// NewAssessor creates an assessor seeded with a neutral reading so
// consumers have a usable value before the first assessment completes.
func NewAssessor(scorer Scorer, interval time.Duration, logger *logging.Logger) *Assessor {
	a := &Assessor{
		scorer:   scorer,
		interval: interval,
		logger:   logger.WithField("component", "market_assessor"),
	}
	a.current.Store(&models.MarketCondition{
		RiskScore:      50,
		TrendDirection: types.TrendSideways,
		AssessedAt:     time.Now().UTC(),
	})
	return a
}

// Current returns the latest market condition. Never nil.
func (a *Assessor) Current() *models.MarketCondition {
	return a.current.Load()
}

// Refresh runs one assessment and publishes the result. On error the
// previous reading stays in place.
func (a *Assessor) Refresh(ctx context.Context) error {
	condition, err := a.scorer.Score(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("market assessment failed, keeping previous reading")
		return err
	}
	condition.AssessedAt = time.Now().UTC()
	a.current.Store(condition)
	a.logger.WithFields(map[string]interface{}{
		"risk_score": condition.RiskScore,
		"trend":      condition.TrendDirection,
	}).Debug("market condition updated")
	return nil
}

// Run assesses on a fixed interval until the context is cancelled.
// Assessment errors never terminate the loop.
func (a *Assessor) Run(ctx context.Context) {
	_ = a.Refresh(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = a.Refresh(ctx)
		}
	}
}

// HeuristicScorer derives a market condition from short-horizon price
// movement of a reference token set. It keeps the previous reading's
// prices in memory and scores the relative change since then.
type HeuristicScorer struct {
	prices  PriceSource
	symbols []string

	mu   sync.Mutex
	last map[string]float64
}

// NewHeuristicScorer creates a scorer over the given reference tokens.
func NewHeuristicScorer(prices PriceSource, symbols []string) *HeuristicScorer {
	return &HeuristicScorer{
		prices:  prices,
		symbols: symbols,
	}
}

// Score fetches current prices and scores the move since the previous
// call. The first call has no baseline and returns a neutral reading.
func (s *HeuristicScorer) Score(ctx context.Context) (*models.MarketCondition, error) {
	current, err := s.prices.FetchPrices(ctx, s.symbols)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	previous := s.last
	s.last = current
	s.mu.Unlock()

	if previous == nil {
		return &models.MarketCondition{
			RiskScore:      50,
			TrendDirection: types.TrendSideways,
		}, nil
	}

	var sumMove, maxAbsMove float64
	moves := make(map[string]float64, len(s.symbols))
	for _, symbol := range s.symbols {
		prev := previous[symbol]
		if prev <= 0 {
			continue
		}
		move := (current[symbol] - prev) / prev * 100
		moves[symbol] = move
		sumMove += move
		if abs := math.Abs(move); abs > maxAbsMove {
			maxAbsMove = abs
		}
	}

	avgMove := 0.0
	if len(moves) > 0 {
		avgMove = sumMove / float64(len(moves))
	}

	trend := types.TrendSideways
	switch {
	case avgMove > 0.5:
		trend = types.TrendBullish
	case avgMove < -0.5:
		trend = types.TrendBearish
	}

	return &models.MarketCondition{
		RiskScore:            math.Min(100, 30+maxAbsMove*10),
		TrendDirection:       trend,
		VolatilityHigh:       maxAbsMove > 5,
		VolumeSpike:          false,
		CorrelationBreakdown: divergentMoves(moves),
	}, nil
}

// divergentMoves reports whether any two reference tokens moved in
// opposite directions by more than two percent each, a crude proxy for
// a correlation break.
func divergentMoves(moves map[string]float64) bool {
	var sawUp, sawDown bool
	for _, move := range moves {
		if move > 2 {
			sawUp = true
		}
		if move < -2 {
			sawDown = true
		}
	}
	return sawUp && sawDown
}
