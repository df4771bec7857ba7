package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/models"
)

// StrategyRepository handles stored target allocations
type StrategyRepository struct {
	db *PostgresDB
}

// NewStrategyRepository creates a new strategy repository
func NewStrategyRepository(db *PostgresDB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// Save stores a strategy for a wallet
func (r *StrategyRepository) Save(ctx context.Context, strategy *models.Strategy) error {
	if strategy.StrategyID == "" {
		strategy.StrategyID = uuid.New().String()
	}
	if strategy.CreatedAt.IsZero() {
		strategy.CreatedAt = time.Now().UTC()
	}
	strategy.WalletAddress = strings.ToLower(strategy.WalletAddress)

	allocation, err := json.Marshal(strategy.TargetAllocation)
	if err != nil {
		return apperrors.NewInternalError("marshal target allocation", err)
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO strategies (strategy_id, wallet_address, name, target_allocation, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		strategy.StrategyID,
		strategy.WalletAddress,
		strategy.Name,
		allocation,
		strategy.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("save strategy", err)
	}

	return nil
}

// LatestByWallet returns the most recent strategy for a wallet, or nil
// when the wallet has none. Absence is not an error: callers fall back
// to the configured default allocation.
func (r *StrategyRepository) LatestByWallet(ctx context.Context, walletAddress string) (*models.Strategy, error) {
	var strategy models.Strategy
	var allocation []byte

	err := r.db.Pool().QueryRow(ctx, `
		SELECT strategy_id, wallet_address, name, target_allocation, created_at
		FROM strategies
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, strings.ToLower(walletAddress)).Scan(
		&strategy.StrategyID,
		&strategy.WalletAddress,
		&strategy.Name,
		&allocation,
		&strategy.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("get latest strategy", err)
	}

	if err := json.Unmarshal(allocation, &strategy.TargetAllocation); err != nil {
		return nil, apperrors.NewInternalError("unmarshal target allocation", err)
	}

	return &strategy, nil
}
