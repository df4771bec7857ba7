package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// ConfigRepository handles monitoring configuration persistence.
// One row per wallet, keyed by wallet address.
type ConfigRepository struct {
	db *PostgresDB
}

// NewConfigRepository creates a new config repository
func NewConfigRepository(db *PostgresDB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

const configColumns = `wallet_address, enabled, check_interval_seconds, drift_threshold_percent,
		max_daily_trades, risk_profile, auto_execute, slippage_tolerance,
		min_portfolio_value_usd, created_at, last_check, daily_trades_count, last_trade_reset`

// Upsert inserts or replaces the monitoring configuration for a wallet.
// Configuration outside documented bounds is rejected here and never
// reaches the scheduler.
func (r *ConfigRepository) Upsert(ctx context.Context, cfg *models.MonitoringConfig) error {
	if err := cfg.Validate(); err != nil {
		return apperrors.NewInvalidConfigError(err.Error())
	}

	cfg.WalletAddress = strings.ToLower(cfg.WalletAddress)
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO monitoring_configs (` + configColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (wallet_address) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			check_interval_seconds = EXCLUDED.check_interval_seconds,
			drift_threshold_percent = EXCLUDED.drift_threshold_percent,
			max_daily_trades = EXCLUDED.max_daily_trades,
			risk_profile = EXCLUDED.risk_profile,
			auto_execute = EXCLUDED.auto_execute,
			slippage_tolerance = EXCLUDED.slippage_tolerance,
			min_portfolio_value_usd = EXCLUDED.min_portfolio_value_usd
	`

	_, err := r.db.Pool().Exec(ctx, query,
		cfg.WalletAddress,
		cfg.Enabled,
		int64(cfg.CheckInterval/time.Second),
		cfg.DriftThresholdPercent,
		cfg.MaxDailyTrades,
		string(cfg.RiskProfile),
		cfg.AutoExecute,
		cfg.SlippageTolerance,
		cfg.MinPortfolioValueUSD,
		cfg.CreatedAt,
		cfg.LastCheck,
		cfg.DailyTradesCount,
		cfg.LastTradeReset,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert monitoring config", err)
	}

	return nil
}

// Get retrieves the monitoring configuration for a wallet.
// Returns a wallet-not-found error when the wallet is not registered,
// which callers must keep distinguishable from "registered but disabled".
func (r *ConfigRepository) Get(ctx context.Context, walletAddress string) (*models.MonitoringConfig, error) {
	query := `SELECT ` + configColumns + ` FROM monitoring_configs WHERE wallet_address = $1`

	cfg, err := scanConfig(r.db.Pool().QueryRow(ctx, query, strings.ToLower(walletAddress)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewWalletNotFoundError(walletAddress)
		}
		return nil, apperrors.NewDatabaseError("get monitoring config", err)
	}

	return cfg, nil
}

// List retrieves all monitoring configurations, optionally only enabled ones
func (r *ConfigRepository) List(ctx context.Context, enabledOnly bool) ([]*models.MonitoringConfig, error) {
	query := `SELECT ` + configColumns + ` FROM monitoring_configs`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY wallet_address`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list monitoring configs", err)
	}
	defer rows.Close()

	var configs []*models.MonitoringConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan monitoring config", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate monitoring configs", err)
	}

	return configs, nil
}

// Delete removes the monitoring configuration for a wallet
func (r *ConfigRepository) Delete(ctx context.Context, walletAddress string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`DELETE FROM monitoring_configs WHERE wallet_address = $1`,
		strings.ToLower(walletAddress),
	)
	if err != nil {
		return apperrors.NewDatabaseError("delete monitoring config", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewWalletNotFoundError(walletAddress)
	}
	return nil
}

// UpdateLastCheck records the completion time of a monitoring cycle
func (r *ConfigRepository) UpdateLastCheck(ctx context.Context, walletAddress string, checkedAt time.Time) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE monitoring_configs SET last_check = $2 WHERE wallet_address = $1`,
		strings.ToLower(walletAddress), checkedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("update last check", err)
	}
	return nil
}

// ResetDailyTrades zeroes the daily trade counter and advances the
// reset watermark to the given UTC midnight in a single statement.
func (r *ConfigRepository) ResetDailyTrades(ctx context.Context, walletAddress string, midnight time.Time) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE monitoring_configs SET daily_trades_count = 0, last_trade_reset = $2 WHERE wallet_address = $1`,
		strings.ToLower(walletAddress), midnight,
	)
	if err != nil {
		return apperrors.NewDatabaseError("reset daily trades", err)
	}
	return nil
}

// IncrementDailyTrades bumps the daily trade counter after an attempted action
func (r *ConfigRepository) IncrementDailyTrades(ctx context.Context, walletAddress string) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE monitoring_configs SET daily_trades_count = daily_trades_count + 1 WHERE wallet_address = $1`,
		strings.ToLower(walletAddress),
	)
	if err != nil {
		return apperrors.NewDatabaseError("increment daily trades", err)
	}
	return nil
}

// Count returns total and enabled wallet counts
func (r *ConfigRepository) Count(ctx context.Context) (total int, enabled int, err error) {
	err = r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE enabled) FROM monitoring_configs`,
	).Scan(&total, &enabled)
	if err != nil {
		return 0, 0, apperrors.NewDatabaseError("count monitoring configs", err)
	}
	return total, enabled, nil
}

// scanConfig maps one row onto a MonitoringConfig
func scanConfig(row pgx.Row) (*models.MonitoringConfig, error) {
	var cfg models.MonitoringConfig
	var intervalSeconds int64
	var riskProfile string

	err := row.Scan(
		&cfg.WalletAddress,
		&cfg.Enabled,
		&intervalSeconds,
		&cfg.DriftThresholdPercent,
		&cfg.MaxDailyTrades,
		&riskProfile,
		&cfg.AutoExecute,
		&cfg.SlippageTolerance,
		&cfg.MinPortfolioValueUSD,
		&cfg.CreatedAt,
		&cfg.LastCheck,
		&cfg.DailyTradesCount,
		&cfg.LastTradeReset,
	)
	if err != nil {
		return nil, err
	}

	cfg.CheckInterval = time.Duration(intervalSeconds) * time.Second
	profile, err := types.ParseRiskProfile(riskProfile)
	if err != nil {
		return nil, fmt.Errorf("stored config for %s: %w", cfg.WalletAddress, err)
	}
	cfg.RiskProfile = profile

	return &cfg, nil
}
