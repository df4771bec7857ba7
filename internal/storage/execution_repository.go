package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// ExecutionRepository handles rebalance execution persistence
type ExecutionRepository struct {
	db *PostgresDB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *PostgresDB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Append records a newly dispatched execution
func (r *ExecutionRepository) Append(ctx context.Context, exec *models.Execution) error {
	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now
	exec.WalletAddress = strings.ToLower(exec.WalletAddress)

	allocation, err := json.Marshal(exec.TargetAllocation)
	if err != nil {
		return apperrors.NewInternalError("marshal target allocation", err)
	}
	balances, err := json.Marshal(exec.PreTradeBalances)
	if err != nil {
		return apperrors.NewInternalError("marshal pre-trade balances", err)
	}
	trades, err := json.Marshal(exec.Trades)
	if err != nil {
		return apperrors.NewInternalError("marshal trades", err)
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO executions (
			execution_id, wallet_address, strategy_id, target_allocation,
			pre_trade_balances, trades, tx_ref, status, execution_type,
			total_drift_percent, urgency_level, error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		exec.ExecutionID,
		exec.WalletAddress,
		exec.StrategyID,
		allocation,
		balances,
		trades,
		exec.TxRef,
		string(exec.Status),
		exec.ExecutionType,
		exec.TotalDriftPercent,
		string(exec.UrgencyLevel),
		exec.Error,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("append execution", err)
	}

	return nil
}

// UpdateStatus transitions an execution to a new status, optionally
// recording the transaction reference and error detail.
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, executionID string, status types.ExecutionStatus, txRef *string, errMsg *string) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE executions
		SET status = $2,
			tx_ref = COALESCE($3, tx_ref),
			error = COALESCE($4, error),
			updated_at = $5
		WHERE execution_id = $1
	`, executionID, string(status), txRef, errMsg, time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("update execution status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("execution", executionID)
	}
	return nil
}

// GetByID retrieves an execution by its id
func (r *ExecutionRepository) GetByID(ctx context.Context, executionID string) (*models.Execution, error) {
	row := r.db.Pool().QueryRow(ctx, executionSelect+` WHERE execution_id = $1`, executionID)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("execution", executionID)
		}
		return nil, apperrors.NewDatabaseError("get execution", err)
	}
	return exec, nil
}

// RecentAutonomous returns the most recent autonomous executions, newest first
func (r *ExecutionRepository) RecentAutonomous(ctx context.Context, limit int) ([]*models.Execution, error) {
	rows, err := r.db.Pool().Query(ctx,
		executionSelect+` WHERE execution_type = $1 ORDER BY created_at DESC LIMIT $2`,
		models.ExecutionTypeAutonomous, limit,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list executions", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan execution", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate executions", err)
	}

	return execs, nil
}

const executionSelect = `
	SELECT execution_id, wallet_address, strategy_id, target_allocation,
		pre_trade_balances, trades, tx_ref, status, execution_type,
		total_drift_percent, urgency_level, error, created_at, updated_at
	FROM executions`

// scanExecution maps one row onto an Execution
func scanExecution(row pgx.Row) (*models.Execution, error) {
	var exec models.Execution
	var allocation, balances, trades []byte
	var status, urgency string

	err := row.Scan(
		&exec.ExecutionID,
		&exec.WalletAddress,
		&exec.StrategyID,
		&allocation,
		&balances,
		&trades,
		&exec.TxRef,
		&status,
		&exec.ExecutionType,
		&exec.TotalDriftPercent,
		&urgency,
		&exec.Error,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(allocation, &exec.TargetAllocation); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(balances, &exec.PreTradeBalances); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(trades, &exec.Trades); err != nil {
		return nil, err
	}
	exec.Status = types.ExecutionStatus(status)
	exec.UrgencyLevel = types.UrgencyLevel(urgency)

	return &exec, nil
}
