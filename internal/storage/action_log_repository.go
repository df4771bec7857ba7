package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// ActionLogRepository handles the append-only autonomous action log.
// Records are immutable once written; the repository exposes no update
// or delete operations.
type ActionLogRepository struct {
	db *PostgresDB
}

// NewActionLogRepository creates a new action log repository
func NewActionLogRepository(db *PostgresDB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// Append writes one action log record
func (r *ActionLogRepository) Append(ctx context.Context, record *models.ActionLog) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	record.WalletAddress = strings.ToLower(record.WalletAddress)

	drifts, err := json.Marshal(record.TokenDrifts)
	if err != nil {
		return apperrors.NewInternalError("marshal token drifts", err)
	}
	allocation, err := json.Marshal(record.TargetAllocation)
	if err != nil {
		return apperrors.NewInternalError("marshal target allocation", err)
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO action_logs (
			action_id, wallet_address, action_type, total_drift_percent,
			token_drifts, urgency_level, target_allocation, risk_profile,
			drift_threshold_used, auto_execute, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		record.ActionID,
		record.WalletAddress,
		record.ActionType,
		record.TotalDriftPercent,
		drifts,
		string(record.UrgencyLevel),
		allocation,
		string(record.RiskProfile),
		record.DriftThresholdUsed,
		record.AutoExecute,
		record.Timestamp,
	)
	if err != nil {
		return apperrors.NewDatabaseError("append action log", err)
	}

	return nil
}

// Recent returns the most recent action log records, newest first
func (r *ActionLogRepository) Recent(ctx context.Context, limit int) ([]*models.ActionLog, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT action_id, wallet_address, action_type, total_drift_percent,
			token_drifts, urgency_level, target_allocation, risk_profile,
			drift_threshold_used, auto_execute, timestamp
		FROM action_logs
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list action logs", err)
	}
	defer rows.Close()

	var records []*models.ActionLog
	for rows.Next() {
		var record models.ActionLog
		var drifts, allocation []byte
		var urgency, profile string

		err := rows.Scan(
			&record.ActionID,
			&record.WalletAddress,
			&record.ActionType,
			&record.TotalDriftPercent,
			&drifts,
			&urgency,
			&allocation,
			&profile,
			&record.DriftThresholdUsed,
			&record.AutoExecute,
			&record.Timestamp,
		)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan action log", err)
		}

		if err := json.Unmarshal(drifts, &record.TokenDrifts); err != nil {
			return nil, apperrors.NewInternalError("unmarshal token drifts", err)
		}
		if err := json.Unmarshal(allocation, &record.TargetAllocation); err != nil {
			return nil, apperrors.NewInternalError("unmarshal target allocation", err)
		}
		record.UrgencyLevel = types.UrgencyLevel(urgency)
		record.RiskProfile = types.RiskProfile(profile)

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate action logs", err)
	}

	return records, nil
}
