package storage

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// DriftHistoryRepository writes the append-only drift history to
// ClickHouse. One row lands per completed monitoring cycle, whether or
// not the cycle resulted in action, so the trail supports after-the-fact
// analysis of decisions the policy declined.
type DriftHistoryRepository struct {
	db *ClickHouseDB
}

// NewDriftHistoryRepository creates a new drift history repository
func NewDriftHistoryRepository(db *ClickHouseDB) *DriftHistoryRepository {
	return &DriftHistoryRepository{db: db}
}

// Insert appends one drift event
func (r *DriftHistoryRepository) Insert(ctx context.Context, event *models.DriftEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	err := r.db.Exec(ctx, `
		INSERT INTO drift_events (
			wallet_address, total_drift_percent, urgency_level,
			needs_rebalancing, total_usd_value, action_taken, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		strings.ToLower(event.WalletAddress),
		event.TotalDriftPercent,
		string(event.UrgencyLevel),
		event.NeedsRebalancing,
		event.TotalUSDValue,
		event.ActionTaken,
		event.Timestamp,
	)
	if err != nil {
		return apperrors.NewDatabaseError("insert drift event", err)
	}

	return nil
}

// RecentByWallet returns the most recent drift events for a wallet, newest first
func (r *DriftHistoryRepository) RecentByWallet(ctx context.Context, walletAddress string, limit int) ([]*models.DriftEvent, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT wallet_address, total_drift_percent, urgency_level,
			needs_rebalancing, total_usd_value, action_taken, timestamp
		FROM drift_events
		WHERE wallet_address = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, strings.ToLower(walletAddress), limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query drift events", err)
	}
	defer rows.Close()

	var events []*models.DriftEvent
	for rows.Next() {
		var event models.DriftEvent
		var urgency string

		err := rows.Scan(
			&event.WalletAddress,
			&event.TotalDriftPercent,
			&urgency,
			&event.NeedsRebalancing,
			&event.TotalUSDValue,
			&event.ActionTaken,
			&event.Timestamp,
		)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan drift event", err)
		}
		event.UrgencyLevel = types.UrgencyLevel(urgency)

		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate drift events", err)
	}

	return events, nil
}
