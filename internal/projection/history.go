package projection

import (
	"context"
	"database/sql"
	"time"
)

// EpochHistoryEntry is one row of the epoch lifecycle projection.
// Amount columns are NUMERIC in the database and surface here as
// decimal strings.
type EpochHistoryEntry struct {
	Epoch           uint64
	StartedAt       *time.Time
	ClosedAt        *time.Time
	YieldNotifiedAt *time.Time
	DistributedAt   *time.Time
	ClosingSupply   string
	YieldBTC        string
	DistributedBTC  string
	ResidualBTC     string
	EligibleUsers   int
	SettledRequests int
}

// RedemptionHistoryEntry is one row of the redemption projection.
type RedemptionHistoryEntry struct {
	RequestID      string
	UserID         string
	Amount         string
	PrimaryPaid    string
	SecondaryPaid  string
	Status         string
	RequestedEpoch uint64
	SettledEpoch   *uint64
	RequestedAt    time.Time
	SettledAt      *time.Time
}

// QueryEpochHistory returns the most recent epochs, newest first.
func QueryEpochHistory(ctx context.Context, db *sql.DB, limit int) ([]EpochHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT epoch, started_at, closed_at, yield_notified_at, distributed_at,
		       COALESCE(closing_supply::text, ''),
		       COALESCE(yield_btc::text, ''),
		       COALESCE(distributed_btc::text, ''),
		       COALESCE(residual_btc::text, ''),
		       COALESCE(eligible_users, 0),
		       COALESCE(settled_requests, 0)
		FROM projections.epoch_history
		ORDER BY epoch DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EpochHistoryEntry
	for rows.Next() {
		var e EpochHistoryEntry
		if err := rows.Scan(&e.Epoch, &e.StartedAt, &e.ClosedAt,
			&e.YieldNotifiedAt, &e.DistributedAt, &e.ClosingSupply,
			&e.YieldBTC, &e.DistributedBTC, &e.ResidualBTC,
			&e.EligibleUsers, &e.SettledRequests); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// QueryUserRedemptions returns a user's redemption history, newest first.
func QueryUserRedemptions(ctx context.Context, db *sql.DB, userID string, limit int) ([]RedemptionHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT request_id, user_id, amount::text,
		       COALESCE(primary_paid::text, ''),
		       COALESCE(secondary_paid::text, ''),
		       status, requested_epoch, settled_epoch, requested_at, settled_at
		FROM projections.redemption_history
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RedemptionHistoryEntry
	for rows.Next() {
		var e RedemptionHistoryEntry
		if err := rows.Scan(&e.RequestID, &e.UserID, &e.Amount,
			&e.PrimaryPaid, &e.SecondaryPaid, &e.Status,
			&e.RequestedEpoch, &e.SettledEpoch, &e.RequestedAt,
			&e.SettledAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
