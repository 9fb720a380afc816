package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CoreVault/internal/event"
)

const rebuildBatchSize = 1000

// RebuildProjections truncates all projection tables and replays the
// event log into them. Safe to run while the vault is stopped.
func RebuildProjections(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.epoch_history`,
		`TRUNCATE projections.user_activity`,
		`TRUNCATE projections.redemption_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	var from int64
	var replayed int
	for {
		envs, err := loadEvents(ctx, db, from, rebuildBatchSize)
		if err != nil {
			return fmt.Errorf("load events from seq=%d: %w", from, err)
		}
		if len(envs) == 0 {
			break
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for i := range envs {
			if err := applyEnvelope(ctx, tx, &envs[i]); err != nil {
				tx.Rollback()
				return fmt.Errorf("replay seq=%d: %w", envs[i].Sequence, err)
			}
		}

		last := envs[len(envs)-1].Sequence
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			VALUES ('main', $1, NOW())
			ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
		`, last); err != nil {
			tx.Rollback()
			return fmt.Errorf("watermark update: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		replayed += len(envs)
		from = last + 1
	}

	log.Info().Int("events", replayed).Msg("projection rebuild complete")
	return nil
}

func loadEvents(ctx context.Context, db *sql.DB, fromSequence int64, limit int) ([]event.Envelope, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, user_id, epoch, payload, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []event.Envelope
	for rows.Next() {
		var (
			env       event.Envelope
			eventID   string
			eventType string
			userID    sql.NullString
			epoch     int64
			ts        time.Time
		)
		if err := rows.Scan(&env.Sequence, &eventID, &eventType, &userID,
			&epoch, &env.Payload, &ts); err != nil {
			return nil, err
		}

		env.EventID, err = uuid.Parse(eventID)
		if err != nil {
			return nil, fmt.Errorf("seq=%d: bad event id: %w", env.Sequence, err)
		}
		env.Type = event.ParseEventType(eventType)
		env.Epoch = uint64(epoch)
		env.Timestamp = ts
		if userID.Valid {
			u, err := uuid.Parse(userID.String)
			if err != nil {
				return nil, fmt.Errorf("seq=%d: bad user id: %w", env.Sequence, err)
			}
			env.User = &u
		}

		envs = append(envs, env)
	}
	return envs, rows.Err()
}
