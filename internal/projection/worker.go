package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"CoreVault/internal/event"
	"CoreVault/internal/observability"
	"CoreVault/internal/vault"
)

// Worker updates projection tables from the vault's event stream.
// The projection channel is non-blocking with drop: if projections fall
// behind they can be rebuilt from the event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan vault.Output
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan vault.Output, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run starts the projection worker loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := w.apply(ctx, output.Envelope); err != nil {
				// Projections are eventually consistent and can be
				// rebuilt from the event log, so log and move on.
				w.log.Warn().
					Int64("sequence", output.Envelope.Sequence).
					Str("event_type", output.Envelope.Type.String()).
					Err(err).
					Msg("projection update failed")
			}
			if w.metrics != nil {
				w.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}

			w.lastSeq = output.Envelope.Sequence
		}
	}
}

func (w *Worker) apply(ctx context.Context, env *event.Envelope) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyEnvelope(ctx, tx, env); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyEnvelope dispatches a single event to the projection tables. It
// is shared between the live worker and RebuildProjections.
func applyEnvelope(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	switch env.Type {
	case event.EventTypeDepositRecorded:
		var p event.DepositRecorded
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode deposit payload: %w", err)
		}
		return applyDeposit(ctx, tx, env, p)

	case event.EventTypeRedemptionQueued:
		var p event.RedemptionQueued
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode redemption payload: %w", err)
		}
		return applyRedemptionQueued(ctx, tx, env, p)

	case event.EventTypeRedemptionSettled:
		var p event.RedemptionSettled
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode settlement payload: %w", err)
		}
		return applyRedemptionSettled(ctx, tx, env, p)

	case event.EventTypeEmergencyRedemption:
		var p event.EmergencyRedemption
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode emergency payload: %w", err)
		}
		return applyEmergencyRedemption(ctx, tx, env, p)

	case event.EventTypeEpochClosed:
		var p event.EpochClosed
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode epoch-closed payload: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.epoch_history (epoch, closed_at, closing_supply, last_sequence)
			VALUES ($1, $2, $3::numeric, $4)
			ON CONFLICT (epoch) DO UPDATE SET
				closed_at = $2, closing_supply = $3::numeric, last_sequence = $4
		`, p.Epoch, env.Timestamp, p.TotalSupply, env.Sequence)
		return err

	case event.EventTypeYieldNotified:
		var p event.YieldNotified
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode yield-notified payload: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.epoch_history (epoch, yield_notified_at, yield_btc, last_sequence)
			VALUES ($1, $2, $3::numeric, $4)
			ON CONFLICT (epoch) DO UPDATE SET
				yield_notified_at = $2, yield_btc = $3::numeric, last_sequence = $4
		`, p.Epoch, env.Timestamp, p.YieldBTC, env.Sequence)
		return err

	case event.EventTypeYieldDistributed:
		var p event.YieldDistributed
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode distribution payload: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.epoch_history
				(epoch, distributed_at, distributed_btc, residual_btc,
				 eligible_users, settled_requests, last_sequence)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
			ON CONFLICT (epoch) DO UPDATE SET
				distributed_at   = $2,
				distributed_btc  = $3::numeric,
				residual_btc     = $4::numeric,
				eligible_users   = $5,
				settled_requests = $6,
				last_sequence    = $7
		`, p.Epoch, env.Timestamp, p.DistributedBTC, p.ResidualBTC,
			p.EligibleUsers, p.SettledRequests, env.Sequence)
		return err

	case event.EventTypeEpochStarted:
		var p event.EpochStarted
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode epoch-started payload: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.epoch_history (epoch, started_at, last_sequence)
			VALUES ($1, $2, $3)
			ON CONFLICT (epoch) DO UPDATE SET started_at = $2, last_sequence = $3
		`, p.Epoch, time.Unix(p.StartedAt, 0).UTC(), env.Sequence)
		return err

	default:
		// Admin events carry no projection state.
		return nil
	}
}

func applyDeposit(ctx context.Context, tx *sql.Tx, env *event.Envelope, p event.DepositRecorded) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.user_activity
			(user_id, total_minted, total_redeemed, deposit_count,
			 redemption_count, first_eligible_epoch, last_sequence)
		VALUES ($1, $2::numeric, 0, 1, 0, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			total_minted  = projections.user_activity.total_minted + $2::numeric,
			deposit_count = projections.user_activity.deposit_count + 1,
			last_sequence = $4
	`, p.UserID, p.MintedAmount, p.FirstEligibleEpoch, env.Sequence)
	return err
}

func applyRedemptionQueued(ctx context.Context, tx *sql.Tx, env *event.Envelope, p event.RedemptionQueued) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.redemption_history
			(request_id, user_id, amount, primary_ratio, secondary_ratio,
			 status, requested_epoch, requested_at, last_sequence)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, 'queued', $6, $7, $8)
		ON CONFLICT (request_id) DO NOTHING
	`, p.RequestID, p.UserID, p.Amount, p.PrimaryRatio, p.SecondaryRatio,
		env.Epoch, env.Timestamp, env.Sequence)
	return err
}

func applyRedemptionSettled(ctx context.Context, tx *sql.Tx, env *event.Envelope, p event.RedemptionSettled) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.redemption_history SET
			status          = 'settled',
			primary_paid    = $2::numeric,
			secondary_paid  = $3::numeric,
			settled_epoch   = $4,
			settled_at      = $5,
			last_sequence   = $6
		WHERE request_id = $1
	`, p.RequestID, p.PrimaryPaid, p.SecondaryPaid, p.SettlementEpoch,
		env.Timestamp, env.Sequence); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.user_activity
			(user_id, total_minted, total_redeemed, deposit_count,
			 redemption_count, first_eligible_epoch, last_sequence)
		VALUES ($1, 0, $2::numeric, 0, 1, 0, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			total_redeemed   = projections.user_activity.total_redeemed + $2::numeric,
			redemption_count = projections.user_activity.redemption_count + 1,
			last_sequence    = $3
	`, p.UserID, p.BurnedAmount, env.Sequence)
	return err
}

func applyEmergencyRedemption(ctx context.Context, tx *sql.Tx, env *event.Envelope, p event.EmergencyRedemption) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.redemption_history
			(request_id, user_id, amount, primary_paid, secondary_paid,
			 status, requested_epoch, settled_epoch, requested_at, settled_at, last_sequence)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric,
			'emergency', $6, $6, $7, $7, $8)
		ON CONFLICT (request_id) DO NOTHING
	`, env.EventID.String(), p.UserID, p.BurnedAmount, p.PrimaryPaid,
		p.SecondaryPaid, env.Epoch, env.Timestamp, env.Sequence); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.user_activity
			(user_id, total_minted, total_redeemed, deposit_count,
			 redemption_count, first_eligible_epoch, last_sequence)
		VALUES ($1, 0, $2::numeric, 0, 1, 0, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			total_redeemed   = projections.user_activity.total_redeemed + $2::numeric,
			redemption_count = projections.user_activity.redemption_count + 1,
			last_sequence    = $3
	`, p.UserID, p.BurnedAmount, env.Sequence)
	return err
}
