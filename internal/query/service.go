package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CoreVault/internal/asset"
	"CoreVault/internal/observability"
	"CoreVault/internal/projection"
	"CoreVault/internal/vault"
)

// Service serves read-only vault queries. Live state (balances, epoch
// phase, previews) comes straight from the engine; history comes from
// the PostgreSQL projection tables. Projection-backed responses carry
// as_of_sequence for freshness semantics.
type Service struct {
	engine  *vault.Engine
	db      *sql.DB
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewService(engine *vault.Engine, db *sql.DB, metrics *observability.Metrics, log zerolog.Logger) *Service {
	return &Service{
		engine:  engine,
		db:      db,
		metrics: metrics,
		log:     log,
	}
}

// GetUser returns a depositor's balance, ratios, and eligibility.
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*UserResponse, error) {
	defer s.observe("user", time.Now())

	info, err := s.engine.User(userID)
	if err != nil {
		s.countError("user")
		return nil, err
	}

	status, err := s.engine.Status()
	if err != nil {
		s.countError("user")
		return nil, err
	}

	return &UserResponse{
		UserID:             userID,
		Balance:            info.Balance.String(),
		BTCValue:           info.BTCValue.String(),
		PrimaryRatio:       info.RPrimary.String(),
		SecondaryRatio:     info.RSecondary.String(),
		FirstEligibleEpoch: info.FirstEligibleEpoch,
		AsOfSequence:       status.Sequence,
	}, nil
}

// GetEpoch returns one epoch's lifecycle state and totals.
func (s *Service) GetEpoch(ctx context.Context, number uint64) (*EpochResponse, error) {
	defer s.observe("epoch", time.Now())

	info, err := s.engine.Epoch(number)
	if err != nil {
		s.countError("epoch")
		return nil, err
	}

	status, err := s.engine.Status()
	if err != nil {
		s.countError("epoch")
		return nil, err
	}

	return &EpochResponse{
		Number:         info.Number,
		StartTime:      info.StartTime,
		Closed:         info.Closed,
		YieldNotified:  info.YieldNotified,
		Distributed:    info.Distributed,
		PrimaryYield:   info.PrimaryYield.String(),
		SecondaryYield: info.SecondaryYield.String(),
		TotalYieldBTC:  info.TotalYieldBTC.String(),
		DepositedBTC:   info.DepositedBTC.String(),
		RedeemedBTC:    info.RedeemedBTC.String(),
		AsOfSequence:   status.Sequence,
	}, nil
}

// GetStatus returns the vault-wide view.
func (s *Service) GetStatus(ctx context.Context) (*StatusResponse, error) {
	defer s.observe("status", time.Now())

	status, err := s.engine.Status()
	if err != nil {
		s.countError("status")
		return nil, err
	}

	return &StatusResponse{
		CurrentEpoch:    status.CurrentEpoch,
		EpochStartTime:  status.EpochStartTime,
		Closed:          status.Closed,
		YieldNotified:   status.YieldNotified,
		Distributed:     status.Distributed,
		TotalSupply:     status.TotalSupply.String(),
		CustodyBTCValue: status.CustodyBTCValue.String(),
		QueueDepth:      status.QueueDepth,
		Sequence:        status.Sequence,
	}, nil
}

// PreviewRedeem computes what a redemption would pay at current prices.
func (s *Service) PreviewRedeem(ctx context.Context, userID uuid.UUID, amount *big.Int, secondaryAsset asset.ID) (*PreviewResponse, error) {
	defer s.observe("preview_redeem", time.Now())

	preview, err := s.engine.PreviewRedeem(userID, amount, secondaryAsset)
	if err != nil {
		s.countError("preview_redeem")
		return nil, err
	}

	return &PreviewResponse{
		UserID:       userID,
		Amount:       amount.String(),
		PrimaryOut:   preview.PrimaryOut.String(),
		SecondaryOut: preview.SecondaryOut.String(),
		Asset:        asset.Symbol(secondaryAsset),
	}, nil
}

// GetEpochHistory returns recent epochs from the projection, newest
// first.
func (s *Service) GetEpochHistory(ctx context.Context, limit int) ([]EpochHistoryResponse, error) {
	defer s.observe("epoch_history", time.Now())

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		s.countError("epoch_history")
		return nil, fmt.Errorf("watermark: %w", err)
	}

	entries, err := projection.QueryEpochHistory(ctx, s.db, limit)
	if err != nil {
		s.countError("epoch_history")
		return nil, err
	}

	out := make([]EpochHistoryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, EpochHistoryResponse{
			Epoch:           e.Epoch,
			StartedAt:       e.StartedAt,
			ClosedAt:        e.ClosedAt,
			YieldNotifiedAt: e.YieldNotifiedAt,
			DistributedAt:   e.DistributedAt,
			ClosingSupply:   e.ClosingSupply,
			YieldBTC:        e.YieldBTC,
			DistributedBTC:  e.DistributedBTC,
			ResidualBTC:     e.ResidualBTC,
			EligibleUsers:   e.EligibleUsers,
			SettledRequests: e.SettledRequests,
			AsOfSequence:    asOfSeq,
		})
	}
	return out, nil
}

// GetRedemptions returns a user's redemption history from the
// projection, newest first.
func (s *Service) GetRedemptions(ctx context.Context, userID uuid.UUID, limit int) ([]RedemptionResponse, error) {
	defer s.observe("redemptions", time.Now())

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		s.countError("redemptions")
		return nil, fmt.Errorf("watermark: %w", err)
	}

	entries, err := projection.QueryUserRedemptions(ctx, s.db, userID.String(), limit)
	if err != nil {
		s.countError("redemptions")
		return nil, err
	}

	out := make([]RedemptionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, RedemptionResponse{
			RequestID:      e.RequestID,
			UserID:         e.UserID,
			Amount:         e.Amount,
			PrimaryPaid:    e.PrimaryPaid,
			SecondaryPaid:  e.SecondaryPaid,
			Status:         e.Status,
			RequestedEpoch: e.RequestedEpoch,
			SettledEpoch:   e.SettledEpoch,
			RequestedAt:    e.RequestedAt,
			SettledAt:      e.SettledAt,
			AsOfSequence:   asOfSeq,
		})
	}
	return out, nil
}

// VerifyIntegrity sweeps the event log for hash chain breaks.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer s.observe("verify_integrity", time.Now())

	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		s.countError("verify_integrity")
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), -1) FROM event_log.events
	`).Scan(&report.LastSequence); err != nil {
		s.countError("verify_integrity")
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (s *Service) observe(endpoint string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (s *Service) countError(endpoint string) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint, "error").Inc()
	}
}
