package vault

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"CoreVault/internal/asset"

	"github.com/google/uuid"
)

// State is the full serializable engine state for warm restarts. All
// amounts are decimal strings.
type State struct {
	Sequence     int64  `json:"sequence"`
	HashTip      string `json:"hash_tip"`
	CurrentEpoch uint64 `json:"current_epoch"`

	// EngineID identifies the engine instance that held queued escrow
	// when the snapshot was taken; restore remaps that balance onto the
	// new instance.
	EngineID    string `json:"engine_id"`
	Operator    string `json:"operator"`
	FeeReceiver string `json:"fee_receiver"`

	Users  map[string]UserState  `json:"users"`
	Epochs map[uint64]EpochState `json:"epochs"`
	Queue  []QueueState          `json:"queue"`

	Whitelist  []uint16 `json:"whitelist"`
	DepositMin string   `json:"deposit_min"`
	RedeemMin  string   `json:"redeem_min"`
	FeePoints  int64    `json:"fee_points"`

	CarriedYield string `json:"carried_yield"`

	AccruedFees map[uint16]string `json:"accrued_fees"`
	Reserves    map[uint16]string `json:"reserves"`
	Balances    map[string]string `json:"balances"`
}

type UserState struct {
	Balance            string `json:"balance"`
	RPrimary           string `json:"r_primary"`
	RSecondary         string `json:"r_secondary"`
	DepositedBTC       string `json:"deposited_btc"`
	FirstEligibleEpoch uint64 `json:"first_eligible_epoch"`
}

type EpochState struct {
	Number         uint64    `json:"number"`
	StartTime      time.Time `json:"start_time"`
	ClosedAt       time.Time `json:"closed_at"`
	Closed         bool      `json:"closed"`
	YieldNotified  bool      `json:"yield_notified"`
	Distributed    bool      `json:"distributed"`
	PrimaryYield   string    `json:"primary_yield"`
	SecondaryAsset uint16    `json:"secondary_asset"`
	SecondaryYield string    `json:"secondary_yield"`
	TotalYieldBTC  string    `json:"total_yield_btc"`
	DepositedBTC   string    `json:"deposited_btc"`
	RedeemedBTC    string    `json:"redeemed_btc"`
}

type QueueState struct {
	ID             string    `json:"id"`
	User           string    `json:"user"`
	Amount         string    `json:"amount"`
	SecondaryAsset uint16    `json:"secondary_asset"`
	RPrimary       string    `json:"r_primary"`
	RSecondary     string    `json:"r_secondary"`
	EpochRequested uint64    `json:"epoch_requested"`
	RequestedAt    time.Time `json:"requested_at"`
}

// ExportState captures everything needed to rebuild the engine, its
// custodian reserves, and the token balances.
func (e *Engine) ExportState() *State {
	e.mu.Lock()
	defer e.mu.Unlock()

	tip := e.hasher.tip()
	s := &State{
		Sequence:     e.sequence,
		HashTip:      hex.EncodeToString(tip[:]),
		CurrentEpoch: e.currentEpoch,
		EngineID:     e.id.String(),
		Operator:     e.operator.String(),
		FeeReceiver:  e.feeReceiver.String(),
		Users:        make(map[string]UserState, len(e.users)),
		Epochs:       make(map[uint64]EpochState, len(e.epochs)),
		Queue:        make([]QueueState, 0, len(e.queue)),
		DepositMin:   e.depositMin.String(),
		RedeemMin:    e.redeemMin.String(),
		FeePoints:    e.feePoints,
		CarriedYield: e.carriedYield.String(),
		AccruedFees:  make(map[uint16]string, len(e.accruedFees)),
		Reserves:     make(map[uint16]string),
		Balances:     make(map[string]string),
	}

	for u, rec := range e.users {
		s.Users[u.String()] = UserState{
			Balance:            rec.Balance.String(),
			RPrimary:           rec.RPrimary.String(),
			RSecondary:         rec.RSecondary.String(),
			DepositedBTC:       rec.DepositedBTC.String(),
			FirstEligibleEpoch: rec.FirstEligibleEpoch,
		}
	}
	for n, ep := range e.epochs {
		s.Epochs[n] = EpochState{
			Number:         ep.Number,
			StartTime:      ep.StartTime,
			ClosedAt:       ep.ClosedAt,
			Closed:         ep.Closed,
			YieldNotified:  ep.YieldNotified,
			Distributed:    ep.Distributed,
			PrimaryYield:   ep.PrimaryYield.String(),
			SecondaryAsset: uint16(ep.SecondaryAsset),
			SecondaryYield: ep.SecondaryYield.String(),
			TotalYieldBTC:  ep.TotalYieldBTC.String(),
			DepositedBTC:   ep.DepositedBTC.String(),
			RedeemedBTC:    ep.RedeemedBTC.String(),
		}
	}
	for _, req := range e.queue {
		s.Queue = append(s.Queue, QueueState{
			ID:             req.ID.String(),
			User:           req.User.String(),
			Amount:         req.Amount.String(),
			SecondaryAsset: uint16(req.SecondaryAsset),
			RPrimary:       req.RPrimary.String(),
			RSecondary:     req.RSecondary.String(),
			EpochRequested: req.EpochRequested,
			RequestedAt:    req.RequestedAt,
		})
	}
	for id, enabled := range e.whitelist {
		if enabled {
			s.Whitelist = append(s.Whitelist, uint16(id))
		}
	}
	for id, amount := range e.accruedFees {
		if amount.Sign() > 0 {
			s.AccruedFees[uint16(id)] = amount.String()
		}
	}
	for id, amount := range e.custodian.Reserves() {
		s.Reserves[uint16(id)] = amount.String()
	}
	for holder, bal := range e.tokens.Balances() {
		s.Balances[holder.String()] = bal.String()
	}
	return s
}

// RestoreState rebuilds engine, custodian, and token state from a
// snapshot. Must run before any operation is accepted.
func (e *Engine) RestoreState(s *State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tip, err := hex.DecodeString(s.HashTip)
	if err != nil || len(tip) != 32 {
		return fmt.Errorf("restore: bad hash tip %q", s.HashTip)
	}
	var tipArr [32]byte
	copy(tipArr[:], tip)
	e.hasher.restore(tipArr)
	e.sequence = s.Sequence
	e.currentEpoch = s.CurrentEpoch

	operator, err := uuid.Parse(s.Operator)
	if err != nil {
		return fmt.Errorf("restore: operator: %w", err)
	}
	receiver, err := uuid.Parse(s.FeeReceiver)
	if err != nil {
		return fmt.Errorf("restore: fee receiver: %w", err)
	}
	e.operator = operator
	e.feeReceiver = receiver

	e.users = make(map[uuid.UUID]*UserRecord, len(s.Users))
	for k, us := range s.Users {
		u, err := uuid.Parse(k)
		if err != nil {
			return fmt.Errorf("restore: user %q: %w", k, err)
		}
		rec := &UserRecord{FirstEligibleEpoch: us.FirstEligibleEpoch}
		if rec.Balance, err = parseAmount(us.Balance); err != nil {
			return fmt.Errorf("restore: user %s balance: %w", k, err)
		}
		if rec.RPrimary, err = parseAmount(us.RPrimary); err != nil {
			return fmt.Errorf("restore: user %s ratio: %w", k, err)
		}
		if rec.RSecondary, err = parseAmount(us.RSecondary); err != nil {
			return fmt.Errorf("restore: user %s ratio: %w", k, err)
		}
		if rec.DepositedBTC, err = parseAmount(us.DepositedBTC); err != nil {
			return fmt.Errorf("restore: user %s deposited: %w", k, err)
		}
		e.users[u] = rec
	}

	e.epochs = make(map[uint64]*EpochRecord, len(s.Epochs))
	for n, es := range s.Epochs {
		ep := newEpochRecord(es.Number, es.StartTime)
		ep.ClosedAt = es.ClosedAt
		ep.Closed = es.Closed
		ep.YieldNotified = es.YieldNotified
		ep.Distributed = es.Distributed
		ep.SecondaryAsset = asset.ID(es.SecondaryAsset)
		if ep.PrimaryYield, err = parseAmount(es.PrimaryYield); err != nil {
			return fmt.Errorf("restore: epoch %d: %w", n, err)
		}
		if ep.SecondaryYield, err = parseAmount(es.SecondaryYield); err != nil {
			return fmt.Errorf("restore: epoch %d: %w", n, err)
		}
		if ep.TotalYieldBTC, err = parseAmount(es.TotalYieldBTC); err != nil {
			return fmt.Errorf("restore: epoch %d: %w", n, err)
		}
		if ep.DepositedBTC, err = parseAmount(es.DepositedBTC); err != nil {
			return fmt.Errorf("restore: epoch %d: %w", n, err)
		}
		if ep.RedeemedBTC, err = parseAmount(es.RedeemedBTC); err != nil {
			return fmt.Errorf("restore: epoch %d: %w", n, err)
		}
		e.epochs[n] = ep
	}

	e.queue = make([]*RedemptionRequest, 0, len(s.Queue))
	for _, qs := range s.Queue {
		id, err := uuid.Parse(qs.ID)
		if err != nil {
			return fmt.Errorf("restore: request %q: %w", qs.ID, err)
		}
		u, err := uuid.Parse(qs.User)
		if err != nil {
			return fmt.Errorf("restore: request %s user: %w", qs.ID, err)
		}
		req := &RedemptionRequest{
			ID:             id,
			User:           u,
			SecondaryAsset: asset.ID(qs.SecondaryAsset),
			EpochRequested: qs.EpochRequested,
			RequestedAt:    qs.RequestedAt,
		}
		if req.Amount, err = parseAmount(qs.Amount); err != nil {
			return fmt.Errorf("restore: request %s amount: %w", qs.ID, err)
		}
		if req.RPrimary, err = parseAmount(qs.RPrimary); err != nil {
			return fmt.Errorf("restore: request %s ratio: %w", qs.ID, err)
		}
		if req.RSecondary, err = parseAmount(qs.RSecondary); err != nil {
			return fmt.Errorf("restore: request %s ratio: %w", qs.ID, err)
		}
		e.queue = append(e.queue, req)
	}

	e.whitelist = make(map[asset.ID]bool, len(s.Whitelist))
	for _, id := range s.Whitelist {
		e.whitelist[asset.ID(id)] = true
	}
	if e.depositMin, err = parseAmount(s.DepositMin); err != nil {
		return fmt.Errorf("restore: deposit minimum: %w", err)
	}
	if e.redeemMin, err = parseAmount(s.RedeemMin); err != nil {
		return fmt.Errorf("restore: redemption minimum: %w", err)
	}
	e.feePoints = s.FeePoints
	if e.carriedYield, err = parseAmount(s.CarriedYield); err != nil {
		return fmt.Errorf("restore: carried yield: %w", err)
	}

	e.accruedFees = make(map[asset.ID]*big.Int, len(s.AccruedFees))
	for id, v := range s.AccruedFees {
		amount, err := parseAmount(v)
		if err != nil {
			return fmt.Errorf("restore: accrued fee: %w", err)
		}
		e.accruedFees[asset.ID(id)] = amount
	}

	for id, v := range s.Reserves {
		amount, err := parseAmount(v)
		if err != nil {
			return fmt.Errorf("restore: reserve: %w", err)
		}
		e.custodian.RestoreReserve(asset.ID(id), amount)
	}
	oldEngine, err := uuid.Parse(s.EngineID)
	if err != nil {
		return fmt.Errorf("restore: engine id: %w", err)
	}
	for k, v := range s.Balances {
		holder, err := uuid.Parse(k)
		if err != nil {
			return fmt.Errorf("restore: balance holder %q: %w", k, err)
		}
		amount, err := parseAmount(v)
		if err != nil {
			return fmt.Errorf("restore: balance %s: %w", k, err)
		}
		// Queued escrow follows the engine identity across restarts.
		if holder == oldEngine {
			holder = e.id
		}
		e.tokens.RestoreBalance(holder, amount)
	}

	if e.metrics != nil {
		e.metrics.Sequence.Set(float64(e.sequence))
		e.metrics.EpochCurrent.Set(float64(e.currentEpoch))
		e.metrics.QueueDepth.Set(float64(len(e.queue)))
	}
	e.log.Info().
		Int64("sequence", e.sequence).
		Uint64("epoch", e.currentEpoch).
		Int("users", len(e.users)).
		Int("queue", len(e.queue)).
		Msg("state restored from snapshot")
	return nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad decimal %q", s)
	}
	return v, nil
}
