package vault

import (
	"bytes"
	"math/big"
	"sort"
	"time"

	"CoreVault/internal/asset"
	"CoreVault/internal/event"
	"CoreVault/internal/fixedpoint"

	"github.com/google/uuid"
)

// CloseEpoch freezes the running epoch. Operator-only; fails until the
// minimum epoch duration has elapsed.
func (e *Engine) CloseEpoch(caller uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.operator {
		return e.reject("close_epoch", ErrNotOperator)
	}
	ep := e.epochs[e.currentEpoch]
	if ep.Closed {
		return e.reject("close_epoch", ErrAlreadyClosed)
	}
	now := e.now()
	if now.Before(ep.StartTime.Add(MinEpochDuration)) {
		return e.reject("close_epoch", ErrEpochNotFinished)
	}

	ep.Closed = true
	ep.ClosedAt = now

	e.emit(event.EventTypeEpochClosed, nil, event.EpochClosed{
		Epoch:       ep.Number,
		TotalSupply: e.tokens.TotalSupply().String(),
		DurationSec: int64(now.Sub(ep.StartTime) / time.Second),
	})
	if e.metrics != nil {
		e.metrics.EpochTransitions.WithLabelValues("closed").Inc()
	}
	e.log.Info().Uint64("epoch", ep.Number).Msg("epoch closed")
	return nil
}

// NotifyYield records the epoch's harvested yield and takes it into
// custody. Operator-only; the epoch must be closed and not yet
// notified. At least one amount must be positive. No balances move
// until distribution.
func (e *Engine) NotifyYield(caller uuid.UUID, primaryYield *big.Int, secondaryAsset asset.ID, secondaryYield *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.operator {
		return e.reject("notify_yield", ErrNotOperator)
	}
	ep := e.epochs[e.currentEpoch]
	if !ep.Closed {
		return e.reject("notify_yield", ErrEpochNotClosed)
	}
	if ep.YieldNotified {
		return e.reject("notify_yield", ErrYieldAlreadyNotified)
	}

	if primaryYield == nil {
		primaryYield = new(big.Int)
	}
	if secondaryYield == nil {
		secondaryYield = new(big.Int)
	}
	if primaryYield.Sign() <= 0 && secondaryYield.Sign() <= 0 {
		return e.reject("notify_yield", ErrZeroYield)
	}
	if secondaryYield.Sign() > 0 && !e.whitelist[secondaryAsset] {
		return e.reject("notify_yield", ErrAssetNotWhitelisted)
	}

	secondaryValue := new(big.Int)
	if secondaryYield.Sign() > 0 {
		v, err := e.custodian.ConvertToBTC(secondaryAsset, secondaryYield)
		if err != nil {
			return e.reject("notify_yield", err)
		}
		secondaryValue = v
	}
	totalBTC := new(big.Int).Add(
		fixedpoint.ScaleTo18(primaryYield, asset.Decimals(asset.UniBTC)),
		secondaryValue,
	)

	if err := e.custodian.ReceiveDeposit(e.id, primaryYield, secondaryYield, secondaryAsset); err != nil {
		return e.reject("notify_yield", err)
	}

	// Yield that found no eligible depositor in an earlier epoch sits
	// in custody already; fold it into this epoch's pool.
	if e.carriedYield.Sign() > 0 {
		totalBTC.Add(totalBTC, e.carriedYield)
		e.carriedYield.SetInt64(0)
	}

	ep.PrimaryYield.Set(primaryYield)
	ep.SecondaryAsset = secondaryAsset
	ep.SecondaryYield.Set(secondaryYield)
	ep.TotalYieldBTC.Set(totalBTC)
	ep.YieldNotified = true

	e.emit(event.EventTypeYieldNotified, nil, event.YieldNotified{
		Epoch:           ep.Number,
		SecondaryAsset:  asset.Symbol(secondaryAsset),
		SecondaryAmount: secondaryYield.String(),
		YieldBTC:        totalBTC.String(),
	})
	if e.metrics != nil {
		e.metrics.EpochTransitions.WithLabelValues("yield_notified").Inc()
	}
	e.log.Info().
		Uint64("epoch", ep.Number).
		Str("yield_btc", totalBTC.String()).
		Msg("yield notified")
	return nil
}

// DistributeEpochYield credits the notified yield pro rata across
// eligible depositors, then settles the redemption queue in FIFO
// order. Operator-only; the epoch must be notified and not yet
// distributed.
//
// Eligibility and shares come from one consistent snapshot taken
// before any balance increases, so iteration order cannot change the
// result. Each credit floors; the rounding residual stays in custody.
func (e *Engine) DistributeEpochYield(caller uuid.UUID) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.operator {
		return e.reject("distribute_yield", ErrNotOperator)
	}
	ep := e.epochs[e.currentEpoch]
	if !ep.YieldNotified {
		return e.reject("distribute_yield", ErrYieldNotNotified)
	}
	if ep.Distributed {
		return e.reject("distribute_yield", ErrYieldAlreadyDistributed)
	}
	if ep.TotalYieldBTC.Sign() <= 0 {
		return e.reject("distribute_yield", ErrNoYieldToDistribute)
	}

	users := e.sortedUsers()
	eligible := make([]uuid.UUID, 0, len(users))
	shares := make(map[uuid.UUID]*big.Int, len(users))
	eligibleTotal := new(big.Int)
	for _, u := range users {
		rec := e.users[u]
		if rec.FirstEligibleEpoch > ep.Number || rec.Balance.Sign() <= 0 {
			continue
		}
		eligible = append(eligible, u)
		shares[u] = new(big.Int).Set(rec.Balance)
		eligibleTotal.Add(eligibleTotal, rec.Balance)
	}
	if eligibleTotal.Sign() == 0 {
		if len(e.users) == 0 {
			return e.reject("distribute_yield", ErrNoEligibleDepositors)
		}
		// Depositors exist but none is eligible yet (first epoch after
		// launch). Complete the distribution with zero credits and roll
		// the pool into the next epoch so the lifecycle can advance.
		e.carriedYield.Add(e.carriedYield, ep.TotalYieldBTC)
	}

	distributed := new(big.Int)
	for _, u := range eligible {
		credit := fixedpoint.MulDiv(shares[u], ep.TotalYieldBTC, eligibleTotal, fixedpoint.RoundDown)
		if credit.Sign() <= 0 {
			continue
		}
		if err := e.tokens.IncreaseBalance(e.id, u, credit); err != nil {
			return e.reject("distribute_yield", err)
		}
		e.users[u].Balance.Add(e.users[u].Balance, credit)
		distributed.Add(distributed, credit)
	}
	residual := new(big.Int).Sub(ep.TotalYieldBTC, distributed)

	settled, err := e.settleQueue(ep)
	if err != nil {
		return e.reject("distribute_yield", err)
	}

	ep.Distributed = true

	e.emit(event.EventTypeYieldDistributed, nil, event.YieldDistributed{
		Epoch:           ep.Number,
		DistributedBTC:  distributed.String(),
		ResidualBTC:     residual.String(),
		EligibleUsers:   len(eligible),
		SettledRequests: settled,
	})
	if e.metrics != nil {
		e.metrics.EpochTransitions.WithLabelValues("distributed").Inc()
		e.metrics.DistributionDuration.Observe(time.Since(start).Seconds())
		e.metrics.DistributionResidual.Set(float64(residual.Int64()))
		e.metrics.EligibleDepositors.Set(float64(len(eligible)))
		e.metrics.QueueDepth.Set(float64(len(e.queue)))
	}
	e.log.Info().
		Uint64("epoch", ep.Number).
		Str("distributed", distributed.String()).
		Str("residual", residual.String()).
		Int("eligible", len(eligible)).
		Int("settled", settled).
		Msg("epoch yield distributed")
	return nil
}

// settleQueue burns every pending escrow and pays out through custody,
// oldest request first. Payout composition uses the ratio snapshot
// taken when the request was queued. Caller holds the engine lock.
func (e *Engine) settleQueue(ep *EpochRecord) (int, error) {
	settled := 0
	for _, req := range e.queue {
		primaryOut, secondaryOut, err := e.payoutSplit(req.Amount, req.RPrimary, req.SecondaryAsset)
		if err != nil {
			return settled, err
		}
		if err := e.tokens.Burn(e.id, e.id, req.Amount); err != nil {
			return settled, err
		}
		if err := e.custodian.PayOut(e.id, primaryOut, secondaryOut, req.SecondaryAsset, req.User); err != nil {
			return settled, err
		}

		e.emit(event.EventTypeRedemptionSettled, &req.User, event.RedemptionSettled{
			RequestID:       req.ID.String(),
			UserID:          req.User.String(),
			BurnedAmount:    req.Amount.String(),
			PrimaryPaid:     primaryOut.String(),
			SecondaryAsset:  asset.Symbol(req.SecondaryAsset),
			SecondaryPaid:   secondaryOut.String(),
			SettlementEpoch: ep.Number,
		})
		if e.metrics != nil {
			e.metrics.RedemptionsSettled.Inc()
		}
		settled++
	}
	e.queue = e.queue[:0]
	return settled, nil
}

// StartNewEpoch opens the next epoch. Operator-only; the current epoch
// must be fully distributed.
func (e *Engine) StartNewEpoch(caller uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.operator {
		return e.reject("start_epoch", ErrNotOperator)
	}
	if !e.epochs[e.currentEpoch].Distributed {
		return e.reject("start_epoch", ErrNotDistributed)
	}

	now := e.now()
	e.currentEpoch++
	e.epochs[e.currentEpoch] = newEpochRecord(e.currentEpoch, now)

	e.emit(event.EventTypeEpochStarted, nil, event.EpochStarted{
		Epoch:     e.currentEpoch,
		StartedAt: now.Unix(),
	})
	if e.metrics != nil {
		e.metrics.EpochTransitions.WithLabelValues("started").Inc()
		e.metrics.EpochCurrent.Set(float64(e.currentEpoch))
	}
	e.log.Info().Uint64("epoch", e.currentEpoch).Msg("epoch started")
	return nil
}

// sortedUsers returns user IDs in byte order for deterministic
// iteration. Caller holds the engine lock.
func (e *Engine) sortedUsers() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(e.users))
	for u := range e.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
