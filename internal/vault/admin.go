package vault

import (
	"math/big"
	"sort"

	"CoreVault/internal/asset"
	"CoreVault/internal/event"
	"CoreVault/internal/fixedpoint"

	"github.com/google/uuid"
)

// SetOperator replaces the operator identity. Owner-only.
func (e *Engine) SetOperator(caller, operator uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return e.reject("set_operator", ErrNotOwner)
	}
	if operator == uuid.Nil {
		return e.reject("set_operator", ErrInvalidAddress)
	}

	old := e.operator
	e.operator = operator
	e.emitConfigChanged("operator", old.String(), operator.String())
	return nil
}

// SetFeeReceiver replaces the fee receiver identity. Owner-only.
func (e *Engine) SetFeeReceiver(caller, receiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return e.reject("set_fee_receiver", ErrNotOwner)
	}
	if receiver == uuid.Nil {
		return e.reject("set_fee_receiver", ErrInvalidAddress)
	}

	old := e.feeReceiver
	e.feeReceiver = receiver
	e.emitConfigChanged("fee_receiver", old.String(), receiver.String())
	return nil
}

// WhitelistAsset toggles a secondary asset's acceptance. Owner-only.
func (e *Engine) WhitelistAsset(caller uuid.UUID, id asset.ID, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return e.reject("whitelist_asset", ErrNotOwner)
	}
	if _, ok := asset.Get(id); !ok {
		return e.reject("whitelist_asset", ErrAssetNotWhitelisted)
	}

	old := "false"
	if e.whitelist[id] {
		old = "true"
	}
	now := "false"
	if enabled {
		now = "true"
	}
	e.whitelist[id] = enabled
	e.emitConfigChanged("whitelist:"+asset.Symbol(id), old, now)
	return nil
}

// SetMinimumAmounts sets the BTC-value floors for deposits and
// redemptions. Owner-only. Nil leaves a floor unchanged.
func (e *Engine) SetMinimumAmounts(caller uuid.UUID, depositMin, redeemMin *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return e.reject("set_minimums", ErrNotOwner)
	}

	// Validate every argument before touching state: a rejected call
	// must leave both floors and the event log untouched.
	if depositMin != nil && depositMin.Sign() < 0 {
		return e.reject("set_minimums", ErrZeroAmount)
	}
	if redeemMin != nil && redeemMin.Sign() < 0 {
		return e.reject("set_minimums", ErrZeroAmount)
	}

	if depositMin != nil {
		e.emitConfigChanged("deposit_minimum", e.depositMin.String(), depositMin.String())
		e.depositMin.Set(depositMin)
	}
	if redeemMin != nil {
		e.emitConfigChanged("redemption_minimum", e.redeemMin.String(), redeemMin.String())
		e.redeemMin.Set(redeemMin)
	}
	return nil
}

// SetProtocolFeePoints sets the emergency redemption penalty on the
// 1,000,000 basis-point scale. Owner-only.
func (e *Engine) SetProtocolFeePoints(caller uuid.UUID, points int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return e.reject("set_fee_points", ErrNotOwner)
	}
	if points < 0 || points > fixedpoint.BasisPointScale {
		return e.reject("set_fee_points", ErrZeroAmount)
	}

	old := e.feePoints
	e.feePoints = points
	e.emitConfigChanged("protocol_fee_points",
		big.NewInt(old).String(), big.NewInt(points).String())
	return nil
}

// CollectFees pays every accrued emergency-redemption fee from custody
// to the fee receiver and clears the accrual. Owner-only.
func (e *Engine) CollectFees(caller uuid.UUID) (map[asset.ID]*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return nil, e.reject("collect_fees", ErrNotOwner)
	}

	ids := make([]asset.ID, 0, len(e.accruedFees))
	for id, amount := range e.accruedFees {
		if amount.Sign() > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, e.reject("collect_fees", ErrNoFeesToCollect)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	paid := make(map[asset.ID]*big.Int, len(ids))
	amounts := make(map[string]string, len(ids))
	for _, id := range ids {
		amount := e.accruedFees[id]
		if err := e.custodian.Drain(e.id, id, amount, e.feeReceiver); err != nil {
			return nil, e.reject("collect_fees", err)
		}
		paid[id] = new(big.Int).Set(amount)
		amounts[asset.Symbol(id)] = amount.String()
		amount.SetInt64(0)
	}

	e.emit(event.EventTypeFeesCollected, nil, event.FeesCollected{
		Receiver: e.feeReceiver.String(),
		Amounts:  amounts,
	})
	e.log.Info().Str("receiver", e.feeReceiver.String()).Msg("fees collected")
	return paid, nil
}

// EmergencyWithdraw drains an arbitrary custody reserve to a recipient,
// bypassing all accounting. Owner-only break-glass path: it leaves the
// receipt supply unbacked by whatever was taken and must be treated as
// an incident response, never normal operation.
func (e *Engine) EmergencyWithdraw(caller uuid.UUID, id asset.ID, amount *big.Int, recipient uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return e.reject("emergency_withdraw", ErrNotOwner)
	}
	if recipient == uuid.Nil {
		return e.reject("emergency_withdraw", ErrInvalidAddress)
	}
	if amount == nil || amount.Sign() <= 0 {
		return e.reject("emergency_withdraw", ErrZeroAmount)
	}

	if err := e.custodian.Drain(e.id, id, amount, recipient); err != nil {
		return e.reject("emergency_withdraw", err)
	}

	e.emit(event.EventTypeEmergencyWithdrawal, nil, event.EmergencyWithdrawal{
		Asset:     asset.Symbol(id),
		Amount:    amount.String(),
		Recipient: recipient.String(),
	})
	e.log.Warn().
		Str("asset", asset.Symbol(id)).
		Str("amount", amount.String()).
		Str("recipient", recipient.String()).
		Msg("emergency withdrawal executed")
	return nil
}

// AccruedFees returns a copy of the uncollected fee accrual.
func (e *Engine) AccruedFees() map[asset.ID]*big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[asset.ID]*big.Int, len(e.accruedFees))
	for id, amount := range e.accruedFees {
		if amount.Sign() > 0 {
			out[id] = new(big.Int).Set(amount)
		}
	}
	return out
}

func (e *Engine) emitConfigChanged(field, oldValue, newValue string) {
	e.emit(event.EventTypeConfigChanged, nil, event.ConfigChanged{
		Field:    field,
		OldValue: oldValue,
		NewValue: newValue,
	})
	e.log.Info().
		Str("field", field).
		Str("old", oldValue).
		Str("new", newValue).
		Msg("config changed")
}
