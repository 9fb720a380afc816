package vault

import "errors"

// Every rejection is a typed, synchronous error with no partial effect.
var (
	// Input validation
	ErrZeroAmount          = errors.New("vault: amount must be positive")
	ErrBelowMinimum        = errors.New("vault: value below configured minimum")
	ErrAssetNotWhitelisted = errors.New("vault: asset is not whitelisted")
	ErrInvalidAddress      = errors.New("vault: zero identity not allowed")

	// Authorization
	ErrNotOperator = errors.New("vault: caller is not the operator")
	ErrNotOwner    = errors.New("vault: caller is not the owner")

	// Epoch state machine
	ErrEpochNotFinished        = errors.New("vault: minimum epoch duration has not elapsed")
	ErrAlreadyClosed           = errors.New("vault: epoch already closed")
	ErrEpochNotClosed          = errors.New("vault: epoch is not closed yet")
	ErrZeroYield               = errors.New("vault: yield amounts are both zero")
	ErrYieldAlreadyNotified    = errors.New("vault: yield already notified for epoch")
	ErrYieldNotNotified        = errors.New("vault: yield has not been notified")
	ErrYieldAlreadyDistributed = errors.New("vault: yield already distributed for epoch")
	ErrNotDistributed          = errors.New("vault: current epoch not distributed yet")
	ErrNoYieldToDistribute     = errors.New("vault: notified yield converts to zero value")
	ErrNoEligibleDepositors    = errors.New("vault: no depositors eligible for this epoch")

	// Balances
	ErrInsufficientBalance = errors.New("vault: insufficient receipt balance")

	// Bookkeeping
	ErrNoFeesToCollect = errors.New("vault: no accrued fees")
	ErrUnknownUser     = errors.New("vault: no record for user")
	ErrUnknownEpoch    = errors.New("vault: no record for epoch")
)
