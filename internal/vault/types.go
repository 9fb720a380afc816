package vault

import (
	"math/big"
	"time"

	"CoreVault/internal/asset"
	"CoreVault/internal/event"

	"github.com/google/uuid"
)

// MinEpochDuration is the shortest interval between opening an epoch and
// closing it. CloseEpoch fails until it has elapsed.
const MinEpochDuration = 24 * time.Hour

// DefaultFeePoints is the emergency redemption penalty: 1% expressed
// against the 1,000,000 basis-point scale.
const DefaultFeePoints = 10_000

// UserRecord tracks per-depositor accounting state.
type UserRecord struct {
	// Balance is the yield-eligible receipt amount. It diverges from the
	// raw token balance the moment a redemption is queued: queued amounts
	// stop earning yield immediately, not at settlement.
	Balance *big.Int

	// RPrimary and RSecondary are wad fractions recording the BTC-value
	// composition of the user's cumulative deposits. They sum to exactly
	// one wad.
	RPrimary   *big.Int
	RSecondary *big.Int

	// DepositedBTC is the cumulative deposited value, used as the weight
	// when folding a new deposit into the composition ratio.
	DepositedBTC *big.Int

	// FirstEligibleEpoch is the epoch from which this user's balance
	// participates in yield distribution. Set once, at first deposit, to
	// the epoch after the deposit epoch.
	FirstEligibleEpoch uint64
}

// EpochRecord tracks one accounting period.
type EpochRecord struct {
	Number    uint64
	StartTime time.Time
	ClosedAt  time.Time

	Closed        bool
	YieldNotified bool
	Distributed   bool

	PrimaryYield   *big.Int
	SecondaryAsset asset.ID
	SecondaryYield *big.Int
	TotalYieldBTC  *big.Int

	DepositedBTC *big.Int
	RedeemedBTC  *big.Int
}

// RedemptionRequest is a queued exit, escrowed at request time and
// settled in FIFO order during the epoch's distribution.
type RedemptionRequest struct {
	ID             uuid.UUID
	User           uuid.UUID
	Amount         *big.Int
	SecondaryAsset asset.ID

	// Composition snapshot taken at request time. Settlement pays out in
	// these proportions even if the user deposits again before the epoch
	// closes.
	RPrimary   *big.Int
	RSecondary *big.Int

	EpochRequested uint64
	RequestedAt    time.Time
}

// Output carries one applied event to the persistence and publish
// fan-out.
type Output struct {
	Envelope *event.Envelope
}

// RedeemPreview is the pure payout computation for a hypothetical
// redemption.
type RedeemPreview struct {
	PrimaryOut   *big.Int
	SecondaryOut *big.Int
}

// UserInfo is the read-side view of one depositor.
type UserInfo struct {
	Balance            *big.Int
	BTCValue           *big.Int
	RPrimary           *big.Int
	RSecondary         *big.Int
	FirstEligibleEpoch uint64
}

// EpochInfo is the read-side view of one epoch.
type EpochInfo struct {
	Number         uint64
	StartTime      time.Time
	Closed         bool
	YieldNotified  bool
	Distributed    bool
	PrimaryYield   *big.Int
	SecondaryYield *big.Int
	TotalYieldBTC  *big.Int
	DepositedBTC   *big.Int
	RedeemedBTC    *big.Int
}

// Status is the engine-wide read view.
type Status struct {
	CurrentEpoch    uint64
	EpochStartTime  time.Time
	Closed          bool
	YieldNotified   bool
	Distributed     bool
	TotalSupply     *big.Int
	CustodyBTCValue *big.Int
	QueueDepth      int
	Sequence        int64
}
