package query

import (
	"time"

	"github.com/google/uuid"
)

// Amounts in query responses are decimal strings: wad (1e18) for
// receipt-token and BTC values, native units for asset payouts.

// UserResponse is the read-side view of one depositor.
type UserResponse struct {
	UserID             uuid.UUID `json:"user_id"`
	Balance            string    `json:"balance"`
	BTCValue           string    `json:"btc_value"`
	PrimaryRatio       string    `json:"primary_ratio"`
	SecondaryRatio     string    `json:"secondary_ratio"`
	FirstEligibleEpoch uint64    `json:"first_eligible_epoch"`
	AsOfSequence       int64     `json:"as_of_sequence"`
}

// EpochResponse is the read-side view of one epoch.
type EpochResponse struct {
	Number         uint64    `json:"number"`
	StartTime      time.Time `json:"start_time"`
	Closed         bool      `json:"closed"`
	YieldNotified  bool      `json:"yield_notified"`
	Distributed    bool      `json:"distributed"`
	PrimaryYield   string    `json:"primary_yield"`
	SecondaryYield string    `json:"secondary_yield"`
	TotalYieldBTC  string    `json:"total_yield_btc"`
	DepositedBTC   string    `json:"deposited_btc"`
	RedeemedBTC    string    `json:"redeemed_btc"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// StatusResponse is the vault-wide view.
type StatusResponse struct {
	CurrentEpoch    uint64    `json:"current_epoch"`
	EpochStartTime  time.Time `json:"epoch_start_time"`
	Closed          bool      `json:"closed"`
	YieldNotified   bool      `json:"yield_notified"`
	Distributed     bool      `json:"distributed"`
	TotalSupply     string    `json:"total_supply"`
	CustodyBTCValue string    `json:"custody_btc_value"`
	QueueDepth      int       `json:"queue_depth"`
	Sequence        int64     `json:"sequence"`
}

// PreviewResponse is the payout a redemption would produce at current
// prices, in each asset's native units.
type PreviewResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Amount       string    `json:"amount"`
	PrimaryOut   string    `json:"primary_out"`
	SecondaryOut string    `json:"secondary_out"`
	Asset        string    `json:"secondary_asset"`
}

// EpochHistoryResponse is one row of the epoch lifecycle projection.
type EpochHistoryResponse struct {
	Epoch           uint64     `json:"epoch"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	YieldNotifiedAt *time.Time `json:"yield_notified_at,omitempty"`
	DistributedAt   *time.Time `json:"distributed_at,omitempty"`
	ClosingSupply   string     `json:"closing_supply,omitempty"`
	YieldBTC        string     `json:"yield_btc,omitempty"`
	DistributedBTC  string     `json:"distributed_btc,omitempty"`
	ResidualBTC     string     `json:"residual_btc,omitempty"`
	EligibleUsers   int        `json:"eligible_users"`
	SettledRequests int        `json:"settled_requests"`
	AsOfSequence    int64      `json:"as_of_sequence"`
}

// RedemptionResponse is one row of the redemption projection.
type RedemptionResponse struct {
	RequestID      string     `json:"request_id"`
	UserID         string     `json:"user_id"`
	Amount         string     `json:"amount"`
	PrimaryPaid    string     `json:"primary_paid,omitempty"`
	SecondaryPaid  string     `json:"secondary_paid,omitempty"`
	Status         string     `json:"status"`
	RequestedEpoch uint64     `json:"requested_epoch"`
	SettledEpoch   *uint64    `json:"settled_epoch,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
	AsOfSequence   int64      `json:"as_of_sequence"`
}

// IntegrityReport is the result of a hash chain verification sweep.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	LastSequence    int64   `json:"last_sequence"`
}
