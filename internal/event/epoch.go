package event

// EpochClosed is emitted when the operator closes the running epoch.
type EpochClosed struct {
	Epoch       uint64 `json:"epoch"`
	TotalSupply string `json:"total_supply"`
	DurationSec int64  `json:"duration_sec"`
}

// YieldNotified is emitted when the operator reports the epoch's yield
// and transfers it to custody.
type YieldNotified struct {
	Epoch           uint64 `json:"epoch"`
	SecondaryAsset  string `json:"secondary_asset"`
	SecondaryAmount string `json:"secondary_amount"`
	YieldBTC        string `json:"yield_btc"`
}

// YieldDistributed is emitted after pro-rata yield credit and queued
// redemption settlement complete for an epoch.
type YieldDistributed struct {
	Epoch           uint64 `json:"epoch"`
	DistributedBTC  string `json:"distributed_btc"`
	ResidualBTC     string `json:"residual_btc"`
	EligibleUsers   int    `json:"eligible_users"`
	SettledRequests int    `json:"settled_requests"`
}

// EpochStarted is emitted when a new epoch opens.
type EpochStarted struct {
	Epoch     uint64 `json:"epoch"`
	StartedAt int64  `json:"started_at"`
}
