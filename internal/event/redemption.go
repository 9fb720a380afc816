package event

// RedemptionQueued is emitted when a redemption request enters the
// queue. Tokens are escrowed to the vault until settlement.
type RedemptionQueued struct {
	RequestID      string `json:"request_id"`
	UserID         string `json:"user_id"`
	Amount         string `json:"amount"`
	PrimaryRatio   string `json:"primary_ratio"`
	SecondaryRatio string `json:"secondary_ratio"`
	QueueDepth     int    `json:"queue_depth"`
}

// RedemptionSettled is emitted during yield distribution when a
// queued request is paid out and the escrowed tokens are burned.
type RedemptionSettled struct {
	RequestID       string `json:"request_id"`
	UserID          string `json:"user_id"`
	BurnedAmount    string `json:"burned_amount"`
	PrimaryPaid     string `json:"primary_paid"`
	SecondaryAsset  string `json:"secondary_asset"`
	SecondaryPaid   string `json:"secondary_paid"`
	SettlementEpoch uint64 `json:"settlement_epoch"`
}

// EmergencyRedemption is emitted on an immediate fee-bearing exit that
// bypasses the queue.
type EmergencyRedemption struct {
	UserID         string `json:"user_id"`
	BurnedAmount   string `json:"burned_amount"`
	PrimaryPaid    string `json:"primary_paid"`
	SecondaryAsset string `json:"secondary_asset"`
	SecondaryPaid  string `json:"secondary_paid"`
	PrimaryFee     string `json:"primary_fee"`
	SecondaryFee   string `json:"secondary_fee"`
	FeePoints      int64  `json:"fee_points"`
}
