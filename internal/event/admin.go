package event

// FeesCollected is emitted when accrued emergency-redemption fees are
// paid from custody to the fee receiver.
type FeesCollected struct {
	Receiver string            `json:"receiver"`
	Amounts  map[string]string `json:"amounts"`
}

// EmergencyWithdrawal is emitted on an owner-initiated custody drain.
type EmergencyWithdrawal struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// ConfigChanged is emitted when an owner mutates engine parameters.
type ConfigChanged struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}
