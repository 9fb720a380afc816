package event

// DepositRecorded is emitted after a dual-asset deposit has been
// credited to the user and the custodian has taken the assets.
type DepositRecorded struct {
	UserID             string `json:"user_id"`
	PrimaryAmount      string `json:"primary_amount"`
	SecondaryAsset     string `json:"secondary_asset"`
	SecondaryAmount    string `json:"secondary_amount"`
	MintedAmount       string `json:"minted_amount"`
	PrimaryRatio       string `json:"primary_ratio"`
	SecondaryRatio     string `json:"secondary_ratio"`
	FirstEligibleEpoch uint64 `json:"first_eligible_epoch"`
}
