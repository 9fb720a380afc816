package ops

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"CoreVault/internal/asset"
)

// Command is a parsed keeper command ready for dispatch to the vault.
type Command interface {
	// Name returns the command discriminator (the last subject token).
	Name() string
}

// CloseEpochCommand freezes the current epoch.
type CloseEpochCommand struct{}

func (CloseEpochCommand) Name() string { return "close_epoch" }

// NotifyYieldCommand reports epoch yield and moves it into custody.
type NotifyYieldCommand struct {
	PrimaryYield   *big.Int
	SecondaryAsset asset.ID
	SecondaryYield *big.Int
}

func (NotifyYieldCommand) Name() string { return "notify_yield" }

// DistributeYieldCommand credits yield pro-rata and settles the queue.
type DistributeYieldCommand struct{}

func (DistributeYieldCommand) Name() string { return "distribute_yield" }

// StartEpochCommand opens the next epoch.
type StartEpochCommand struct{}

func (StartEpochCommand) Name() string { return "start_epoch" }

// SetPriceCommand updates an oracle price.
type SetPriceCommand struct {
	Asset asset.ID
	Price *big.Int
}

func (SetPriceCommand) Name() string { return "set_price" }

// --- JSON wire formats ---
// Amounts travel as decimal strings so 18-decimal values survive the
// keeper's JSON encoder.

type notifyYieldJSON struct {
	PrimaryYield    string `json:"primary_yield"`
	SecondaryAsset  string `json:"secondary_asset,omitempty"`
	SecondaryAmount string `json:"secondary_amount,omitempty"`
}

type setPriceJSON struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

// ParseCommand converts a raw keeper message into a typed Command. The
// command name is the final subject token, e.g. "vault.ops.close_epoch".
func ParseCommand(subject string, data []byte) (Command, error) {
	name := subject
	if i := strings.LastIndex(subject, "."); i >= 0 {
		name = subject[i+1:]
	}

	switch name {
	case "close_epoch":
		return CloseEpochCommand{}, nil

	case "notify_yield":
		return parseNotifyYield(data)

	case "distribute_yield":
		return DistributeYieldCommand{}, nil

	case "start_epoch":
		return StartEpochCommand{}, nil

	case "set_price":
		return parseSetPrice(data)

	default:
		return nil, fmt.Errorf("unknown command: %s", name)
	}
}

func parseNotifyYield(data []byte) (NotifyYieldCommand, error) {
	var j notifyYieldJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return NotifyYieldCommand{}, fmt.Errorf("parse notify_yield: %w", err)
	}

	primary, err := parseAmount(j.PrimaryYield)
	if err != nil {
		return NotifyYieldCommand{}, fmt.Errorf("parse primary_yield: %w", err)
	}

	cmd := NotifyYieldCommand{
		PrimaryYield:   primary,
		SecondaryYield: new(big.Int),
	}

	if j.SecondaryAmount != "" {
		secondary, err := parseAmount(j.SecondaryAmount)
		if err != nil {
			return NotifyYieldCommand{}, fmt.Errorf("parse secondary_amount: %w", err)
		}
		id, ok := asset.Lookup(j.SecondaryAsset)
		if !ok {
			return NotifyYieldCommand{}, fmt.Errorf("unknown asset: %q", j.SecondaryAsset)
		}
		cmd.SecondaryAsset = id
		cmd.SecondaryYield = secondary
	}

	return cmd, nil
}

func parseSetPrice(data []byte) (SetPriceCommand, error) {
	var j setPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return SetPriceCommand{}, fmt.Errorf("parse set_price: %w", err)
	}

	id, ok := asset.Lookup(j.Asset)
	if !ok {
		return SetPriceCommand{}, fmt.Errorf("unknown asset: %q", j.Asset)
	}

	price, err := parseAmount(j.Price)
	if err != nil {
		return SetPriceCommand{}, fmt.Errorf("parse price: %w", err)
	}

	return SetPriceCommand{Asset: id, Price: price}, nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", s)
	}
	return v, nil
}
