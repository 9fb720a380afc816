package ops_test

import (
	"encoding/json"
	"testing"

	"CoreVault/internal/asset"
	"CoreVault/internal/ops"
)

func marshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseCloseEpoch(t *testing.T) {
	cmd, err := ops.ParseCommand("vault.ops.close_epoch", []byte("{}"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := cmd.(ops.CloseEpochCommand); !ok {
		t.Fatalf("expected CloseEpochCommand, got %T", cmd)
	}
	if cmd.Name() != "close_epoch" {
		t.Errorf("name: got %s, want close_epoch", cmd.Name())
	}
}

func TestParseNotifyYield(t *testing.T) {
	payload := map[string]interface{}{
		"primary_yield":    "10000000",
		"secondary_asset":  "stCORE",
		"secondary_amount": "5000000000000000000",
	}

	cmd, err := ops.ParseCommand("vault.ops.notify_yield", marshalJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ny, ok := cmd.(ops.NotifyYieldCommand)
	if !ok {
		t.Fatalf("expected NotifyYieldCommand, got %T", cmd)
	}
	if ny.PrimaryYield.String() != "10000000" {
		t.Errorf("primary yield: got %s, want 10000000", ny.PrimaryYield)
	}
	if ny.SecondaryAsset != asset.StCORE {
		t.Errorf("secondary asset: got %d, want StCORE", ny.SecondaryAsset)
	}
	if ny.SecondaryYield.String() != "5000000000000000000" {
		t.Errorf("secondary yield: got %s, want 5000000000000000000", ny.SecondaryYield)
	}
}

func TestParseNotifyYield_PrimaryOnly(t *testing.T) {
	payload := map[string]interface{}{
		"primary_yield": "250000",
	}

	cmd, err := ops.ParseCommand("vault.ops.notify_yield", marshalJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ny := cmd.(ops.NotifyYieldCommand)
	if ny.PrimaryYield.String() != "250000" {
		t.Errorf("primary yield: got %s, want 250000", ny.PrimaryYield)
	}
	if ny.SecondaryYield.Sign() != 0 {
		t.Errorf("secondary yield: got %s, want 0", ny.SecondaryYield)
	}
}

func TestParseNotifyYield_BadAmount(t *testing.T) {
	cases := []map[string]interface{}{
		{"primary_yield": "not-a-number"},
		{"primary_yield": "-5"},
		{"primary_yield": "1", "secondary_asset": "DOGE", "secondary_amount": "1"},
	}

	for _, payload := range cases {
		if _, err := ops.ParseCommand("vault.ops.notify_yield", marshalJSON(t, payload)); err == nil {
			t.Errorf("payload %v: expected parse error", payload)
		}
	}
}

func TestParseSetPrice(t *testing.T) {
	payload := map[string]interface{}{
		"asset": "stCORE",
		"price": "1420000000000000000",
	}

	cmd, err := ops.ParseCommand("vault.ops.set_price", marshalJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sp, ok := cmd.(ops.SetPriceCommand)
	if !ok {
		t.Fatalf("expected SetPriceCommand, got %T", cmd)
	}
	if sp.Asset != asset.StCORE {
		t.Errorf("asset: got %d, want StCORE", sp.Asset)
	}
	if sp.Price.String() != "1420000000000000000" {
		t.Errorf("price: got %s, want 1420000000000000000", sp.Price)
	}
}

func TestParseSetPrice_UnknownAsset(t *testing.T) {
	payload := map[string]interface{}{
		"asset": "SHIB",
		"price": "1",
	}
	if _, err := ops.ParseCommand("vault.ops.set_price", marshalJSON(t, payload)); err == nil {
		t.Fatal("expected error for unknown asset")
	}
}

func TestParseUnknownCommand(t *testing.T) {
	if _, err := ops.ParseCommand("vault.ops.self_destruct", []byte("{}")); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestParseLifecycleCommands(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"vault.ops.distribute_yield", "distribute_yield"},
		{"vault.ops.start_epoch", "start_epoch"},
	}

	for _, tc := range cases {
		cmd, err := ops.ParseCommand(tc.subject, []byte("{}"))
		if err != nil {
			t.Fatalf("%s: parse failed: %v", tc.subject, err)
		}
		if cmd.Name() != tc.want {
			t.Errorf("%s: name got %s, want %s", tc.subject, cmd.Name(), tc.want)
		}
	}
}
