package custody_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"CoreVault/internal/asset"
	"CoreVault/internal/custody"
	"CoreVault/internal/fixedpoint"
	"CoreVault/internal/oracle"
)

// newPricedCustodian builds a custodian with the reference oracle prices:
// 1 stCORE = 1.42 CORE, 1 CORE = 0.0000086 BTC.
func newPricedCustodian(t *testing.T) (*custody.Custodian, uuid.UUID) {
	t.Helper()

	owner := uuid.New()
	engine := uuid.New()

	o := oracle.New(owner)
	if err := o.SetPrice(owner, asset.StCORE, fixedpoint.MustParse("1420000000000000000")); err != nil {
		t.Fatal(err)
	}
	if err := o.SetPrice(owner, asset.CORE, fixedpoint.MustParse("8600000000000")); err != nil {
		t.Fatal(err)
	}

	c := custody.New(owner, o)
	if err := c.Authorize(owner, engine); err != nil {
		t.Fatal(err)
	}
	return c, engine
}

func TestCustodian_AuthorizeOnce(t *testing.T) {
	owner := uuid.New()
	c := custody.New(owner, oracle.New(owner))

	if err := c.Authorize(owner, uuid.New()); err != nil {
		t.Fatalf("first authorize: %v", err)
	}
	if err := c.Authorize(owner, uuid.New()); !errors.Is(err, custody.ErrAlreadyAuthorized) {
		t.Errorf("got %v, want ErrAlreadyAuthorized", err)
	}
}

func TestCustodian_AuthorizeNonOwner(t *testing.T) {
	c := custody.New(uuid.New(), oracle.New(uuid.New()))

	if err := c.Authorize(uuid.New(), uuid.New()); !errors.Is(err, custody.ErrNotOwner) {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
}

func TestCustodian_ReceiveDeposit_WrongCaller(t *testing.T) {
	c, _ := newPricedCustodian(t)

	err := c.ReceiveDeposit(uuid.New(), big.NewInt(1), big.NewInt(1), asset.StCORE)
	if !errors.Is(err, custody.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestCustodian_ReceiveDeposit_TracksReserves(t *testing.T) {
	c, engine := newPricedCustodian(t)

	err := c.ReceiveDeposit(engine, big.NewInt(100_000_000), fixedpoint.MustParse("10000000000000000000"), asset.StCORE)
	if err != nil {
		t.Fatalf("ReceiveDeposit: %v", err)
	}

	if got := c.Reserve(asset.UniBTC); got.Int64() != 100_000_000 {
		t.Errorf("uniBTC reserve: got %s", got)
	}
	if got := c.Reserve(asset.StCORE); got.Cmp(fixedpoint.MustParse("10000000000000000000")) != 0 {
		t.Errorf("stCORE reserve: got %s", got)
	}
}

func TestCustodian_PayOut_InsufficientReserve(t *testing.T) {
	c, engine := newPricedCustodian(t)

	err := c.PayOut(engine, big.NewInt(1), big.NewInt(0), asset.StCORE, uuid.New())
	if !errors.Is(err, custody.ErrInsufficientReserve) {
		t.Errorf("got %v, want ErrInsufficientReserve", err)
	}
}

func TestCustodian_PayOut_ReducesReserves(t *testing.T) {
	c, engine := newPricedCustodian(t)
	recipient := uuid.New()

	if err := c.ReceiveDeposit(engine, big.NewInt(200), big.NewInt(500), asset.StCORE); err != nil {
		t.Fatal(err)
	}
	if err := c.PayOut(engine, big.NewInt(150), big.NewInt(400), asset.StCORE, recipient); err != nil {
		t.Fatalf("PayOut: %v", err)
	}

	if got := c.Reserve(asset.UniBTC); got.Int64() != 50 {
		t.Errorf("uniBTC reserve: got %s, want 50", got)
	}
	if got := c.Reserve(asset.StCORE); got.Int64() != 100 {
		t.Errorf("stCORE reserve: got %s, want 100", got)
	}
}

func TestCustodian_ConvertToBTC_TwoHop(t *testing.T) {
	c, _ := newPricedCustodian(t)

	// 10 stCORE * 1.42 CORE/stCORE * 0.0000086 BTC/CORE = 0.00012212 BTC
	got, err := c.ConvertToBTC(asset.StCORE, fixedpoint.MustParse("10000000000000000000"))
	if err != nil {
		t.Fatal(err)
	}
	want := fixedpoint.MustParse("122120000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCustodian_ConvertToBTC_PrimaryNormalizes(t *testing.T) {
	c, _ := newPricedCustodian(t)

	// 1.00000000 uniBTC (8 decimals) -> 1e18 BTC-value
	got, err := c.ConvertToBTC(asset.UniBTC, big.NewInt(100_000_000))
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmp(fixedpoint.Wad) != 0 {
		t.Errorf("got %s, want %s", got, fixedpoint.Wad)
	}
}

func TestCustodian_ConvertFromBTC_InvertsWithinRounding(t *testing.T) {
	c, _ := newPricedCustodian(t)

	amount := fixedpoint.MustParse("10000000000000000000") // 10 stCORE
	value, err := c.ConvertToBTC(asset.StCORE, amount)
	if err != nil {
		t.Fatal(err)
	}

	back, err := c.ConvertFromBTC(asset.StCORE, value)
	if err != nil {
		t.Fatal(err)
	}

	// Floor rounding may lose dust but never gains.
	if back.Cmp(amount) > 0 {
		t.Errorf("round trip gained value: %s -> %s", amount, back)
	}
	diff := new(big.Int).Sub(amount, back)
	if diff.Cmp(big.NewInt(1_000_000)) > 0 {
		t.Errorf("round trip lost more than dust: %s", diff)
	}
}

func TestCustodian_TotalBTCValue(t *testing.T) {
	c, engine := newPricedCustodian(t)

	// 1 uniBTC + 10 stCORE
	err := c.ReceiveDeposit(engine, big.NewInt(100_000_000), fixedpoint.MustParse("10000000000000000000"), asset.StCORE)
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.TotalBTCValue()
	if err != nil {
		t.Fatal(err)
	}
	want := fixedpoint.MustParse("1000122120000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCustodian_TotalBTCValue_UnpricedSecondaryFails(t *testing.T) {
	owner := uuid.New()
	engine := uuid.New()
	c := custody.New(owner, oracle.New(owner))
	if err := c.Authorize(owner, engine); err != nil {
		t.Fatal(err)
	}
	if err := c.ReceiveDeposit(engine, big.NewInt(1), big.NewInt(1), asset.StCORE); err != nil {
		t.Fatal(err)
	}

	if _, err := c.TotalBTCValue(); !errors.Is(err, oracle.ErrUnknownAsset) {
		t.Errorf("got %v, want ErrUnknownAsset", err)
	}
}

func TestCustodian_Drain(t *testing.T) {
	c, engine := newPricedCustodian(t)

	if err := c.ReceiveDeposit(engine, big.NewInt(100), big.NewInt(0), asset.StCORE); err != nil {
		t.Fatal(err)
	}
	if err := c.Drain(engine, asset.UniBTC, big.NewInt(60), uuid.New()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := c.Reserve(asset.UniBTC); got.Int64() != 40 {
		t.Errorf("reserve after drain: got %s, want 40", got)
	}

	if err := c.Drain(engine, asset.UniBTC, big.NewInt(41), uuid.New()); !errors.Is(err, custody.ErrInsufficientReserve) {
		t.Errorf("got %v, want ErrInsufficientReserve", err)
	}
}
