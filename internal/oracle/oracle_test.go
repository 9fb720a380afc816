package oracle_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"CoreVault/internal/asset"
	"CoreVault/internal/fixedpoint"
	"CoreVault/internal/oracle"
)

func TestPriceOracle_SetAndGet(t *testing.T) {
	owner := uuid.New()
	o := oracle.New(owner)

	// 1.42 CORE per stCORE
	price := fixedpoint.MustParse("1420000000000000000")
	if err := o.SetPrice(owner, asset.StCORE, price); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}

	got, err := o.Price(asset.StCORE)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got.Cmp(price) != 0 {
		t.Errorf("got %s, want %s", got, price)
	}
}

func TestPriceOracle_UnknownAsset(t *testing.T) {
	o := oracle.New(uuid.New())

	_, err := o.Price(asset.CORE)
	if !errors.Is(err, oracle.ErrUnknownAsset) {
		t.Errorf("got %v, want ErrUnknownAsset", err)
	}
}

func TestPriceOracle_NonOwnerRejected(t *testing.T) {
	o := oracle.New(uuid.New())

	err := o.SetPrice(uuid.New(), asset.CORE, big.NewInt(1))
	if !errors.Is(err, oracle.ErrNotOwner) {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
}

func TestPriceOracle_ZeroPriceRejected(t *testing.T) {
	owner := uuid.New()
	o := oracle.New(owner)

	if err := o.SetPrice(owner, asset.CORE, big.NewInt(0)); !errors.Is(err, oracle.ErrZeroPrice) {
		t.Errorf("got %v, want ErrZeroPrice", err)
	}
}

func TestPriceOracle_OverwriteReplaces(t *testing.T) {
	owner := uuid.New()
	o := oracle.New(owner)

	if err := o.SetPrice(owner, asset.CORE, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := o.SetPrice(owner, asset.CORE, big.NewInt(200)); err != nil {
		t.Fatal(err)
	}

	got, err := o.Price(asset.CORE)
	if err != nil {
		t.Fatal(err)
	}
	if got.Int64() != 200 {
		t.Errorf("got %d, want 200", got.Int64())
	}
}

func TestPriceOracle_ReturnedPriceIsCopy(t *testing.T) {
	owner := uuid.New()
	o := oracle.New(owner)

	if err := o.SetPrice(owner, asset.CORE, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	got, _ := o.Price(asset.CORE)
	got.SetInt64(999)

	again, _ := o.Price(asset.CORE)
	if again.Int64() != 100 {
		t.Errorf("stored price mutated through returned value: %d", again.Int64())
	}
}
