package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"CoreVault/internal/asset"
)

var (
	ErrUnknownAsset = errors.New("oracle: no price set for asset")
	ErrNotOwner     = errors.New("oracle: caller is not the owner")
	ErrZeroPrice    = errors.New("oracle: price must be positive")
)

// PriceOracle holds admin-set wad-scaled prices per asset. Each price is
// the value of one whole unit of the asset in the next hop's unit:
// stCORE is priced in CORE, CORE is priced in BTC. There is no averaging
// and no staleness check — price freshness is an operational concern for
// whoever drives SetPrice.
type PriceOracle struct {
	mu     sync.RWMutex
	owner  uuid.UUID
	prices map[asset.ID]*big.Int
}

func New(owner uuid.UUID) *PriceOracle {
	return &PriceOracle{
		owner:  owner,
		prices: make(map[asset.ID]*big.Int),
	}
}

// SetPrice overwrites the wad-scaled price for an asset. Owner-only.
func (o *PriceOracle) SetPrice(caller uuid.UUID, id asset.ID, price *big.Int) error {
	if caller != o.owner {
		return ErrNotOwner
	}
	if price == nil || price.Sign() <= 0 {
		return ErrZeroPrice
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[id] = new(big.Int).Set(price)
	return nil
}

// Price returns the wad-scaled price for an asset, or ErrUnknownAsset if
// none was ever set.
func (o *PriceOracle) Price(id asset.ID) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	p, ok := o.prices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Symbol(id))
	}
	return new(big.Int).Set(p), nil
}
