package custody

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"CoreVault/internal/asset"
	"CoreVault/internal/fixedpoint"
	"CoreVault/internal/oracle"
)

var (
	ErrUnauthorized        = errors.New("custody: caller is not the authorized engine")
	ErrNotOwner            = errors.New("custody: caller is not the owner")
	ErrAlreadyAuthorized   = errors.New("custody: engine already authorized")
	ErrInsufficientReserve = errors.New("custody: payout exceeds reserve")
)

// Custodian is the exclusive holder of underlying asset reserves. Exactly
// one engine identity may move reserves, set once by the owner. The
// custodian also embeds the value converter: all BTC-value computation for
// deposits, payouts, and the reserve total goes through its oracle.
type Custodian struct {
	mu       sync.RWMutex
	owner    uuid.UUID
	engine   uuid.UUID
	oracle   *oracle.PriceOracle
	reserves map[asset.ID]*big.Int
}

func New(owner uuid.UUID, o *oracle.PriceOracle) *Custodian {
	return &Custodian{
		owner:    owner,
		oracle:   o,
		reserves: make(map[asset.ID]*big.Int),
	}
}

// Authorize binds the single engine allowed to move reserves. Owner-only,
// set once.
func (c *Custodian) Authorize(caller, engine uuid.UUID) error {
	if caller != c.owner {
		return ErrNotOwner
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine != uuid.Nil {
		return ErrAlreadyAuthorized
	}
	c.engine = engine
	return nil
}

// ReceiveDeposit pulls both asset amounts into reserve. Engine-only.
func (c *Custodian) ReceiveDeposit(caller uuid.UUID, primary, secondary *big.Int, secondaryAsset asset.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.engine || c.engine == uuid.Nil {
		return ErrUnauthorized
	}

	c.credit(asset.UniBTC, primary)
	c.credit(secondaryAsset, secondary)
	return nil
}

// PayOut releases both asset amounts from reserve toward a recipient.
// Engine-only. The reserve check is defensive: the engine's accounting
// should never request more than is held.
func (c *Custodian) PayOut(caller uuid.UUID, primary, secondary *big.Int, secondaryAsset asset.ID, recipient uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.engine || c.engine == uuid.Nil {
		return ErrUnauthorized
	}

	if c.reserve(asset.UniBTC).Cmp(primary) < 0 {
		return fmt.Errorf("%w: %s %s > %s", ErrInsufficientReserve,
			asset.Symbol(asset.UniBTC), primary, c.reserve(asset.UniBTC))
	}
	if c.reserve(secondaryAsset).Cmp(secondary) < 0 {
		return fmt.Errorf("%w: %s %s > %s", ErrInsufficientReserve,
			asset.Symbol(secondaryAsset), secondary, c.reserve(secondaryAsset))
	}

	c.debit(asset.UniBTC, primary)
	c.debit(secondaryAsset, secondary)
	return nil
}

// Drain releases an arbitrary single-asset amount. Engine-only; reached
// exclusively through the engine's owner-gated emergency withdrawal.
func (c *Custodian) Drain(caller uuid.UUID, id asset.ID, amount *big.Int, recipient uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.engine || c.engine == uuid.Nil {
		return ErrUnauthorized
	}
	if c.reserve(id).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s %s > %s", ErrInsufficientReserve,
			asset.Symbol(id), amount, c.reserve(id))
	}

	c.debit(id, amount)
	return nil
}

// TotalBTCValue sums the primary reserve (normalized to 18 decimals) plus
// every secondary reserve converted through the two-hop oracle path. Every
// division floors, so the reported backing never exceeds true value.
func (c *Custodian) TotalBTCValue() (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := new(big.Int)
	for id, amount := range c.reserves {
		if amount.Sign() == 0 {
			continue
		}
		value, err := c.toBTC(id, amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// ConvertToBTC returns the wad-scaled BTC value of a native asset amount.
func (c *Custodian) ConvertToBTC(id asset.ID, amount *big.Int) (*big.Int, error) {
	return c.toBTC(id, amount)
}

// ConvertFromBTC returns the native asset amount worth the given wad
// BTC value, floored.
func (c *Custodian) ConvertFromBTC(id asset.ID, btcValue *big.Int) (*big.Int, error) {
	if id == asset.UniBTC {
		return fixedpoint.ScaleFrom18(btcValue, asset.Decimals(id)), nil
	}

	hop, err := c.oracle.Price(id) // secondary -> CORE
	if err != nil {
		return nil, err
	}
	core, err := c.oracle.Price(asset.CORE) // CORE -> BTC
	if err != nil {
		return nil, err
	}

	inCore := fixedpoint.WadDiv(btcValue, core)
	inAsset := fixedpoint.WadDiv(inCore, hop)
	return fixedpoint.ScaleFrom18(inAsset, asset.Decimals(id)), nil
}

// Reserve returns the current native-unit reserve for an asset.
func (c *Custodian) Reserve(id asset.ID) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.reserve(id))
}

// Reserves returns a copy of all nonzero reserves (for snapshots).
func (c *Custodian) Reserves() map[asset.ID]*big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[asset.ID]*big.Int, len(c.reserves))
	for id, amount := range c.reserves {
		out[id] = new(big.Int).Set(amount)
	}
	return out
}

// RestoreReserve directly sets a reserve balance (snapshot restore only).
func (c *Custodian) RestoreReserve(id asset.ID, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserves[id] = new(big.Int).Set(amount)
}

// toBTC converts through uniBTC normalization or the stCORE->CORE->BTC
// two-hop path. Caller must hold at least the read lock.
func (c *Custodian) toBTC(id asset.ID, amount *big.Int) (*big.Int, error) {
	normalized := fixedpoint.ScaleTo18(amount, asset.Decimals(id))
	if id == asset.UniBTC {
		return normalized, nil
	}

	hop, err := c.oracle.Price(id)
	if err != nil {
		return nil, err
	}
	core, err := c.oracle.Price(asset.CORE)
	if err != nil {
		return nil, err
	}

	return fixedpoint.WadMul(fixedpoint.WadMul(normalized, hop), core), nil
}

func (c *Custodian) reserve(id asset.ID) *big.Int {
	if r, ok := c.reserves[id]; ok {
		return r
	}
	return new(big.Int)
}

func (c *Custodian) credit(id asset.ID, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	r, ok := c.reserves[id]
	if !ok {
		r = new(big.Int)
		c.reserves[id] = r
	}
	r.Add(r, amount)
}

func (c *Custodian) debit(id asset.ID, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	c.reserves[id].Sub(c.reserves[id], amount)
}
