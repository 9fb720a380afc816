package fixedpoint

import (
	"math/big"
	"sync"
)

// All vault accounting is done in 18-decimal fixed point ("wad"). Asset
// amounts with fewer decimals are normalized up before any arithmetic.
var (
	// Wad is the canonical 1e18 scale factor.
	Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// WadDecimals is the canonical precision for BTC-value units.
	WadDecimals = uint8(18)
)

// BasisPointScale is the denominator for protocol fee basis points
// (10_000 points == 1%).
const BasisPointScale = 1_000_000

type RoundingMode int

const (
	// RoundDown (floor) is the default for every value conversion:
	// compounding floors can only under-credit, never inflate the peg.
	RoundDown RoundingMode = iota
	RoundUp
)

// intPool recycles big.Int intermediates on the hot conversion paths.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes a * b / denom with the given rounding mode.
// The result is a freshly allocated big.Int; inputs are not mutated.
func MulDiv(a, b, denom *big.Int, mode RoundingMode) *big.Int {
	prod := getInt()
	prod.Mul(a, b)

	quo := new(big.Int)
	rem := getInt()
	quo.QuoRem(prod, denom, rem)

	if mode == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}

	putInt(prod)
	putInt(rem)

	return quo
}

// WadMul computes floor(a * b / 1e18): multiply two wad-scaled values.
func WadMul(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Wad, RoundDown)
}

// WadDiv computes floor(a * 1e18 / b): divide two wad-scaled values.
func WadDiv(a, b *big.Int) *big.Int {
	return MulDiv(a, Wad, b, RoundDown)
}

// ScaleTo18 normalizes an amount with the given native decimals up to the
// canonical 18-decimal scale.
func ScaleTo18(amount *big.Int, decimals uint8) *big.Int {
	if decimals == WadDecimals {
		return new(big.Int).Set(amount)
	}
	factor := pow10(int64(WadDecimals - decimals))
	return new(big.Int).Mul(amount, factor)
}

// ScaleFrom18 converts a wad-scaled amount back to the asset's native
// decimals, flooring any sub-unit remainder.
func ScaleFrom18(amount *big.Int, decimals uint8) *big.Int {
	if decimals == WadDecimals {
		return new(big.Int).Set(amount)
	}
	factor := pow10(int64(WadDecimals - decimals))
	return new(big.Int).Quo(new(big.Int).Set(amount), factor)
}

// ApplyBasisPoints computes floor(amount * points / BasisPointScale).
func ApplyBasisPoints(amount *big.Int, points int64) *big.Int {
	return MulDiv(amount, big.NewInt(points), big.NewInt(BasisPointScale), RoundDown)
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// MustParse parses a base-10 integer string into a big.Int. Panics on
// malformed input — intended for constants and test fixtures only.
func MustParse(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: malformed integer: " + s)
	}
	return v
}
