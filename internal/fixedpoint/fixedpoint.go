// Package fixedpoint implements signed fixed-point prices bounded to the
// 128-bit integer range, and conversion between decimal precisions.
package fixedpoint

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
)

// Codespace is the error codespace for fixed-point arithmetic.
const Codespace = "fixedpoint"

// MaxPrecision is the largest number of implied fractional digits a price
// may carry. 10^38 is the largest power of ten inside the int128 range.
const MaxPrecision = 38

var (
	ErrBadDecimals  = errorsmod.Register(Codespace, 2, "precision out of supported range")
	ErrMathOverflow = errorsmod.Register(Codespace, 3, "value exceeds 128-bit range")
)

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))

	// MaxInt128 and MinInt128 bound every stored or returned price.
	MaxInt128 = sdkmath.NewIntFromBigInt(maxInt128)
	MinInt128 = sdkmath.NewIntFromBigInt(minInt128)

	pow10 = func() [MaxPrecision + 1]sdkmath.Int {
		var table [MaxPrecision + 1]sdkmath.Int
		ten := big.NewInt(10)
		for n := range table {
			table[n] = sdkmath.NewIntFromBigInt(new(big.Int).Exp(ten, big.NewInt(int64(n)), nil))
		}
		return table
	}()
)

// InRange reports whether v fits a signed 128-bit integer.
func InRange(v sdkmath.Int) bool {
	if v.IsNil() {
		return false
	}
	return v.GTE(MinInt128) && v.LTE(MaxInt128)
}

// CheckRange returns ErrMathOverflow when v does not fit 128 bits.
func CheckRange(v sdkmath.Int) error {
	if !InRange(v) {
		return errorsmod.Wrapf(ErrMathOverflow, "%s", v)
	}
	return nil
}

// CheckPrecision returns ErrBadDecimals for precisions above MaxPrecision.
func CheckPrecision(precision uint32) error {
	if precision > MaxPrecision {
		return errorsmod.Wrapf(ErrBadDecimals, "%d > %d", precision, MaxPrecision)
	}
	return nil
}

// Pow10 returns 10^n for n <= MaxPrecision.
func Pow10(n uint32) (sdkmath.Int, error) {
	if n > MaxPrecision {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrBadDecimals, "10^%d", n)
	}
	return pow10[n], nil
}

// Rescale converts p from precision from to precision to.
//
// Increasing precision multiplies exactly and fails with ErrMathOverflow when
// the product leaves the 128-bit range. Decreasing precision divides with
// round-half-away-from-zero and is lossy: Rescale(15, 1, 0) == 2 and
// Rescale(-15, 1, 0) == -2.
func Rescale(p sdkmath.Int, from, to uint32) (sdkmath.Int, error) {
	if err := CheckRange(p); err != nil {
		return sdkmath.Int{}, err
	}
	if from == to {
		return p, nil
	}

	if to > from {
		f, err := Pow10(to - from)
		if err != nil {
			return sdkmath.Int{}, err
		}
		out := p.Mul(f)
		if err := CheckRange(out); err != nil {
			return sdkmath.Int{}, err
		}
		return out, nil
	}

	f, err := Pow10(from - to)
	if err != nil {
		return sdkmath.Int{}, err
	}
	half := f.QuoRaw(2)
	if p.IsNegative() {
		half = half.Neg()
	}
	return p.Add(half).Quo(f), nil
}

// Compare orders a (at precision aPrec) against b (at precision bPrec) after
// bringing both to the larger precision. The intermediate is exact and is not
// bounded to 128 bits, so Compare never fails for in-range inputs.
func Compare(a sdkmath.Int, aPrec uint32, b sdkmath.Int, bPrec uint32) int {
	ab, bb := a.BigInt(), b.BigInt()
	switch {
	case aPrec < bPrec:
		ab.Mul(ab, scale(bPrec-aPrec))
	case bPrec < aPrec:
		bb.Mul(bb, scale(aPrec-bPrec))
	}
	return ab.Cmp(bb)
}

func scale(n uint32) *big.Int {
	if n <= MaxPrecision {
		return pow10[n].BigInt()
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
