package fixedpoint

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// ParseDecimal converts human-readable decimal text ("50000.5") into a
// fixed-point integer with the given precision. Digits beyond the precision
// are rounded half away from zero.
func ParseDecimal(s string, precision uint32) (sdkmath.Int, error) {
	if err := CheckPrecision(precision); err != nil {
		return sdkmath.Int{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	scaled := d.Shift(int32(precision)).Round(0)
	out := sdkmath.NewIntFromBigInt(scaled.BigInt())
	if err := CheckRange(out); err != nil {
		return sdkmath.Int{}, errorsmod.Wrapf(err, "parse %q", s)
	}
	return out, nil
}

// FormatDecimal renders a fixed-point integer as decimal text, e.g.
// FormatDecimal(5000050, 2) == "50000.50".
func FormatDecimal(p sdkmath.Int, precision uint32) string {
	if p.IsNil() {
		return ""
	}
	d := decimal.NewFromBigInt(p.BigInt(), -int32(precision))
	return d.StringFixed(int32(precision))
}
