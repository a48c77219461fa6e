package fixedpoint

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestRescale_SamePrecision(t *testing.T) {
	for _, prec := range []uint32{0, 6, 8, 18, MaxPrecision} {
		for _, p := range []int64{0, 1, -1, 50_000_000_000, -42} {
			out, err := Rescale(sdkmath.NewInt(p), prec, prec)
			require.NoError(t, err)
			require.True(t, out.Equal(sdkmath.NewInt(p)), "prec=%d p=%d got %s", prec, p, out)
		}
	}
}

func TestRescale_Upscale(t *testing.T) {
	// 1234.56 at 6 decimals -> 8 decimals.
	out, err := Rescale(sdkmath.NewInt(1_234_560), 6, 8)
	require.NoError(t, err)
	require.Equal(t, "123456000", out.String())

	out, err = Rescale(sdkmath.NewInt(-7), 0, 38)
	require.NoError(t, err)
	require.Equal(t, "-700000000000000000000000000000000000000", out.String())
}

func TestRescale_UpscaleOverflowDetected(t *testing.T) {
	_, err := Rescale(MaxInt128, 0, 1)
	require.True(t, errors.Is(err, ErrMathOverflow), "got %v", err)

	_, err = Rescale(MinInt128, 10, 11)
	require.True(t, errors.Is(err, ErrMathOverflow), "got %v", err)

	// 2 * 10^38 does not fit.
	_, err = Rescale(sdkmath.NewInt(2), 0, 38)
	require.True(t, errors.Is(err, ErrMathOverflow), "got %v", err)
}

func TestRescale_DownscaleRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		p        int64
		from, to uint32
		want     int64
	}{
		{15, 1, 0, 2},
		{-15, 1, 0, -2},
		{14, 1, 0, 1},
		{-14, 1, 0, -1},
		{149_500_000_000, 10, 8, 1_495_000_000},
		{149_500_000_049, 10, 8, 1_495_000_000},
		{149_500_000_050, 10, 8, 1_495_000_001},
		{4, 1, 0, 0},
		{5, 1, 0, 1},
		{-5, 1, 0, -1},
	}
	for _, tc := range cases {
		out, err := Rescale(sdkmath.NewInt(tc.p), tc.from, tc.to)
		require.NoError(t, err)
		require.Equal(t, sdkmath.NewInt(tc.want).String(), out.String(), "rescale(%d,%d,%d)", tc.p, tc.from, tc.to)
	}
}

func TestRescale_DownscaleIsLossy(t *testing.T) {
	down, err := Rescale(sdkmath.NewInt(123_456_789), 8, 2)
	require.NoError(t, err)
	up, err := Rescale(down, 2, 8)
	require.NoError(t, err)
	require.Equal(t, "123000000", up.String())
}

func TestRescale_PrecisionGapTooLarge(t *testing.T) {
	_, err := Rescale(sdkmath.NewInt(1), 0, 39)
	require.True(t, errors.Is(err, ErrBadDecimals), "got %v", err)

	_, err = Rescale(sdkmath.NewInt(1), 40, 0)
	require.True(t, errors.Is(err, ErrBadDecimals), "got %v", err)
}

func TestRescale_RejectsOutOfRangeInput(t *testing.T) {
	tooBig := MaxInt128.AddRaw(1)
	_, err := Rescale(tooBig, 8, 8)
	require.True(t, errors.Is(err, ErrMathOverflow), "got %v", err)
}

func TestCompare_MixedPrecision(t *testing.T) {
	// 1.5 at 1 decimal vs 1.50 at 2 decimals.
	require.Equal(t, 0, Compare(sdkmath.NewInt(15), 1, sdkmath.NewInt(150), 2))
	require.Equal(t, 1, Compare(sdkmath.NewInt(16), 1, sdkmath.NewInt(150), 2))
	require.Equal(t, -1, Compare(sdkmath.NewInt(149), 2, sdkmath.NewInt(15), 1))
	// Raw comparison would say 100 > 2; scaled comparison says 1.00 < 2.
	require.Equal(t, -1, Compare(sdkmath.NewInt(100), 2, sdkmath.NewInt(2), 0))
	require.Equal(t, 1, Compare(MaxInt128, 0, MaxInt128, MaxPrecision))
}

func TestParseDecimal(t *testing.T) {
	p, err := ParseDecimal("500", 8)
	require.NoError(t, err)
	require.Equal(t, "50000000000", p.String())

	p, err = ParseDecimal("-0.125", 2)
	require.NoError(t, err)
	require.Equal(t, "-13", p.String())

	_, err = ParseDecimal("abc", 2)
	require.Error(t, err)

	_, err = ParseDecimal("1", 39)
	require.True(t, errors.Is(err, ErrBadDecimals), "got %v", err)

	_, err = ParseDecimal("1e40", 0)
	require.True(t, errors.Is(err, ErrMathOverflow), "got %v", err)
}

func TestFormatDecimal(t *testing.T) {
	require.Equal(t, "50000.50", FormatDecimal(sdkmath.NewInt(5_000_050), 2))
	require.Equal(t, "-0.00000001", FormatDecimal(sdkmath.NewInt(-1), 8))
	require.Equal(t, "7", FormatDecimal(sdkmath.NewInt(7), 0))
}
