package chainmath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckedMulOverflow(t *testing.T) {
	maxUint256 := new(big.Int).Lsh(big.NewInt(1), 256)
	maxUint256.Sub(maxUint256, big.NewInt(1))

	_, err := CheckedMul(maxUint256, big.NewInt(2))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestCheckedMulHappyPath(t *testing.T) {
	res, err := CheckedMul(big.NewInt(6), big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, int64(42), res.Int64())
}

func TestCheckedMulDivByZero(t *testing.T) {
	_, err := CheckedMulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0))
	require.Error(t, err)
}

func TestGrossNAVZeroMintPrice(t *testing.T) {
	_, err := GrossNAV(Conservative, big.NewInt(1), big.NewInt(0))
	require.Error(t, err)
}

// TestGrossNAVConservative exercises the (9*current - mint)/(8*mint)
// formula at price parity: net result should be WAD (1.0).
func TestGrossNAVConservative(t *testing.T) {
	mint := big.NewInt(1e9)
	current := big.NewInt(1e9)
	nav, err := GrossNAV(Conservative, current, mint)
	require.NoError(t, err)
	require.Equal(t, WAD.String(), nav.String())
}

func TestGrossNAVClampsNegativeNumerator(t *testing.T) {
	mint := big.NewInt(1000)
	current := big.NewInt(1) // far below mint, numerator goes negative
	nav, err := GrossNAV(Aggressive, current, mint)
	require.NoError(t, err)
	require.Equal(t, int64(0), nav.Int64())
}

func TestAccruedInterestZeroWhenElapsedNonPositive(t *testing.T) {
	interest, err := AccruedInterest(Conservative, big.NewInt(1000), 500, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), interest.Int64())
}

func TestAccruedInterestDivisorByLeverage(t *testing.T) {
	amount := big.NewInt(8_000_000_000)
	rateBps := int64(10000) // 100% APR
	elapsed := int64(31536000)

	conservative, err := AccruedInterest(Conservative, amount, rateBps, elapsed)
	require.NoError(t, err)
	aggressive, err := AccruedInterest(Aggressive, amount, rateBps, elapsed)
	require.NoError(t, err)

	// Conservative divides by 8, aggressive by 1: aggressive should be
	// exactly 8x conservative for identical inputs.
	expected := new(big.Int).Mul(conservative, big.NewInt(8))
	require.Equal(t, expected.String(), aggressive.String())
}

func TestComputeNetNAVBelowAccruedYieldsZero(t *testing.T) {
	nav, err := ComputeNetNAV(Conservative, big.NewInt(1000), big.NewInt(1e9), big.NewInt(1), big.NewInt(1_000_000_000_000), 100, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(0), nav.NetNAV.Int64())
	require.Equal(t, int64(0), nav.NetValue.Int64())
}

func TestResetDelayZeroStartingPrice(t *testing.T) {
	delay, err := ResetDelay(big.NewInt(0), big.NewInt(500), 3600)
	require.NoError(t, err)
	require.Equal(t, int64(0), delay)
}

func TestResetDelayZeroResetTime(t *testing.T) {
	delay, err := ResetDelay(big.NewInt(1000), big.NewInt(500), 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), delay)
}

func TestResetDelayTargetAtOrAboveStarting(t *testing.T) {
	// priceDropThreshold == WAD means target == startingPrice exactly.
	delay, err := ResetDelay(big.NewInt(1000), WAD, 3600)
	require.NoError(t, err)
	require.Equal(t, int64(0), delay)
}

func TestResetDelayPositiveCase(t *testing.T) {
	startingPrice := big.NewInt(1000)
	priceDropThreshold := big.NewInt(5e17) // 50% of WAD
	resetTime := int64(3600)

	delay, err := ResetDelay(startingPrice, priceDropThreshold, resetTime)
	require.NoError(t, err)
	// target = 500, remaining = 500*3600/1000 = 1800, elapsed = 1800
	require.Equal(t, int64(1800), delay)
}

func TestParseLeverageType(t *testing.T) {
	lt, err := ParseLeverageType(1)
	require.NoError(t, err)
	require.Equal(t, Moderate, lt)

	_, err = ParseLeverageType(9)
	require.Error(t, err)
}

func TestLeverageTypeString(t *testing.T) {
	require.Equal(t, "conservative", Conservative.String())
	require.Equal(t, "moderate", Moderate.String())
	require.Equal(t, "aggressive", Aggressive.String())
}
