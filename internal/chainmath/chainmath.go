// Package chainmath implements the fixed-point arithmetic shared by NAV
// computation and the auction reset-delay formula: WAD-scaled values,
// overflow-checked 256-bit multiplication (via uint256), and the
// leverage-specific NAV/interest formulas.
package chainmath

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/blackframe-labs/levkeeper/internal/logx"
)

var log = logx.New("chainmath")

// WAD is the fixed-point scale used throughout the protocol: 10^18.
var WAD = big.NewInt(1e18)

var ErrOverflow = errors.New("chainmath: 256-bit overflow")

// LeverageType enumerates the three leveraged-token tiers. The integer
// codes match the on-wire uint8 encoding used in Mint/NetValueAdjusted
// event payloads.
type LeverageType uint8

const (
	Conservative LeverageType = 0
	Moderate     LeverageType = 1
	Aggressive   LeverageType = 2
)

func (l LeverageType) String() string {
	switch l {
	case Conservative:
		return "conservative"
	case Moderate:
		return "moderate"
	case Aggressive:
		return "aggressive"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(l))
	}
}

// ParseLeverageType validates a raw on-wire leverage code.
func ParseLeverageType(code uint8) (LeverageType, error) {
	switch LeverageType(code) {
	case Conservative, Moderate, Aggressive:
		return LeverageType(code), nil
	default:
		return 0, fmt.Errorf("chainmath: unknown leverage code %d", code)
	}
}

// InterestDivisor is the per-leverage divisor applied to accrued interest.
func (l LeverageType) InterestDivisor() int64 {
	switch l {
	case Conservative:
		return 8
	case Moderate:
		return 4
	default: // Aggressive
		return 1
	}
}

// navCoeffs returns (a, b, c) such that gross_nav = (a*current - b*mint) / (c*mint),
// all WAD-scaled, per the table in the data model: Conservative (9P_t-P0)/(8P0),
// Moderate (5P_t-P0)/(4P0), Aggressive (2P_t-P0)/(1P0).
func (l LeverageType) navCoeffs() (a, b, c int64) {
	switch l {
	case Conservative:
		return 9, 1, 8
	case Moderate:
		return 5, 1, 4
	default: // Aggressive
		return 2, 1, 1
	}
}

// CheckedMul multiplies two values using uint256's overflow-detecting
// multiplication; plain math/big has no overflow signal to check against,
// which is exactly what the protocol's arithmetic obligations require.
func CheckedMul(x, y *big.Int) (*big.Int, error) {
	if x.Sign() < 0 || y.Sign() < 0 {
		return nil, fmt.Errorf("chainmath: negative operand")
	}
	ux, overflow := uint256.FromBig(x)
	if overflow {
		return nil, fmt.Errorf("%w: operand exceeds 256 bits", ErrOverflow)
	}
	uy, overflow := uint256.FromBig(y)
	if overflow {
		return nil, fmt.Errorf("%w: operand exceeds 256 bits", ErrOverflow)
	}
	var res uint256.Int
	if res.MulOverflow(ux, uy) {
		return nil, fmt.Errorf("%w: multiplication", ErrOverflow)
	}
	return res.ToBig(), nil
}

// CheckedMulDiv computes (x*y)/denom with an overflow-checked multiplication
// and an explicit divide-by-zero check; denom == 0 is an error, not a panic.
func CheckedMulDiv(x, y, denom *big.Int) (*big.Int, error) {
	if denom.Sign() == 0 {
		return nil, fmt.Errorf("chainmath: division by zero")
	}
	prod, err := CheckedMul(x, y)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Div(prod, denom), nil
}

// GrossNAV computes the leverage-specific NAV formula, WAD-scaled:
// (a*current - b*mint) / (c*mint). Returns an error if mint is zero
// (callers must apply invariant I5 — exclude mint_price==0 positions —
// before calling this).
func GrossNAV(leverage LeverageType, currentPrice, mintPrice *big.Int) (*big.Int, error) {
	if mintPrice.Sign() == 0 {
		return nil, fmt.Errorf("chainmath: mint price is zero")
	}
	a, b, c := leverage.navCoeffs()

	aCurrent, err := CheckedMul(currentPrice, big.NewInt(a))
	if err != nil {
		return nil, fmt.Errorf("a*current: %w", err)
	}
	bMint, err := CheckedMul(mintPrice, big.NewInt(b))
	if err != nil {
		return nil, fmt.Errorf("b*mint: %w", err)
	}
	numerator := new(big.Int).Sub(aCurrent, bMint)
	if numerator.Sign() < 0 {
		numerator = big.NewInt(0)
	}
	numerator.Mul(numerator, WAD)

	denom := new(big.Int).Mul(mintPrice, big.NewInt(c))
	if denom.Sign() == 0 {
		return nil, fmt.Errorf("chainmath: zero denominator")
	}
	return new(big.Int).Div(numerator, denom), nil
}

// AccruedInterest computes amount*rateBps*elapsedSecs / (10000*secondsPerYear),
// then divides by the leverage's interest divisor. Overflow in the checked
// multiplication is reported via the returned error rather than wrapping;
// callers treat a non-nil error the way spec'd — as new_interest=0, logged.
func AccruedInterest(leverage LeverageType, amount *big.Int, rateBps int64, elapsedSecs int64) (*big.Int, error) {
	if elapsedSecs <= 0 || rateBps <= 0 || amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	const secondsPerYear = 31536000

	step, err := CheckedMul(amount, big.NewInt(rateBps))
	if err != nil {
		return nil, fmt.Errorf("amount*rate: %w", err)
	}
	step, err = CheckedMul(step, big.NewInt(elapsedSecs))
	if err != nil {
		return nil, fmt.Errorf("*elapsed: %w", err)
	}
	denom := big.NewInt(10000 * secondsPerYear)
	beforeDivisor := new(big.Int).Div(step, denom)
	return new(big.Int).Div(beforeDivisor, big.NewInt(leverage.InterestDivisor())), nil
}

// NetNAV carries the derived values of one position's liquidation
// scan, per spec step 3.
type NetNAV struct {
	GrossNAV   *big.Int
	NewInterest *big.Int
	Accrued    *big.Int
	TotalValue *big.Int
	NetValue   *big.Int
	NetNAV     *big.Int
}

// ComputeNetNAV folds GrossNAV, AccruedInterest and the total/net value
// derivation into the single per-position computation the liquidation
// loop performs every tick.
func ComputeNetNAV(leverage LeverageType, amount, mintPrice, currentPrice, totalInterest *big.Int, rateBps, elapsedSecs int64) (*NetNAV, error) {
	gross, err := GrossNAV(leverage, currentPrice, mintPrice)
	if err != nil {
		return nil, err
	}

	newInterest, err := AccruedInterest(leverage, amount, rateBps, elapsedSecs)
	if err != nil {
		// overflow in interest calc: treat this period's new interest as zero
		// rather than failing the whole NAV computation.
		log.Warn("interest calculation failed, treating new interest as zero: %v", err)
		newInterest = big.NewInt(0)
	}

	accrued := new(big.Int).Add(totalInterest, newInterest)

	totalValue, err := CheckedMulDiv(amount, gross, WAD)
	if err != nil {
		return nil, fmt.Errorf("total_value: %w", err)
	}

	netValue := big.NewInt(0)
	netNAV := big.NewInt(0)
	if totalValue.Cmp(accrued) >= 0 {
		netValue = new(big.Int).Sub(totalValue, accrued)
		if amount.Sign() != 0 {
			netNAV, err = CheckedMulDiv(netValue, WAD, amount)
			if err != nil {
				return nil, fmt.Errorf("net_nav: %w", err)
			}
		}
	}

	return &NetNAV{
		GrossNAV:    gross,
		NewInterest: newInterest,
		Accrued:     accrued,
		TotalValue:  totalValue,
		NetValue:    netValue,
		NetNAV:      netNAV,
	}, nil
}

// ResetDelay computes the Dutch-auction reset delay from the linear price
// decay model:
//
//	target    = startingPrice * priceDropThreshold / WAD
//	remaining = target * resetTime / startingPrice
//	elapsed   = resetTime - remaining, clamped to [0, resetTime]
//
// Edge cases all collapse to an immediate (zero) delay: startingPrice==0,
// resetTime==0, or target>=startingPrice.
func ResetDelay(startingPrice, priceDropThreshold *big.Int, resetTimeSecs int64) (int64, error) {
	if startingPrice.Sign() == 0 || resetTimeSecs <= 0 {
		return 0, nil
	}
	target, err := CheckedMulDiv(startingPrice, priceDropThreshold, WAD)
	if err != nil {
		return 0, fmt.Errorf("target: %w", err)
	}
	if target.Cmp(startingPrice) >= 0 {
		return 0, nil
	}
	resetTime := big.NewInt(resetTimeSecs)
	remaining, err := CheckedMulDiv(target, resetTime, startingPrice)
	if err != nil {
		return 0, fmt.Errorf("remaining: %w", err)
	}
	elapsed := new(big.Int).Sub(resetTime, remaining)
	if elapsed.Sign() < 0 {
		return 0, nil
	}
	if elapsed.Cmp(resetTime) > 0 {
		elapsed = resetTime
	}
	return elapsed.Int64(), nil
}
