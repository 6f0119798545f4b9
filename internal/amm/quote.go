package amm

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Fee is the fraction of a swap input that is kept for the trade, expressed as
// Numerator/Denominator. 997/1000 keeps 99.7% of the input and charges 0.3%.
type Fee struct {
	Numerator   uint64
	Denominator uint64
}

// DefaultFee is the 0.3% trading fee.
var DefaultFee = Fee{Numerator: 997, Denominator: 1000}

// Validate checks 0 < Numerator <= Denominator.
func (f Fee) Validate() error {
	if f.Denominator == 0 {
		return fmt.Errorf("%w: fee denominator is zero", ErrInvalidConfiguration)
	}
	if f.Numerator == 0 || f.Numerator > f.Denominator {
		return fmt.Errorf("%w: fee numerator %d outside (0, %d]", ErrInvalidConfiguration, f.Numerator, f.Denominator)
	}
	return nil
}

// Charged returns the part of amountIn retained by the pool as fee, rounded
// down, in units of the input asset.
func (f Fee) Charged(amountIn *uint256.Int) *uint256.Int {
	if isZero(amountIn) || f.Denominator == 0 || f.Numerator >= f.Denominator {
		return new(uint256.Int)
	}
	fee, overflow := new(uint256.Int).MulOverflow(amountIn, uint256.NewInt(f.Denominator-f.Numerator))
	if overflow {
		// amountIn/den*(den-num) loses precision but cannot overflow.
		fee = new(uint256.Int).Div(amountIn, uint256.NewInt(f.Denominator))
		return fee.Mul(fee, uint256.NewInt(f.Denominator-f.Numerator))
	}
	return fee.Div(fee, uint256.NewInt(f.Denominator))
}

func (f Fee) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

// QuoteOutput returns the output amount for trading amountIn against the given
// reserves with the constant-product formula after deducting the fee:
//
//	amountInAfterFee = amountIn * num
//	amountOut = amountInAfterFee * reserveOut / (reserveIn * den + amountInAfterFee)
//
// It has no side effects. The quote may be zero for dust inputs; it is never
// greater than or equal to reserveOut.
func QuoteOutput(amountIn, reserveIn, reserveOut *uint256.Int, fee Fee) (*uint256.Int, error) {
	if isZero(amountIn) {
		return nil, fmt.Errorf("%w: insufficient input amount", ErrInvalidAmount)
	}
	if isZero(reserveIn) || isZero(reserveOut) {
		return nil, fmt.Errorf("%w: reserves must be non-zero", ErrInsufficientLiquidity)
	}
	if err := fee.Validate(); err != nil {
		return nil, err
	}

	inAfterFee, err := mul(amountIn, uint256.NewInt(fee.Numerator), "input after fee")
	if err != nil {
		return nil, err
	}
	numerator, err := mul(inAfterFee, reserveOut, "quote numerator")
	if err != nil {
		return nil, err
	}
	denominator, err := mul(reserveIn, uint256.NewInt(fee.Denominator), "quote denominator")
	if err != nil {
		return nil, err
	}
	denominator, err = add(denominator, inAfterFee, "quote denominator")
	if err != nil {
		return nil, err
	}

	amountOut := numerator.Div(numerator, denominator)
	// Defensive bound: a validated fee (num <= den) keeps amountOut below reserveOut.
	if !amountOut.Lt(reserveOut) {
		return nil, fmt.Errorf("%w: output %s would drain reserve %s", ErrInsufficientOutputLiquidity, amountOut.Dec(), reserveOut.Dec())
	}
	return amountOut, nil
}
