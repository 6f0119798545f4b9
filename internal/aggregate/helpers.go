package aggregate

import (
	"math/big"
	"time"
)

const ratioScale = 18

var yearSeconds = int64(365 * 24 * time.Hour / time.Second)

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	text := new(big.Rat).SetFrac(abs, denom).FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

// computePrice mirrors the pool's integer price: reserveB*scale/reserveA,
// nil while the pool is empty.
func computePrice(reserveA, reserveB, scale *big.Int) *string {
	if reserveA == nil || reserveA.Sign() == 0 || reserveB == nil {
		return nil
	}
	if scale == nil || scale.Sign() == 0 {
		scale = big.NewInt(1)
	}
	price := new(big.Int).Mul(reserveB, scale)
	price.Quo(price, reserveA)
	text := price.String()
	return &text
}

func computeFeeRates(feeA, feeB, reserveA, reserveB *big.Int) (*string, *string) {
	var rateA, rateB *string
	if rate := computeRateFromInt(feeA, reserveA); rate != "" {
		rateA = &rate
	}
	if rate := computeRateFromInt(feeB, reserveB); rate != "" {
		rateB = &rate
	}
	return rateA, rateB
}

func computeRateFromInt(fee, reserve *big.Int) string {
	if fee == nil || fee.Sign() == 0 || reserve == nil || reserve.Sign() == 0 {
		return ""
	}
	return new(big.Rat).SetFrac(fee, reserve).FloatString(ratioScale)
}

// computeAPR annualizes the window's fee yield. A constant-product pool holds
// equal value on both sides, so the yield on the whole pool is the mean of the
// per-side fee rates.
func computeAPR(rateA, rateB *string, windowSeconds uint64) *string {
	if windowSeconds == 0 || (rateA == nil && rateB == nil) {
		return nil
	}

	sum := new(big.Rat)
	for _, rate := range []*string{rateA, rateB} {
		if rate == nil {
			continue
		}
		r, ok := new(big.Rat).SetString(*rate)
		if !ok {
			return nil
		}
		sum.Add(sum, r)
	}

	apr := sum.Quo(sum, big.NewRat(2, 1))
	apr.Mul(apr, big.NewRat(yearSeconds, 1))
	apr.Quo(apr, big.NewRat(int64(windowSeconds), 1))
	val := apr.FloatString(ratioScale)
	return &val
}

func windowStart(ts, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}
