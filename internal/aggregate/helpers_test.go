package aggregate

import (
	"math/big"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestFormatTokenAmount(t *testing.T) {
	cases := []struct {
		value    *big.Int
		decimals uint8
		want     string
	}{
		{value: nil, decimals: 18, want: "0"},
		{value: big.NewInt(1234), decimals: 0, want: "1234"},
		{value: big.NewInt(1234), decimals: 3, want: "1.234"},
		{value: big.NewInt(-5), decimals: 2, want: "-0.05"},
	}
	for _, tc := range cases {
		if got := formatTokenAmount(tc.value, tc.decimals); got != tc.want {
			t.Fatalf("format %v/%d: got %s want %s", tc.value, tc.decimals, got, tc.want)
		}
	}
}

func TestComputePrice(t *testing.T) {
	if computePrice(big.NewInt(0), big.NewInt(10), nil) != nil {
		t.Fatalf("empty pool must have no price")
	}
	if got := computePrice(big.NewInt(100), big.NewInt(250), big.NewInt(1000)); got == nil || *got != "2500" {
		t.Fatalf("scaled price mismatch: %v", got)
	}
}

func TestComputeAPR(t *testing.T) {
	year := uint64(yearSeconds)
	if got := computeAPR(strPtr("0.01"), nil, year); got == nil || *got != "0.005000000000000000" {
		t.Fatalf("single side apr mismatch: %v", got)
	}
	if got := computeAPR(strPtr("0.01"), strPtr("0.03"), year); got == nil || *got != "0.020000000000000000" {
		t.Fatalf("two side apr mismatch: %v", got)
	}
	if got := computeAPR(strPtr("0.01"), nil, year/365); got == nil || *got != "1.825000000000000000" {
		t.Fatalf("daily apr mismatch: %v", got)
	}
	if computeAPR(nil, nil, year) != nil || computeAPR(strPtr("0.1"), nil, 0) != nil {
		t.Fatalf("expected nil apr")
	}
}

func TestComputeFeeRates(t *testing.T) {
	rateA, rateB := computeFeeRates(big.NewInt(3), big.NewInt(0), big.NewInt(1000), big.NewInt(2000))
	if rateA == nil || *rateA != "0.003000000000000000" || rateB != nil {
		t.Fatalf("fee rates mismatch: %v %v", rateA, rateB)
	}
}
