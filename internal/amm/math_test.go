package amm

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"pgregory.net/rapid"
)

func TestSqrt(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	maxRoot := new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

	cases := []struct {
		in   *uint256.Int
		want *uint256.Int
	}{
		{uint256.NewInt(0), uint256.NewInt(0)},
		{uint256.NewInt(1), uint256.NewInt(1)},
		{uint256.NewInt(2), uint256.NewInt(1)},
		{uint256.NewInt(3), uint256.NewInt(1)},
		{uint256.NewInt(4), uint256.NewInt(2)},
		{uint256.NewInt(8), uint256.NewInt(2)},
		{uint256.NewInt(9), uint256.NewInt(3)},
		{uint256.NewInt(20000), uint256.NewInt(141)},
		{uint256.NewInt(1 << 62), uint256.NewInt(1 << 31)},
		{max, maxRoot},
	}
	for _, tc := range cases {
		if got := Sqrt(tc.in); !got.Eq(tc.want) {
			t.Fatalf("sqrt(%s) = %s, want %s", tc.in.Dec(), got.Dec(), tc.want.Dec())
		}
	}
	if got := Sqrt(nil); !got.IsZero() {
		t.Fatalf("sqrt(nil) = %s", got.Dec())
	}
}

func TestSqrtDoesNotModifyInput(t *testing.T) {
	x := uint256.NewInt(1000001)
	Sqrt(x)
	if x.Uint64() != 1000001 {
		t.Fatalf("input modified: %s", x.Dec())
	}
}

func drawUint256(t *rapid.T, label string) *uint256.Int {
	limbs := rapid.SliceOfN(rapid.Uint64(), 4, 4).Draw(t, label)
	// Bias towards smaller magnitudes as well as full-width values.
	width := rapid.IntRange(1, 4).Draw(t, label+"-width")
	x := new(uint256.Int)
	for i := 0; i < width; i++ {
		x[i] = limbs[i]
	}
	return x
}

func TestSqrtMatchesBigInt(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := drawUint256(t, "x")
		want := new(big.Int).Sqrt(x.ToBig())
		if got := Sqrt(x); got.ToBig().Cmp(want) != 0 {
			t.Fatalf("sqrt(%s) = %s, want %s", x.Dec(), got.Dec(), want.String())
		}
	})
}

func TestSqrtPerfectSquareAndMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Uint64().Draw(t, "n")
		sq := new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(n))
		if got := Sqrt(sq); got.Uint64() != n || !got.IsUint64() {
			t.Fatalf("sqrt(%d^2) = %s", n, got.Dec())
		}

		a := drawUint256(t, "a")
		b := drawUint256(t, "b")
		if b.Lt(a) {
			a, b = b, a
		}
		if Sqrt(b).Lt(Sqrt(a)) {
			t.Fatalf("sqrt not monotonic between %s and %s", a.Dec(), b.Dec())
		}
	})
}

func TestMulDivOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := mulDiv(max, uint256.NewInt(2), uint256.NewInt(2), "test"); err == nil {
		t.Fatalf("expected overflow")
	}
	got, err := mulDiv(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2), "test")
	if err != nil {
		t.Fatalf("mulDiv: %v", err)
	}
	if got.Uint64() != 10 {
		t.Fatalf("mulDiv mismatch: %s", got.Dec())
	}
}
