package amm

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Sqrt returns floor(sqrt(x)) using the Babylonian method.
//
// Sqrt(0) == 0, Sqrt(n*n) == n, and the result is monotonic in x. The input is
// not modified.
func Sqrt(x *uint256.Int) *uint256.Int {
	z := new(uint256.Int)
	if x == nil || x.IsZero() {
		return z
	}
	if x.LtUint64(4) {
		return z.SetOne()
	}

	z.Set(x)
	y := new(uint256.Int).Rsh(x, 1)
	y.AddUint64(y, 1)
	q := new(uint256.Int)
	for y.Lt(z) {
		z.Set(y)
		q.Div(x, y)
		y.Add(q, y)
		y.Rsh(y, 1)
	}
	return z
}

func mul(x, y *uint256.Int, what string) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s (%s * %s)", ErrOverflow, what, x.Dec(), y.Dec())
	}
	return z, nil
}

func add(x, y *uint256.Int, what string) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s (%s + %s)", ErrOverflow, what, x.Dec(), y.Dec())
	}
	return z, nil
}

// mulDiv returns floor(x*y/d). d must be non-zero.
func mulDiv(x, y, d *uint256.Int, what string) (*uint256.Int, error) {
	p, err := mul(x, y, what)
	if err != nil {
		return nil, err
	}
	return p.Div(p, d), nil
}

func isZero(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}

func clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}
