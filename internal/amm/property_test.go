package amm_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rapid"

	"cpamm/internal/amm"
	"cpamm/internal/ledger"
)

func product(a, b *uint256.Int) *big.Int {
	return new(big.Int).Mul(a.ToBig(), b.ToBig())
}

func TestPropertyOperationSequences(t *testing.T) {
	actors := []common.Address{alice, bob, carol}

	rapid.Check(t, func(t *rapid.T) {
		l := ledger.NewMemory()
		fund(t, l, 1<<60, actors...)
		pool, err := amm.New(testConfig(), l, nil)
		if err != nil {
			t.Fatalf("new pool: %v", err)
		}
		ctx := context.Background()

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			who := rapid.SampledFrom(actors).Draw(t, "actor")
			amount := u(rapid.Uint64Range(1, 1<<40).Draw(t, "amount"))
			before := pool.Snapshot()

			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				b := amount
				if !before.TotalShares.IsZero() {
					// Scale to the current ratio so most deposits are accepted.
					b = new(uint256.Int).Div(new(uint256.Int).Mul(amount, before.ReserveB), before.ReserveA)
				}
				_, err = pool.AddLiquidity(ctx, who, amount, b)
			case 1:
				owned := pool.SharesOf(who)
				if !owned.IsZero() {
					amount = new(uint256.Int).Add(new(uint256.Int).Mod(amount, owned), u(1))
				}
				_, _, err = pool.RemoveLiquidity(ctx, who, amount)
			case 2:
				_, err = pool.SwapAForB(ctx, who, amount)
			case 3:
				_, err = pool.SwapBForA(ctx, who, amount)
			}

			after := pool.Snapshot()
			if err != nil {
				if errors.Is(err, amm.ErrTransferFailed) || errors.Is(err, amm.ErrOverflow) {
					t.Fatalf("unexpected failure: %v", err)
				}
				if !equalState(before, after) {
					t.Fatalf("rejected operation changed state: %v", err)
				}
			}
			if ierr := amm.CheckInvariants(after); ierr != nil {
				t.Fatalf("invariant broken after step %d: %v", i, ierr)
			}
		}
	})
}

func TestPropertySwapNeverDecreasesProduct(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := ledger.NewMemory()
		fund(t, l, 1<<62, alice, bob)
		pool, err := amm.New(testConfig(), l, nil)
		if err != nil {
			t.Fatalf("new pool: %v", err)
		}
		ctx := context.Background()

		a := rapid.Uint64Range(1_000, 1<<50).Draw(t, "reserveA")
		b := rapid.Uint64Range(1_000, 1<<50).Draw(t, "reserveB")
		if _, err := pool.AddLiquidity(ctx, alice, u(a), u(b)); err != nil {
			t.Fatalf("bootstrap: %v", err)
		}

		for i := 0; i < 10; i++ {
			in := u(rapid.Uint64Range(1, 1<<50).Draw(t, "amountIn"))
			ra, rb := pool.Reserves()
			k := product(ra, rb)

			if rapid.Bool().Draw(t, "aForB") {
				_, err = pool.SwapAForB(ctx, bob, in)
			} else {
				_, err = pool.SwapBForA(ctx, bob, in)
			}
			if err != nil && !errors.Is(err, amm.ErrInsufficientOutputAmount) {
				t.Fatalf("swap: %v", err)
			}

			ra, rb = pool.Reserves()
			if product(ra, rb).Cmp(k) < 0 {
				t.Fatalf("product decreased from %s to %s", k, product(ra, rb))
			}
		}
	})
}

func TestPropertyRoundTripNeverReturnsMore(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := ledger.NewMemory()
		fund(t, l, 1<<62, alice, bob)
		pool, err := amm.New(testConfig(), l, nil)
		if err != nil {
			t.Fatalf("new pool: %v", err)
		}
		ctx := context.Background()

		ra := rapid.Uint64Range(1, 1<<40).Draw(t, "reserveA")
		rb := rapid.Uint64Range(1, 1<<40).Draw(t, "reserveB")
		if _, err := pool.AddLiquidity(ctx, alice, u(ra), u(rb)); err != nil {
			t.Fatalf("bootstrap: %v", err)
		}
		if rapid.Bool().Draw(t, "swapFirst") {
			_, _ = pool.SwapAForB(ctx, alice, u(rapid.Uint64Range(1, 1<<40).Draw(t, "swap")))
		}

		resA, resB := pool.Reserves()
		g := new(big.Int).GCD(nil, nil, resA.ToBig(), resB.ToBig())
		k := rapid.Uint64Range(1, 1<<10).Draw(t, "k")
		depA := new(big.Int).Mul(new(big.Int).Quo(resA.ToBig(), g), new(big.Int).SetUint64(k))
		depB := new(big.Int).Mul(new(big.Int).Quo(resB.ToBig(), g), new(big.Int).SetUint64(k))
		amountA, _ := uint256.FromBig(depA)
		amountB, _ := uint256.FromBig(depB)

		shares, err := pool.AddLiquidity(ctx, bob, amountA, amountB)
		if errors.Is(err, amm.ErrInsufficientSharesMinted) {
			return
		}
		if err != nil {
			t.Fatalf("deposit %s:%s: %v", amountA.Dec(), amountB.Dec(), err)
		}
		outA, outB, err := pool.RemoveLiquidity(ctx, bob, shares)
		if err != nil {
			t.Fatalf("withdraw: %v", err)
		}
		if amountA.Lt(outA) || amountB.Lt(outB) {
			t.Fatalf("round trip returned %s:%s for %s:%s", outA.Dec(), outB.Dec(), amountA.Dec(), amountB.Dec())
		}
	})
}

func TestPropertyQuoteIsPure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := u(rapid.Uint64().Draw(t, "in"))
		rin := u(rapid.Uint64().Draw(t, "reserveIn"))
		rout := u(rapid.Uint64().Draw(t, "reserveOut"))

		first, err1 := amm.QuoteOutput(in, rin, rout, amm.DefaultFee)
		second, err2 := amm.QuoteOutput(in, rin, rout, amm.DefaultFee)
		if (err1 == nil) != (err2 == nil) {
			t.Fatalf("quote errors differ: %v vs %v", err1, err2)
		}
		if err1 == nil && (!first.Eq(second) || !first.Lt(rout)) {
			t.Fatalf("quote mismatch: %s vs %s (reserve %s)", first.Dec(), second.Dec(), rout.Dec())
		}
	})
}

func equalState(a, b amm.State) bool {
	if !a.ReserveA.Eq(b.ReserveA) || !a.ReserveB.Eq(b.ReserveB) || !a.TotalShares.Eq(b.TotalShares) || a.Seq != b.Seq {
		return false
	}
	for _, addr := range a.Providers() {
		if !a.Shares[addr].Eq(sharesOr0(b, addr)) {
			return false
		}
	}
	return len(a.Shares) == len(b.Shares)
}

func sharesOr0(st amm.State, addr common.Address) *uint256.Int {
	if v, ok := st.Shares[addr]; ok {
		return v
	}
	return new(uint256.Int)
}
