package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"cpamm/internal/amm"
	"cpamm/internal/dex"
)

// PoolView is a deployed pool's books as seen on chain.
type PoolView struct {
	Reserves dex.PoolReserves
	BalanceA *uint256.Int
	BalanceB *uint256.Int
}

// FetchPoolView reads reserves, total liquidity and the pool's balance of
// each asset concurrently. A nil block reads the latest state.
func FetchPoolView(ctx context.Context, caller dex.ContractCaller, pool, assetA, assetB common.Address, block *big.Int) (PoolView, error) {
	var view PoolView
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reserves, err := dex.FetchPoolReserves(gctx, caller, pool, block)
		if err != nil {
			return fmt.Errorf("fetch reserves: %w", err)
		}
		view.Reserves = reserves
		return nil
	})
	g.Go(func() error {
		balance, err := dex.FetchBalance(gctx, caller, assetA, pool, block)
		if err != nil {
			return fmt.Errorf("fetch balance of asset A: %w", err)
		}
		view.BalanceA = balance
		return nil
	})
	g.Go(func() error {
		balance, err := dex.FetchBalance(gctx, caller, assetB, pool, block)
		if err != nil {
			return fmt.Errorf("fetch balance of asset B: %w", err)
		}
		view.BalanceB = balance
		return nil
	})

	if err := g.Wait(); err != nil {
		return PoolView{}, err
	}
	return view, nil
}

// Mismatch is one disagreement between local books and the chain.
type Mismatch struct {
	Field    string
	Expected string
	Actual   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: expected %s, got %s", m.Field, m.Expected, m.Actual)
}

// Reconcile compares a pool view with a local snapshot. Reserves and total
// liquidity must match exactly; balances may exceed reserves (unsolicited
// transfers are not counted as liquidity) but never fall below them.
func Reconcile(view PoolView, st amm.State) []Mismatch {
	var out []Mismatch
	exact := []struct {
		field         string
		local, remote *uint256.Int
	}{
		{"reserve_a", st.ReserveA, view.Reserves.ReserveA},
		{"reserve_b", st.ReserveB, view.Reserves.ReserveB},
		{"total_shares", st.TotalShares, view.Reserves.TotalLiquidity},
	}
	for _, c := range exact {
		if !orZero(c.local).Eq(orZero(c.remote)) {
			out = append(out, Mismatch{Field: c.field, Expected: orZero(c.local).Dec(), Actual: orZero(c.remote).Dec()})
		}
	}

	floor := []struct {
		field            string
		reserve, balance *uint256.Int
	}{
		{"balance_a", view.Reserves.ReserveA, view.BalanceA},
		{"balance_b", view.Reserves.ReserveB, view.BalanceB},
	}
	for _, c := range floor {
		if orZero(c.balance).Lt(orZero(c.reserve)) {
			out = append(out, Mismatch{Field: c.field, Expected: ">= " + orZero(c.reserve).Dec(), Actual: orZero(c.balance).Dec()})
		}
	}
	return out
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
