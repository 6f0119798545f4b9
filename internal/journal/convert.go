package journal

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cpamm/internal/amm"
	"cpamm/internal/ledger"
	"cpamm/internal/model"
)

// PoolStateToModel renders a pool snapshot with decimal amounts.
func PoolStateToModel(pool string, st amm.State) model.PoolState {
	out := model.PoolState{
		Address:     pool,
		ReserveA:    dec(st.ReserveA),
		ReserveB:    dec(st.ReserveB),
		TotalShares: dec(st.TotalShares),
		Seq:         st.Seq,
		Shares:      make([]model.ShareBalance, 0, len(st.Shares)),
	}
	for _, provider := range st.Providers() {
		out.Shares = append(out.Shares, model.ShareBalance{
			Provider: provider.Hex(),
			Shares:   dec(st.Shares[provider]),
		})
	}
	return out
}

// PoolStateFromModel parses a persisted pool snapshot. Invariants are checked
// later by amm.Restore.
func PoolStateFromModel(in model.PoolState) (amm.State, error) {
	var (
		st  amm.State
		err error
	)
	if st.ReserveA, err = ParseAmount("reserve_a", in.ReserveA); err != nil {
		return amm.State{}, err
	}
	if st.ReserveB, err = ParseAmount("reserve_b", in.ReserveB); err != nil {
		return amm.State{}, err
	}
	if st.TotalShares, err = ParseAmount("total_shares", in.TotalShares); err != nil {
		return amm.State{}, err
	}
	st.Seq = in.Seq
	st.Shares = make(map[common.Address]*uint256.Int, len(in.Shares))
	for _, s := range in.Shares {
		provider, err := ParseAddress("provider", s.Provider)
		if err != nil {
			return amm.State{}, err
		}
		if _, dup := st.Shares[provider]; dup {
			return amm.State{}, fmt.Errorf("%w: duplicate provider %s", ErrInvalidOperation, provider.Hex())
		}
		if st.Shares[provider], err = ParseAmount("shares", s.Shares); err != nil {
			return amm.State{}, err
		}
	}
	return st, nil
}

func LedgerStateToModel(st ledger.State) model.LedgerState {
	out := model.LedgerState{
		Balances: make([]model.LedgerBalance, 0, len(st.Balances)),
	}
	for _, b := range st.Balances {
		out.Balances = append(out.Balances, model.LedgerBalance{
			Asset:  b.Asset.Hex(),
			Owner:  b.Owner.Hex(),
			Amount: dec(b.Amount),
		})
	}
	for _, a := range st.Allowances {
		out.Allowances = append(out.Allowances, model.LedgerAllowance{
			Asset:   a.Asset.Hex(),
			Owner:   a.Owner.Hex(),
			Spender: a.Spender.Hex(),
			Amount:  dec(a.Amount),
		})
	}
	return out
}

func LedgerStateFromModel(in model.LedgerState) (ledger.State, error) {
	var st ledger.State
	for _, b := range in.Balances {
		asset, err := ParseAddress("asset", b.Asset)
		if err != nil {
			return ledger.State{}, err
		}
		owner, err := ParseAddress("owner", b.Owner)
		if err != nil {
			return ledger.State{}, err
		}
		amount, err := ParseAmount("amount", b.Amount)
		if err != nil {
			return ledger.State{}, err
		}
		st.Balances = append(st.Balances, ledger.Balance{Asset: asset, Owner: owner, Amount: amount})
	}
	for _, a := range in.Allowances {
		asset, err := ParseAddress("asset", a.Asset)
		if err != nil {
			return ledger.State{}, err
		}
		owner, err := ParseAddress("owner", a.Owner)
		if err != nil {
			return ledger.State{}, err
		}
		spender, err := ParseAddress("spender", a.Spender)
		if err != nil {
			return ledger.State{}, err
		}
		amount, err := ParseAmount("amount", a.Amount)
		if err != nil {
			return ledger.State{}, err
		}
		st.Allowances = append(st.Allowances, ledger.Allowance{Asset: asset, Owner: owner, Spender: spender, Amount: amount})
	}
	return st, nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
