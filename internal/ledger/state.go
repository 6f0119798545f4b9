package ledger

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Balance struct {
	Asset  common.Address
	Owner  common.Address
	Amount *uint256.Int
}

type Allowance struct {
	Asset   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

// State is a deterministic, sorted copy of a Memory ledger.
type State struct {
	Balances   []Balance
	Allowances []Allowance
}

// Snapshot omits zero balances and allowances.
func (m *Memory) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st State
	for asset, byOwner := range m.balances {
		for owner, v := range byOwner {
			if v.IsZero() {
				continue
			}
			st.Balances = append(st.Balances, Balance{Asset: asset, Owner: owner, Amount: v.Clone()})
		}
	}
	for key, v := range m.allowances {
		if v.IsZero() {
			continue
		}
		st.Allowances = append(st.Allowances, Allowance{Asset: key.asset, Owner: key.owner, Spender: key.spender, Amount: v.Clone()})
	}

	sort.Slice(st.Balances, func(i, j int) bool {
		a, b := st.Balances[i], st.Balances[j]
		if c := a.Asset.Cmp(b.Asset); c != 0 {
			return c < 0
		}
		return a.Owner.Cmp(b.Owner) < 0
	})
	sort.Slice(st.Allowances, func(i, j int) bool {
		a, b := st.Allowances[i], st.Allowances[j]
		if c := a.Asset.Cmp(b.Asset); c != 0 {
			return c < 0
		}
		if c := a.Owner.Cmp(b.Owner); c != 0 {
			return c < 0
		}
		return a.Spender.Cmp(b.Spender) < 0
	})
	return st
}

// Restore rebuilds a ledger from a snapshot. Supplies are recomputed from the
// balances.
func Restore(st State) (*Memory, error) {
	m := NewMemory()
	for _, b := range st.Balances {
		if b.Amount == nil {
			continue
		}
		if err := m.Mint(b.Asset, b.Owner, b.Amount); err != nil {
			return nil, fmt.Errorf("restore balance: %w", err)
		}
	}
	for _, a := range st.Allowances {
		if a.Amount == nil {
			continue
		}
		if err := m.Approve(a.Asset, a.Owner, a.Spender, a.Amount); err != nil {
			return nil, fmt.Errorf("restore allowance: %w", err)
		}
	}
	return m, nil
}
