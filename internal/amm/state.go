package amm

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is a point-in-time copy of a pool's books.
type State struct {
	ReserveA    *uint256.Int
	ReserveB    *uint256.Int
	TotalShares *uint256.Int
	Shares      map[common.Address]*uint256.Int
	// Seq is the sequence number of the last emitted event.
	Seq uint64
}

// Providers returns the holders with a recorded share balance, sorted by
// address.
func (s State) Providers() []common.Address {
	out := make([]common.Address, 0, len(s.Shares))
	for addr := range s.Shares {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// Snapshot returns a consistent copy of the pool state.
func (p *Pool) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := State{
		ReserveA:    p.reserveA.Clone(),
		ReserveB:    p.reserveB.Clone(),
		TotalShares: p.totalShares.Clone(),
		Shares:      make(map[common.Address]*uint256.Int, len(p.shares)),
		Seq:         p.seq,
	}
	for addr, v := range p.shares {
		st.Shares[addr] = v.Clone()
	}
	return st
}

// CheckInvariants verifies that an empty pool is fully empty, a non-empty pool
// has positive reserves and shares, and provider shares sum to TotalShares.
func CheckInvariants(st State) error {
	reserveA, reserveB, total := clone(st.ReserveA), clone(st.ReserveB), clone(st.TotalShares)
	if reserveA.IsZero() != reserveB.IsZero() || reserveA.IsZero() != total.IsZero() {
		return fmt.Errorf("%w: reserves %s:%s with %s shares outstanding",
			ErrInvalidState, reserveA.Dec(), reserveB.Dec(), total.Dec())
	}

	sum := new(uint256.Int)
	for addr, v := range st.Shares {
		if v == nil {
			continue
		}
		var overflow bool
		if sum, overflow = sum.AddOverflow(sum, v); overflow {
			return fmt.Errorf("%w: share sum overflows at %s", ErrInvalidState, addr.Hex())
		}
	}
	if !sum.Eq(total) {
		return fmt.Errorf("%w: provider shares sum to %s, total is %s", ErrInvalidState, sum.Dec(), total.Dec())
	}
	return nil
}

// Restore rebuilds a pool from a snapshot taken by Snapshot.
func Restore(cfg Config, st State, ledger Ledger, sink EventSink) (*Pool, error) {
	if err := CheckInvariants(st); err != nil {
		return nil, err
	}
	p, err := New(cfg, ledger, sink)
	if err != nil {
		return nil, err
	}
	p.reserveA = clone(st.ReserveA)
	p.reserveB = clone(st.ReserveB)
	p.totalShares = clone(st.TotalShares)
	for addr, v := range st.Shares {
		if v == nil {
			continue
		}
		p.shares[addr] = v.Clone()
	}
	p.seq = st.Seq
	return p, nil
}
