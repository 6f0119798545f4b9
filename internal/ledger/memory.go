// Package ledger provides an in-memory multi-asset fungible ledger with
// ERC20-style allowance semantics.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrSupplyOverflow        = errors.New("supply overflow")
)

var maxAllowance = new(uint256.Int).SetAllOne()

type allowanceKey struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// Memory keeps balances per asset and owner. The zero value is not usable;
// call NewMemory.
type Memory struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*uint256.Int
	supply     map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		supply:     make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

// Mint credits amount of asset to owner.
func (m *Memory) Mint(asset, to common.Address, amount *uint256.Int) error {
	if asset == (common.Address{}) || to == (common.Address{}) {
		return fmt.Errorf("mint: %w", ErrInvalidAddress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(m.supplyOf(asset), amount)
	if overflow {
		return fmt.Errorf("mint %s: %w", asset.Hex(), ErrSupplyOverflow)
	}
	m.supply[asset] = supply
	// Cannot overflow: every balance is bounded by supply.
	m.setBalance(asset, to, new(uint256.Int).Add(m.balance(asset, to), amount))
	return nil
}

// Approve sets spender's allowance over owner's asset. The maximum value is
// never decremented.
func (m *Memory) Approve(asset, owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return fmt.Errorf("approve: %w", ErrInvalidAddress)
	}
	m.mu.Lock()
	m.allowances[allowanceKey{asset, owner, spender}] = amount.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Memory) Allowance(asset, owner, spender common.Address) *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.allowances[allowanceKey{asset, owner, spender}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (m *Memory) TransferFrom(ctx context.Context, asset, spender, owner, recipient common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("transferFrom: %w", ErrInvalidAddress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := allowanceKey{asset, owner, spender}
	allowed := m.allowances[key]
	if allowed == nil || allowed.Lt(amount) {
		return fmt.Errorf("transferFrom %s by %s: %w", owner.Hex(), spender.Hex(), ErrInsufficientAllowance)
	}
	if err := m.move(asset, owner, recipient, amount); err != nil {
		return fmt.Errorf("transferFrom %s: %w", owner.Hex(), err)
	}
	if !allowed.Eq(maxAllowance) {
		m.allowances[key] = new(uint256.Int).Sub(allowed, amount)
	}
	return nil
}

func (m *Memory) Transfer(ctx context.Context, asset, sender, recipient common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("transfer: %w", ErrInvalidAddress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.move(asset, sender, recipient, amount); err != nil {
		return fmt.Errorf("transfer %s: %w", sender.Hex(), err)
	}
	return nil
}

func (m *Memory) BalanceOf(ctx context.Context, asset, owner common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance(asset, owner).Clone(), nil
}

// TotalSupply returns the minted amount of asset.
func (m *Memory) TotalSupply(asset common.Address) *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supplyOf(asset).Clone()
}

func (m *Memory) move(asset, from, to common.Address, amount *uint256.Int) error {
	have := m.balance(asset, from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have.Dec(), amount.Dec())
	}
	m.setBalance(asset, from, new(uint256.Int).Sub(have, amount))
	m.setBalance(asset, to, new(uint256.Int).Add(m.balance(asset, to), amount))
	return nil
}

func (m *Memory) balance(asset, owner common.Address) *uint256.Int {
	if v := m.balances[asset][owner]; v != nil {
		return v
	}
	return new(uint256.Int)
}

func (m *Memory) setBalance(asset, owner common.Address, v *uint256.Int) {
	byOwner := m.balances[asset]
	if byOwner == nil {
		byOwner = make(map[common.Address]*uint256.Int)
		m.balances[asset] = byOwner
	}
	byOwner[owner] = v
}

func (m *Memory) supplyOf(asset common.Address) *uint256.Int {
	if v := m.supply[asset]; v != nil {
		return v
	}
	return new(uint256.Int)
}
