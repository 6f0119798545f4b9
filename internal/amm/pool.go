// Package amm implements a two-asset constant-product liquidity pool with
// fungible pool-share accounting.
//
// All amounts are unsigned 256-bit integers. Arithmetic that would exceed 256
// bits is rejected with ErrOverflow; no value wraps or saturates inside an
// operation.
package amm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger is the external fungible-asset service holding the pair's balances.
// The pool only moves funds through it; reserves are tracked internally and
// never derived from BalanceOf.
type Ledger interface {
	// TransferFrom moves amount of asset from owner to recipient on behalf of
	// spender, consuming spender's allowance.
	TransferFrom(ctx context.Context, asset, spender, owner, recipient common.Address, amount *uint256.Int) error
	// Transfer moves amount of asset from sender to recipient.
	Transfer(ctx context.Context, asset, sender, recipient common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, asset, owner common.Address) (*uint256.Int, error)
}

// Config is the construction-time configuration of a Pool.
type Config struct {
	// Address is the pool's custody account on the ledger.
	Address common.Address
	AssetA  common.Address
	AssetB  common.Address
	// Fee defaults to DefaultFee when left zero.
	Fee Fee
	// PriceScale multiplies reserveB before dividing by reserveA in Price.
	// Defaults to 1.
	PriceScale *uint256.Int
}

func (c Config) withDefaults() Config {
	if c.Fee == (Fee{}) {
		c.Fee = DefaultFee
	}
	if c.PriceScale == nil {
		c.PriceScale = uint256.NewInt(1)
	} else {
		c.PriceScale = c.PriceScale.Clone()
	}
	return c
}

// Validate reports ErrInvalidConfiguration for null or duplicate identities,
// an out-of-range fee or a zero price scale.
func (c Config) Validate() error {
	zero := common.Address{}
	if c.AssetA == zero || c.AssetB == zero {
		return fmt.Errorf("%w: invalid asset addresses", ErrInvalidConfiguration)
	}
	if c.AssetA == c.AssetB {
		return fmt.Errorf("%w: assets must be different", ErrInvalidConfiguration)
	}
	if c.Address == zero {
		return fmt.Errorf("%w: pool address is required", ErrInvalidConfiguration)
	}
	if c.Address == c.AssetA || c.Address == c.AssetB {
		return fmt.Errorf("%w: pool address collides with an asset", ErrInvalidConfiguration)
	}
	if err := c.Fee.Validate(); err != nil {
		return err
	}
	if c.PriceScale != nil && c.PriceScale.IsZero() {
		return fmt.Errorf("%w: price scale is zero", ErrInvalidConfiguration)
	}
	return nil
}

// Pool is a single constant-product pool. It is safe for concurrent use;
// mutating operations are applied one at a time in call order of lock
// acquisition and readers observe either the state before or after an
// operation, never a partial one.
type Pool struct {
	cfg    Config
	ledger Ledger
	sink   EventSink

	// opMu serialises mutating operations, including their ledger calls.
	opMu sync.Mutex

	mu          sync.RWMutex
	reserveA    *uint256.Int
	reserveB    *uint256.Int
	totalShares *uint256.Int
	shares      map[common.Address]*uint256.Int
	seq         uint64
}

// New creates an empty pool. A nil sink discards events.
func New(cfg Config, ledger Ledger, sink EventSink) (*Pool, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger is nil", ErrInvalidConfiguration)
	}
	if sink == nil {
		sink = discardSink{}
	}
	return &Pool{
		cfg:         cfg,
		ledger:      ledger,
		sink:        sink,
		reserveA:    new(uint256.Int),
		reserveB:    new(uint256.Int),
		totalShares: new(uint256.Int),
		shares:      make(map[common.Address]*uint256.Int),
	}, nil
}

func (p *Pool) Config() Config {
	cfg := p.cfg
	cfg.PriceScale = p.cfg.PriceScale.Clone()
	return cfg
}

func (p *Pool) Address() common.Address {
	return p.cfg.Address
}

// Asset returns the identity of one side of the pair.
func (p *Pool) Asset(kind AssetKind) common.Address {
	if kind == AssetB {
		return p.cfg.AssetB
	}
	return p.cfg.AssetA
}

// Reserves returns copies of the current reserves.
func (p *Pool) Reserves() (*uint256.Int, *uint256.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reserveA.Clone(), p.reserveB.Clone()
}

func (p *Pool) TotalShares() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalShares.Clone()
}

// SharesOf returns the provider's recorded share balance.
func (p *Pool) SharesOf(provider common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return clone(p.shares[provider])
}

// Price returns reserveB*PriceScale/reserveA, or zero for an empty pool. A
// result wider than 256 bits saturates at the maximum value: Price is a
// read-only view with no error return and never feeds back into the books.
func (p *Pool) Price() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reserveA.IsZero() {
		return new(uint256.Int)
	}
	num := new(big.Int).Mul(p.reserveB.ToBig(), p.cfg.PriceScale.ToBig())
	num.Quo(num, p.reserveA.ToBig())
	price, overflow := uint256.FromBig(num)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return price
}

// Quote prices a swap of amountIn of the given asset against the current
// reserves without changing anything.
func (p *Pool) Quote(in AssetKind, amountIn *uint256.Int) (*uint256.Int, error) {
	p.mu.RLock()
	reserveIn, reserveOut := p.reservesFor(in)
	p.mu.RUnlock()
	return QuoteOutput(amountIn, reserveIn, reserveOut, p.cfg.Fee)
}

func (p *Pool) reservesFor(in AssetKind) (*uint256.Int, *uint256.Int) {
	if in == AssetB {
		return p.reserveB.Clone(), p.reserveA.Clone()
	}
	return p.reserveA.Clone(), p.reserveB.Clone()
}

// AddLiquidity deposits amountA and amountB from provider and returns the
// pool shares issued for them.
//
// The first deposit into an empty pool issues floor(sqrt(amountA*amountB))
// shares and sets the price. Later deposits must match the reserve ratio
// exactly and issue amountA*totalShares/reserveA shares.
func (p *Pool) AddLiquidity(ctx context.Context, provider common.Address, amountA, amountB *uint256.Int) (*uint256.Int, error) {
	if err := p.checkAccount(provider); err != nil {
		return nil, err
	}
	if isZero(amountA) {
		return nil, fmt.Errorf("%w: amountA must be > 0", ErrInvalidAmount)
	}
	if isZero(amountB) {
		return nil, fmt.Errorf("%w: amountB must be > 0", ErrInvalidAmount)
	}

	ctx, leave, err := p.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	minted, err := p.sharesForDeposit(amountA, amountB)
	if err != nil {
		return nil, err
	}

	reserveA, err := add(p.reserveA, amountA, "reserveA")
	if err != nil {
		return nil, err
	}
	reserveB, err := add(p.reserveB, amountB, "reserveB")
	if err != nil {
		return nil, err
	}
	totalShares, err := add(p.totalShares, minted, "total shares")
	if err != nil {
		return nil, err
	}
	// Cannot overflow: a provider's shares never exceed totalShares.
	owned := new(uint256.Int).Add(clone(p.shares[provider]), minted)

	// A pull stuck after a failed reversal leaves surplus custody, never a
	// shortfall, so the books stay as they were.
	_, err = p.settle(ctx, []transfer{
		{asset: p.cfg.AssetA, counterparty: provider, amount: amountA, pull: true},
		{asset: p.cfg.AssetB, counterparty: provider, amount: amountB, pull: true},
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.reserveA, p.reserveB, p.totalShares = reserveA, reserveB, totalShares
	p.shares[provider] = owned
	p.seq++
	ev := LiquidityAdded{
		Seq:         p.seq,
		Provider:    provider,
		AmountA:     amountA.Clone(),
		AmountB:     amountB.Clone(),
		TotalShares: totalShares.Clone(),
	}
	p.mu.Unlock()

	p.sink.Emit(ev)
	return minted, nil
}

func (p *Pool) sharesForDeposit(amountA, amountB *uint256.Int) (*uint256.Int, error) {
	if p.totalShares.IsZero() {
		product, err := mul(amountA, amountB, "bootstrap product")
		if err != nil {
			return nil, err
		}
		return Sqrt(product), nil
	}

	lhs, err := mul(amountA, p.reserveB, "ratio check")
	if err != nil {
		return nil, err
	}
	rhs, err := mul(amountB, p.reserveA, "ratio check")
	if err != nil {
		return nil, err
	}
	if !lhs.Eq(rhs) {
		return nil, fmt.Errorf("%w: %s:%s does not match reserves %s:%s",
			ErrRatioMismatch, amountA.Dec(), amountB.Dec(), p.reserveA.Dec(), p.reserveB.Dec())
	}

	minted, err := mulDiv(amountA, p.totalShares, p.reserveA, "shares minted")
	if err != nil {
		return nil, err
	}
	if minted.IsZero() {
		return nil, ErrInsufficientSharesMinted
	}
	return minted, nil
}

// RemoveLiquidity burns shareAmount of provider's shares and pays out the
// proportional part of each reserve, rounded down.
func (p *Pool) RemoveLiquidity(ctx context.Context, provider common.Address, shareAmount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if err := p.checkAccount(provider); err != nil {
		return nil, nil, err
	}
	if isZero(shareAmount) {
		return nil, nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidAmount)
	}

	ctx, leave, err := p.enter(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer leave()

	owned := clone(p.shares[provider])
	if owned.Lt(shareAmount) {
		return nil, nil, fmt.Errorf("%w: owns %s, requested %s", ErrInsufficientShares, owned.Dec(), shareAmount.Dec())
	}

	amountA, err := mulDiv(shareAmount, p.reserveA, p.totalShares, "withdrawal A")
	if err != nil {
		return nil, nil, err
	}
	amountB, err := mulDiv(shareAmount, p.reserveB, p.totalShares, "withdrawal B")
	if err != nil {
		return nil, nil, err
	}

	stuck, err := p.settle(ctx, []transfer{
		{asset: p.cfg.AssetA, counterparty: provider, amount: amountA},
		{asset: p.cfg.AssetB, counterparty: provider, amount: amountB},
	})
	if err != nil && len(stuck) == 0 {
		return nil, nil, err
	}

	// With a payout stuck the withdrawal is committed in full: the shares are
	// burned and both reserves drop, so the unpaid side stays in custody as
	// surplus and reserves never exceed what the pool holds.
	p.mu.Lock()
	p.reserveA = new(uint256.Int).Sub(p.reserveA, amountA)
	p.reserveB = new(uint256.Int).Sub(p.reserveB, amountB)
	p.totalShares = new(uint256.Int).Sub(p.totalShares, shareAmount)
	p.shares[provider] = owned.Sub(owned, shareAmount)
	p.seq++
	ev := LiquidityRemoved{
		Seq:         p.seq,
		Provider:    provider,
		AmountA:     amountA.Clone(),
		AmountB:     amountB.Clone(),
		TotalShares: p.totalShares.Clone(),
	}
	p.mu.Unlock()

	p.sink.Emit(ev)
	if err != nil {
		return nil, nil, err
	}
	return amountA, amountB, nil
}

// SwapAForB sells amountIn of asset A for asset B.
func (p *Pool) SwapAForB(ctx context.Context, trader common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	return p.swap(ctx, trader, AssetA, amountIn)
}

// SwapBForA sells amountIn of asset B for asset A.
func (p *Pool) SwapBForA(ctx context.Context, trader common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	return p.swap(ctx, trader, AssetB, amountIn)
}

func (p *Pool) swap(ctx context.Context, trader common.Address, in AssetKind, amountIn *uint256.Int) (*uint256.Int, error) {
	if err := p.checkAccount(trader); err != nil {
		return nil, err
	}
	if isZero(amountIn) {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidAmount)
	}

	ctx, leave, err := p.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	reserveIn, reserveOut := p.reservesFor(in)
	amountOut, err := QuoteOutput(amountIn, reserveIn, reserveOut, p.cfg.Fee)
	if err != nil {
		return nil, err
	}
	if amountOut.IsZero() {
		return nil, fmt.Errorf("%w: input %s yields nothing", ErrInsufficientOutputAmount, amountIn.Dec())
	}
	reserveIn, err = add(reserveIn, amountIn, "input reserve")
	if err != nil {
		return nil, err
	}
	reserveOut.Sub(reserveOut, amountOut)

	// Only the input pull can be stuck here: the payout is the last leg.
	_, err = p.settle(ctx, []transfer{
		{asset: p.Asset(in), counterparty: trader, amount: amountIn, pull: true},
		{asset: p.Asset(in.Other()), counterparty: trader, amount: amountOut},
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if in == AssetA {
		p.reserveA, p.reserveB = reserveIn, reserveOut
	} else {
		p.reserveA, p.reserveB = reserveOut, reserveIn
	}
	p.seq++
	ev := Swap{
		Seq:       p.seq,
		Trader:    trader,
		AssetIn:   in,
		AmountIn:  amountIn.Clone(),
		AmountOut: amountOut.Clone(),
	}
	p.mu.Unlock()

	p.sink.Emit(ev)
	return amountOut, nil
}

// checkAccount rejects the null address and the pool's own custody account as
// a provider or trader.
func (p *Pool) checkAccount(account common.Address) error {
	if account == (common.Address{}) {
		return fmt.Errorf("%w: null address", ErrInvalidAccount)
	}
	if account == p.cfg.Address {
		return fmt.Errorf("%w: %s is the pool itself", ErrInvalidAccount, account.Hex())
	}
	return nil
}

// transfer is one leg of an operation's settlement: a pull moves funds from
// counterparty into the pool, otherwise the pool pays counterparty.
type transfer struct {
	asset        common.Address
	counterparty common.Address
	amount       *uint256.Int
	pull         bool
}

// settle executes the legs in order. If a leg fails the legs already executed
// are reversed, newest first, and the pool's books are left untouched.
// Reversals ignore cancellation of ctx. Legs whose reversal also failed are
// returned; their funds have moved and the caller must account for them.
func (p *Pool) settle(ctx context.Context, legs []transfer) ([]transfer, error) {
	done := make([]transfer, 0, len(legs))
	for _, leg := range legs {
		if leg.amount.IsZero() {
			continue
		}
		if err := p.execute(ctx, leg); err != nil {
			undoCtx := context.WithoutCancel(ctx)
			var (
				stuck []transfer
				undo  []error
			)
			for i := len(done) - 1; i >= 0; i-- {
				reverse := done[i]
				reverse.pull = !reverse.pull
				if uerr := p.execute(undoCtx, reverse); uerr != nil {
					stuck = append(stuck, done[i])
					undo = append(undo, uerr)
				}
			}
			if len(undo) > 0 {
				return stuck, fmt.Errorf("%w: %w (compensation failed: %w)", ErrTransferFailed, err, errors.Join(undo...))
			}
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		done = append(done, leg)
	}
	return nil, nil
}

func (p *Pool) execute(ctx context.Context, leg transfer) error {
	if leg.pull {
		return p.ledger.TransferFrom(ctx, leg.asset, p.cfg.Address, leg.counterparty, p.cfg.Address, leg.amount)
	}
	return p.ledger.Transfer(ctx, leg.asset, p.cfg.Address, leg.counterparty, leg.amount)
}
