package amm

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetKind selects one side of the pair.
type AssetKind uint8

const (
	AssetA AssetKind = iota
	AssetB
)

func (k AssetKind) String() string {
	switch k {
	case AssetA:
		return "A"
	case AssetB:
		return "B"
	default:
		return "unknown"
	}
}

// Other returns the opposite side of the pair.
func (k AssetKind) Other() AssetKind {
	if k == AssetA {
		return AssetB
	}
	return AssetA
}

// Event names.
const (
	EventLiquidityAdded   = "LiquidityAdded"
	EventLiquidityRemoved = "LiquidityRemoved"
	EventSwap             = "Swap"
)

// Event is an observable record of a successful pool operation.
type Event interface {
	EventName() string
	Sequence() uint64
}

// LiquidityAdded is emitted by AddLiquidity.
type LiquidityAdded struct {
	Seq         uint64
	Provider    common.Address
	AmountA     *uint256.Int
	AmountB     *uint256.Int
	TotalShares *uint256.Int
}

func (e LiquidityAdded) EventName() string { return EventLiquidityAdded }
func (e LiquidityAdded) Sequence() uint64  { return e.Seq }

// LiquidityRemoved is emitted by RemoveLiquidity.
type LiquidityRemoved struct {
	Seq         uint64
	Provider    common.Address
	AmountA     *uint256.Int
	AmountB     *uint256.Int
	TotalShares *uint256.Int
}

func (e LiquidityRemoved) EventName() string { return EventLiquidityRemoved }
func (e LiquidityRemoved) Sequence() uint64  { return e.Seq }

// Swap is emitted by SwapAForB and SwapBForA.
type Swap struct {
	Seq       uint64
	Trader    common.Address
	AssetIn   AssetKind
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

func (e Swap) EventName() string { return EventSwap }
func (e Swap) Sequence() uint64  { return e.Seq }

// EventSink receives events in commit order. Emit must not call back into the
// pool that emitted the event.
type EventSink interface {
	Emit(Event)
}

// EventLog is an append-only in-memory EventSink.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Emit(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Drain returns the recorded events and clears the log.
func (l *EventLog) Drain() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.events
	l.events = nil
	return out
}

func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
