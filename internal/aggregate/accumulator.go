package aggregate

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"cpamm/internal/amm"
	"cpamm/internal/model"
)

// Reserves is the running view of a pool's books rebuilt from its events.
type Reserves struct {
	A *big.Int
	B *big.Int
}

func newReserves() *Reserves {
	return &Reserves{A: new(big.Int), B: new(big.Int)}
}

// Accumulator holds aggregate values for a pool window.
type Accumulator struct {
	PoolAddress     string
	PoolMeta        model.PoolMeta
	Fee             amm.Fee
	WindowStart     uint64
	WindowEnd       uint64
	SwapCount       uint64
	LiquidityEvents uint64
	VolumeA         *big.Int
	VolumeB         *big.Int
	FeeA            *big.Int
	FeeB            *big.Int
	FirstSeq        uint64
	LastSeq         uint64
}

func NewAccumulator(record model.TypedEventRecord, fee amm.Fee, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		PoolAddress: record.Address,
		PoolMeta:    record.PoolMeta,
		Fee:         fee,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		VolumeA:     new(big.Int),
		VolumeB:     new(big.Int),
		FeeA:        new(big.Int),
		FeeB:        new(big.Int),
		FirstSeq:    record.Seq,
		LastSeq:     record.Seq,
	}
}

// AddEvent folds a decoded swap or liquidity event into the window.
func (a *Accumulator) AddEvent(ev amm.Event, seq uint64) {
	if seq > a.LastSeq {
		a.LastSeq = seq
	}
	if seq < a.FirstSeq {
		a.FirstSeq = seq
	}

	switch v := ev.(type) {
	case amm.Swap:
		a.SwapCount++
		fee := a.Fee.Charged(v.AmountIn).ToBig()
		if v.AssetIn == amm.AssetA {
			a.VolumeA.Add(a.VolumeA, v.AmountIn.ToBig())
			a.VolumeB.Add(a.VolumeB, v.AmountOut.ToBig())
			a.FeeA.Add(a.FeeA, fee)
		} else {
			a.VolumeB.Add(a.VolumeB, v.AmountIn.ToBig())
			a.VolumeA.Add(a.VolumeA, v.AmountOut.ToBig())
			a.FeeB.Add(a.FeeB, fee)
		}
	case amm.LiquidityAdded, amm.LiquidityRemoved:
		a.LiquidityEvents++
	}
}

// Apply moves the running reserves by one event. Reserves never go negative
// for a journal produced by a pool; a negative result means the input is
// incomplete.
func (r *Reserves) Apply(ev amm.Event) error {
	switch v := ev.(type) {
	case amm.LiquidityAdded:
		r.A.Add(r.A, v.AmountA.ToBig())
		r.B.Add(r.B, v.AmountB.ToBig())
	case amm.LiquidityRemoved:
		r.A.Sub(r.A, v.AmountA.ToBig())
		r.B.Sub(r.B, v.AmountB.ToBig())
	case amm.Swap:
		in, out := r.A, r.B
		if v.AssetIn == amm.AssetB {
			in, out = r.B, r.A
		}
		in.Add(in, v.AmountIn.ToBig())
		out.Sub(out, v.AmountOut.ToBig())
	}
	if r.A.Sign() < 0 || r.B.Sign() < 0 {
		return fmt.Errorf("reserves went negative (%s/%s)", r.A, r.B)
	}
	return nil
}

// parseEvent turns a typed event record back into the pool event it describes.
func parseEvent(record model.TypedEventRecord) (amm.Event, error) {
	switch record.EventName {
	case amm.EventSwap:
		var data model.SwapData
		if err := json.Unmarshal(record.Decoded, &data); err != nil {
			return nil, fmt.Errorf("decode swap: %w", err)
		}
		kind := amm.AssetA
		switch data.AssetIn {
		case "A":
		case "B":
			kind = amm.AssetB
		default:
			return nil, fmt.Errorf("invalid asset_in %q", data.AssetIn)
		}
		amounts, err := parseAmounts(data.AmountIn, data.AmountOut)
		if err != nil {
			return nil, err
		}
		return amm.Swap{Seq: record.Seq, AssetIn: kind, AmountIn: amounts[0], AmountOut: amounts[1]}, nil

	case amm.EventLiquidityAdded, amm.EventLiquidityRemoved:
		var data model.LiquidityAddedData
		if err := json.Unmarshal(record.Decoded, &data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", record.EventName, err)
		}
		amounts, err := parseAmounts(data.AmountA, data.AmountB, data.TotalShares)
		if err != nil {
			return nil, err
		}
		if record.EventName == amm.EventLiquidityAdded {
			return amm.LiquidityAdded{Seq: record.Seq, AmountA: amounts[0], AmountB: amounts[1], TotalShares: amounts[2]}, nil
		}
		return amm.LiquidityRemoved{Seq: record.Seq, AmountA: amounts[0], AmountB: amounts[1], TotalShares: amounts[2]}, nil

	default:
		return nil, fmt.Errorf("unsupported event %q", record.EventName)
	}
}

func parseAmounts(values ...string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, 0, len(values))
	for _, value := range values {
		if value == "" {
			out = append(out, new(uint256.Int))
			continue
		}
		v, err := uint256.FromDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", value, err)
		}
		out = append(out, v)
	}
	return out, nil
}
