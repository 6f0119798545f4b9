package dex

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"cpamm/internal/amm"
	"cpamm/internal/model"
)

// Encoder turns pool events into EVM-style log records, the same layout a
// deployed pool contract would emit.
type Encoder struct {
	poolABI abi.ABI
	pool    common.Address
}

func NewEncoder(pool common.Address) (*Encoder, error) {
	parsed, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	return &Encoder{poolABI: parsed, pool: pool}, nil
}

// Encode builds the log record for ev. opIndex and timestamp locate the
// journal operation that produced it.
func (e *Encoder) Encode(ev amm.Event, opIndex, timestamp uint64, ingestedAt time.Time) (model.LogRecord, error) {
	event, ok := e.poolABI.Events[ev.EventName()]
	if !ok {
		return model.LogRecord{}, fmt.Errorf("unsupported event: %s", ev.EventName())
	}

	var (
		actor common.Address
		data  []byte
		err   error
	)
	switch v := ev.(type) {
	case amm.LiquidityAdded:
		actor = v.Provider
		data, err = event.Inputs.NonIndexed().Pack(toBig(v.AmountA), toBig(v.AmountB), toBig(v.TotalShares))
	case amm.LiquidityRemoved:
		actor = v.Provider
		data, err = event.Inputs.NonIndexed().Pack(toBig(v.AmountA), toBig(v.AmountB), toBig(v.TotalShares))
	case amm.Swap:
		actor = v.Trader
		data, err = event.Inputs.NonIndexed().Pack(uint8(v.AssetIn), toBig(v.AmountIn), toBig(v.AmountOut))
	default:
		return model.LogRecord{}, fmt.Errorf("unsupported event type %T", ev)
	}
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("pack %s: %w", event.Name, err)
	}

	return model.LogRecord{
		Address: e.pool.Hex(),
		Seq:     ev.Sequence(),
		OpIndex: opIndex,
		Topics: []string{
			event.ID.Hex(),
			common.BytesToHash(actor.Bytes()).Hex(),
		},
		Data:       hexutil.Encode(data),
		Timestamp:  timestamp,
		IngestedAt: ingestedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}
