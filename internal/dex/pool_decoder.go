package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"cpamm/internal/amm"
	"cpamm/internal/model"
)

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map adds topic0 aliases for the pool events, keyed by topic0 hex.
	Topic0Map map[string]string
}

// PoolDecoder decodes constant-product pool events.
type PoolDecoder struct {
	poolABI     abi.ABI
	topicToName map[string]string
}

func NewPoolDecoder(cfg DecoderConfig) (*PoolDecoder, error) {
	parsed, err := PoolABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, 3+len(cfg.Topic0Map))
	for _, name := range []string{amm.EventLiquidityAdded, amm.EventLiquidityRemoved, amm.EventSwap} {
		topicToName[strings.ToLower(parsed.Events[name].ID.Hex())] = name
	}

	for topic0, name := range cfg.Topic0Map {
		original := name
		name = normalizeEventName(name)
		if name == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", original)
		}
		if topic0 == "" {
			continue
		}
		topicToName[strings.ToLower(topic0)] = name
	}

	return &PoolDecoder{poolABI: parsed, topicToName: topicToName}, nil
}

func (d *PoolDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a TypedEvent carrying string payloads.
func (d *PoolDecoder) Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error) {
	ev, err := d.DecodeEvent(log)
	if err != nil {
		return nil, err
	}

	meta, ok := ctx.PoolMetaCache.Get(common.HexToAddress(log.Address))
	if !ok && ctx.Logger != nil {
		ctx.Logger.Debug("pool meta not registered", zap.String("pool", log.Address))
	}

	var decoded interface{}
	switch v := ev.(type) {
	case amm.LiquidityAdded:
		decoded = model.LiquidityAddedData{
			Provider:    v.Provider.Hex(),
			AmountA:     v.AmountA.Dec(),
			AmountB:     v.AmountB.Dec(),
			TotalShares: v.TotalShares.Dec(),
		}
	case amm.LiquidityRemoved:
		decoded = model.LiquidityRemovedData{
			Provider:    v.Provider.Hex(),
			AmountA:     v.AmountA.Dec(),
			AmountB:     v.AmountB.Dec(),
			TotalShares: v.TotalShares.Dec(),
		}
	case amm.Swap:
		decoded = model.SwapData{
			Trader:    v.Trader.Hex(),
			AssetIn:   v.AssetIn.String(),
			AmountIn:  v.AmountIn.Dec(),
			AmountOut: v.AmountOut.Dec(),
		}
	}

	return &model.TypedEvent{
		Address:   log.Address,
		Seq:       log.Seq,
		OpIndex:   log.OpIndex,
		EventName: ev.EventName(),
		Timestamp: log.Timestamp,
		Decoded:   decoded,
		PoolMeta:  meta,
		Raw:       &model.RawLogRef{Topic0: log.Topics[0], Data: log.Data},
	}, nil
}

// DecodeEvent converts a LogRecord back into the pool event it encodes.
func (d *PoolDecoder) DecodeEvent(log model.LogRecord) (amm.Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid pool address: %s", log.Address)
	}

	event := d.poolABI.Events[name]
	actor, err := parseActor(event, log.Topics)
	if err != nil {
		return nil, err
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected %s values: %d", name, len(values))
	}

	switch name {
	case amm.EventSwap:
		kind, ok := values[0].(uint8)
		if !ok || kind > uint8(amm.AssetB) {
			return nil, fmt.Errorf("invalid asset kind %v", values[0])
		}
		amounts, err := asAmounts(values[1:])
		if err != nil {
			return nil, err
		}
		return amm.Swap{
			Seq:       log.Seq,
			Trader:    actor,
			AssetIn:   amm.AssetKind(kind),
			AmountIn:  amounts[0],
			AmountOut: amounts[1],
		}, nil
	case amm.EventLiquidityAdded, amm.EventLiquidityRemoved:
		amounts, err := asAmounts(values)
		if err != nil {
			return nil, err
		}
		if name == amm.EventLiquidityAdded {
			return amm.LiquidityAdded{Seq: log.Seq, Provider: actor, AmountA: amounts[0], AmountB: amounts[1], TotalShares: amounts[2]}, nil
		}
		return amm.LiquidityRemoved{Seq: log.Seq, Provider: actor, AmountA: amounts[0], AmountB: amounts[1], TotalShares: amounts[2]}, nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
}

func normalizeEventName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "liquidityadded", "liquidity_added":
		return amm.EventLiquidityAdded
	case "liquidityremoved", "liquidity_removed":
		return amm.EventLiquidityRemoved
	case "swap":
		return amm.EventSwap
	default:
		return ""
	}
}

// parseActor extracts the single indexed address of a pool event.
func parseActor(event abi.Event, topics []string) (common.Address, error) {
	indexed := indexedArguments(event.Inputs)
	if len(topics) != len(indexed)+1 {
		return common.Address{}, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(topics))
	}
	hashes, err := parseTopicHashes(topics[1:])
	if err != nil {
		return common.Address{}, err
	}
	out := make(map[string]interface{}, 1)
	if err := abi.ParseTopicsIntoMap(out, indexed, hashes); err != nil {
		return common.Address{}, fmt.Errorf("parse topics: %w", err)
	}
	actor, ok := out[indexed[0].Name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s topic type %T", indexed[0].Name, out[indexed[0].Name])
	}
	return actor, nil
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}

func asAmounts(values []interface{}) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, 0, len(values))
	for _, value := range values {
		v, ok := value.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unsupported amount type %T", value)
		}
		amount, overflow := uint256.FromBig(v)
		if overflow || v.Sign() < 0 {
			return nil, fmt.Errorf("amount out of range: %s", v)
		}
		out = append(out, amount)
	}
	return out, nil
}
