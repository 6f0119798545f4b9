package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"cpamm/internal/model"
)

// ContractCaller performs read-only contract calls. *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolMetaCache caches pool metadata by address. A nil cache is empty.
type PoolMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.PoolMeta
}

func NewPoolMetaCache() *PoolMetaCache {
	return &PoolMetaCache{data: make(map[common.Address]model.PoolMeta)}
}

func (c *PoolMetaCache) Get(address common.Address) (model.PoolMeta, bool) {
	if c == nil {
		return model.PoolMeta{}, false
	}
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *PoolMetaCache) Set(address common.Address, meta model.PoolMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// PoolReserves is the on-chain view of a deployed pool contract.
type PoolReserves struct {
	ReserveA       *uint256.Int
	ReserveB       *uint256.Int
	TotalLiquidity *uint256.Int
}

// FetchPoolReserves reads getReserves and totalLiquidity from a pool contract.
func FetchPoolReserves(ctx context.Context, caller ContractCaller, pool common.Address, block *big.Int) (PoolReserves, error) {
	if caller == nil {
		return PoolReserves{}, fmt.Errorf("chain client is nil")
	}
	parsed, err := PoolABI()
	if err != nil {
		return PoolReserves{}, fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := callMethod(ctx, caller, pool, parsed, "getReserves", block)
	if err != nil {
		return PoolReserves{}, err
	}
	if len(values) != 2 {
		return PoolReserves{}, fmt.Errorf("getReserves return size %d", len(values))
	}
	reserves, err := asAmounts(values)
	if err != nil {
		return PoolReserves{}, fmt.Errorf("getReserves: %w", err)
	}

	values, err = callMethod(ctx, caller, pool, parsed, "totalLiquidity", block)
	if err != nil {
		return PoolReserves{}, err
	}
	total, err := asAmounts(values)
	if err != nil || len(total) != 1 {
		return PoolReserves{}, fmt.Errorf("totalLiquidity: unexpected return %v", values)
	}

	return PoolReserves{ReserveA: reserves[0], ReserveB: reserves[1], TotalLiquidity: total[0]}, nil
}

// FetchPoolAssets reads tokenA and tokenB from a pool contract.
func FetchPoolAssets(ctx context.Context, caller ContractCaller, pool common.Address) (common.Address, common.Address, error) {
	parsed, err := PoolABI()
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("parse pool abi: %w", err)
	}
	var assets [2]common.Address
	for i, method := range []string{"tokenA", "tokenB"} {
		values, err := callMethod(ctx, caller, pool, parsed, method, nil)
		if err != nil {
			return common.Address{}, common.Address{}, err
		}
		if assets[i], err = asAddress(values[0]); err != nil {
			return common.Address{}, common.Address{}, fmt.Errorf("%s: %w", method, err)
		}
	}
	return assets[0], assets[1], nil
}

// FetchBalance reads an ERC20 balanceOf.
func FetchBalance(ctx context.Context, caller ContractCaller, token, owner common.Address, block *big.Int) (*uint256.Int, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	parsed, err := erc20ABIStringInstance()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := callMethod(ctx, caller, token, parsed, "balanceOf", block, owner)
	if err != nil {
		return nil, err
	}
	amounts, err := asAmounts(values)
	if err != nil || len(amounts) != 1 {
		return nil, fmt.Errorf("balanceOf: unexpected return %v", values)
	}
	return amounts[0], nil
}

// FetchTokenMeta loads token metadata via ERC20 calls.
func FetchTokenMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, stringABI, "decimals", nil)
	if err != nil {
		return meta, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return meta, fmt.Errorf("unsupported decimals type %T", values[0])
	}
	meta.Decimals = decimals

	meta.Symbol = textCall(ctx, caller, token, "symbol", stringABI, bytes32ABI, logger)
	meta.Name = textCall(ctx, caller, token, "name", stringABI, bytes32ABI, logger)
	return meta, nil
}

func textCall(ctx context.Context, caller ContractCaller, token common.Address, method string, stringABI, bytes32ABI abi.ABI, logger *zap.Logger) string {
	if values, err := callMethod(ctx, caller, token, stringABI, method, nil); err == nil {
		if text, ok := values[0].(string); ok {
			return text
		}
	}
	values, err := callMethod(ctx, caller, token, bytes32ABI, method, nil)
	if err != nil {
		logger.Debug(method+" call failed", zap.String("token", token.Hex()), zap.Error(err))
		return ""
	}
	if text, ok := bytes32ToString(values[0]); ok {
		return text
	}
	return ""
}

func callMethod(ctx context.Context, caller ContractCaller, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned nothing", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}
