package dex

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event and view surface of a deployed constant-product pool contract.
const poolABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "provider", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amountA", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amountB", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "totalShares", "type": "uint256"}
    ],
    "name": "LiquidityAdded",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "provider", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amountA", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amountB", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "totalShares", "type": "uint256"}
    ],
    "name": "LiquidityRemoved",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "trader", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "assetIn", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "amountIn", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amountOut", "type": "uint256"}
    ],
    "name": "Swap",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "tokenA",
    "outputs": [{"internalType": "address", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "tokenB",
    "outputs": [{"internalType": "address", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getReserves",
    "outputs": [
      {"internalType": "uint256", "name": "", "type": "uint256"},
      {"internalType": "uint256", "name": "", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "totalLiquidity",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "", "type": "address"}],
    "name": "liquidity",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getPrice",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	poolABI     abi.ABI
	poolABIOnce sync.Once
	poolABIErr  error
)

// PoolABI returns the parsed pool ABI.
func PoolABI() (abi.ABI, error) {
	poolABIOnce.Do(func() {
		poolABI, poolABIErr = abi.JSON(strings.NewReader(poolABIJSON))
	})
	return poolABI, poolABIErr
}
