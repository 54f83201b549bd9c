package decode

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const factoryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "token0", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "token1", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "pair", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "pairIndex", "type": "uint256"}
    ],
    "name": "PairCreated",
    "type": "event"
  }
]`

const pairABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount0In", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1In", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount0Out", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1Out", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"}
    ],
    "name": "Swap",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"}
    ],
    "name": "Mint",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"}
    ],
    "name": "Burn",
    "type": "event"
  }
]`

var (
	abiOnce    sync.Once
	factoryABI abi.ABI
	pairABI    abi.ABI
	abiErr     error
)

func parseABIs() {
	factoryABI, abiErr = abi.JSON(strings.NewReader(factoryABIJSON))
	if abiErr != nil {
		return
	}
	pairABI, abiErr = abi.JSON(strings.NewReader(pairABIJSON))
}

// FactoryABI returns the parsed AMM factory ABI.
func FactoryABI() (abi.ABI, error) {
	abiOnce.Do(parseABIs)
	return factoryABI, abiErr
}

// PairABI returns the parsed AMM pair ABI.
func PairABI() (abi.ABI, error) {
	abiOnce.Do(parseABIs)
	return pairABI, abiErr
}
