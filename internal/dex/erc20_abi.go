package dex

import "github.com/ethereum/go-ethereum/accounts/abi"

const erc20ABIStringJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {
    "inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}],
    "name": "approve",
    "outputs": [{"type": "bool"}],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

// Some older tokens (MKR style) return symbol as bytes32.
const erc20ABIBytes32JSON = `[
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

var (
	erc20ABIString  = &lazyABI{def: erc20ABIStringJSON}
	erc20ABIBytes32 = &lazyABI{def: erc20ABIBytes32JSON}
)

// ERC20ABI returns the parsed ERC20 ABI (decimals, symbol, approve).
func ERC20ABI() (abi.ABI, error) {
	return erc20ABIString.get()
}

// ERC20Bytes32ABI returns the symbol() ABI of tokens that return bytes32.
func ERC20Bytes32ABI() (abi.ABI, error) {
	return erc20ABIBytes32.get()
}
