package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolState is a point-in-time snapshot of a V3 pool.
type PoolState struct {
	Address      common.Address `json:"address"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Fee          uint32         `json:"fee"`
	TickSpacing  int32          `json:"tick_spacing"`
	Liquidity    *big.Int       `json:"liquidity"`
	SqrtPriceX96 *big.Int       `json:"sqrt_price_x96"`
	Tick         int32          `json:"tick"`
}

// Route is a single-hop swap path through one pool.
type Route struct {
	Pool     common.Address `json:"pool"`
	TokenIn  common.Address `json:"token_in"`
	TokenOut common.Address `json:"token_out"`
	Fee      uint32         `json:"fee"`
}
