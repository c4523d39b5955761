package model

import "github.com/ethereum/go-ethereum/common"

// TokenMeta captures the immutable ERC20 metadata the engine needs.
type TokenMeta struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol,omitempty"`
}
