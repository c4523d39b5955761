package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenAmount is a quantity of one token in base units.
type TokenAmount struct {
	Token    common.Address `json:"token"`
	Decimals uint8          `json:"decimals"`
	Raw      *big.Int       `json:"raw"`
}

// IsZero reports whether the amount is empty or zero.
func (a TokenAmount) IsZero() bool {
	return a.Raw == nil || a.Raw.Sign() == 0
}
