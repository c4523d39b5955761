package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallPayload is an unsigned contract call.
type CallPayload struct {
	To     common.Address `json:"to"`
	Data   []byte         `json:"data"`
	Value  *big.Int       `json:"value"`
	Method string         `json:"method"`
}

// Receipt summarizes a confirmed transaction.
type Receipt struct {
	Command     int         `json:"command"`
	Kind        CommandKind `json:"kind"`
	Method      string      `json:"method"`
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
	Status      uint64      `json:"status"`
}
