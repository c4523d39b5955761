// Package chaintest provides an in-memory chain that answers the contract
// calls and transaction submissions the engine makes, with real ABI encoding.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"liquidityAgent/internal/dex"
	"liquidityAgent/internal/model"
)

// Handler answers one eth_call given the calldata without its selector.
type Handler func(args []byte) ([]byte, error)

type callKey struct {
	to       common.Address
	selector [4]byte
}

// Call records one eth_call.
type Call struct {
	To     common.Address
	Method string
}

// Chain is a fake node. It implements dex.Caller and submit.Backend.
type Chain struct {
	mu       sync.Mutex
	handlers map[callKey]Handler
	names    map[callKey]string
	calls    []Call

	nonce       uint64
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	block       uint64
	revertTo    map[common.Address]bool
	EstimateErr error
	SendErr     error
	Pending     bool
}

func New() *Chain {
	return &Chain{
		handlers: make(map[callKey]Handler),
		names:    make(map[callKey]string),
		receipts: make(map[common.Hash]*types.Receipt),
		revertTo: make(map[common.Address]bool),
		block:    1000,
	}
}

// Handle registers a handler for method on contract to.
func (c *Chain) Handle(to common.Address, parsed abi.ABI, method string, h Handler) {
	m, ok := parsed.Methods[method]
	if !ok {
		panic("unknown method " + method)
	}
	var sel [4]byte
	copy(sel[:], m.ID)
	key := callKey{to: to, selector: sel}

	c.mu.Lock()
	c.handlers[key] = h
	c.names[key] = method
	c.mu.Unlock()
}

// Return registers fixed outputs for method on contract to.
func (c *Chain) Return(to common.Address, parsed abi.ABI, method string, outputs ...interface{}) {
	packed, err := parsed.Methods[method].Outputs.Pack(outputs...)
	if err != nil {
		panic(fmt.Sprintf("pack %s outputs: %v", method, err))
	}
	c.Handle(to, parsed, method, func([]byte) ([]byte, error) { return packed, nil })
}

// Fail makes method on contract to return err.
func (c *Chain) Fail(to common.Address, parsed abi.ABI, method string, err error) {
	c.Handle(to, parsed, method, func([]byte) ([]byte, error) { return nil, err })
}

// CallContract implements dex.Caller.
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("malformed call")
	}
	var sel [4]byte
	copy(sel[:], msg.Data[:4])
	key := callKey{to: *msg.To, selector: sel}

	c.mu.Lock()
	h, ok := c.handlers[key]
	c.calls = append(c.calls, Call{To: *msg.To, Method: c.names[key]})
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("execution reverted: no handler for %x on %s", sel, msg.To.Hex())
	}
	return h(msg.Data[4:])
}

// Calls returns the eth_calls seen so far.
func (c *Chain) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount counts eth_calls of method.
func (c *Chain) CallCount(method string) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Method == method {
			n++
		}
	}
	return n
}

// AddToken serves decimals and symbol for token.
func (c *Chain) AddToken(token common.Address, symbol string, decimals uint8) {
	erc20 := mustABI(dex.ERC20ABI())
	c.Return(token, erc20, "decimals", decimals)
	c.Return(token, erc20, "symbol", symbol)
}

// AddBytes32Token serves decimals and a bytes32 symbol, as older tokens do.
func (c *Chain) AddBytes32Token(token common.Address, symbol string, decimals uint8) {
	c.Return(token, mustABI(dex.ERC20ABI()), "decimals", decimals)
	var raw [32]byte
	copy(raw[:], symbol)
	c.Return(token, mustABI(dex.ERC20Bytes32ABI()), "symbol", raw)
}

// AddPool serves the six pool reads for state.
func (c *Chain) AddPool(state model.PoolState) {
	poolABI := mustABI(dex.V3PoolABI())
	c.Return(state.Address, poolABI, "token0", state.Token0)
	c.Return(state.Address, poolABI, "token1", state.Token1)
	c.Return(state.Address, poolABI, "fee", new(big.Int).SetUint64(uint64(state.Fee)))
	c.Return(state.Address, poolABI, "tickSpacing", big.NewInt(int64(state.TickSpacing)))
	c.Return(state.Address, poolABI, "liquidity", state.Liquidity)
	c.Return(state.Address, poolABI, "slot0",
		state.SqrtPriceX96, big.NewInt(int64(state.Tick)), uint16(0), uint16(1), uint16(1), uint8(0), true)
}

// Factory serves getPool from a table keyed by unordered pair and fee and
// records every probed fee.
type Factory struct {
	mu     sync.Mutex
	pools  map[string]common.Address
	probed []uint32
}

// AddFactory installs a getPool handler on factory.
func (c *Chain) AddFactory(factory common.Address) *Factory {
	f := &Factory{pools: make(map[string]common.Address)}
	factoryABI := mustABI(dex.V3FactoryABI())
	method := factoryABI.Methods["getPool"]
	c.Handle(factory, factoryABI, "getPool", func(args []byte) ([]byte, error) {
		values, err := method.Inputs.Unpack(args)
		if err != nil {
			return nil, err
		}
		a := values[0].(common.Address)
		b := values[1].(common.Address)
		fee := uint32(values[2].(*big.Int).Uint64())

		f.mu.Lock()
		f.probed = append(f.probed, fee)
		pool := f.pools[pairKey(a, b, fee)]
		f.mu.Unlock()
		return method.Outputs.Pack(pool)
	})
	return f
}

// SetPool registers pool for the pair and fee.
func (f *Factory) SetPool(a, b common.Address, fee uint32, pool common.Address) {
	f.mu.Lock()
	f.pools[pairKey(a, b, fee)] = pool
	f.mu.Unlock()
}

// Probed returns the fee tiers queried so far, in order.
func (f *Factory) Probed() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, len(f.probed))
	copy(out, f.probed)
	return out
}

func pairKey(a, b common.Address, fee uint32) string {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return fmt.Sprintf("%s-%s-%d", a.Hex(), b.Hex(), fee)
}

// SetQuote makes the quoter return amountOut for any exact-input quote.
func (c *Chain) SetQuote(quoter common.Address, amountOut *big.Int) {
	quoterABI := mustABI(dex.QuoterV2ABI())
	c.Return(quoter, quoterABI, "quoteExactInputSingle", amountOut, new(big.Int).Lsh(big.NewInt(1), 96), uint32(1), big.NewInt(90000))
}

// FailQuote makes the quoter revert.
func (c *Chain) FailQuote(quoter common.Address, err error) {
	c.Fail(quoter, mustABI(dex.QuoterV2ABI()), "quoteExactInputSingle", err)
}

// AddPosition serves positions(tokenId) for pos.
func (c *Chain) AddPosition(positionManager common.Address, pos model.Position) {
	pmABI := mustABI(dex.PositionManagerABI())
	method := pmABI.Methods["positions"]
	want := new(big.Int).Set(pos.TokenID)
	c.Handle(positionManager, pmABI, "positions", func(args []byte) ([]byte, error) {
		values, err := method.Inputs.Unpack(args)
		if err != nil {
			return nil, err
		}
		if values[0].(*big.Int).Cmp(want) != 0 {
			return nil, errors.New("execution reverted: Invalid token ID")
		}
		return method.Outputs.Pack(
			big.NewInt(0),
			common.Address{},
			pos.Token0,
			pos.Token1,
			new(big.Int).SetUint64(uint64(pos.Fee)),
			big.NewInt(int64(pos.TickLower)),
			big.NewInt(int64(pos.TickUpper)),
			pos.Liquidity,
			big.NewInt(0),
			big.NewInt(0),
			orZero(pos.TokensOwed0),
			orZero(pos.TokensOwed1),
		)
	})
}

// RevertTxTo makes every transaction sent to addr mine with status 0.
func (c *Chain) RevertTxTo(addr common.Address) {
	c.mu.Lock()
	c.revertTo[addr] = true
	c.mu.Unlock()
}

// PendingNonceAt implements submit.Backend.
func (c *Chain) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce, nil
}

// EstimateGas implements submit.Backend.
func (c *Chain) EstimateGas(ctx context.Context, _ ethereum.CallMsg) (uint64, error) {
	if c.EstimateErr != nil {
		return 0, c.EstimateErr
	}
	return 250000, nil
}

// SendTransaction implements submit.Backend and mines the tx immediately
// unless Pending is set.
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx.Nonce() != c.nonce {
		return fmt.Errorf("nonce too low: have %d want %d", tx.Nonce(), c.nonce)
	}
	c.nonce++
	c.sent = append(c.sent, tx)
	if c.Pending {
		return nil
	}

	c.block++
	status := types.ReceiptStatusSuccessful
	if tx.To() != nil && c.revertTo[*tx.To()] {
		status = types.ReceiptStatusFailed
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     tx.Gas() / 2,
	}
	return nil
}

// TransactionReceipt implements submit.Backend.
func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// Sent returns the transactions broadcast so far.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func mustABI(parsed abi.ABI, err error) abi.ABI {
	if err != nil {
		panic(err)
	}
	return parsed
}
