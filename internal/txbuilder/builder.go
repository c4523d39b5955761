package txbuilder

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityAgent/internal/dex"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/position"
)

const (
	DefaultSlippageBps uint32 = 50
	DefaultDeadline           = 20 * time.Minute
)

// DefaultFeeTiers is the swap fee-tier probe order, cheapest first.
var DefaultFeeTiers = []uint32{500, 3000, 10000}

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// PoolLocator resolves the pool for a token pair and fee tier.
type PoolLocator interface {
	GetPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error)
}

// Config holds the periphery contracts calls are built against.
type Config struct {
	PositionManager common.Address
	SwapRouter      common.Address
	Quoter          common.Address
	FeeTiers        []uint32
}

// Builder turns intents into call payloads.
type Builder struct {
	cfg    Config
	pools  PoolLocator
	caller dex.Caller
	logger *zap.Logger
}

func New(cfg Config, pools PoolLocator, caller dex.Caller, logger *zap.Logger) *Builder {
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = DefaultFeeTiers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, pools: pools, caller: caller, logger: logger}
}

// PositionManager returns the address mint/add approvals are granted to.
func (b *Builder) PositionManager() common.Address {
	return b.cfg.PositionManager
}

// SwapRouter returns the address swap approvals are granted to.
func (b *Builder) SwapRouter() common.Address {
	return b.cfg.SwapRouter
}

// Deadline returns the unix deadline for a payload built at now.
func Deadline(now time.Time, window time.Duration) *big.Int {
	if window <= 0 {
		window = DefaultDeadline
	}
	return big.NewInt(now.Add(window).Unix())
}

// BuildApproval encodes ERC20 approve(spender, amount) on token.
func (b *Builder) BuildApproval(spender, token common.Address, amount *big.Int) (model.CallPayload, error) {
	if amount == nil || amount.Sign() < 0 {
		return model.CallPayload{}, fmt.Errorf("%w: approval amount must be non-negative", model.ErrInvalidAmount)
	}
	erc20, err := dex.ERC20ABI()
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	data, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("pack approve: %w", err)
	}
	return payload(token, data, "approve"), nil
}

type mintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            *big.Int
	TickLower      *big.Int
	TickUpper      *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

type increaseLiquidityParams struct {
	TokenID        *big.Int `abi:"tokenId"`
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Deadline       *big.Int
}

type decreaseLiquidityParams struct {
	TokenID    *big.Int `abi:"tokenId"`
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
	Deadline   *big.Int
}

type collectParams struct {
	TokenID    *big.Int `abi:"tokenId"`
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

// BuildMint encodes NonfungiblePositionManager.mint for spec.
func (b *Builder) BuildMint(spec model.PositionSpec, pool model.PoolState, recipient common.Address, deadline *big.Int, slippageBps uint32) (model.CallPayload, error) {
	desired, mins, err := addAmounts(spec, pool, slippageBps)
	if err != nil {
		return model.CallPayload{}, err
	}
	pm, err := dex.PositionManagerABI()
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	data, err := pm.Pack("mint", mintParams{
		Token0:         spec.Token0,
		Token1:         spec.Token1,
		Fee:            new(big.Int).SetUint64(uint64(spec.Fee)),
		TickLower:      big.NewInt(int64(spec.TickLower)),
		TickUpper:      big.NewInt(int64(spec.TickUpper)),
		Amount0Desired: desired.Amount0,
		Amount1Desired: desired.Amount1,
		Amount0Min:     mins.Amount0,
		Amount1Min:     mins.Amount1,
		Recipient:      recipient,
		Deadline:       deadline,
	})
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("pack mint: %w", err)
	}
	return payload(b.cfg.PositionManager, data, "mint"), nil
}

// BuildAddLiquidity encodes increaseLiquidity on an existing position.
func (b *Builder) BuildAddLiquidity(tokenID *big.Int, spec model.PositionSpec, pool model.PoolState, deadline *big.Int, slippageBps uint32) (model.CallPayload, error) {
	if tokenID == nil || tokenID.Sign() <= 0 {
		return model.CallPayload{}, fmt.Errorf("%w: token id must be positive", model.ErrInvalidCommand)
	}
	desired, mins, err := addAmounts(spec, pool, slippageBps)
	if err != nil {
		return model.CallPayload{}, err
	}
	pm, err := dex.PositionManagerABI()
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	data, err := pm.Pack("increaseLiquidity", increaseLiquidityParams{
		TokenID:        tokenID,
		Amount0Desired: desired.Amount0,
		Amount1Desired: desired.Amount1,
		Amount0Min:     mins.Amount0,
		Amount1Min:     mins.Amount1,
		Deadline:       deadline,
	})
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("pack increaseLiquidity: %w", err)
	}
	return payload(b.cfg.PositionManager, data, "increaseLiquidity"), nil
}

// BuildRemoveLiquidity encodes multicall(decreaseLiquidity, collect) burning
// percentageBps of spec's liquidity and sweeping everything owed to recipient.
func (b *Builder) BuildRemoveLiquidity(tokenID *big.Int, spec model.PositionSpec, pool model.PoolState, percentageBps uint32, recipient common.Address, deadline *big.Int, slippageBps uint32) (model.CallPayload, error) {
	if tokenID == nil || tokenID.Sign() <= 0 {
		return model.CallPayload{}, fmt.Errorf("%w: token id must be positive", model.ErrInvalidCommand)
	}
	if percentageBps == 0 || percentageBps > 10000 {
		return model.CallPayload{}, fmt.Errorf("%w: percentage %d bps outside (0, 10000]", model.ErrInvalidCommand, percentageBps)
	}
	if spec.Liquidity == nil || spec.Liquidity.Sign() <= 0 {
		return model.CallPayload{}, fmt.Errorf("%w: position %s has no liquidity", model.ErrInvalidAmount, tokenID)
	}

	partial := spec
	partial.Liquidity = new(big.Int).Mul(spec.Liquidity, big.NewInt(int64(percentageBps)))
	partial.Liquidity.Quo(partial.Liquidity, big.NewInt(10000))

	mins, err := position.BurnAmountsWithSlippage(partial, pool.SqrtPriceX96, slippageBps)
	if err != nil {
		return model.CallPayload{}, err
	}

	pm, err := dex.PositionManagerABI()
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	decrease, err := pm.Pack("decreaseLiquidity", decreaseLiquidityParams{
		TokenID:    tokenID,
		Liquidity:  partial.Liquidity,
		Amount0Min: mins.Amount0,
		Amount1Min: mins.Amount1,
		Deadline:   deadline,
	})
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("pack decreaseLiquidity: %w", err)
	}
	collect, err := pm.Pack("collect", collectParams{
		TokenID:    tokenID,
		Recipient:  recipient,
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("pack collect: %w", err)
	}
	data, err := pm.Pack("multicall", [][]byte{decrease, collect})
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("pack multicall: %w", err)
	}
	return payload(b.cfg.PositionManager, data, "multicall"), nil
}

func addAmounts(spec model.PositionSpec, pool model.PoolState, slippageBps uint32) (position.Amounts, position.Amounts, error) {
	if pool.SqrtPriceX96 == nil {
		return position.Amounts{}, position.Amounts{}, fmt.Errorf("%w: pool %s has no price", model.ErrInvalidRange, pool.Address.Hex())
	}
	desired, err := position.MintAmounts(spec, pool.SqrtPriceX96)
	if err != nil {
		return position.Amounts{}, position.Amounts{}, err
	}
	mins, err := position.MintAmountsWithSlippage(spec, pool.SqrtPriceX96, slippageBps)
	if err != nil {
		return position.Amounts{}, position.Amounts{}, err
	}
	return desired, mins, nil
}

func payload(to common.Address, data []byte, method string) model.CallPayload {
	return model.CallPayload{To: to, Data: data, Value: big.NewInt(0), Method: method}
}
