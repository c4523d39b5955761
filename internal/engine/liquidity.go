package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"liquidityAgent/internal/amount"
	"liquidityAgent/internal/model"
)

// liquidityRequest is the common shape of MINT_POSITION and ADD_LIQUIDITY
// once amounts are in base units.
type liquidityRequest struct {
	pool    common.Address
	amountA model.TokenAmount
	amountB model.TokenAmount
}

type buildFunc func(spec model.PositionSpec, pool model.PoolState) (model.CallPayload, error)

func (e *Engine) mintPosition(ctx context.Context, scope *commandScope, c model.MintPosition) (model.Receipt, *model.CommandError) {
	scope.log("Starting mint position", c)

	req, cerr := newLiquidityRequest(scope, c.PoolAddress,
		c.TokenAAddress, c.TokenADecimals, c.TokenAAmount,
		c.TokenBAddress, c.TokenBDecimals, c.TokenBAmount)
	if cerr != nil {
		return model.Receipt{}, cerr
	}
	recipient := e.submitter.Address()
	return e.provideLiquidity(ctx, scope, req, func(spec model.PositionSpec, pool model.PoolState) (model.CallPayload, error) {
		return e.builder.BuildMint(spec, pool, recipient, e.deadline(), e.cfg.SlippageBps)
	})
}

func (e *Engine) addLiquidity(ctx context.Context, scope *commandScope, c model.AddLiquidity) (model.Receipt, *model.CommandError) {
	scope.log("Starting add liquidity", c)

	decimalsA, cerr := e.decimals(ctx, scope, c.TokenAAddress, c.TokenADecimals)
	if cerr != nil {
		return model.Receipt{}, cerr
	}
	decimalsB, cerr := e.decimals(ctx, scope, c.TokenBAddress, c.TokenBDecimals)
	if cerr != nil {
		return model.Receipt{}, cerr
	}

	req, cerr := newLiquidityRequest(scope, c.PoolAddress,
		c.TokenAAddress, decimalsA, c.TokenAAmount,
		c.TokenBAddress, decimalsB, c.TokenBAmount)
	if cerr != nil {
		return model.Receipt{}, cerr
	}
	tokenID := new(big.Int).SetUint64(c.TokenID)
	return e.provideLiquidity(ctx, scope, req, func(spec model.PositionSpec, pool model.PoolState) (model.CallPayload, error) {
		return e.builder.BuildAddLiquidity(tokenID, spec, pool, e.deadline(), e.cfg.SlippageBps)
	})
}

func newLiquidityRequest(scope *commandScope, pool common.Address,
	tokenA common.Address, decimalsA uint8, humanA decimal.Decimal,
	tokenB common.Address, decimalsB uint8, humanB decimal.Decimal,
) (liquidityRequest, *model.CommandError) {
	amountA, err := amount.NewTokenAmount(tokenA, decimalsA, humanA)
	if err != nil {
		return liquidityRequest{}, scope.fail(model.StageAmount, err)
	}
	amountB, err := amount.NewTokenAmount(tokenB, decimalsB, humanB)
	if err != nil {
		return liquidityRequest{}, scope.fail(model.StageAmount, err)
	}
	scope.log("Raw amounts", map[string]string{"amount_a": amountA.Raw.String(), "amount_b": amountB.Raw.String()})
	return liquidityRequest{pool: pool, amountA: amountA, amountB: amountB}, nil
}

// provideLiquidity approves both tokens to the position manager, reads the
// pool, sizes the position around the current tick and submits the call
// produced by build.
func (e *Engine) provideLiquidity(ctx context.Context, scope *commandScope, req liquidityRequest, build buildFunc) (model.Receipt, *model.CommandError) {
	scope.log("Approving tokens", nil)
	spender := e.builder.PositionManager()
	if cerr := e.approve(ctx, scope, spender, req.amountA); cerr != nil {
		return model.Receipt{}, cerr
	}
	if cerr := e.approve(ctx, scope, spender, req.amountB); cerr != nil {
		return model.Receipt{}, cerr
	}

	pool, err := e.reader.FetchPoolState(ctx, req.pool)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRead, err)
	}
	scope.log("Pool state fetched", poolFields(pool))

	amount0, amount1, err := orderAmounts(pool, req)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageCalculate, err)
	}

	spec, err := e.calc.ComputePosition(amount0, amount1, pool)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageCalculate, err)
	}
	scope.log("Position constructed", map[string]any{
		"tick_lower": spec.TickLower,
		"tick_upper": spec.TickUpper,
		"liquidity":  spec.Liquidity.String(),
	})

	payload, err := build(spec, pool)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageBuild, err)
	}
	return e.submit(ctx, scope, payload)
}

// orderAmounts maps the planner's A/B amounts onto the pool's token0/token1.
func orderAmounts(pool model.PoolState, req liquidityRequest) (*big.Int, *big.Int, error) {
	a, b := req.amountA, req.amountB
	switch {
	case a.Token == pool.Token0 && b.Token == pool.Token1:
		return a.Raw, b.Raw, nil
	case a.Token == pool.Token1 && b.Token == pool.Token0:
		return b.Raw, a.Raw, nil
	default:
		return nil, nil, fmt.Errorf("%w: tokens %s/%s do not match pool %s (%s/%s)", model.ErrInvalidCommand,
			a.Token.Hex(), b.Token.Hex(), pool.Address.Hex(), pool.Token0.Hex(), pool.Token1.Hex())
	}
}

// decimals returns the planner-supplied precision or reads it from chain.
func (e *Engine) decimals(ctx context.Context, scope *commandScope, token common.Address, given *uint8) (uint8, *model.CommandError) {
	if given != nil {
		return *given, nil
	}
	decimals, err := e.reader.FetchTokenDecimals(ctx, token)
	if err != nil {
		return 0, scope.fail(model.StageRead, err)
	}
	scope.log("Token decimals fetched", map[string]any{"token": token.Hex(), "decimals": decimals})
	return decimals, nil
}

func (e *Engine) approve(ctx context.Context, scope *commandScope, spender common.Address, amt model.TokenAmount) *model.CommandError {
	payload, err := e.builder.BuildApproval(spender, amt.Token, amt.Raw)
	if err != nil {
		return scope.fail(model.StageApprove, err)
	}
	receipt, err := e.submitter.Approve(ctx, payload)
	if err != nil {
		return scope.fail(model.StageApprove, err)
	}
	scope.log("Token approved", map[string]any{
		"token":   amt.Token.Hex(),
		"spender": spender.Hex(),
		"amount":  amt.Raw.String(),
		"tx_hash": receipt.TxHash.Hex(),
	})
	return nil
}

func (e *Engine) submit(ctx context.Context, scope *commandScope, payload model.CallPayload) (model.Receipt, *model.CommandError) {
	scope.log("Sending transaction", map[string]string{"to": payload.To.Hex(), "method": payload.Method})
	receipt, err := e.submitter.Submit(ctx, payload)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageSubmit, err)
	}
	scope.log("Transaction confirmed", map[string]any{
		"tx_hash":      receipt.TxHash.Hex(),
		"block_number": receipt.BlockNumber,
		"gas_used":     receipt.GasUsed,
	})
	return receipt, nil
}

func poolFields(pool model.PoolState) map[string]any {
	return map[string]any{
		"pool":           pool.Address.Hex(),
		"token0":         pool.Token0.Hex(),
		"token1":         pool.Token1.Hex(),
		"fee":            pool.Fee,
		"tick":           pool.Tick,
		"tick_spacing":   pool.TickSpacing,
		"sqrt_price_x96": pool.SqrtPriceX96.String(),
		"liquidity":      pool.Liquidity.String(),
	}
}
