package txbuilder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityAgent/internal/dex"
	"liquidityAgent/internal/model"
)

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SelectRoute probes the configured fee tiers in order and returns the first
// pool that exists for the pair.
func (b *Builder) SelectRoute(ctx context.Context, tokenIn, tokenOut common.Address) (model.Route, error) {
	if b.pools == nil {
		return model.Route{}, fmt.Errorf("pool locator is nil")
	}
	for _, fee := range b.cfg.FeeTiers {
		pool, err := b.pools.GetPool(ctx, tokenIn, tokenOut, fee)
		if err != nil {
			return model.Route{}, err
		}
		if pool != (common.Address{}) {
			b.logger.Debug("route selected",
				zap.String("pool", pool.Hex()),
				zap.Uint32("fee", fee),
			)
			return model.Route{Pool: pool, TokenIn: tokenIn, TokenOut: tokenOut, Fee: fee}, nil
		}
	}
	return model.Route{}, fmt.Errorf("%w: %s -> %s in fee tiers %v", model.ErrNoPoolFound, tokenIn.Hex(), tokenOut.Hex(), b.cfg.FeeTiers)
}

// Quote simulates an exact-input swap on the quoter via eth_call and returns
// the expected output amount.
func (b *Builder) Quote(ctx context.Context, route model.Route, amountIn *big.Int) (*big.Int, error) {
	if b.caller == nil {
		return nil, fmt.Errorf("chain caller is nil")
	}
	quoterABI, err := dex.QuoterV2ABI()
	if err != nil {
		return nil, fmt.Errorf("parse quoter abi: %w", err)
	}
	values, err := dex.CallView(ctx, b.caller, b.cfg.Quoter, quoterABI, "quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           route.TokenIn,
		TokenOut:          route.TokenOut,
		AmountIn:          amountIn,
		Fee:               new(big.Int).SetUint64(uint64(route.Fee)),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, err
	}
	amountOut, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: quote amountOut has type %T", model.ErrChainRead, values[0])
	}
	return amountOut, nil
}

// MinimumAmountOut applies slippage to a quoted output: quoted / (1 + bps/10000).
func MinimumAmountOut(quoted *big.Int, slippageBps uint32) *big.Int {
	out := new(big.Int).Mul(quoted, big.NewInt(10000))
	return out.Quo(out, big.NewInt(10000+int64(slippageBps)))
}

// BuildSwap encodes SwapRouter.exactInputSingle along route. quotedOut is the
// nominal output the slippage bound is taken from.
func (b *Builder) BuildSwap(route model.Route, amountIn, quotedOut *big.Int, recipient common.Address, deadline *big.Int, slippageBps uint32) (model.CallPayload, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return model.CallPayload{}, fmt.Errorf("%w: swap input must be positive", model.ErrInvalidAmount)
	}
	if quotedOut == nil || quotedOut.Sign() < 0 {
		return model.CallPayload{}, fmt.Errorf("%w: quoted output must be non-negative", model.ErrInvalidAmount)
	}
	routerABI, err := dex.SwapRouterABI()
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("parse swap router abi: %w", err)
	}
	data, err := routerABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           route.TokenIn,
		TokenOut:          route.TokenOut,
		Fee:               new(big.Int).SetUint64(uint64(route.Fee)),
		Recipient:         recipient,
		Deadline:          deadline,
		AmountIn:          amountIn,
		AmountOutMinimum:  MinimumAmountOut(quotedOut, slippageBps),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return model.CallPayload{}, fmt.Errorf("pack exactInputSingle: %w", err)
	}
	return payload(b.cfg.SwapRouter, data, "exactInputSingle"), nil
}
