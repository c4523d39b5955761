package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityAgent/internal/amount"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/txbuilder"
)

func (e *Engine) swap(ctx context.Context, scope *commandScope, c model.Swap) (model.Receipt, *model.CommandError) {
	scope.log("Starting swap", c)

	route, err := e.builder.SelectRoute(ctx, c.InputToken, c.OutputToken)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRoute, err)
	}
	scope.log("Pool address", map[string]any{"pool": route.Pool.Hex(), "fee": route.Fee})

	decimalsIn, err := e.reader.FetchTokenDecimals(ctx, c.InputToken)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRead, err)
	}
	decimalsOut, err := e.reader.FetchTokenDecimals(ctx, c.OutputToken)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRead, err)
	}

	pool, err := e.reader.FetchPoolState(ctx, route.Pool)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRead, err)
	}
	scope.log("Route created", map[string]any{
		"path":           []string{c.InputToken.Hex(), c.OutputToken.Hex()},
		"symbols":        []string{e.symbol(ctx, scope, c.InputToken), e.symbol(ctx, scope, c.OutputToken)},
		"fee":            route.Fee,
		"tick":           pool.Tick,
		"sqrt_price_x96": pool.SqrtPriceX96.String(),
	})

	amountIn, err := amount.NewTokenAmount(c.InputToken, decimalsIn, c.SwapAmountIn)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageAmount, err)
	}
	if amountIn.IsZero() {
		return model.Receipt{}, scope.fail(model.StageAmount, fmt.Errorf("%w: swap amount %s rounds to zero at %d decimals", model.ErrInvalidAmount, c.SwapAmountIn, decimalsIn))
	}

	quoted, err := e.builder.Quote(ctx, route, amountIn.Raw)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageQuote, err)
	}
	quoteData := map[string]string{
		"amount_out":     quoted.String(),
		"formatted":      amount.Format(quoted, decimalsOut),
		"minimum_amount": txbuilder.MinimumAmountOut(quoted, e.cfg.SlippageBps).String(),
	}
	if c.SwapAmountOut != nil {
		quoteData["planner_expected"] = c.SwapAmountOut.String()
	}
	scope.log("Quote received", quoteData)

	scope.log("Approving token spending", nil)
	if cerr := e.approve(ctx, scope, e.builder.SwapRouter(), amountIn); cerr != nil {
		return model.Receipt{}, cerr
	}

	payload, err := e.builder.BuildSwap(route, amountIn.Raw, quoted, e.submitter.Address(), e.deadline(), e.cfg.SlippageBps)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageBuild, err)
	}
	return e.submit(ctx, scope, payload)
}

// symbol is best effort: a token without a readable symbol is logged by address.
func (e *Engine) symbol(ctx context.Context, scope *commandScope, token common.Address) string {
	symbol, err := e.reader.FetchTokenSymbol(ctx, token)
	if err != nil {
		scope.logger.Debug("symbol unavailable", zap.String("token", token.Hex()), zap.Error(err))
		return ""
	}
	return symbol
}
