package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"liquidityAgent/internal/model"
	"liquidityAgent/internal/position"
)

func (e *Engine) removeLiquidity(ctx context.Context, scope *commandScope, c model.RemoveLiquidity) (model.Receipt, *model.CommandError) {
	scope.log("Starting remove liquidity", c)
	tokenID := new(big.Int).SetUint64(c.TokenID)

	pos, err := e.reader.FetchPosition(ctx, tokenID)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRead, err)
	}
	scope.log("Position details", map[string]any{
		"token0":     pos.Token0.Hex(),
		"token1":     pos.Token1.Hex(),
		"fee":        pos.Fee,
		"tick_lower": pos.TickLower,
		"tick_upper": pos.TickUpper,
		"liquidity":  pos.Liquidity.String(),
	})

	meta0, err := e.reader.FetchTokenMeta(ctx, pos.Token0)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRead, err)
	}
	meta1, err := e.reader.FetchTokenMeta(ctx, pos.Token1)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRead, err)
	}
	scope.log("Token details", []model.TokenMeta{meta0, meta1})

	poolAddr, err := e.reader.GetPool(ctx, pos.Token0, pos.Token1, pos.Fee)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRead, err)
	}
	if poolAddr == (common.Address{}) {
		return model.Receipt{}, scope.fail(model.StageRead, fmt.Errorf("%w: %s/%s fee %d", model.ErrNoPoolFound, pos.Token0.Hex(), pos.Token1.Hex(), pos.Fee))
	}
	if c.PoolAddress != (common.Address{}) && c.PoolAddress != poolAddr {
		scope.log("Requested pool differs from position pool; using position pool", map[string]string{
			"requested": c.PoolAddress.Hex(),
			"position":  poolAddr.Hex(),
		})
	}

	pool, err := e.reader.FetchPoolState(ctx, poolAddr)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageRead, err)
	}
	scope.log("Pool state fetched", poolFields(pool))

	spec, err := position.FromExisting(pos, pool)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageCalculate, err)
	}

	payload, err := e.builder.BuildRemoveLiquidity(tokenID, spec, pool, c.PercentageBps, e.submitter.Address(), e.deadline(), e.cfg.SlippageBps)
	if err != nil {
		return model.Receipt{}, scope.fail(model.StageBuild, err)
	}
	scope.log("Remove liquidity parameters", map[string]any{
		"token_id":       c.TokenID,
		"percentage_bps": c.PercentageBps,
		"recipient":      e.submitter.Address().Hex(),
	})
	return e.submit(ctx, scope, payload)
}
