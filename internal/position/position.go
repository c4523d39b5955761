package position

import (
	"fmt"
	"math/big"

	"liquidityAgent/internal/model"
)

// DefaultTickWindow is the half-width, in tick spacings, of a new range.
const DefaultTickWindow = 2

// Calculator derives liquidity positions under a fixed tick-window policy.
type Calculator struct {
	window int32
}

func NewCalculator(window int32) *Calculator {
	if window <= 0 {
		window = DefaultTickWindow
	}
	return &Calculator{window: window}
}

// NearestUsableTick rounds tick to the nearest multiple of spacing, halves
// rounding up, and keeps the result inside the tick bounds.
func NearestUsableTick(tick, spacing int32) (int32, error) {
	if spacing <= 0 {
		return 0, fmt.Errorf("%w: tick spacing %d must be positive", model.ErrInvalidRange, spacing)
	}
	if tick < MinTick || tick > MaxTick {
		return 0, fmt.Errorf("%w: tick %d outside [%d, %d]", model.ErrInvalidRange, tick, MinTick, MaxTick)
	}

	s := int64(spacing)
	rounded := floorDiv(2*int64(tick)+s, 2*s) * s
	if rounded < int64(MinTick) {
		rounded += s
	} else if rounded > int64(MaxTick) {
		rounded -= s
	}
	return int32(rounded), nil
}

// TickRange returns the window around the pool's current tick.
func (c *Calculator) TickRange(tick, spacing int32) (int32, int32, error) {
	nearest, err := NearestUsableTick(tick, spacing)
	if err != nil {
		return 0, 0, err
	}
	offset := int64(c.window) * int64(spacing)
	lower := int64(nearest) - offset
	upper := int64(nearest) + offset
	if lower >= upper {
		return 0, 0, fmt.Errorf("%w: lower %d not below upper %d", model.ErrInvalidRange, lower, upper)
	}
	if lower < int64(MinTick) || upper > int64(MaxTick) {
		return 0, 0, fmt.Errorf("%w: [%d, %d] outside [%d, %d]", model.ErrInvalidRange, lower, upper, MinTick, MaxTick)
	}
	return int32(lower), int32(upper), nil
}

// ComputePosition sizes a new position from token0/token1 base-unit amounts.
func (c *Calculator) ComputePosition(amount0, amount1 *big.Int, pool model.PoolState) (model.PositionSpec, error) {
	if amount0 == nil || amount1 == nil || amount0.Sign() < 0 || amount1.Sign() < 0 {
		return model.PositionSpec{}, fmt.Errorf("%w: position amounts must be non-negative", model.ErrInvalidAmount)
	}
	if pool.SqrtPriceX96 == nil || pool.SqrtPriceX96.Sign() <= 0 {
		return model.PositionSpec{}, fmt.Errorf("%w: pool %s has no price", model.ErrInvalidRange, pool.Address.Hex())
	}

	lower, upper, err := c.TickRange(pool.Tick, pool.TickSpacing)
	if err != nil {
		return model.PositionSpec{}, err
	}
	sqrtLower, err := SqrtRatioAtTick(lower)
	if err != nil {
		return model.PositionSpec{}, err
	}
	sqrtUpper, err := SqrtRatioAtTick(upper)
	if err != nil {
		return model.PositionSpec{}, err
	}

	return model.PositionSpec{
		Pool:      pool.Address,
		Token0:    pool.Token0,
		Token1:    pool.Token1,
		Fee:       pool.Fee,
		TickLower: lower,
		TickUpper: upper,
		Liquidity: MaxLiquidityForAmounts(pool.SqrtPriceX96, sqrtLower, sqrtUpper, amount0, amount1, true),
	}, nil
}

// FromExisting rebuilds the spec of an on-chain position so it can be burned.
func FromExisting(pos model.Position, pool model.PoolState) (model.PositionSpec, error) {
	if pos.TickLower >= pos.TickUpper {
		return model.PositionSpec{}, fmt.Errorf("%w: position %s has lower %d not below upper %d", model.ErrInvalidRange, pos.TokenID, pos.TickLower, pos.TickUpper)
	}
	if pos.TickLower < MinTick || pos.TickUpper > MaxTick {
		return model.PositionSpec{}, fmt.Errorf("%w: position %s outside tick bounds", model.ErrInvalidRange, pos.TokenID)
	}
	if pos.Token0 != pool.Token0 || pos.Token1 != pool.Token1 || pos.Fee != pool.Fee {
		return model.PositionSpec{}, fmt.Errorf("%w: position %s does not belong to pool %s", model.ErrInvalidRange, pos.TokenID, pool.Address.Hex())
	}

	liquidity := new(big.Int)
	if pos.Liquidity != nil {
		liquidity.Set(pos.Liquidity)
	}
	return model.PositionSpec{
		Pool:      pool.Address,
		Token0:    pos.Token0,
		Token1:    pos.Token1,
		Fee:       pos.Fee,
		TickLower: pos.TickLower,
		TickUpper: pos.TickUpper,
		Liquidity: liquidity,
	}, nil
}

// Amounts is a token0/token1 pair in base units.
type Amounts struct {
	Amount0 *big.Int
	Amount1 *big.Int
}

// MintAmounts returns the token amounts needed to mint spec at sqrtP,
// rounded up.
func MintAmounts(spec model.PositionSpec, sqrtP *big.Int) (Amounts, error) {
	return amountsAt(spec, sqrtP, spec.Liquidity, true)
}

// BurnAmounts returns the token amounts released by burning spec at sqrtP,
// rounded down.
func BurnAmounts(spec model.PositionSpec, sqrtP *big.Int) (Amounts, error) {
	return amountsAt(spec, sqrtP, spec.Liquidity, false)
}

func amountsAt(spec model.PositionSpec, sqrtP, liquidity *big.Int, roundUp bool) (Amounts, error) {
	sqrtLower, sqrtUpper, err := rangeRatios(spec)
	if err != nil {
		return Amounts{}, err
	}

	out := Amounts{Amount0: new(big.Int), Amount1: new(big.Int)}
	switch {
	case sqrtP.Cmp(sqrtLower) < 0:
		out.Amount0 = Amount0Delta(sqrtLower, sqrtUpper, liquidity, roundUp)
	case sqrtP.Cmp(sqrtUpper) < 0:
		out.Amount0 = Amount0Delta(sqrtP, sqrtUpper, liquidity, roundUp)
		out.Amount1 = Amount1Delta(sqrtLower, sqrtP, liquidity, roundUp)
	default:
		out.Amount1 = Amount1Delta(sqrtLower, sqrtUpper, liquidity, roundUp)
	}
	return out, nil
}

// MintAmountsWithSlippage returns the minimum amounts a mint may consume
// if the price moves by at most slippageBps in either direction.
func MintAmountsWithSlippage(spec model.PositionSpec, sqrtP *big.Int, slippageBps uint32) (Amounts, error) {
	sqrtLowerSlip, sqrtUpperSlip, err := RatiosAfterSlippage(sqrtP, slippageBps)
	if err != nil {
		return Amounts{}, err
	}
	sqrtLower, sqrtUpper, err := rangeRatios(spec)
	if err != nil {
		return Amounts{}, err
	}

	// The position manager sizes liquidity with the imprecise formula.
	desired, err := MintAmounts(spec, sqrtP)
	if err != nil {
		return Amounts{}, err
	}
	willCreate := MaxLiquidityForAmounts(sqrtP, sqrtLower, sqrtUpper, desired.Amount0, desired.Amount1, false)

	upper, err := amountsAt(spec, sqrtUpperSlip, willCreate, true)
	if err != nil {
		return Amounts{}, err
	}
	lower, err := amountsAt(spec, sqrtLowerSlip, willCreate, true)
	if err != nil {
		return Amounts{}, err
	}
	return Amounts{Amount0: upper.Amount0, Amount1: lower.Amount1}, nil
}

// BurnAmountsWithSlippage returns the minimum amounts a burn of spec must
// return if the price moves by at most slippageBps.
func BurnAmountsWithSlippage(spec model.PositionSpec, sqrtP *big.Int, slippageBps uint32) (Amounts, error) {
	sqrtLowerSlip, sqrtUpperSlip, err := RatiosAfterSlippage(sqrtP, slippageBps)
	if err != nil {
		return Amounts{}, err
	}
	upper, err := amountsAt(spec, sqrtUpperSlip, spec.Liquidity, false)
	if err != nil {
		return Amounts{}, err
	}
	lower, err := amountsAt(spec, sqrtLowerSlip, spec.Liquidity, false)
	if err != nil {
		return Amounts{}, err
	}
	return Amounts{Amount0: upper.Amount0, Amount1: lower.Amount1}, nil
}

// RatiosAfterSlippage moves the price (sqrtP^2) down and up by slippageBps
// and returns the matching sqrt prices, clamped inside the valid range.
func RatiosAfterSlippage(sqrtP *big.Int, slippageBps uint32) (*big.Int, *big.Int, error) {
	if slippageBps >= 10000 {
		return nil, nil, fmt.Errorf("%w: slippage %d bps must be below 10000", model.ErrInvalidRange, slippageBps)
	}
	priceX192 := new(big.Int).Mul(sqrtP, sqrtP)
	bps := big.NewInt(10000)

	lower := new(big.Int).Mul(priceX192, big.NewInt(int64(10000-slippageBps)))
	lower.Quo(lower, bps)
	lower.Sqrt(lower)
	if lower.Cmp(MinSqrtRatio) <= 0 {
		lower = new(big.Int).Add(MinSqrtRatio, big.NewInt(1))
	}

	upper := new(big.Int).Mul(priceX192, big.NewInt(int64(10000+slippageBps)))
	upper.Quo(upper, bps)
	upper.Sqrt(upper)
	if upper.Cmp(MaxSqrtRatio) >= 0 {
		upper = new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1))
	}
	return lower, upper, nil
}

func rangeRatios(spec model.PositionSpec) (*big.Int, *big.Int, error) {
	if spec.TickLower >= spec.TickUpper {
		return nil, nil, fmt.Errorf("%w: lower %d not below upper %d", model.ErrInvalidRange, spec.TickLower, spec.TickUpper)
	}
	if spec.Liquidity == nil || spec.Liquidity.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: position liquidity must be non-negative", model.ErrInvalidAmount)
	}
	sqrtLower, err := SqrtRatioAtTick(spec.TickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := SqrtRatioAtTick(spec.TickUpper)
	if err != nil {
		return nil, nil, err
	}
	return sqrtLower, sqrtUpper, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
