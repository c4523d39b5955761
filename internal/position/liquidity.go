package position

import "math/big"

// MaxLiquidityForAmounts returns the largest liquidity that amount0 and
// amount1 can fund between sqrtA and sqrtB at the current sqrt price.
// precise selects the full-precision amount0 formula; the position manager
// itself uses the imprecise one.
func MaxLiquidityForAmounts(sqrtP, sqrtA, sqrtB, amount0, amount1 *big.Int, precise bool) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)

	liquidity0 := maxLiquidityForAmount0Imprecise
	if precise {
		liquidity0 = maxLiquidityForAmount0Precise
	}

	switch {
	case sqrtP.Cmp(sqrtA) <= 0:
		return liquidity0(sqrtA, sqrtB, amount0)
	case sqrtP.Cmp(sqrtB) < 0:
		l0 := liquidity0(sqrtP, sqrtB, amount0)
		l1 := maxLiquidityForAmount1(sqrtA, sqrtP, amount1)
		if l0.Cmp(l1) < 0 {
			return l0
		}
		return l1
	default:
		return maxLiquidityForAmount1(sqrtA, sqrtB, amount1)
	}
}

func maxLiquidityForAmount0Imprecise(sqrtA, sqrtB, amount0 *big.Int) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	intermediate := new(big.Int).Mul(sqrtA, sqrtB)
	intermediate.Quo(intermediate, Q96)
	numerator := new(big.Int).Mul(amount0, intermediate)
	return numerator.Quo(numerator, new(big.Int).Sub(sqrtB, sqrtA))
}

func maxLiquidityForAmount0Precise(sqrtA, sqrtB, amount0 *big.Int) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	numerator := new(big.Int).Mul(amount0, sqrtA)
	numerator.Mul(numerator, sqrtB)
	denominator := new(big.Int).Mul(Q96, new(big.Int).Sub(sqrtB, sqrtA))
	return numerator.Quo(numerator, denominator)
}

func maxLiquidityForAmount1(sqrtA, sqrtB, amount1 *big.Int) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	numerator := new(big.Int).Mul(amount1, Q96)
	return numerator.Quo(numerator, new(big.Int).Sub(sqrtB, sqrtA))
}

// Amount0Delta is the token0 needed for liquidity between two sqrt prices.
func Amount0Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, sqrtB), sqrtA)
	}
	out := new(big.Int).Mul(numerator1, numerator2)
	out.Quo(out, sqrtB)
	return out.Quo(out, sqrtA)
}

// Amount1Delta is the token1 needed for liquidity between two sqrt prices.
func Amount1Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, Q96)
	}
	out := new(big.Int).Mul(liquidity, diff)
	return out.Quo(out, Q96)
}

func mulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return divRoundingUp(product, denominator)
}

func divRoundingUp(a, denominator *big.Int) *big.Int {
	quotient, rem := new(big.Int).QuoRem(a, denominator, new(big.Int))
	if rem.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}

func sortRatios(a, b *big.Int) (*big.Int, *big.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}
