package liquiditymath

import (
	"errors"

	ui "github.com/holiman/uint256"

	fp "github.com/solpool/clmm-core/lib/fixedpoint"
	fm "github.com/solpool/clmm-core/lib/fullmath"
	"github.com/solpool/clmm-core/lib/invariant"
	tm "github.com/solpool/clmm-core/lib/tickmath"
)

// ErrMaxTokenOverflow is returned when a computed token amount does not fit
// in the 64-bit token amount range.
var ErrMaxTokenOverflow = errors.New("max token overflow")

// LiquidityFromAmount0 computes the liquidity received for a given amount of
// token_0 and price range: ΔL = Δx (√P_upper x √P_lower)/(√P_upper - √P_lower).
func LiquidityFromAmount0(sqrtPriceAX64, sqrtPriceBX64 *ui.Int, amount0 uint64) *ui.Int {
	if sqrtPriceAX64.Cmp(sqrtPriceBX64) > 0 {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	intermediate := fm.MulDiv(sqrtPriceAX64, sqrtPriceBX64, fp.Q64)
	return fm.MulDiv(ui.NewInt(amount0), intermediate, new(ui.Int).Sub(sqrtPriceBX64, sqrtPriceAX64))
}

// LiquidityFromAmount1 computes the liquidity received for a given amount of
// token_1 and price range: ΔL = Δy / (√P_upper - √P_lower).
func LiquidityFromAmount1(sqrtPriceAX64, sqrtPriceBX64 *ui.Int, amount1 uint64) *ui.Int {
	if sqrtPriceAX64.Cmp(sqrtPriceBX64) > 0 {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	return fm.MulDiv(ui.NewInt(amount1), fp.Q64, new(ui.Int).Sub(sqrtPriceBX64, sqrtPriceAX64))
}

// LiquidityFromSingleAmount0 picks the liquidity-determining formula for a
// token_0-sided deposit given where the current price sits relative to the
// range. Outside the range on the upper side token_0 contributes nothing.
func LiquidityFromSingleAmount0(sqrtPriceX64, sqrtPriceAX64, sqrtPriceBX64 *ui.Int, amount0 uint64) *ui.Int {
	if sqrtPriceAX64.Cmp(sqrtPriceBX64) > 0 {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	if sqrtPriceX64.Cmp(sqrtPriceAX64) <= 0 {
		return LiquidityFromAmount0(sqrtPriceAX64, sqrtPriceBX64, amount0)
	} else if sqrtPriceX64.Cmp(sqrtPriceBX64) < 0 {
		return LiquidityFromAmount0(sqrtPriceX64, sqrtPriceBX64, amount0)
	}
	return ui.NewInt(0)
}

// LiquidityFromSingleAmount1 is the token_1 counterpart of
// LiquidityFromSingleAmount0.
func LiquidityFromSingleAmount1(sqrtPriceX64, sqrtPriceAX64, sqrtPriceBX64 *ui.Int, amount1 uint64) *ui.Int {
	if sqrtPriceAX64.Cmp(sqrtPriceBX64) > 0 {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	if sqrtPriceX64.Cmp(sqrtPriceAX64) <= 0 {
		return ui.NewInt(0)
	} else if sqrtPriceX64.Cmp(sqrtPriceBX64) < 0 {
		return LiquidityFromAmount1(sqrtPriceAX64, sqrtPriceX64, amount1)
	}
	return LiquidityFromAmount1(sqrtPriceAX64, sqrtPriceBX64, amount1)
}

// Delta0Unsigned computes the token_0 amount for a liquidity magnitude over a
// price range: Δx = L (√P_upper - √P_lower) / (√P_upper x √P_lower).
// roundUp must be true for deposits and false for withdrawals so that rounding
// never leaks value out of the pool.
func Delta0Unsigned(sqrtPriceAX64, sqrtPriceBX64, liquidity *ui.Int, roundUp bool) (uint64, error) {
	if sqrtPriceAX64.Cmp(sqrtPriceBX64) > 0 {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	invariant.Invariant(!sqrtPriceAX64.IsZero(), "sqrt price lower bound is zero")

	numerator1 := new(ui.Int).Lsh(liquidity, fp.Resolution)
	numerator2 := new(ui.Int).Sub(sqrtPriceBX64, sqrtPriceAX64)

	var result *ui.Int
	if roundUp {
		result = fm.DivRoundingUp(fm.MulDivRoundingUp(numerator1, numerator2, sqrtPriceBX64), sqrtPriceAX64)
	} else {
		result = fm.MulDiv(numerator1, numerator2, sqrtPriceBX64)
		result.Div(result, sqrtPriceAX64)
	}
	if result.Cmp(fp.MaxU64) > 0 {
		return 0, ErrMaxTokenOverflow
	}
	return result.Uint64(), nil
}

// Delta1Unsigned computes the token_1 amount for a liquidity magnitude over a
// price range: Δy = L (√P_upper - √P_lower).
func Delta1Unsigned(sqrtPriceAX64, sqrtPriceBX64, liquidity *ui.Int, roundUp bool) (uint64, error) {
	if sqrtPriceAX64.Cmp(sqrtPriceBX64) > 0 {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}

	diff := new(ui.Int).Sub(sqrtPriceBX64, sqrtPriceAX64)
	var result *ui.Int
	if roundUp {
		result = fm.MulDivRoundingUp(liquidity, diff, fp.Q64)
	} else {
		result = fm.MulDiv(liquidity, diff, fp.Q64)
	}
	if result.Cmp(fp.MaxU64) > 0 {
		return 0, ErrMaxTokenOverflow
	}
	return result.Uint64(), nil
}

// Delta0Signed wraps Delta0Unsigned, rounding down for a negative delta
// (withdrawal) and up for a positive one (deposit).
func Delta0Signed(sqrtPriceAX64, sqrtPriceBX64, liquidityDelta *ui.Int) (uint64, error) {
	if liquidityDelta.Sign() < 0 {
		return Delta0Unsigned(sqrtPriceAX64, sqrtPriceBX64, new(ui.Int).Neg(liquidityDelta), false)
	}
	return Delta0Unsigned(sqrtPriceAX64, sqrtPriceBX64, liquidityDelta, true)
}

// Delta1Signed wraps Delta1Unsigned, rounding down for a negative delta.
func Delta1Signed(sqrtPriceAX64, sqrtPriceBX64, liquidityDelta *ui.Int) (uint64, error) {
	if liquidityDelta.Sign() < 0 {
		return Delta1Unsigned(sqrtPriceAX64, sqrtPriceBX64, new(ui.Int).Neg(liquidityDelta), false)
	}
	return Delta1Unsigned(sqrtPriceAX64, sqrtPriceBX64, liquidityDelta, true)
}

// DeltaAmountsSigned splits a liquidity delta over [tickLower, tickUpper) into
// token amounts. Below the range only token_0 moves, above it only token_1;
// inside, token_0 covers current→upper and token_1 covers lower→current.
func DeltaAmountsSigned(tickCurrent int32, sqrtPriceX64 *ui.Int, tickLower, tickUpper int32, liquidityDelta *ui.Int) (amount0, amount1 uint64, err error) {
	sqrtPriceLowerX64, err := tm.SqrtPriceAtTick(tickLower)
	if err != nil {
		return 0, 0, err
	}
	sqrtPriceUpperX64, err := tm.SqrtPriceAtTick(tickUpper)
	if err != nil {
		return 0, 0, err
	}

	if tickCurrent < tickLower {
		amount0, err = Delta0Signed(sqrtPriceLowerX64, sqrtPriceUpperX64, liquidityDelta)
	} else if tickCurrent < tickUpper {
		amount0, err = Delta0Signed(sqrtPriceX64, sqrtPriceUpperX64, liquidityDelta)
		if err != nil {
			return 0, 0, err
		}
		amount1, err = Delta1Signed(sqrtPriceLowerX64, sqrtPriceX64, liquidityDelta)
	} else {
		amount1, err = Delta1Signed(sqrtPriceLowerX64, sqrtPriceUpperX64, liquidityDelta)
	}
	if err != nil {
		return 0, 0, err
	}
	return amount0, amount1, nil
}
