package fullmath

import (
	ui "github.com/holiman/uint256"

	fp "github.com/solpool/clmm-core/lib/fixedpoint"
)

func MulDiv(a, b, denominator *ui.Int) *ui.Int {
	result, overflow := new(ui.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		panic("mulDiv overflow")
	}
	return result
}

func MulDivRoundingUp(a, b, denominator *ui.Int) *ui.Int {
	if a.IsZero() || b.IsZero() {
		return ui.NewInt(0)
	}
	result := MulDiv(a, b, denominator)
	rem := new(ui.Int).MulMod(a, b, denominator)
	if !rem.IsZero() {
		result.Add(result, fp.One)
	}
	return result
}

func DivRoundingUp(a, b *ui.Int) *ui.Int {
	result := new(ui.Int).Div(a, b)
	if !new(ui.Int).Mod(a, b).IsZero() {
		result.Add(result, fp.One)
	}
	return result
}

// WrappingSubU128 returns (a - b) mod 2^128. Fee growth accumulators wrap at
// 128 bits over the life of a pool and are only ever consumed as differences.
func WrappingSubU128(a, b *ui.Int) *ui.Int {
	return new(ui.Int).And(new(ui.Int).Sub(a, b), fp.MaxU128)
}

func WrappingAddU128(a, b *ui.Int) *ui.Int {
	return new(ui.Int).And(new(ui.Int).Add(a, b), fp.MaxU128)
}

// ToUnderflowU64 truncates x to uint64, returning 0 when it does not fit.
func ToUnderflowU64(x *ui.Int) uint64 {
	if x.Cmp(fp.MaxU64) > 0 {
		return 0
	}
	return x.Uint64()
}
