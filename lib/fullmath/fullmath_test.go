package fullmath

import (
	"testing"

	ui "github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	fp "github.com/solpool/clmm-core/lib/fixedpoint"
)

func TestMulDiv(t *testing.T) {
	require.Equal(t, uint64(6), MulDiv(ui.NewInt(4), ui.NewInt(3), ui.NewInt(2)).Uint64())
	// Floors.
	require.Equal(t, uint64(3), MulDiv(ui.NewInt(7), ui.NewInt(1), ui.NewInt(2)).Uint64())

	// Intermediate product wider than 256 bits panics.
	require.Panics(t, func() {
		MulDiv(fp.MaxU256, fp.MaxU256, ui.NewInt(1))
	})
}

func TestMulDivRoundingUp(t *testing.T) {
	require.Equal(t, uint64(4), MulDivRoundingUp(ui.NewInt(7), ui.NewInt(1), ui.NewInt(2)).Uint64())
	require.Equal(t, uint64(3), MulDivRoundingUp(ui.NewInt(6), ui.NewInt(1), ui.NewInt(2)).Uint64())
	require.True(t, MulDivRoundingUp(ui.NewInt(0), ui.NewInt(5), ui.NewInt(2)).IsZero())
}

func TestDivRoundingUp(t *testing.T) {
	require.Equal(t, uint64(4), DivRoundingUp(ui.NewInt(7), ui.NewInt(2)).Uint64())
	require.Equal(t, uint64(3), DivRoundingUp(ui.NewInt(6), ui.NewInt(2)).Uint64())
}

func TestWrappingSubU128(t *testing.T) {
	// 0 - 1 wraps to the maximum u128.
	require.Equal(t, fp.MaxU128.Dec(), WrappingSubU128(ui.NewInt(0), ui.NewInt(1)).Dec())
	require.Equal(t, uint64(5), WrappingSubU128(ui.NewInt(12), ui.NewInt(7)).Uint64())

	// A later global minus an earlier global recovers the delta even across a
	// wrap of the accumulator.
	before := new(ui.Int).Sub(fp.MaxU128, ui.NewInt(9))
	after := WrappingAddU128(before, ui.NewInt(50))
	require.Equal(t, uint64(50), WrappingSubU128(after, before).Uint64())
}

func TestToUnderflowU64(t *testing.T) {
	require.Equal(t, uint64(42), ToUnderflowU64(ui.NewInt(42)))
	require.Equal(t, uint64(0), ToUnderflowU64(new(ui.Int).Add(fp.MaxU64, ui.NewInt(1))))
}
