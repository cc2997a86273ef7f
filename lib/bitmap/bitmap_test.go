package bitmap

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var testPool = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

func TestMaxTickInTickarrayBitmap(t *testing.T) {
	require.Equal(t, int32(30720), MaxTickInTickarrayBitmap(1))
	require.Equal(t, int32(307200), MaxTickInTickarrayBitmap(10))
}

func TestCheckExtensionBoundary(t *testing.T) {
	// Spacing 1: the default bitmap covers [-30720, 30720).
	require.Error(t, CheckExtensionBoundary(0, 1))
	require.Error(t, CheckExtensionBoundary(30660, 1))
	require.Error(t, CheckExtensionBoundary(-30720, 1))
	require.NoError(t, CheckExtensionBoundary(30720, 1))
	require.NoError(t, CheckExtensionBoundary(-30780, 1))
}

func TestFlipTickArrayBitPositive(t *testing.T) {
	ext := NewExtension(testPool)

	// First start index beyond the default bitmap.
	start := int32(30720)
	set, err := ext.CheckTickArrayIsInit(start, 1)
	require.NoError(t, err)
	require.False(t, set)

	require.NoError(t, ext.FlipTickArrayBit(start, 1))
	set, err = ext.CheckTickArrayIsInit(start, 1)
	require.NoError(t, err)
	require.True(t, set)

	// A neighboring array is unaffected.
	set, err = ext.CheckTickArrayIsInit(start+60, 1)
	require.NoError(t, err)
	require.False(t, set)

	// Flipping again restores the empty state.
	require.NoError(t, ext.FlipTickArrayBit(start, 1))
	set, err = ext.CheckTickArrayIsInit(start, 1)
	require.NoError(t, err)
	require.False(t, set)
}

func TestFlipTickArrayBitNegative(t *testing.T) {
	ext := NewExtension(testPool)

	for _, start := range []int32{-30780, -61440, -61380, -92100} {
		require.NoError(t, ext.FlipTickArrayBit(start, 1), "start %d", start)
		set, err := ext.CheckTickArrayIsInit(start, 1)
		require.NoError(t, err)
		require.True(t, set, "start %d", start)
	}

	// Each start occupies a distinct bit: unflip one, the others survive.
	require.NoError(t, ext.FlipTickArrayBit(-61440, 1))
	set, err := ext.CheckTickArrayIsInit(-61440, 1)
	require.NoError(t, err)
	require.False(t, set)
	set, err = ext.CheckTickArrayIsInit(-61380, 1)
	require.NoError(t, err)
	require.True(t, set)
}

func TestFlipRejectsDefaultRangeAndMisaligned(t *testing.T) {
	ext := NewExtension(testPool)

	require.ErrorIs(t, ext.FlipTickArrayBit(0, 1), ErrInvalidTickArrayBoundary)
	require.ErrorIs(t, ext.FlipTickArrayBit(30721, 1), ErrInvalidTickIndex)
}

func TestWordGroup(t *testing.T) {
	var w WordGroup
	w.Flip(0)
	w.Flip(511)
	require.True(t, w.IsSet(0))
	require.True(t, w.IsSet(511))
	require.False(t, w.IsSet(64))
	w.Flip(511)
	require.False(t, w.IsSet(511))
}
