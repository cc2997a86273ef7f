package bitmap

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	tm "github.com/solpool/clmm-core/lib/tickmath"
)

const (
	// TickArrayBitmapSize is the number of tick arrays addressed by one
	// bitmap word group.
	TickArrayBitmapSize = 512

	// ExtensionSize is the number of word groups on each side of the
	// extension.
	ExtensionSize = 14
)

var (
	ErrInvalidTickIndex         = errors.New("invalid tick index")
	ErrInvalidTickArrayBoundary = errors.New("tick array start index is not beyond the default bitmap boundary")
)

// WordGroup is one 512-bit bitmap, bit i addressing the i-th tick array of its
// covered span.
type WordGroup [8]uint64

func (w *WordGroup) IsSet(bit int) bool {
	return w[bit/64]&(1<<(uint(bit)%64)) != 0
}

func (w *WordGroup) Flip(bit int) {
	w[bit/64] ^= 1 << (uint(bit) % 64)
}

// TickArrayBitmapExtension indexes the tick arrays outside a pool's default
// bitmap range. Positive and negative ticks are kept in separate halves with
// distinct offset arithmetic.
type TickArrayBitmapExtension struct {
	PoolID                  solana.PublicKey
	PositiveTickArrayBitmap [ExtensionSize]WordGroup
	NegativeTickArrayBitmap [ExtensionSize]WordGroup
}

func NewExtension(poolID solana.PublicKey) *TickArrayBitmapExtension {
	return &TickArrayBitmapExtension{PoolID: poolID}
}

func (e *TickArrayBitmapExtension) Clone() *TickArrayBitmapExtension {
	cp := *e
	return &cp
}

// MaxTickInTickarrayBitmap is the tick span covered by one 512-bit bitmap:
// the default in-pool bitmap covers [-span, span), the n-th extension word
// group covers the n-th span beyond that.
func MaxTickInTickarrayBitmap(tickSpacing uint16) int32 {
	return int32(tickSpacing) * tm.TickArraySize * TickArrayBitmapSize
}

// CheckExtensionBoundary fails for ticks the default in-pool bitmap covers.
func CheckExtensionBoundary(tickIndex int32, tickSpacing uint16) error {
	positiveBoundary := MaxTickInTickarrayBitmap(tickSpacing)
	if tickIndex >= -positiveBoundary && tickIndex < positiveBoundary {
		return fmt.Errorf("%w: tick %d within default boundary %d", ErrInvalidTickArrayBoundary, tickIndex, positiveBoundary)
	}
	return nil
}

// getBitmapOffset returns which word group covers tickIndex.
func getBitmapOffset(tickIndex int32, tickSpacing uint16) (int, error) {
	if !tm.IsValidStartIndex(tickIndex, tickSpacing) {
		return 0, fmt.Errorf("%w: tick %d", ErrInvalidTickIndex, tickIndex)
	}
	if err := CheckExtensionBoundary(tickIndex, tickSpacing); err != nil {
		return 0, err
	}
	ticksInOneBitmap := MaxTickInTickarrayBitmap(tickSpacing)
	offset := abs32(tickIndex)/ticksInOneBitmap - 1
	// The negative side's covered spans are left-closed, so an exact multiple
	// belongs to the group further from zero.
	if tickIndex < 0 && abs32(tickIndex)%ticksInOneBitmap == 0 {
		offset--
	}
	if offset < 0 || offset >= ExtensionSize {
		return 0, fmt.Errorf("%w: tick %d beyond extension range", ErrInvalidTickIndex, tickIndex)
	}
	return int(offset), nil
}

// tickArrayOffsetInBitmap returns the bit position of a tick array inside its
// word group. Negative-side bits are counted from the other end because
// negative ticks grow away from zero in the opposite direction.
func tickArrayOffsetInBitmap(tickArrayStartIndex int32, tickSpacing uint16) int {
	m := abs32(tickArrayStartIndex) % MaxTickInTickarrayBitmap(tickSpacing)
	offset := m / tm.TickCount(tickSpacing)
	if tickArrayStartIndex < 0 && m != 0 {
		offset = TickArrayBitmapSize - offset
	}
	return int(offset)
}

func (e *TickArrayBitmapExtension) wordGroup(tickIndex int32, tickSpacing uint16) (*WordGroup, error) {
	offset, err := getBitmapOffset(tickIndex, tickSpacing)
	if err != nil {
		return nil, err
	}
	if tickIndex < 0 {
		return &e.NegativeTickArrayBitmap[offset], nil
	}
	return &e.PositiveTickArrayBitmap[offset], nil
}

// FlipTickArrayBit toggles the bit for a tick array start index. Called once
// whenever the array transitions between zero and nonzero initialized ticks.
func (e *TickArrayBitmapExtension) FlipTickArrayBit(tickArrayStartIndex int32, tickSpacing uint16) error {
	group, err := e.wordGroup(tickArrayStartIndex, tickSpacing)
	if err != nil {
		return err
	}
	group.Flip(tickArrayOffsetInBitmap(tickArrayStartIndex, tickSpacing))
	return nil
}

// CheckTickArrayIsInit reports whether the bit for a tick array start index is
// set.
func (e *TickArrayBitmapExtension) CheckTickArrayIsInit(tickArrayStartIndex int32, tickSpacing uint16) (bool, error) {
	group, err := e.wordGroup(tickArrayStartIndex, tickSpacing)
	if err != nil {
		return false, err
	}
	return group.IsSet(tickArrayOffsetInBitmap(tickArrayStartIndex, tickSpacing)), nil
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}
