package tickarray

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"

	fm "github.com/solpool/clmm-core/lib/fullmath"
	"github.com/solpool/clmm-core/lib/invariant"
	tm "github.com/solpool/clmm-core/lib/tickmath"
)

// TickArraySize is the number of tick slots per array.
const TickArraySize = int(tm.TickArraySize)

var ErrInvalidTickArray = errors.New("tick is not addressable by this tick array")

// TickState is the per-tick bookkeeping record.
type TickState struct {
	Tick int32
	// LiquidityNet is the net liquidity added when the tick is crossed from
	// left to right. Signed, stored two's complement.
	LiquidityNet *ui.Int
	// LiquidityGross is the total position liquidity referencing this tick.
	LiquidityGross *ui.Int
	// Fee growth per unit of liquidity on the other side of this tick relative
	// to the current tick. Only has relative meaning, the absolute value
	// depends on when the tick was initialized.
	FeeGrowthOutside0X64 *ui.Int
	FeeGrowthOutside1X64 *ui.Int
}

func NewTickState(tick int32) TickState {
	return TickState{
		Tick:                 tick,
		LiquidityNet:         new(ui.Int),
		LiquidityGross:       new(ui.Int),
		FeeGrowthOutside0X64: new(ui.Int),
		FeeGrowthOutside1X64: new(ui.Int),
	}
}

func (t *TickState) IsInitialized() bool {
	return !t.LiquidityGross.IsZero()
}

// Update applies a signed liquidity delta to the tick and reports whether the
// tick flipped between initialized and uninitialized.
func (t *TickState) Update(tickCurrent int32, liquidityDelta, feeGrowthGlobal0X64, feeGrowthGlobal1X64 *ui.Int, upper bool) (flipped bool, err error) {
	grossBefore := t.LiquidityGross.Clone()
	grossAfter := new(ui.Int)
	if liquidityDelta.Sign() >= 0 {
		grossAfter.Add(grossBefore, liquidityDelta)
	} else {
		magnitude := new(ui.Int).Neg(liquidityDelta)
		if magnitude.Cmp(grossBefore) > 0 {
			return false, fmt.Errorf("tick %d: liquidity delta exceeds gross liquidity", t.Tick)
		}
		grossAfter.Sub(grossBefore, magnitude)
	}

	flipped = grossAfter.IsZero() != grossBefore.IsZero()

	if grossBefore.IsZero() {
		// By convention all fee growth before a tick is initialized is assumed
		// to have happened below the tick.
		if t.Tick <= tickCurrent {
			t.FeeGrowthOutside0X64.Set(feeGrowthGlobal0X64)
			t.FeeGrowthOutside1X64.Set(feeGrowthGlobal1X64)
		}
	}

	t.LiquidityGross = grossAfter

	// Difference array: summing LiquidityNet left to right reconstructs the
	// active liquidity at any tick.
	if upper {
		t.LiquidityNet.Sub(t.LiquidityNet, liquidityDelta)
	} else {
		t.LiquidityNet.Add(t.LiquidityNet, liquidityDelta)
	}
	return flipped, nil
}

// Clear zeroes the slot after its last referencing position is removed.
func (t *TickState) Clear() {
	t.LiquidityNet.Clear()
	t.LiquidityGross.Clear()
	t.FeeGrowthOutside0X64.Clear()
	t.FeeGrowthOutside1X64.Clear()
}

func (t *TickState) Clone() TickState {
	return TickState{
		Tick:                 t.Tick,
		LiquidityNet:         t.LiquidityNet.Clone(),
		LiquidityGross:       t.LiquidityGross.Clone(),
		FeeGrowthOutside0X64: t.FeeGrowthOutside0X64.Clone(),
		FeeGrowthOutside1X64: t.FeeGrowthOutside1X64.Clone(),
	}
}

// TickArrayState is a fixed-size block of tick slots spaced by the pool's tick
// spacing, the unit of allocation for tick storage. Created on first reference
// to a tick in its span, never destroyed.
type TickArrayState struct {
	PoolID               solana.PublicKey
	StartTickIndex       int32
	Ticks                [TickArraySize]TickState
	InitializedTickCount uint8
	RecentEpoch          uint64
}

func New(poolID solana.PublicKey, startIndex int32, tickSpacing uint16, epoch uint64) (*TickArrayState, error) {
	if !tm.IsValidStartIndex(startIndex, tickSpacing) {
		return nil, fmt.Errorf("%w: start index %d", tm.ErrInvalidTickArrayStartIndex, startIndex)
	}
	ta := &TickArrayState{
		PoolID:         poolID,
		StartTickIndex: startIndex,
		RecentEpoch:    epoch,
	}
	for i := range ta.Ticks {
		ta.Ticks[i] = NewTickState(startIndex + int32(i)*int32(tickSpacing))
	}
	return ta, nil
}

func (a *TickArrayState) tickOffsetInArray(tickIndex int32, tickSpacing uint16) (int, error) {
	if start := tm.GetArrayStartIndex(tickIndex, tickSpacing); start != a.StartTickIndex {
		return 0, fmt.Errorf("%w: tick %d, array start %d", ErrInvalidTickArray, tickIndex, a.StartTickIndex)
	}
	offset := int((tickIndex - a.StartTickIndex) / int32(tickSpacing))
	invariant.Invariant(offset >= 0 && offset < TickArraySize, "tick offset out of array")
	return offset, nil
}

// GetTickStateMut returns the slot for tickIndex, failing when the array does
// not cover it.
func (a *TickArrayState) GetTickStateMut(tickIndex int32, tickSpacing uint16) (*TickState, error) {
	offset, err := a.tickOffsetInArray(tickIndex, tickSpacing)
	if err != nil {
		return nil, err
	}
	return &a.Ticks[offset], nil
}

// UpdateTickState replaces the slot for tickIndex with the given state.
func (a *TickArrayState) UpdateTickState(tickIndex int32, tickSpacing uint16, state TickState, epoch uint64) error {
	offset, err := a.tickOffsetInArray(tickIndex, tickSpacing)
	if err != nil {
		return err
	}
	a.Ticks[offset] = state
	a.RecentEpoch = epoch
	return nil
}

// UpdateInitializedTickCount tracks how many of the slots are initialized,
// gating bitmap flips when the array transitions between empty and non-empty.
func (a *TickArrayState) UpdateInitializedTickCount(add bool) {
	if add {
		invariant.Invariant(int(a.InitializedTickCount) < TickArraySize, "initialized tick count overflow")
		a.InitializedTickCount++
	} else {
		invariant.Invariant(a.InitializedTickCount > 0, "initialized tick count underflow")
		a.InitializedTickCount--
	}
}

// FirstInitializedTick scans for the first initialized slot, from the top of
// the array when zeroForOne is set and from the bottom otherwise.
func (a *TickArrayState) FirstInitializedTick(zeroForOne bool) (*TickState, error) {
	if zeroForOne {
		for i := TickArraySize - 1; i >= 0; i-- {
			if a.Ticks[i].IsInitialized() {
				return &a.Ticks[i], nil
			}
		}
	} else {
		for i := 0; i < TickArraySize; i++ {
			if a.Ticks[i].IsInitialized() {
				return &a.Ticks[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no initialized tick in array %d", ErrInvalidTickArray, a.StartTickIndex)
}

func (a *TickArrayState) Clone() *TickArrayState {
	cp := &TickArrayState{
		PoolID:               a.PoolID,
		StartTickIndex:       a.StartTickIndex,
		InitializedTickCount: a.InitializedTickCount,
		RecentEpoch:          a.RecentEpoch,
	}
	for i := range a.Ticks {
		cp.Ticks[i] = a.Ticks[i].Clone()
	}
	return cp
}

// GetFeeGrowthInside computes the fee growth inside [lower, upper):
// inside = global - below(lower) - above(upper), with wrapping subtraction
// since the accumulators wrap over the life of a pool.
func GetFeeGrowthInside(lower, upper *TickState, tickCurrent int32, feeGrowthGlobal0X64, feeGrowthGlobal1X64 *ui.Int) (inside0, inside1 *ui.Int) {
	var below0, below1 *ui.Int
	if tickCurrent >= lower.Tick {
		below0 = lower.FeeGrowthOutside0X64
		below1 = lower.FeeGrowthOutside1X64
	} else {
		below0 = fm.WrappingSubU128(feeGrowthGlobal0X64, lower.FeeGrowthOutside0X64)
		below1 = fm.WrappingSubU128(feeGrowthGlobal1X64, lower.FeeGrowthOutside1X64)
	}

	var above0, above1 *ui.Int
	if tickCurrent < upper.Tick {
		above0 = upper.FeeGrowthOutside0X64
		above1 = upper.FeeGrowthOutside1X64
	} else {
		above0 = fm.WrappingSubU128(feeGrowthGlobal0X64, upper.FeeGrowthOutside0X64)
		above1 = fm.WrappingSubU128(feeGrowthGlobal1X64, upper.FeeGrowthOutside1X64)
	}

	inside0 = fm.WrappingSubU128(fm.WrappingSubU128(feeGrowthGlobal0X64, below0), above0)
	inside1 = fm.WrappingSubU128(fm.WrappingSubU128(feeGrowthGlobal1X64, below1), above1)
	return inside0, inside1
}
