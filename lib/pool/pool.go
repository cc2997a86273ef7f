package pool

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"

	"github.com/solpool/clmm-core/lib/bitmap"
	tm "github.com/solpool/clmm-core/lib/tickmath"
)

var (
	ErrMissingTickArrayBitmapExtension = errors.New("tick array bitmap extension account required but not supplied")
	ErrBitmapExtensionKeyMismatch      = errors.New("tick array bitmap extension does not belong to this pool")
)

// PoolState is the aggregate pool record: current price/tick, active
// liquidity, fee growth accumulators, the embedded default tick-array bitmap
// and lifetime counters. Mutated only by the position accounting path and the
// swap path.
type PoolState struct {
	Key       solana.PublicKey
	AmmConfig solana.PublicKey
	Owner     solana.PublicKey

	TokenMint0  solana.PublicKey
	TokenMint1  solana.PublicKey
	TokenVault0 solana.PublicKey
	TokenVault1 solana.PublicKey

	MintDecimals0 uint8
	MintDecimals1 uint8

	TickSpacing uint16
	Liquidity   *ui.Int

	// sqrt(token_1/token_0) in Q64.64. Must agree with TickCurrent under the
	// tick math mapping.
	SqrtPriceX64 *ui.Int
	TickCurrent  int32

	FeeGrowthGlobal0X64 *ui.Int
	FeeGrowthGlobal1X64 *ui.Int

	ProtocolFeesToken0 uint64
	ProtocolFeesToken1 uint64

	SwapInAmountToken0  uint64
	SwapInAmountToken1  uint64
	SwapOutAmountToken0 uint64
	SwapOutAmountToken1 uint64

	// Each bit marks whether the corresponding tick array near zero holds any
	// initialized tick. Arrays beyond this range live in the extension record.
	TickArrayBitmap [16]uint64

	TotalFeesToken0        uint64
	TotalFeesClaimedToken0 uint64
	TotalFeesToken1        uint64
	TotalFeesClaimedToken1 uint64

	FundFeesToken0 uint64
	FundFeesToken1 uint64

	OpenTime    uint64
	RecentEpoch uint64
}

// defaultBitmapArrays is the number of tick arrays addressable by the in-pool
// bitmap on each side of zero.
const defaultBitmapArrays int32 = 512

// New creates a pool record priced at sqrtPriceX64, deriving the current tick.
func New(key, ammConfig, owner, mint0, mint1, vault0, vault1 solana.PublicKey, decimals0, decimals1 uint8, tickSpacing uint16, sqrtPriceX64 *ui.Int, openTime, epoch uint64) (*PoolState, error) {
	tick, err := tm.TickAtSqrtPrice(sqrtPriceX64)
	if err != nil {
		return nil, err
	}
	return &PoolState{
		Key:                 key,
		AmmConfig:           ammConfig,
		Owner:               owner,
		TokenMint0:          mint0,
		TokenMint1:          mint1,
		TokenVault0:         vault0,
		TokenVault1:         vault1,
		MintDecimals0:       decimals0,
		MintDecimals1:       decimals1,
		TickSpacing:         tickSpacing,
		Liquidity:           new(ui.Int),
		SqrtPriceX64:        sqrtPriceX64.Clone(),
		TickCurrent:         tick,
		FeeGrowthGlobal0X64: new(ui.Int),
		FeeGrowthGlobal1X64: new(ui.Int),
		OpenTime:            openTime,
		RecentEpoch:         epoch,
	}, nil
}

func (p *PoolState) Clone() *PoolState {
	cp := *p
	cp.Liquidity = p.Liquidity.Clone()
	cp.SqrtPriceX64 = p.SqrtPriceX64.Clone()
	cp.FeeGrowthGlobal0X64 = p.FeeGrowthGlobal0X64.Clone()
	cp.FeeGrowthGlobal1X64 = p.FeeGrowthGlobal1X64.Clone()
	return &cp
}

// GetTickArrayOffset maps a tick array start index to its bit position in the
// default bitmap.
func (p *PoolState) GetTickArrayOffset(tickArrayStartIndex int32) (int, error) {
	if !tm.IsValidStartIndex(tickArrayStartIndex, p.TickSpacing) {
		return 0, fmt.Errorf("%w: start index %d", bitmap.ErrInvalidTickIndex, tickArrayStartIndex)
	}
	offset := tickArrayStartIndex/tm.TickCount(p.TickSpacing) + defaultBitmapArrays
	return int(offset), nil
}

// FlipTickArrayBitInternal toggles a bit of the in-pool default bitmap.
func (p *PoolState) FlipTickArrayBitInternal(tickArrayStartIndex int32) error {
	offset, err := p.GetTickArrayOffset(tickArrayStartIndex)
	if err != nil {
		return err
	}
	p.TickArrayBitmap[offset/64] ^= 1 << (uint(offset) % 64)
	return nil
}

// IsTickArrayBitSet reports the default-bitmap bit for a start index.
func (p *PoolState) IsTickArrayBitSet(tickArrayStartIndex int32) (bool, error) {
	offset, err := p.GetTickArrayOffset(tickArrayStartIndex)
	if err != nil {
		return false, err
	}
	return p.TickArrayBitmap[offset/64]&(1<<(uint(offset)%64)) != 0, nil
}

// TickArrayStartIndexRange is the [min, max) span of start indices the default
// bitmap can represent, clamped to the usable tick range.
func (p *PoolState) TickArrayStartIndexRange() (int32, int32) {
	maxBoundary := bitmap.MaxTickInTickarrayBitmap(p.TickSpacing)
	minBoundary := -maxBoundary
	if maxBoundary > tm.MaxTick {
		maxBoundary = tm.GetArrayStartIndex(tm.MaxTick, p.TickSpacing) + tm.TickCount(p.TickSpacing)
	}
	if minBoundary < tm.MinTick {
		minBoundary = tm.GetArrayStartIndex(tm.MinTick, p.TickSpacing)
	}
	return minBoundary, maxBoundary
}

// IsOverflowDefaultTickarrayBitmap reports whether any of the ticks falls in a
// tick array outside the default bitmap range, in which case the caller must
// supply the bitmap extension record.
func (p *PoolState) IsOverflowDefaultTickarrayBitmap(tickIndexes []int32) bool {
	minBoundary, maxBoundary := p.TickArrayStartIndexRange()
	for _, tickIndex := range tickIndexes {
		start := tm.GetArrayStartIndex(tickIndex, p.TickSpacing)
		if start >= maxBoundary || start < minBoundary {
			return true
		}
	}
	return false
}

// FlipTickArrayBit toggles the bit for a tick array start index, routing to
// the extension record when the index is outside the default bitmap range.
func (p *PoolState) FlipTickArrayBit(extension *bitmap.TickArrayBitmapExtension, tickArrayStartIndex int32) error {
	if p.IsOverflowDefaultTickarrayBitmap([]int32{tickArrayStartIndex}) {
		if extension == nil {
			return fmt.Errorf("%w: start index %d", ErrMissingTickArrayBitmapExtension, tickArrayStartIndex)
		}
		if !extension.PoolID.Equals(p.Key) {
			return fmt.Errorf("%w: extension pool %s", ErrBitmapExtensionKeyMismatch, extension.PoolID)
		}
		return extension.FlipTickArrayBit(tickArrayStartIndex, p.TickSpacing)
	}
	return p.FlipTickArrayBitInternal(tickArrayStartIndex)
}
