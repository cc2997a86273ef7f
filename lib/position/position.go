package position

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"

	fp "github.com/solpool/clmm-core/lib/fixedpoint"
	fm "github.com/solpool/clmm-core/lib/fullmath"
)

// ErrLiquiditySubValue is returned when removing more liquidity than a
// position holds.
var ErrLiquiditySubValue = errors.New("liquidity delta exceeds position liquidity")

// ProtocolPositionState aggregates all positions over one (pool, tick range)
// pair. Mutated whenever any personal position touches the range.
type ProtocolPositionState struct {
	PoolID         solana.PublicKey
	TickLowerIndex int32
	TickUpperIndex int32
	Liquidity      *ui.Int
	// Fee growth inside the range as of the last update, per unit of
	// liquidity, Q64.64.
	FeeGrowthInside0LastX64 *ui.Int
	FeeGrowthInside1LastX64 *ui.Int
	TokenFeesOwed0          uint64
	TokenFeesOwed1          uint64
	RecentEpoch             uint64
}

func NewProtocolPosition(poolID solana.PublicKey, tickLower, tickUpper int32, epoch uint64) *ProtocolPositionState {
	return &ProtocolPositionState{
		PoolID:                  poolID,
		TickLowerIndex:          tickLower,
		TickUpperIndex:          tickUpper,
		Liquidity:               new(ui.Int),
		FeeGrowthInside0LastX64: new(ui.Int),
		FeeGrowthInside1LastX64: new(ui.Int),
		RecentEpoch:             epoch,
	}
}

func (p *ProtocolPositionState) Clone() *ProtocolPositionState {
	cp := *p
	cp.Liquidity = p.Liquidity.Clone()
	cp.FeeGrowthInside0LastX64 = p.FeeGrowthInside0LastX64.Clone()
	cp.FeeGrowthInside1LastX64 = p.FeeGrowthInside1LastX64.Clone()
	return &cp
}

// Update settles the fee growth delta into the owed counters using the
// liquidity held before the delta, then applies the signed liquidity delta.
func (p *ProtocolPositionState) Update(tickLowerIndex, tickUpperIndex int32, liquidityDelta, feeGrowthInside0X64, feeGrowthInside1X64 *ui.Int, epoch uint64) error {
	liquidityNext := p.Liquidity.Clone()
	if liquidityDelta.Sign() >= 0 {
		liquidityNext.Add(liquidityNext, liquidityDelta)
	} else {
		magnitude := new(ui.Int).Neg(liquidityDelta)
		if magnitude.Cmp(p.Liquidity) > 0 {
			return fmt.Errorf("%w: have %s", ErrLiquiditySubValue, p.Liquidity.Dec())
		}
		liquidityNext.Sub(liquidityNext, magnitude)
	}

	// Accrued fees are floor(Δgrowth x L / Q64) at the pre-delta liquidity.
	delta0 := fm.WrappingSubU128(feeGrowthInside0X64, p.FeeGrowthInside0LastX64)
	delta1 := fm.WrappingSubU128(feeGrowthInside1X64, p.FeeGrowthInside1LastX64)
	p.TokenFeesOwed0 += fm.ToUnderflowU64(fm.MulDiv(delta0, p.Liquidity, fp.Q64))
	p.TokenFeesOwed1 += fm.ToUnderflowU64(fm.MulDiv(delta1, p.Liquidity, fp.Q64))

	p.TickLowerIndex = tickLowerIndex
	p.TickUpperIndex = tickUpperIndex
	p.Liquidity = liquidityNext
	p.FeeGrowthInside0LastX64.Set(feeGrowthInside0X64)
	p.FeeGrowthInside1LastX64.Set(feeGrowthInside1X64)
	p.RecentEpoch = epoch
	return nil
}

// PersonalPositionState is one owner's share of a protocol position's range.
type PersonalPositionState struct {
	NftMint        solana.PublicKey
	PoolID         solana.PublicKey
	TickLowerIndex int32
	TickUpperIndex int32
	Liquidity      *ui.Int

	FeeGrowthInside0LastX64 *ui.Int
	FeeGrowthInside1LastX64 *ui.Int
	TokenFeesOwed0          uint64
	TokenFeesOwed1          uint64
	RecentEpoch             uint64
}

func NewPersonalPosition(nftMint, poolID solana.PublicKey, tickLower, tickUpper int32, epoch uint64) *PersonalPositionState {
	return &PersonalPositionState{
		NftMint:                 nftMint,
		PoolID:                  poolID,
		TickLowerIndex:          tickLower,
		TickUpperIndex:          tickUpper,
		Liquidity:               new(ui.Int),
		FeeGrowthInside0LastX64: new(ui.Int),
		FeeGrowthInside1LastX64: new(ui.Int),
		RecentEpoch:             epoch,
	}
}

func (p *PersonalPositionState) Clone() *PersonalPositionState {
	cp := *p
	cp.Liquidity = p.Liquidity.Clone()
	cp.FeeGrowthInside0LastX64 = p.FeeGrowthInside0LastX64.Clone()
	cp.FeeGrowthInside1LastX64 = p.FeeGrowthInside1LastX64.Clone()
	return &cp
}

// SettleFees realizes the owner's accrued fees against the protocol
// position's latest fee growth snapshot.
func (p *PersonalPositionState) SettleFees(protocol *ProtocolPositionState) {
	p.TokenFeesOwed0 = CalculateLatestTokenFees(p.TokenFeesOwed0, p.FeeGrowthInside0LastX64, protocol.FeeGrowthInside0LastX64, p.Liquidity)
	p.TokenFeesOwed1 = CalculateLatestTokenFees(p.TokenFeesOwed1, p.FeeGrowthInside1LastX64, protocol.FeeGrowthInside1LastX64, p.Liquidity)
	p.FeeGrowthInside0LastX64.Set(protocol.FeeGrowthInside0LastX64)
	p.FeeGrowthInside1LastX64.Set(protocol.FeeGrowthInside1LastX64)
}

// CalculateLatestTokenFees adds floor(Δgrowth x L / Q64) to an owed counter.
func CalculateLatestTokenFees(lastTotalFees uint64, feeGrowthInsideLastX64, feeGrowthInsideLatestX64, liquidity *ui.Int) uint64 {
	delta := fm.WrappingSubU128(feeGrowthInsideLatestX64, feeGrowthInsideLastX64)
	return lastTotalFees + fm.ToUnderflowU64(fm.MulDiv(delta, liquidity, fp.Q64))
}
