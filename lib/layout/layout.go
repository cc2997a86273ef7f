// Package layout serializes the core's records to a stable little-endian
// account layout with an 8-byte discriminator, so snapshots survive process
// restarts and can be inspected by external tooling.
package layout

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
	"lukechampine.com/uint128"

	"github.com/solpool/clmm-core/lib/bitmap"
	"github.com/solpool/clmm-core/lib/pool"
	"github.com/solpool/clmm-core/lib/position"
	"github.com/solpool/clmm-core/lib/tickarray"
)

var ErrBadDiscriminator = errors.New("account data has wrong discriminator")

// discriminator derives the 8-byte account tag the same way Anchor does.
func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	poolDiscriminator            = discriminator("PoolState")
	tickArrayDiscriminator       = discriminator("TickArrayState")
	bitmapExtensionDiscriminator = discriminator("TickArrayBitmapExtension")
	protocolPosDiscriminator     = discriminator("ProtocolPositionState")
	personalPosDiscriminator     = discriminator("PersonalPositionState")
)

// u128 bridges the in-memory uint256 representation and the 16-byte
// little-endian wire form.
func u128ToWire(v *ui.Int) uint128.Uint128 {
	return uint128.New(v[0], v[1])
}

func u128FromWire(v uint128.Uint128) *ui.Int {
	return &ui.Int{v.Lo, v.Hi, 0, 0}
}

// i128ToWire truncates a two's-complement value to its low 128 bits.
func i128ToWire(v *ui.Int) uint128.Uint128 {
	return uint128.New(v[0], v[1])
}

// i128FromWire sign-extends the 128-bit two's-complement wire value.
func i128FromWire(v uint128.Uint128) *ui.Int {
	out := &ui.Int{v.Lo, v.Hi, 0, 0}
	if v.Hi>>63 != 0 {
		out[2] = ^uint64(0)
		out[3] = ^uint64(0)
	}
	return out
}

func encode(disc [8]byte, rec interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if err := bin.NewBinEncoder(buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(disc [8]byte, data []byte, rec interface{}) error {
	if len(data) < 8 || !bytes.Equal(data[:8], disc[:]) {
		return ErrBadDiscriminator
	}
	if err := bin.NewBinDecoder(data[8:]).Decode(rec); err != nil {
		return fmt.Errorf("decode account: %w", err)
	}
	return nil
}

type poolRecord struct {
	Key       solana.PublicKey
	AmmConfig solana.PublicKey
	Owner     solana.PublicKey

	TokenMint0  solana.PublicKey
	TokenMint1  solana.PublicKey
	TokenVault0 solana.PublicKey
	TokenVault1 solana.PublicKey

	MintDecimals0 uint8
	MintDecimals1 uint8
	TickSpacing   uint16

	Liquidity    uint128.Uint128
	SqrtPriceX64 uint128.Uint128
	TickCurrent  int32

	FeeGrowthGlobal0X64 uint128.Uint128
	FeeGrowthGlobal1X64 uint128.Uint128

	ProtocolFeesToken0 uint64
	ProtocolFeesToken1 uint64

	SwapInAmountToken0  uint64
	SwapInAmountToken1  uint64
	SwapOutAmountToken0 uint64
	SwapOutAmountToken1 uint64

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

func EncodePool(p *pool.PoolState) ([]byte, error) {
	return encode(poolDiscriminator, &poolRecord{
		Key:                    p.Key,
		AmmConfig:              p.AmmConfig,
		Owner:                  p.Owner,
		TokenMint0:             p.TokenMint0,
		TokenMint1:             p.TokenMint1,
		TokenVault0:            p.TokenVault0,
		TokenVault1:            p.TokenVault1,
		MintDecimals0:          p.MintDecimals0,
		MintDecimals1:          p.MintDecimals1,
		TickSpacing:            p.TickSpacing,
		Liquidity:              u128ToWire(p.Liquidity),
		SqrtPriceX64:           u128ToWire(p.SqrtPriceX64),
		TickCurrent:            p.TickCurrent,
		FeeGrowthGlobal0X64:    u128ToWire(p.FeeGrowthGlobal0X64),
		FeeGrowthGlobal1X64:    u128ToWire(p.FeeGrowthGlobal1X64),
		ProtocolFeesToken0:     p.ProtocolFeesToken0,
		ProtocolFeesToken1:     p.ProtocolFeesToken1,
		SwapInAmountToken0:     p.SwapInAmountToken0,
		SwapInAmountToken1:     p.SwapInAmountToken1,
		SwapOutAmountToken0:    p.SwapOutAmountToken0,
		SwapOutAmountToken1:    p.SwapOutAmountToken1,
		TickArrayBitmap:        p.TickArrayBitmap,
		TotalFeesToken0:        p.TotalFeesToken0,
		TotalFeesClaimedToken0: p.TotalFeesClaimedToken0,
		TotalFeesToken1:        p.TotalFeesToken1,
		TotalFeesClaimedToken1: p.TotalFeesClaimedToken1,
		FundFeesToken0:         p.FundFeesToken0,
		FundFeesToken1:         p.FundFeesToken1,
		OpenTime:               p.OpenTime,
		RecentEpoch:            p.RecentEpoch,
	})
}

func DecodePool(data []byte) (*pool.PoolState, error) {
	var rec poolRecord
	if err := decode(poolDiscriminator, data, &rec); err != nil {
		return nil, err
	}
	return &pool.PoolState{
		Key:                    rec.Key,
		AmmConfig:              rec.AmmConfig,
		Owner:                  rec.Owner,
		TokenMint0:             rec.TokenMint0,
		TokenMint1:             rec.TokenMint1,
		TokenVault0:            rec.TokenVault0,
		TokenVault1:            rec.TokenVault1,
		MintDecimals0:          rec.MintDecimals0,
		MintDecimals1:          rec.MintDecimals1,
		TickSpacing:            rec.TickSpacing,
		Liquidity:              u128FromWire(rec.Liquidity),
		SqrtPriceX64:           u128FromWire(rec.SqrtPriceX64),
		TickCurrent:            rec.TickCurrent,
		FeeGrowthGlobal0X64:    u128FromWire(rec.FeeGrowthGlobal0X64),
		FeeGrowthGlobal1X64:    u128FromWire(rec.FeeGrowthGlobal1X64),
		ProtocolFeesToken0:     rec.ProtocolFeesToken0,
		ProtocolFeesToken1:     rec.ProtocolFeesToken1,
		SwapInAmountToken0:     rec.SwapInAmountToken0,
		SwapInAmountToken1:     rec.SwapInAmountToken1,
		SwapOutAmountToken0:    rec.SwapOutAmountToken0,
		SwapOutAmountToken1:    rec.SwapOutAmountToken1,
		TickArrayBitmap:        rec.TickArrayBitmap,
		TotalFeesToken0:        rec.TotalFeesToken0,
		TotalFeesClaimedToken0: rec.TotalFeesClaimedToken0,
		TotalFeesToken1:        rec.TotalFeesToken1,
		TotalFeesClaimedToken1: rec.TotalFeesClaimedToken1,
		FundFeesToken0:         rec.FundFeesToken0,
		FundFeesToken1:         rec.FundFeesToken1,
		OpenTime:               rec.OpenTime,
		RecentEpoch:            rec.RecentEpoch,
	}, nil
}

type tickRecord struct {
	Tick                 int32
	LiquidityNet         uint128.Uint128
	LiquidityGross       uint128.Uint128
	FeeGrowthOutside0X64 uint128.Uint128
	FeeGrowthOutside1X64 uint128.Uint128
}

type tickArrayRecord struct {
	PoolID               solana.PublicKey
	StartTickIndex       int32
	Ticks                [tickarray.TickArraySize]tickRecord
	InitializedTickCount uint8
	RecentEpoch          uint64
}

func EncodeTickArray(a *tickarray.TickArrayState) ([]byte, error) {
	rec := tickArrayRecord{
		PoolID:               a.PoolID,
		StartTickIndex:       a.StartTickIndex,
		InitializedTickCount: a.InitializedTickCount,
		RecentEpoch:          a.RecentEpoch,
	}
	for i := range a.Ticks {
		t := &a.Ticks[i]
		rec.Ticks[i] = tickRecord{
			Tick:                 t.Tick,
			LiquidityNet:         i128ToWire(t.LiquidityNet),
			LiquidityGross:       u128ToWire(t.LiquidityGross),
			FeeGrowthOutside0X64: u128ToWire(t.FeeGrowthOutside0X64),
			FeeGrowthOutside1X64: u128ToWire(t.FeeGrowthOutside1X64),
		}
	}
	return encode(tickArrayDiscriminator, &rec)
}

func DecodeTickArray(data []byte) (*tickarray.TickArrayState, error) {
	var rec tickArrayRecord
	if err := decode(tickArrayDiscriminator, data, &rec); err != nil {
		return nil, err
	}
	out := &tickarray.TickArrayState{
		PoolID:               rec.PoolID,
		StartTickIndex:       rec.StartTickIndex,
		InitializedTickCount: rec.InitializedTickCount,
		RecentEpoch:          rec.RecentEpoch,
	}
	for i := range rec.Ticks {
		t := &rec.Ticks[i]
		out.Ticks[i] = tickarray.TickState{
			Tick:                 t.Tick,
			LiquidityNet:         i128FromWire(t.LiquidityNet),
			LiquidityGross:       u128FromWire(t.LiquidityGross),
			FeeGrowthOutside0X64: u128FromWire(t.FeeGrowthOutside0X64),
			FeeGrowthOutside1X64: u128FromWire(t.FeeGrowthOutside1X64),
		}
	}
	return out, nil
}

type bitmapExtensionRecord struct {
	PoolID                  solana.PublicKey
	PositiveTickArrayBitmap [bitmap.ExtensionSize][8]uint64
	NegativeTickArrayBitmap [bitmap.ExtensionSize][8]uint64
}

func EncodeBitmapExtension(e *bitmap.TickArrayBitmapExtension) ([]byte, error) {
	rec := bitmapExtensionRecord{PoolID: e.PoolID}
	for i := range e.PositiveTickArrayBitmap {
		rec.PositiveTickArrayBitmap[i] = e.PositiveTickArrayBitmap[i]
		rec.NegativeTickArrayBitmap[i] = e.NegativeTickArrayBitmap[i]
	}
	return encode(bitmapExtensionDiscriminator, &rec)
}

func DecodeBitmapExtension(data []byte) (*bitmap.TickArrayBitmapExtension, error) {
	var rec bitmapExtensionRecord
	if err := decode(bitmapExtensionDiscriminator, data, &rec); err != nil {
		return nil, err
	}
	out := &bitmap.TickArrayBitmapExtension{PoolID: rec.PoolID}
	for i := range rec.PositiveTickArrayBitmap {
		out.PositiveTickArrayBitmap[i] = rec.PositiveTickArrayBitmap[i]
		out.NegativeTickArrayBitmap[i] = rec.NegativeTickArrayBitmap[i]
	}
	return out, nil
}

type protocolPositionRecord struct {
	PoolID                  solana.PublicKey
	TickLowerIndex          int32
	TickUpperIndex          int32
	Liquidity               uint128.Uint128
	FeeGrowthInside0LastX64 uint128.Uint128
	FeeGrowthInside1LastX64 uint128.Uint128
	TokenFeesOwed0          uint64
	TokenFeesOwed1          uint64
	RecentEpoch             uint64
}

func EncodeProtocolPosition(p *position.ProtocolPositionState) ([]byte, error) {
	return encode(protocolPosDiscriminator, &protocolPositionRecord{
		PoolID:                  p.PoolID,
		TickLowerIndex:          p.TickLowerIndex,
		TickUpperIndex:          p.TickUpperIndex,
		Liquidity:               u128ToWire(p.Liquidity),
		FeeGrowthInside0LastX64: u128ToWire(p.FeeGrowthInside0LastX64),
		FeeGrowthInside1LastX64: u128ToWire(p.FeeGrowthInside1LastX64),
		TokenFeesOwed0:          p.TokenFeesOwed0,
		TokenFeesOwed1:          p.TokenFeesOwed1,
		RecentEpoch:             p.RecentEpoch,
	})
}

func DecodeProtocolPosition(data []byte) (*position.ProtocolPositionState, error) {
	var rec protocolPositionRecord
	if err := decode(protocolPosDiscriminator, data, &rec); err != nil {
		return nil, err
	}
	return &position.ProtocolPositionState{
		PoolID:                  rec.PoolID,
		TickLowerIndex:          rec.TickLowerIndex,
		TickUpperIndex:          rec.TickUpperIndex,
		Liquidity:               u128FromWire(rec.Liquidity),
		FeeGrowthInside0LastX64: u128FromWire(rec.FeeGrowthInside0LastX64),
		FeeGrowthInside1LastX64: u128FromWire(rec.FeeGrowthInside1LastX64),
		TokenFeesOwed0:          rec.TokenFeesOwed0,
		TokenFeesOwed1:          rec.TokenFeesOwed1,
		RecentEpoch:             rec.RecentEpoch,
	}, nil
}

type personalPositionRecord struct {
	NftMint                 solana.PublicKey
	PoolID                  solana.PublicKey
	TickLowerIndex          int32
	TickUpperIndex          int32
	Liquidity               uint128.Uint128
	FeeGrowthInside0LastX64 uint128.Uint128
	FeeGrowthInside1LastX64 uint128.Uint128
	TokenFeesOwed0          uint64
	TokenFeesOwed1          uint64
	RecentEpoch             uint64
}

func EncodePersonalPosition(p *position.PersonalPositionState) ([]byte, error) {
	return encode(personalPosDiscriminator, &personalPositionRecord{
		NftMint:                 p.NftMint,
		PoolID:                  p.PoolID,
		TickLowerIndex:          p.TickLowerIndex,
		TickUpperIndex:          p.TickUpperIndex,
		Liquidity:               u128ToWire(p.Liquidity),
		FeeGrowthInside0LastX64: u128ToWire(p.FeeGrowthInside0LastX64),
		FeeGrowthInside1LastX64: u128ToWire(p.FeeGrowthInside1LastX64),
		TokenFeesOwed0:          p.TokenFeesOwed0,
		TokenFeesOwed1:          p.TokenFeesOwed1,
		RecentEpoch:             p.RecentEpoch,
	})
}

func DecodePersonalPosition(data []byte) (*position.PersonalPositionState, error) {
	var rec personalPositionRecord
	if err := decode(personalPosDiscriminator, data, &rec); err != nil {
		return nil, err
	}
	return &position.PersonalPositionState{
		NftMint:                 rec.NftMint,
		PoolID:                  rec.PoolID,
		TickLowerIndex:          rec.TickLowerIndex,
		TickUpperIndex:          rec.TickUpperIndex,
		Liquidity:               u128FromWire(rec.Liquidity),
		FeeGrowthInside0LastX64: u128FromWire(rec.FeeGrowthInside0LastX64),
		FeeGrowthInside1LastX64: u128FromWire(rec.FeeGrowthInside1LastX64),
		TokenFeesOwed0:          rec.TokenFeesOwed0,
		TokenFeesOwed1:          rec.TokenFeesOwed1,
		RecentEpoch:             rec.RecentEpoch,
	}, nil
}
