package tickmath

import (
	"errors"
	"fmt"
	"math/big"

	ui "github.com/holiman/uint256"

	fp "github.com/solpool/clmm-core/lib/fixedpoint"
)

const (
	MinTick int32 = -443636 // The minimum tick that can be used on any pool.
	MaxTick int32 = -MinTick

	// TickArraySize is the number of tick slots held by one tick array.
	TickArraySize int32 = 60
)

var (
	// MinSqrtPriceX64 is the sqrt price at MinTick.
	MinSqrtPriceX64 = ui.NewInt(4295048016)
	maxSqrtBig, _   = new(big.Int).SetString("79226673521066979257578248091", 10)
	// MaxSqrtPriceX64 is the sqrt price at MaxTick.
	MaxSqrtPriceX64, _ = ui.FromBig(maxSqrtBig)
)

var (
	ErrInvalidSqrtPrice           = errors.New("invalid sqrt price")
	ErrTickLowerOverflow          = errors.New("tick lower overflow")
	ErrTickUpperOverflow          = errors.New("tick upper overflow")
	ErrInvalidTick                = errors.New("invalid tick, must be a multiple of tick spacing")
	ErrInvalidTickArrayStartIndex = errors.New("invalid tick array start index")
)

// Multiplicative ladder for SqrtPriceAtTick. Constant k is
// sqrt(1.0001)^(-2^k) in Q64.64; multiplying in the constants selected by the
// bits of |tick| builds sqrt(1.0001)^-|tick|.
var sqrtPriceLadder = [19]*ui.Int{
	hex("0xfffcb933bd6fb800"),
	hex("0xfff97272373d4000"),
	hex("0xfff2e50f5f657000"),
	hex("0xffe5caca7e10f000"),
	hex("0xffcb9843d60f7000"),
	hex("0xff973b41fa98e800"),
	hex("0xff2ea16466c9b000"),
	hex("0xfe5dee046a9a3800"),
	hex("0xfcbe86c7900bb000"),
	hex("0xf987a7253ac65800"),
	hex("0xf3392b0822bb6000"),
	hex("0xe7159475a2caf000"),
	hex("0xd097f3bdfd2f2000"),
	hex("0xa9f746462d9f8000"),
	hex("0x70d869a156f31c00"),
	hex("0x31be135f97ed3200"),
	hex("0x9aa508b5b85a500"),
	hex("0x5d6af8dedc582c"),
	hex("0x2216e584f5fa"),
}

func hex(s string) *ui.Int {
	v, err := ui.FromHex(s)
	if err != nil {
		panic(err)
	}
	return v
}

// SqrtPriceAtTick returns sqrt(1.0001)^tick as a Q64.64 value.
func SqrtPriceAtTick(tick int32) (*ui.Int, error) {
	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}
	if absTick > MaxTick {
		return nil, fmt.Errorf("%w: tick %d", ErrTickUpperOverflow, tick)
	}

	ratio := new(ui.Int).Set(fp.Q64)
	if absTick&0x1 != 0 {
		ratio.Set(sqrtPriceLadder[0])
	}
	for i := 1; i < len(sqrtPriceLadder); i++ {
		if absTick&(1<<i) != 0 {
			mulShift64(ratio, sqrtPriceLadder[i])
		}
	}

	// The ladder computes the price for a negative tick, invert for positive.
	if tick > 0 {
		ratio.Div(fp.MaxU128, ratio)
	}
	return ratio, nil
}

// mulShift64 sets ratio = (ratio * c) >> 64.
func mulShift64(ratio, c *ui.Int) {
	ratio.Rsh(ratio.Mul(ratio, c), fp.Resolution)
}

// TickAtSqrtPrice returns the greatest tick whose sqrt price is <= the input.
// Requires sqrtPriceX64 in [MinSqrtPriceX64, MaxSqrtPriceX64).
func TickAtSqrtPrice(sqrtPriceX64 *ui.Int) (int32, error) {
	if sqrtPriceX64.Cmp(MinSqrtPriceX64) < 0 || sqrtPriceX64.Cmp(MaxSqrtPriceX64) >= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidSqrtPrice, sqrtPriceX64.Dec())
	}

	// Integer part of log2(price): the most significant bit, relative to the
	// 64 fractional bits.
	msb := uint(sqrtPriceX64.BitLen() - 1)
	log2pIntegerX32 := (int64(msb) - 64) << 32

	// Normalize into [1.0, 2.0) as Q1.63 and refine 16 fractional bits by
	// repeated squaring: log2(y) has bit b set iff y^(2^(b+1)) >= 2.
	r := new(ui.Int).Set(sqrtPriceX64)
	if msb >= 64 {
		r.Rsh(r, msb-63)
	} else {
		r.Lsh(r, 63-msb)
	}

	var log2pFractionX64 uint64
	bit := uint64(1) << 63
	for precision := 0; precision < 16; precision++ {
		r.Mul(r, r)
		rMoreThanTwo := uint(new(ui.Int).Rsh(r, 127).Uint64())
		r.Rsh(r, 63+rMoreThanTwo)
		if rMoreThanTwo != 0 {
			log2pFractionX64 += bit
		}
		bit >>= 1
	}

	log2pX32 := log2pIntegerX32 + int64(log2pFractionX64>>32)

	// Multiply by 2 / log2(1.0001) in Q32.32; intermediate exceeds 64 bits.
	logSqrt10001X64 := new(big.Int).Mul(big.NewInt(log2pX32), big.NewInt(59543866431248))

	tickLow := int32(new(big.Int).Rsh(
		new(big.Int).Sub(logSqrt10001X64, big.NewInt(184467440737095516)), 64).Int64())
	tickHigh := int32(new(big.Int).Rsh(
		new(big.Int).Add(logSqrt10001X64, tickHighErrorMargin), 64).Int64())

	if tickLow == tickHigh {
		return tickLow, nil
	}
	sqrtPriceAtHigh, err := SqrtPriceAtTick(tickHigh)
	if err != nil {
		return 0, err
	}
	if sqrtPriceAtHigh.Cmp(sqrtPriceX64) <= 0 {
		return tickHigh, nil
	}
	return tickLow, nil
}

// 2^-precision correction for the high tick candidate; does not fit int64.
var tickHighErrorMargin, _ = new(big.Int).SetString("15793534762490258745", 10)

// TickCount is the tick span of one tick array at the given spacing.
func TickCount(tickSpacing uint16) int32 {
	return TickArraySize * int32(tickSpacing)
}

// GetArrayStartIndex returns the canonical start index of the tick array
// containing tick, flooring toward negative infinity.
func GetArrayStartIndex(tick int32, tickSpacing uint16) int32 {
	ticksInArray := TickCount(tickSpacing)
	start := tick / ticksInArray
	if tick < 0 && tick%ticksInArray != 0 {
		start-- // Go integer division rounds toward zero
	}
	return start * ticksInArray
}

// CheckTickArrayStartIndex validates tick bounds and spacing, and that
// startIndex is the canonical array start for tick.
func CheckTickArrayStartIndex(startIndex, tick int32, tickSpacing uint16) error {
	if tick < MinTick {
		return fmt.Errorf("%w: tick %d", ErrTickLowerOverflow, tick)
	}
	if tick > MaxTick {
		return fmt.Errorf("%w: tick %d", ErrTickUpperOverflow, tick)
	}
	if tick%int32(tickSpacing) != 0 {
		return fmt.Errorf("%w: tick %d spacing %d", ErrInvalidTick, tick, tickSpacing)
	}
	if expect := GetArrayStartIndex(tick, tickSpacing); startIndex != expect {
		return fmt.Errorf("%w: got %d want %d", ErrInvalidTickArrayStartIndex, startIndex, expect)
	}
	return nil
}

// CheckIsOutOfBounds reports whether tick falls outside the usable tick range.
func CheckIsOutOfBounds(tick int32) bool {
	return tick < MinTick || tick > MaxTick
}

// IsValidStartIndex reports whether startIndex could be the start of a tick
// array at the given spacing. The lowest array is allowed to start below
// MinTick since MinTick need not align to an array boundary.
func IsValidStartIndex(startIndex int32, tickSpacing uint16) bool {
	if CheckIsOutOfBounds(startIndex) {
		if startIndex > MaxTick {
			return false
		}
		return startIndex == GetArrayStartIndex(MinTick, tickSpacing)
	}
	return startIndex%TickCount(tickSpacing) == 0
}
