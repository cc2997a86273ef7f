package fixedpoint

import (
	ui "github.com/holiman/uint256"
)

// Resolution is the number of fractional bits in a Q64.64 value.
const Resolution = 64

var (
	Zero = new(ui.Int)
	One  = new(ui.Int).SetOne()

	// Q64 is the Q64.64 unit, 2^64.
	Q64 = new(ui.Int).Lsh(One, Resolution)

	MaxU64, _  = ui.FromHex("0xffffffffffffffff")
	MaxU128, _ = ui.FromHex("0xffffffffffffffffffffffffffffffff")
	MaxU256, _ = ui.FromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
)
