package clock

import "time"

// Clock supplies the monotonically non-decreasing timestamps used to stamp
// tick-array and position updates. Never used for pricing.
type Clock interface {
	UnixTimestamp() uint64
	Epoch() uint64
}

// epochSeconds approximates a ledger epoch length.
const epochSeconds = 432_000

// System reads the wall clock.
type System struct{}

func (System) UnixTimestamp() uint64 {
	return uint64(time.Now().Unix())
}

func (System) Epoch() uint64 {
	return uint64(time.Now().Unix()) / epochSeconds
}

// Fixed is a frozen clock for tests and replay.
type Fixed struct {
	Timestamp    uint64
	CurrentEpoch uint64
}

func (f Fixed) UnixTimestamp() uint64 { return f.Timestamp }

func (f Fixed) Epoch() uint64 { return f.CurrentEpoch }
