package token

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"

	fm "github.com/solpool/clmm-core/lib/fullmath"
)

// MaxFeeBasisPoints is the denominator of the transfer fee rate.
const MaxFeeBasisPoints = 10_000

var ErrTransferFeeCalculateNotMatch = errors.New("transfer inverse fee does not round-trip")

// TransferFeeConfig is the fee-bearing token extension parameters of a mint.
type TransferFeeConfig struct {
	TransferFeeBasisPoints uint16
	MaximumFee             uint64
}

// MintConfig describes a pooled asset. TransferFee is nil for mints without
// the fee extension.
type MintConfig struct {
	Mint        solana.PublicKey
	Decimals    uint8
	TransferFee *TransferFeeConfig
}

// Registry is the set of mints liquidity operations accept.
type Registry map[solana.PublicKey]*MintConfig

func (r Registry) Add(cfg *MintConfig) {
	r[cfg.Mint] = cfg
}

func (r Registry) Get(mint solana.PublicKey) (*MintConfig, bool) {
	cfg, ok := r[mint]
	return cfg, ok
}

func (r Registry) IsSupported(mint solana.PublicKey) bool {
	_, ok := r[mint]
	return ok
}

// GetTransferFee returns the fee withheld when transferring preFeeAmount:
// ceil(amount x bps / 10000), capped at the mint's maximum fee. Zero for
// mints without the fee extension.
func GetTransferFee(cfg *MintConfig, preFeeAmount uint64) uint64 {
	if cfg == nil || cfg.TransferFee == nil {
		return 0
	}
	tf := cfg.TransferFee
	if tf.TransferFeeBasisPoints == 0 || preFeeAmount == 0 {
		return 0
	}
	fee := fm.DivRoundingUp(
		new(ui.Int).Mul(ui.NewInt(preFeeAmount), ui.NewInt(uint64(tf.TransferFeeBasisPoints))),
		ui.NewInt(MaxFeeBasisPoints),
	).Uint64()
	if fee > tf.MaximumFee {
		fee = tf.MaximumFee
	}
	return fee
}

// GetTransferInverseFee returns the fee to add on top of postFeeAmount so the
// recipient receives at least postFeeAmount, verifying that the forward fee
// computation round-trips.
func GetTransferInverseFee(cfg *MintConfig, postFeeAmount uint64) (uint64, error) {
	if cfg == nil || cfg.TransferFee == nil {
		return 0, nil
	}
	tf := cfg.TransferFee
	if tf.TransferFeeBasisPoints == 0 || postFeeAmount == 0 {
		return 0, nil
	}

	var fee uint64
	if tf.TransferFeeBasisPoints == MaxFeeBasisPoints {
		fee = tf.MaximumFee
	} else {
		preFee := fm.DivRoundingUp(
			new(ui.Int).Mul(ui.NewInt(postFeeAmount), ui.NewInt(MaxFeeBasisPoints)),
			ui.NewInt(uint64(MaxFeeBasisPoints-tf.TransferFeeBasisPoints)),
		)
		fee = preFee.Uint64() - postFeeAmount
		if fee > tf.MaximumFee {
			fee = tf.MaximumFee
		}
		// An inconsistent fee config (e.g. a capped fee that no longer covers
		// the rate) would let value leak; reject it.
		if check := GetTransferFee(cfg, postFeeAmount+fee); check != fee {
			return 0, fmt.Errorf("%w: fee %d, recomputed %d", ErrTransferFeeCalculateNotMatch, fee, check)
		}
	}
	return fee, nil
}

// TransferExecutor moves assets on behalf of the core. The core only computes
// amounts; execution and custody stay outside.
type TransferExecutor interface {
	// Transfer moves amount of mint from source to destination, funded by
	// payer, and reports the effective fee charged by the token program.
	Transfer(payer, source, destination, mint solana.PublicKey, amount uint64) (feeCharged uint64, err error)
}

// Movement records one executed transfer.
type Movement struct {
	Payer       solana.PublicKey
	Source      solana.PublicKey
	Destination solana.PublicKey
	Mint        solana.PublicKey
	Amount      uint64
	Fee         uint64
}

// RecordingExecutor applies the mint's fee schedule without moving anything.
// Used by tests and the simulator.
type RecordingExecutor struct {
	Mints     Registry
	Movements []Movement
}

func NewRecordingExecutor(mints Registry) *RecordingExecutor {
	return &RecordingExecutor{Mints: mints}
}

func (e *RecordingExecutor) Transfer(payer, source, destination, mint solana.PublicKey, amount uint64) (uint64, error) {
	cfg, _ := e.Mints.Get(mint)
	fee := GetTransferFee(cfg, amount)
	e.Movements = append(e.Movements, Movement{
		Payer:       payer,
		Source:      source,
		Destination: destination,
		Mint:        mint,
		Amount:      amount,
		Fee:         fee,
	})
	return fee, nil
}
