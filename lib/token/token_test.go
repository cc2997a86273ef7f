package token

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func feeMint(bps uint16, maxFee uint64) *MintConfig {
	return &MintConfig{
		Mint:     solana.MustPublicKeyFromBase58("11111111111111111111111111111111"),
		Decimals: 6,
		TransferFee: &TransferFeeConfig{
			TransferFeeBasisPoints: bps,
			MaximumFee:             maxFee,
		},
	}
}

func TestGetTransferFee(t *testing.T) {
	cfg := feeMint(100, 1_000_000) // 1%

	require.Equal(t, uint64(0), GetTransferFee(nil, 10_000))
	require.Equal(t, uint64(0), GetTransferFee(&MintConfig{}, 10_000))
	require.Equal(t, uint64(100), GetTransferFee(cfg, 10_000))

	// Rounds up.
	require.Equal(t, uint64(101), GetTransferFee(cfg, 10_001))

	// Capped by the maximum fee.
	capped := feeMint(100, 50)
	require.Equal(t, uint64(50), GetTransferFee(capped, 10_000))
}

func TestGetTransferInverseFee(t *testing.T) {
	cfg := feeMint(100, 1_000_000)

	fee, err := GetTransferInverseFee(cfg, 9_900)
	require.NoError(t, err)
	require.Equal(t, uint64(100), fee)

	// Adding the inverse fee then charging the forward fee yields at least the
	// requested post-fee amount.
	for _, amount := range []uint64{1, 99, 9_901, 123_456_789} {
		fee, err := GetTransferInverseFee(cfg, amount)
		require.NoError(t, err)
		charged := GetTransferFee(cfg, amount+fee)
		require.GreaterOrEqual(t, amount+fee-charged, amount)
	}
}

func TestGetTransferInverseFeeFullRate(t *testing.T) {
	// At 100% the fee is the cap itself, whatever the amount.
	cfg := feeMint(10_000, 777)
	fee, err := GetTransferInverseFee(cfg, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(777), fee)
}

func TestRecordingExecutor(t *testing.T) {
	cfg := feeMint(100, 1_000_000)
	mints := Registry{}
	mints.Add(cfg)

	exec := NewRecordingExecutor(mints)
	fee, err := exec.Transfer(solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{}, cfg.Mint, 10_000)
	require.NoError(t, err)
	require.Equal(t, uint64(100), fee)
	require.Len(t, exec.Movements, 1)
	require.Equal(t, uint64(10_000), exec.Movements[0].Amount)
}
