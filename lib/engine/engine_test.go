package engine

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solpool/clmm-core/lib/clock"
	fp "github.com/solpool/clmm-core/lib/fixedpoint"
	"github.com/solpool/clmm-core/lib/pool"
	"github.com/solpool/clmm-core/lib/position"
	"github.com/solpool/clmm-core/lib/store"
	tm "github.com/solpool/clmm-core/lib/tickmath"
	"github.com/solpool/clmm-core/lib/token"
)

type env struct {
	store *store.Store
	eng   *Engine
	exec  *token.RecordingExecutor
	mints token.Registry

	poolKey solana.PublicKey
	mint0   solana.PublicKey
	mint1   solana.PublicKey
	owner   solana.PublicKey
	nftMint solana.PublicKey
	acct0   solana.PublicKey
	acct1   solana.PublicKey
}

func newEnv(t *testing.T, tickSpacing uint16, initialTick int32, fee0 *token.TransferFeeConfig) *env {
	t.Helper()

	e := &env{
		mint0:   solana.NewWallet().PublicKey(),
		mint1:   solana.NewWallet().PublicKey(),
		owner:   solana.NewWallet().PublicKey(),
		nftMint: solana.NewWallet().PublicKey(),
		acct0:   solana.NewWallet().PublicKey(),
		acct1:   solana.NewWallet().PublicKey(),
	}

	e.mints = token.Registry{}
	e.mints.Add(&token.MintConfig{Mint: e.mint0, Decimals: 6, TransferFee: fee0})
	e.mints.Add(&token.MintConfig{Mint: e.mint1, Decimals: 6})

	sqrtPrice, err := tm.SqrtPriceAtTick(initialTick)
	require.NoError(t, err)

	p, err := pool.New(
		solana.NewWallet().PublicKey(), solana.PublicKey{}, e.owner,
		e.mint0, e.mint1,
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(),
		6, 6, tickSpacing, sqrtPrice, 0, 1,
	)
	require.NoError(t, err)
	e.poolKey = p.Key

	e.store = store.New()
	require.NoError(t, e.store.CreatePool(p))

	e.exec = token.NewRecordingExecutor(e.mints)
	e.eng = New(e.store, e.mints, e.exec, clock.Fixed{Timestamp: 1_700_000_000, CurrentEpoch: 500}, zap.NewNop())
	return e
}

func (e *env) open(t *testing.T, tickLower, tickUpper int32, liquidity uint64) *LiquidityResult {
	t.Helper()
	res, err := e.eng.OpenPosition(OpenPositionParams{
		Payer:                    e.owner,
		NftOwner:                 e.owner,
		NftMint:                  e.nftMint,
		PoolKey:                  e.poolKey,
		TickLowerIndex:           tickLower,
		TickUpperIndex:           tickUpper,
		TickArrayLowerStartIndex: tm.GetArrayStartIndex(tickLower, 10),
		TickArrayUpperStartIndex: tm.GetArrayStartIndex(tickUpper, 10),
		Liquidity:                ui.NewInt(liquidity),
		Amount0Max:               1 << 40,
		Amount1Max:               1 << 40,
		TokenAccount0:            e.acct0,
		TokenAccount1:            e.acct1,
	})
	require.NoError(t, err)
	return res
}

func TestOpenPositionInRange(t *testing.T) {
	e := newEnv(t, 10, 0, nil)
	res := e.open(t, -100, 100, 1_000_000)

	require.Equal(t, uint64(1_000_000), res.Liquidity.Uint64())
	require.Positive(t, res.Amount0)
	require.Positive(t, res.Amount1)
	require.Zero(t, res.Amount0TransferFee)

	p, err := e.store.GetPool(e.poolKey)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), p.Liquidity.Uint64())

	// Both boundary arrays transitioned to non-empty and set their bitmap bits.
	for _, start := range []int32{-600, 0} {
		set, err := p.IsTickArrayBitSet(start)
		require.NoError(t, err)
		require.True(t, set, "array %d", start)
	}

	lowerKey, err := store.TickArrayKey(e.poolKey, -600)
	require.NoError(t, err)
	lowerArray, err := e.store.GetTickArray(lowerKey)
	require.NoError(t, err)
	require.Equal(t, uint8(1), lowerArray.InitializedTickCount)
	lowerTick, err := lowerArray.GetTickStateMut(-100, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), lowerTick.LiquidityGross.Uint64())
	require.Equal(t, uint64(1_000_000), lowerTick.LiquidityNet.Uint64())

	upperKey, err := store.TickArrayKey(e.poolKey, 0)
	require.NoError(t, err)
	upperArray, err := e.store.GetTickArray(upperKey)
	require.NoError(t, err)
	upperTick, err := upperArray.GetTickStateMut(100, 10)
	require.NoError(t, err)
	require.Negative(t, upperTick.LiquidityNet.Sign())

	personalKey, err := store.PersonalPositionKey(e.nftMint)
	require.NoError(t, err)
	personal, err := e.store.GetPersonalPosition(personalKey)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), personal.Liquidity.Uint64())
	require.Equal(t, int32(-100), personal.TickLowerIndex)
	require.Equal(t, int32(100), personal.TickUpperIndex)

	// Two deposits into the vaults, one per token.
	require.Len(t, e.exec.Movements, 2)
	require.Equal(t, res.Amount0, e.exec.Movements[0].Amount)
	require.Equal(t, res.Amount1, e.exec.Movements[1].Amount)
}

func TestOpenPositionOutOfRangeIsSingleSided(t *testing.T) {
	e := newEnv(t, 10, 0, nil)

	// Entirely above the current price: only token_0 is deposited and the
	// pool's active liquidity does not change.
	res := e.open(t, 200, 400, 1_000_000)
	require.Positive(t, res.Amount0)
	require.Zero(t, res.Amount1)

	p, err := e.store.GetPool(e.poolKey)
	require.NoError(t, err)
	require.True(t, p.Liquidity.IsZero())
}

func TestOpenPositionValidation(t *testing.T) {
	e := newEnv(t, 10, 0, nil)

	_, err := e.eng.OpenPosition(OpenPositionParams{
		NftMint: e.nftMint, PoolKey: e.poolKey,
		TickLowerIndex: 100, TickUpperIndex: -100,
	})
	require.ErrorIs(t, err, ErrInvalidTickRange)

	_, err = e.eng.OpenPosition(OpenPositionParams{
		NftMint: e.nftMint, PoolKey: e.poolKey,
		TickLowerIndex: -100, TickUpperIndex: 100,
		TickArrayLowerStartIndex: 0, TickArrayUpperStartIndex: 0,
		Liquidity: ui.NewInt(1),
	})
	require.ErrorIs(t, err, tm.ErrInvalidTickArrayStartIndex)

	_, err = e.eng.OpenPosition(OpenPositionParams{
		NftMint: e.nftMint, PoolKey: e.poolKey,
		TickLowerIndex: -105, TickUpperIndex: 100,
	})
	require.ErrorIs(t, err, tm.ErrInvalidTick)
}

func TestOpenPositionTwiceFails(t *testing.T) {
	e := newEnv(t, 10, 0, nil)
	e.open(t, -100, 100, 1_000)

	_, err := e.eng.OpenPosition(OpenPositionParams{
		NftMint: e.nftMint, PoolKey: e.poolKey,
		TickLowerIndex: -100, TickUpperIndex: 100,
		TickArrayLowerStartIndex: -600, TickArrayUpperStartIndex: 0,
		Liquidity:  ui.NewInt(1_000),
		Amount0Max: 1 << 40, Amount1Max: 1 << 40,
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestOpenPositionUnsupportedMint(t *testing.T) {
	e := newEnv(t, 10, 0, nil)
	delete(e.mints, e.mint1)

	_, err := e.eng.OpenPosition(OpenPositionParams{
		NftMint: e.nftMint, PoolKey: e.poolKey,
		TickLowerIndex: -100, TickUpperIndex: 100,
		TickArrayLowerStartIndex: -600, TickArrayUpperStartIndex: 0,
		Liquidity: ui.NewInt(1),
	})
	require.ErrorIs(t, err, ErrUnsupportedMint)
}

func TestOpenPositionSlippageLeavesNoState(t *testing.T) {
	e := newEnv(t, 10, 0, nil)

	_, err := e.eng.OpenPosition(OpenPositionParams{
		Payer: e.owner, NftOwner: e.owner, NftMint: e.nftMint, PoolKey: e.poolKey,
		TickLowerIndex: -100, TickUpperIndex: 100,
		TickArrayLowerStartIndex: -600, TickArrayUpperStartIndex: 0,
		Liquidity:  ui.NewInt(1_000_000),
		Amount0Max: 1, Amount1Max: 1,
		TokenAccount0: e.acct0, TokenAccount1: e.acct1,
	})
	require.ErrorIs(t, err, ErrPriceSlippageCheck)

	p, err := e.store.GetPool(e.poolKey)
	require.NoError(t, err)
	require.True(t, p.Liquidity.IsZero())

	lowerKey, err := store.TickArrayKey(e.poolKey, -600)
	require.NoError(t, err)
	_, err = e.store.GetTickArray(lowerKey)
	require.ErrorIs(t, err, store.ErrNotFound)

	personalKey, err := store.PersonalPositionKey(e.nftMint)
	require.NoError(t, err)
	_, err = e.store.GetPersonalPosition(personalKey)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.Empty(t, e.exec.Movements)
}

func TestOpenPositionBaseFlagDerivesLiquidity(t *testing.T) {
	e := newEnv(t, 10, 0, nil)

	baseFlag := false
	res, err := e.eng.OpenPosition(OpenPositionParams{
		Payer: e.owner, NftOwner: e.owner, NftMint: e.nftMint, PoolKey: e.poolKey,
		TickLowerIndex: -100, TickUpperIndex: 100,
		TickArrayLowerStartIndex: -600, TickArrayUpperStartIndex: 0,
		Amount0Max: 1 << 40, Amount1Max: 10_000,
		BaseFlag:      &baseFlag,
		TokenAccount0: e.acct0, TokenAccount1: e.acct1,
	})
	require.NoError(t, err)
	require.True(t, res.Liquidity.Sign() > 0)
	require.LessOrEqual(t, res.Amount1, uint64(10_000))
}

func TestIncreaseAndDecreaseLifecycle(t *testing.T) {
	e := newEnv(t, 10, 0, nil)

	opened := e.open(t, -100, 100, 1_000_000)
	increased, err := e.eng.IncreaseLiquidity(IncreaseLiquidityParams{
		NftOwner: e.owner, NftMint: e.nftMint, PoolKey: e.poolKey,
		Liquidity:  ui.NewInt(1_000_000),
		Amount0Max: 1 << 40, Amount1Max: 1 << 40,
		TokenAccount0: e.acct0, TokenAccount1: e.acct1,
	})
	require.NoError(t, err)

	p, err := e.store.GetPool(e.poolKey)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000), p.Liquidity.Uint64())

	decreased, err := e.eng.DecreaseLiquidity(DecreaseLiquidityParams{
		NftOwner: e.owner, NftMint: e.nftMint, PoolKey: e.poolKey,
		Liquidity:              ui.NewInt(2_000_000),
		RecipientTokenAccount0: e.acct0, RecipientTokenAccount1: e.acct1,
	})
	require.NoError(t, err)
	require.Positive(t, decreased.Amount0)
	require.Positive(t, decreased.Amount1)

	// Withdrawal rounding never pays out more than was deposited.
	require.LessOrEqual(t, decreased.Amount0, opened.Amount0+increased.Amount0)
	require.LessOrEqual(t, decreased.Amount1, opened.Amount1+increased.Amount1)

	p, err = e.store.GetPool(e.poolKey)
	require.NoError(t, err)
	require.True(t, p.Liquidity.IsZero())

	// Ticks flipped off: arrays are empty again and bitmap bits cleared.
	for _, start := range []int32{-600, 0} {
		set, err := p.IsTickArrayBitSet(start)
		require.NoError(t, err)
		require.False(t, set, "array %d", start)

		key, err := store.TickArrayKey(e.poolKey, start)
		require.NoError(t, err)
		ta, err := e.store.GetTickArray(key)
		require.NoError(t, err)
		require.Equal(t, uint8(0), ta.InitializedTickCount)
	}

	lowerKey, err := store.TickArrayKey(e.poolKey, -600)
	require.NoError(t, err)
	lowerArray, err := e.store.GetTickArray(lowerKey)
	require.NoError(t, err)
	lowerTick, err := lowerArray.GetTickStateMut(-100, 10)
	require.NoError(t, err)
	require.False(t, lowerTick.IsInitialized())
	require.True(t, lowerTick.LiquidityNet.IsZero())

	personalKey, err := store.PersonalPositionKey(e.nftMint)
	require.NoError(t, err)
	personal, err := e.store.GetPersonalPosition(personalKey)
	require.NoError(t, err)
	require.True(t, personal.Liquidity.IsZero())
}

func TestOpenPositionBeyondDefaultBitmapRange(t *testing.T) {
	e := newEnv(t, 10, 0, nil)

	// [307200, 307800) lies past the default bitmap, so the flips land in the
	// extension record allocated at pool creation.
	res := e.open(t, 307_200, 307_800, 1_000_000_000_000)
	require.Positive(t, res.Amount0)
	require.Zero(t, res.Amount1)

	extKey, err := store.BitmapExtensionKey(e.poolKey)
	require.NoError(t, err)
	ext, err := e.store.GetBitmapExtension(extKey)
	require.NoError(t, err)
	for _, start := range []int32{307_200, 307_800} {
		init, err := ext.CheckTickArrayIsInit(start, 10)
		require.NoError(t, err)
		require.True(t, init, "array %d", start)
	}

	_, err = e.eng.DecreaseLiquidity(DecreaseLiquidityParams{
		NftOwner: e.owner, NftMint: e.nftMint, PoolKey: e.poolKey,
		Liquidity:              ui.NewInt(1_000_000_000_000),
		RecipientTokenAccount0: e.acct0, RecipientTokenAccount1: e.acct1,
	})
	require.NoError(t, err)

	ext, err = e.store.GetBitmapExtension(extKey)
	require.NoError(t, err)
	for _, start := range []int32{307_200, 307_800} {
		init, err := ext.CheckTickArrayIsInit(start, 10)
		require.NoError(t, err)
		require.False(t, init, "array %d", start)
	}
}

func TestLiquidityChangeRejectsForeignPool(t *testing.T) {
	e := newEnv(t, 10, 0, nil)
	e.open(t, -100, 100, 1_000)

	sqrtPrice, err := tm.SqrtPriceAtTick(0)
	require.NoError(t, err)
	other, err := pool.New(
		solana.NewWallet().PublicKey(), solana.PublicKey{}, e.owner,
		e.mint0, e.mint1,
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(),
		6, 6, 10, sqrtPrice, 0, 1,
	)
	require.NoError(t, err)
	require.NoError(t, e.store.CreatePool(other))

	_, err = e.eng.IncreaseLiquidity(IncreaseLiquidityParams{
		NftOwner: e.owner, NftMint: e.nftMint, PoolKey: other.Key,
		Liquidity:  ui.NewInt(1_000),
		Amount0Max: 1 << 40, Amount1Max: 1 << 40,
		TokenAccount0: e.acct0, TokenAccount1: e.acct1,
	})
	require.ErrorIs(t, err, ErrPositionPoolMismatch)

	_, err = e.eng.DecreaseLiquidity(DecreaseLiquidityParams{
		NftOwner: e.owner, NftMint: e.nftMint, PoolKey: other.Key,
		Liquidity: ui.NewInt(1_000),
	})
	require.ErrorIs(t, err, ErrPositionPoolMismatch)
}

func TestDecreaseOverdraw(t *testing.T) {
	e := newEnv(t, 10, 0, nil)
	e.open(t, -100, 100, 1_000)

	_, err := e.eng.DecreaseLiquidity(DecreaseLiquidityParams{
		NftOwner: e.owner, NftMint: e.nftMint, PoolKey: e.poolKey,
		Liquidity: ui.NewInt(1_001),
	})
	require.ErrorIs(t, err, position.ErrLiquiditySubValue)
}

func TestDecreaseSlippage(t *testing.T) {
	e := newEnv(t, 10, 0, nil)
	e.open(t, -100, 100, 1_000_000)

	_, err := e.eng.DecreaseLiquidity(DecreaseLiquidityParams{
		NftOwner: e.owner, NftMint: e.nftMint, PoolKey: e.poolKey,
		Liquidity:  ui.NewInt(1_000_000),
		Amount0Min: 1 << 40,
	})
	require.ErrorIs(t, err, ErrPriceSlippageCheck)

	// Nothing changed.
	p, err := e.store.GetPool(e.poolKey)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), p.Liquidity.Uint64())
}

func TestFeeSettlementOnZeroDeltaIncrease(t *testing.T) {
	e := newEnv(t, 10, 0, nil)
	e.open(t, -100, 100, 1_000)

	// Simulate swap fee accrual of 1.0 token_0 per liquidity unit.
	p, err := e.store.GetPool(e.poolKey)
	require.NoError(t, err)
	p.FeeGrowthGlobal0X64.Add(p.FeeGrowthGlobal0X64, fp.Q64)
	e.store.PutPool(p)

	res, err := e.eng.IncreaseLiquidity(IncreaseLiquidityParams{
		NftOwner: e.owner, NftMint: e.nftMint, PoolKey: e.poolKey,
		TokenAccount0: e.acct0, TokenAccount1: e.acct1,
	})
	require.NoError(t, err)
	require.True(t, res.Liquidity.IsZero())
	require.Zero(t, res.Amount0)

	personalKey, err := store.PersonalPositionKey(e.nftMint)
	require.NoError(t, err)
	personal, err := e.store.GetPersonalPosition(personalKey)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), personal.TokenFeesOwed0)
	require.Equal(t, uint64(0), personal.TokenFeesOwed1)
}

func TestTransferFeeAccounting(t *testing.T) {
	e := newEnv(t, 10, 0, &token.TransferFeeConfig{
		TransferFeeBasisPoints: 100, // 1%
		MaximumFee:             1 << 40,
	})

	res := e.open(t, -100, 100, 1_000_000)
	require.Positive(t, res.Amount0TransferFee)
	require.Zero(t, res.Amount1TransferFee)

	// The payer funds amount plus fee so the vault receives the full amount.
	require.Equal(t, res.Amount0+res.Amount0TransferFee, e.exec.Movements[0].Amount)

	dec, err := e.eng.DecreaseLiquidity(DecreaseLiquidityParams{
		NftOwner: e.owner, NftMint: e.nftMint, PoolKey: e.poolKey,
		Liquidity:              ui.NewInt(1_000_000),
		RecipientTokenAccount0: e.acct0, RecipientTokenAccount1: e.acct1,
	})
	require.NoError(t, err)

	// On the way out the owner bears the fee.
	require.Positive(t, dec.Amount0TransferFee)
	require.Less(t, dec.Amount0-dec.Amount0TransferFee, dec.Amount0)
}
