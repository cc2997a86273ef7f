package engine

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/solpool/clmm-core/lib/bitmap"
	"github.com/solpool/clmm-core/lib/clock"
	"github.com/solpool/clmm-core/lib/invariant"
	lm "github.com/solpool/clmm-core/lib/liquiditymath"
	"github.com/solpool/clmm-core/lib/pool"
	"github.com/solpool/clmm-core/lib/position"
	"github.com/solpool/clmm-core/lib/store"
	"github.com/solpool/clmm-core/lib/tickarray"
	tm "github.com/solpool/clmm-core/lib/tickmath"
	"github.com/solpool/clmm-core/lib/token"
)

var (
	ErrInvalidTickRange                 = errors.New("tick lower must be less than tick upper")
	ErrPriceSlippageCheck               = errors.New("computed amounts violate the caller's slippage bounds")
	ErrForbidBothZeroForSupplyLiquidity = errors.New("computed amounts for both tokens are zero")
	ErrUnsupportedMint                  = errors.New("pool mint is not supported")
	ErrTickArrayPoolMismatch            = errors.New("tick array does not belong to this pool")
	ErrPositionPoolMismatch             = errors.New("position does not belong to this pool")
)

// Engine orchestrates add/remove-liquidity: it mutates pool, tick, bitmap and
// position records together and computes the token amounts the caller's
// transfer subsystem then moves. Every operation either commits fully or
// leaves the store untouched.
type Engine struct {
	store    *store.Store
	mints    token.Registry
	executor token.TransferExecutor
	clock    clock.Clock
	log      *zap.Logger
}

func New(st *store.Store, mints token.Registry, executor token.TransferExecutor, clk clock.Clock, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: st, mints: mints, executor: executor, clock: clk, log: log}
}

// LiquidityResult reports the outcome of a liquidity change.
type LiquidityResult struct {
	Liquidity          *ui.Int
	Amount0            uint64
	Amount1            uint64
	Amount0TransferFee uint64
	Amount1TransferFee uint64
}

// OpenPositionParams opens a new personal position over a tick range.
type OpenPositionParams struct {
	Payer    solana.PublicKey
	NftOwner solana.PublicKey
	NftMint  solana.PublicKey
	PoolKey  solana.PublicKey

	TickLowerIndex           int32
	TickUpperIndex           int32
	TickArrayLowerStartIndex int32
	TickArrayUpperStartIndex int32

	// Liquidity to add. Zero with BaseFlag set derives liquidity from the
	// flagged side's max amount.
	Liquidity  *ui.Int
	Amount0Max uint64
	Amount1Max uint64
	BaseFlag   *bool

	TokenAccount0 solana.PublicKey
	TokenAccount1 solana.PublicKey
}

type IncreaseLiquidityParams struct {
	NftOwner solana.PublicKey
	NftMint  solana.PublicKey
	PoolKey  solana.PublicKey

	Liquidity  *ui.Int
	Amount0Max uint64
	Amount1Max uint64
	BaseFlag   *bool

	TokenAccount0 solana.PublicKey
	TokenAccount1 solana.PublicKey
}

type DecreaseLiquidityParams struct {
	NftOwner solana.PublicKey
	NftMint  solana.PublicKey
	PoolKey  solana.PublicKey

	Liquidity  *ui.Int
	Amount0Min uint64
	Amount1Min uint64

	RecipientTokenAccount0 solana.PublicKey
	RecipientTokenAccount1 solana.PublicKey
}

// workingSet holds the speculative copies an invocation mutates. Nothing in it
// touches the store until commit.
type workingSet struct {
	pool        *pool.PoolState
	extKey      solana.PublicKey
	ext         *bitmap.TickArrayBitmapExtension
	extUsed     bool
	lowerKey    solana.PublicKey
	upperKey    solana.PublicKey
	taLower     *tickarray.TickArrayState
	taUpper     *tickarray.TickArrayState
	protocolKey solana.PublicKey
	protocol    *position.ProtocolPositionState
	personalKey solana.PublicKey
	personal    *position.PersonalPositionState
}

func (e *Engine) commit(ws *workingSet) {
	e.store.PutPool(ws.pool)
	e.store.PutTickArray(ws.lowerKey, ws.taLower)
	if ws.upperKey != ws.lowerKey {
		e.store.PutTickArray(ws.upperKey, ws.taUpper)
	}
	if ws.extUsed {
		e.store.PutBitmapExtension(ws.extKey, ws.ext)
	}
	e.store.PutProtocolPosition(ws.protocolKey, ws.protocol)
	e.store.PutPersonalPosition(ws.personalKey, ws.personal)
}

func (e *Engine) checkMintSupport(p *pool.PoolState) error {
	if !e.mints.IsSupported(p.TokenMint0) {
		return fmt.Errorf("%w: %s", ErrUnsupportedMint, p.TokenMint0)
	}
	if !e.mints.IsSupported(p.TokenMint1) {
		return fmt.Errorf("%w: %s", ErrUnsupportedMint, p.TokenMint1)
	}
	return nil
}

// loadWorkingSet resolves the speculative copies of every record the range
// touches, creating tick arrays on first reference.
func (e *Engine) loadWorkingSet(poolKey, nftMint solana.PublicKey, tickLower, tickUpper int32) (*workingSet, error) {
	if tickLower >= tickUpper {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidTickRange, tickLower, tickUpper)
	}

	p, err := e.store.GetPool(poolKey)
	if err != nil {
		return nil, err
	}
	if err := e.checkMintSupport(p); err != nil {
		return nil, err
	}

	startLower := tm.GetArrayStartIndex(tickLower, p.TickSpacing)
	startUpper := tm.GetArrayStartIndex(tickUpper, p.TickSpacing)
	if err := tm.CheckTickArrayStartIndex(startLower, tickLower, p.TickSpacing); err != nil {
		return nil, err
	}
	if err := tm.CheckTickArrayStartIndex(startUpper, tickUpper, p.TickSpacing); err != nil {
		return nil, err
	}

	epoch := e.clock.Epoch()
	ws := &workingSet{pool: p}

	ws.lowerKey, ws.taLower, _, err = e.store.GetOrCreateTickArray(poolKey, startLower, p.TickSpacing, epoch)
	if err != nil {
		return nil, err
	}
	if startUpper == startLower {
		ws.upperKey, ws.taUpper = ws.lowerKey, ws.taLower
	} else {
		ws.upperKey, ws.taUpper, _, err = e.store.GetOrCreateTickArray(poolKey, startUpper, p.TickSpacing, epoch)
		if err != nil {
			return nil, err
		}
	}
	if !ws.taLower.PoolID.Equals(poolKey) || !ws.taUpper.PoolID.Equals(poolKey) {
		return nil, ErrTickArrayPoolMismatch
	}

	// The bitmap extension is only required when a boundary array lies
	// outside the default bitmap range.
	if p.IsOverflowDefaultTickarrayBitmap([]int32{tickLower, tickUpper}) {
		ws.extKey, err = store.BitmapExtensionKey(poolKey)
		if err != nil {
			return nil, err
		}
		ws.ext, err = e.store.GetBitmapExtension(ws.extKey)
		if err != nil {
			return nil, err
		}
		ws.extUsed = true
	}

	ws.protocolKey, err = store.ProtocolPositionKey(poolKey, tickLower, tickUpper)
	if err != nil {
		return nil, err
	}
	ws.protocol, err = e.store.GetProtocolPosition(ws.protocolKey)
	if errors.Is(err, store.ErrNotFound) {
		ws.protocol = position.NewProtocolPosition(poolKey, tickLower, tickUpper, epoch)
	} else if err != nil {
		return nil, err
	}

	ws.personalKey, err = store.PersonalPositionKey(nftMint)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// OpenPosition creates a personal position and supplies its initial
// liquidity.
func (e *Engine) OpenPosition(params OpenPositionParams) (*LiquidityResult, error) {
	ws, err := e.loadWorkingSet(params.PoolKey, params.NftMint, params.TickLowerIndex, params.TickUpperIndex)
	if err != nil {
		return nil, err
	}
	if err := tm.CheckTickArrayStartIndex(params.TickArrayLowerStartIndex, params.TickLowerIndex, ws.pool.TickSpacing); err != nil {
		return nil, err
	}
	if err := tm.CheckTickArrayStartIndex(params.TickArrayUpperStartIndex, params.TickUpperIndex, ws.pool.TickSpacing); err != nil {
		return nil, err
	}
	if _, err := e.store.GetPersonalPosition(ws.personalKey); err == nil {
		return nil, fmt.Errorf("%w: position %s", store.ErrAlreadyExists, ws.personalKey)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	epoch := e.clock.Epoch()
	ws.personal = position.NewPersonalPosition(params.NftMint, params.PoolKey, params.TickLowerIndex, params.TickUpperIndex, epoch)

	res, err := e.addLiquidity(ws, params.Payer, params.TokenAccount0, params.TokenAccount1,
		params.Liquidity, params.Amount0Max, params.Amount1Max,
		params.TickLowerIndex, params.TickUpperIndex, params.BaseFlag)
	if err != nil {
		return nil, err
	}

	e.settlePersonal(ws, res.Liquidity, false)
	e.commit(ws)
	e.log.Info("position opened",
		zap.String("pool", params.PoolKey.String()),
		zap.Int32("tick_lower", params.TickLowerIndex),
		zap.Int32("tick_upper", params.TickUpperIndex),
		zap.String("liquidity", res.Liquidity.Dec()),
	)
	return res, nil
}

// IncreaseLiquidity adds liquidity to an existing personal position.
func (e *Engine) IncreaseLiquidity(params IncreaseLiquidityParams) (*LiquidityResult, error) {
	personalKey, err := store.PersonalPositionKey(params.NftMint)
	if err != nil {
		return nil, err
	}
	personal, err := e.store.GetPersonalPosition(personalKey)
	if err != nil {
		return nil, err
	}
	if !personal.PoolID.Equals(params.PoolKey) {
		return nil, fmt.Errorf("%w: position pool %s, given %s", ErrPositionPoolMismatch, personal.PoolID, params.PoolKey)
	}

	ws, err := e.loadWorkingSet(params.PoolKey, params.NftMint, personal.TickLowerIndex, personal.TickUpperIndex)
	if err != nil {
		return nil, err
	}
	ws.personal = personal

	res, err := e.addLiquidity(ws, params.NftOwner, params.TokenAccount0, params.TokenAccount1,
		params.Liquidity, params.Amount0Max, params.Amount1Max,
		personal.TickLowerIndex, personal.TickUpperIndex, params.BaseFlag)
	if err != nil {
		return nil, err
	}

	e.settlePersonal(ws, res.Liquidity, false)
	e.commit(ws)
	return res, nil
}

// DecreaseLiquidity removes liquidity from a personal position and returns
// the amounts owed to the owner, net of transfer fees.
func (e *Engine) DecreaseLiquidity(params DecreaseLiquidityParams) (*LiquidityResult, error) {
	personalKey, err := store.PersonalPositionKey(params.NftMint)
	if err != nil {
		return nil, err
	}
	personal, err := e.store.GetPersonalPosition(personalKey)
	if err != nil {
		return nil, err
	}
	if !personal.PoolID.Equals(params.PoolKey) {
		return nil, fmt.Errorf("%w: position pool %s, given %s", ErrPositionPoolMismatch, personal.PoolID, params.PoolKey)
	}
	if params.Liquidity.Cmp(personal.Liquidity) > 0 {
		return nil, fmt.Errorf("%w: have %s, removing %s", position.ErrLiquiditySubValue, personal.Liquidity.Dec(), params.Liquidity.Dec())
	}

	ws, err := e.loadWorkingSet(params.PoolKey, params.NftMint, personal.TickLowerIndex, personal.TickUpperIndex)
	if err != nil {
		return nil, err
	}
	ws.personal = personal

	liquidityDelta := new(ui.Int).Neg(params.Liquidity)
	amount0, amount1, flipLower, flipUpper, err := e.modifyPosition(ws, liquidityDelta, personal.TickLowerIndex, personal.TickUpperIndex)
	if err != nil {
		return nil, err
	}
	if err := e.applyFlips(ws, liquidityDelta, flipLower, flipUpper); err != nil {
		return nil, err
	}

	mint0, _ := e.mints.Get(ws.pool.TokenMint0)
	mint1, _ := e.mints.Get(ws.pool.TokenMint1)
	fee0 := token.GetTransferFee(mint0, amount0)
	fee1 := token.GetTransferFee(mint1, amount1)
	if amount0-fee0 < params.Amount0Min || amount1-fee1 < params.Amount1Min {
		return nil, fmt.Errorf("%w: received (%d, %d), minimum (%d, %d)",
			ErrPriceSlippageCheck, amount0-fee0, amount1-fee1, params.Amount0Min, params.Amount1Min)
	}

	e.settlePersonal(ws, params.Liquidity, true)

	if e.executor != nil && amount0 > 0 {
		if _, err := e.executor.Transfer(ws.pool.Key, ws.pool.TokenVault0, params.RecipientTokenAccount0, ws.pool.TokenMint0, amount0); err != nil {
			return nil, err
		}
	}
	if e.executor != nil && amount1 > 0 {
		if _, err := e.executor.Transfer(ws.pool.Key, ws.pool.TokenVault1, params.RecipientTokenAccount1, ws.pool.TokenMint1, amount1); err != nil {
			return nil, err
		}
	}

	e.commit(ws)
	e.log.Info("liquidity decreased",
		zap.String("pool", params.PoolKey.String()),
		zap.Uint64("amount_0", amount0),
		zap.Uint64("amount_1", amount1),
	)
	return &LiquidityResult{
		Liquidity:          params.Liquidity.Clone(),
		Amount0:            amount0,
		Amount1:            amount1,
		Amount0TransferFee: fee0,
		Amount1TransferFee: fee1,
	}, nil
}

// settlePersonal realizes fees against the protocol position's latest growth
// snapshot and applies the liquidity change to the owner's record.
func (e *Engine) settlePersonal(ws *workingSet, liquidity *ui.Int, remove bool) {
	ws.personal.SettleFees(ws.protocol)
	if remove {
		ws.personal.Liquidity.Sub(ws.personal.Liquidity, liquidity)
	} else {
		ws.personal.Liquidity.Add(ws.personal.Liquidity, liquidity)
	}
	ws.personal.RecentEpoch = e.clock.Epoch()
}

// addLiquidity is the deposit path: derive liquidity if needed, update both
// boundary ticks, settle the protocol position, adjust pool liquidity when in
// range, and compute the amounts the caller must supply.
func (e *Engine) addLiquidity(ws *workingSet, payer, tokenAccount0, tokenAccount1 solana.PublicKey, liquidity *ui.Int, amount0Max, amount1Max uint64, tickLower, tickUpper int32, baseFlag *bool) (*LiquidityResult, error) {
	mint0, _ := e.mints.Get(ws.pool.TokenMint0)
	mint1, _ := e.mints.Get(ws.pool.TokenMint1)

	if liquidity == nil {
		liquidity = new(ui.Int)
	} else {
		liquidity = liquidity.Clone()
	}

	if liquidity.IsZero() && baseFlag == nil {
		// Fee collection only: refresh the range's fee growth snapshot
		// without moving liquidity.
		if _, _, _, _, err := e.modifyPosition(ws, liquidity, tickLower, tickUpper); err != nil {
			return nil, err
		}
		return &LiquidityResult{Liquidity: new(ui.Int)}, nil
	}

	if liquidity.IsZero() {
		sqrtLower, err := tm.SqrtPriceAtTick(tickLower)
		if err != nil {
			return nil, err
		}
		sqrtUpper, err := tm.SqrtPriceAtTick(tickUpper)
		if err != nil {
			return nil, err
		}
		if *baseFlag {
			transferFee := token.GetTransferFee(mint0, amount0Max)
			liquidity = lm.LiquidityFromSingleAmount0(ws.pool.SqrtPriceX64, sqrtLower, sqrtUpper, amount0Max-transferFee)
			e.log.Debug("derived liquidity from token_0",
				zap.String("liquidity", liquidity.Dec()),
				zap.Uint64("amount_0_max", amount0Max),
				zap.Uint64("transfer_fee", transferFee),
			)
		} else {
			transferFee := token.GetTransferFee(mint1, amount1Max)
			liquidity = lm.LiquidityFromSingleAmount1(ws.pool.SqrtPriceX64, sqrtLower, sqrtUpper, amount1Max-transferFee)
			e.log.Debug("derived liquidity from token_1",
				zap.String("liquidity", liquidity.Dec()),
				zap.Uint64("amount_1_max", amount1Max),
				zap.Uint64("transfer_fee", transferFee),
			)
		}
	}
	invariant.Invariant(liquidity.Sign() > 0, "liquidity to add must be positive")

	amount0, amount1, flipLower, flipUpper, err := e.modifyPosition(ws, liquidity, tickLower, tickUpper)
	if err != nil {
		return nil, err
	}
	if err := e.applyFlips(ws, liquidity, flipLower, flipUpper); err != nil {
		return nil, err
	}

	if amount0 == 0 && amount1 == 0 {
		return nil, ErrForbidBothZeroForSupplyLiquidity
	}

	fee0, err := token.GetTransferInverseFee(mint0, amount0)
	if err != nil {
		return nil, err
	}
	fee1, err := token.GetTransferInverseFee(mint1, amount1)
	if err != nil {
		return nil, err
	}
	e.log.Debug("liquidity amounts",
		zap.Uint64("amount_0", amount0),
		zap.Uint64("amount_0_transfer_fee", fee0),
		zap.Uint64("amount_1", amount1),
		zap.Uint64("amount_1_transfer_fee", fee1),
	)

	if amount0+fee0 > amount0Max || amount1+fee1 > amount1Max {
		return nil, fmt.Errorf("%w: need (%d, %d), maximum (%d, %d)",
			ErrPriceSlippageCheck, amount0+fee0, amount1+fee1, amount0Max, amount1Max)
	}

	if e.executor != nil {
		if _, err := e.executor.Transfer(payer, tokenAccount0, ws.pool.TokenVault0, ws.pool.TokenMint0, amount0+fee0); err != nil {
			return nil, err
		}
		if _, err := e.executor.Transfer(payer, tokenAccount1, ws.pool.TokenVault1, ws.pool.TokenMint1, amount1+fee1); err != nil {
			return nil, err
		}
	}

	return &LiquidityResult{
		Liquidity:          liquidity,
		Amount0:            amount0,
		Amount1:            amount1,
		Amount0TransferFee: fee0,
		Amount1TransferFee: fee1,
	}, nil
}

// modifyPosition updates both boundary tick states and the protocol position,
// applies the delta to the pool's active liquidity when the current tick is
// in range, and computes the token amounts for the delta.
func (e *Engine) modifyPosition(ws *workingSet, liquidityDelta *ui.Int, tickLower, tickUpper int32) (amount0, amount1 uint64, flipLower, flipUpper bool, err error) {
	p := ws.pool
	epoch := e.clock.Epoch()

	tickLowerState, err := ws.taLower.GetTickStateMut(tickLower, p.TickSpacing)
	if err != nil {
		return 0, 0, false, false, err
	}
	tickUpperState, err := ws.taUpper.GetTickStateMut(tickUpper, p.TickSpacing)
	if err != nil {
		return 0, 0, false, false, err
	}

	if !liquidityDelta.IsZero() {
		flipLower, err = tickLowerState.Update(p.TickCurrent, liquidityDelta, p.FeeGrowthGlobal0X64, p.FeeGrowthGlobal1X64, false)
		if err != nil {
			return 0, 0, false, false, err
		}
		flipUpper, err = tickUpperState.Update(p.TickCurrent, liquidityDelta, p.FeeGrowthGlobal0X64, p.FeeGrowthGlobal1X64, true)
		if err != nil {
			return 0, 0, false, false, err
		}
		ws.taLower.RecentEpoch = epoch
		ws.taUpper.RecentEpoch = epoch
	}

	inside0, inside1 := tickarray.GetFeeGrowthInside(tickLowerState, tickUpperState, p.TickCurrent, p.FeeGrowthGlobal0X64, p.FeeGrowthGlobal1X64)
	if err := ws.protocol.Update(tickLower, tickUpper, liquidityDelta, inside0, inside1, epoch); err != nil {
		return 0, 0, false, false, err
	}

	if liquidityDelta.Sign() < 0 {
		if flipLower {
			tickLowerState.Clear()
		}
		if flipUpper {
			tickUpperState.Clear()
		}
	}

	if !liquidityDelta.IsZero() {
		amount0, amount1, err = lm.DeltaAmountsSigned(p.TickCurrent, p.SqrtPriceX64, tickLower, tickUpper, liquidityDelta)
		if err != nil {
			return 0, 0, false, false, err
		}
		if p.TickCurrent >= tickLower && p.TickCurrent < tickUpper {
			if liquidityDelta.Sign() > 0 {
				p.Liquidity.Add(p.Liquidity, liquidityDelta)
			} else {
				magnitude := new(ui.Int).Neg(liquidityDelta)
				invariant.Invariant(magnitude.Cmp(p.Liquidity) <= 0, "pool liquidity underflow")
				p.Liquidity.Sub(p.Liquidity, magnitude)
			}
		}
		p.RecentEpoch = epoch
	}
	return amount0, amount1, flipLower, flipUpper, nil
}

// applyFlips maintains the initialized tick counts and flips bitmap bits when
// a tick array transitions between empty and non-empty.
func (e *Engine) applyFlips(ws *workingSet, liquidityDelta *ui.Int, flipLower, flipUpper bool) error {
	add := liquidityDelta.Sign() > 0
	if flipLower {
		if err := e.applyFlip(ws, ws.taLower, add); err != nil {
			return err
		}
	}
	if flipUpper {
		if err := e.applyFlip(ws, ws.taUpper, add); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyFlip(ws *workingSet, ta *tickarray.TickArrayState, add bool) error {
	before := ta.InitializedTickCount
	ta.UpdateInitializedTickCount(add)
	if (add && before == 0) || (!add && ta.InitializedTickCount == 0) {
		var ext *bitmap.TickArrayBitmapExtension
		if ws.extUsed {
			ext = ws.ext
		}
		return ws.pool.FlipTickArrayBit(ext, ta.StartTickIndex)
	}
	return nil
}
