package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/solpool/clmm-core/lib/clock"
	"github.com/solpool/clmm-core/lib/config"
	"github.com/solpool/clmm-core/lib/engine"
	"github.com/solpool/clmm-core/lib/layout"
	"github.com/solpool/clmm-core/lib/pool"
	"github.com/solpool/clmm-core/lib/store"
	tm "github.com/solpool/clmm-core/lib/tickmath"
	"github.com/solpool/clmm-core/lib/token"
)

func main() {
	root := &cobra.Command{
		Use:          "clmm-sim",
		Short:        "Concentrated liquidity position accounting simulator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	scenarioCmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run a create-pool/open/increase/decrease scenario",
		RunE:  runScenario,
	}
	scenarioCmd.Flags().Uint32("tick-spacing", 10, "pool tick spacing")
	scenarioCmd.Flags().Int32("initial-tick", 0, "initial pool tick")
	scenarioCmd.Flags().Int32("tick-lower", -100, "position lower tick")
	scenarioCmd.Flags().Int32("tick-upper", 100, "position upper tick")
	scenarioCmd.Flags().Uint64("amount-0-max", 1_000_000, "max token_0 to deposit")
	scenarioCmd.Flags().Uint64("amount-1-max", 1_000_000, "max token_1 to deposit")
	scenarioCmd.Flags().Uint32("fee-bps", 0, "transfer fee basis points on token_0")
	scenarioCmd.Flags().Uint64("max-fee", 0, "transfer fee cap on token_0")
	scenarioCmd.Flags().String("out", "", "directory for account snapshots")
	scenarioCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(scenarioCmd)

	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Convert between ticks and sqrt prices",
		RunE:  runPrice,
	}
	priceCmd.Flags().Int32("tick", 0, "tick to convert to a sqrt price")
	priceCmd.Flags().String("sqrt-price", "", "Q64.64 sqrt price to convert to a tick")
	root.AddCommand(priceCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScenario(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	mint0 := solana.NewWallet().PublicKey()
	mint1 := solana.NewWallet().PublicKey()
	mints := token.Registry{}
	cfg0 := &token.MintConfig{Mint: mint0, Decimals: 6}
	if cfg.FeeBps > 0 {
		cfg0.TransferFee = &token.TransferFeeConfig{
			TransferFeeBasisPoints: cfg.FeeBps,
			MaximumFee:             cfg.MaxFee,
		}
	}
	mints.Add(cfg0)
	mints.Add(&token.MintConfig{Mint: mint1, Decimals: 6})

	sqrtPrice, err := tm.SqrtPriceAtTick(cfg.InitialTick)
	if err != nil {
		return err
	}

	clk := clock.System{}
	p, err := pool.New(
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(),
		mint0, mint1,
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(),
		6, 6, cfg.TickSpacing, sqrtPrice, clk.UnixTimestamp(), clk.Epoch(),
	)
	if err != nil {
		return err
	}

	st := store.New()
	if err := st.CreatePool(p); err != nil {
		return err
	}
	executor := token.NewRecordingExecutor(mints)
	eng := engine.New(st, mints, executor, clk, logger)

	owner := solana.NewWallet().PublicKey()
	nftMint := solana.NewWallet().PublicKey()
	account0 := solana.NewWallet().PublicKey()
	account1 := solana.NewWallet().PublicKey()

	baseFlag := true
	opened, err := eng.OpenPosition(engine.OpenPositionParams{
		Payer:                    owner,
		NftOwner:                 owner,
		NftMint:                  nftMint,
		PoolKey:                  p.Key,
		TickLowerIndex:           cfg.TickLower,
		TickUpperIndex:           cfg.TickUpper,
		TickArrayLowerStartIndex: tm.GetArrayStartIndex(cfg.TickLower, cfg.TickSpacing),
		TickArrayUpperStartIndex: tm.GetArrayStartIndex(cfg.TickUpper, cfg.TickSpacing),
		Amount0Max:               cfg.Amount0Max,
		Amount1Max:               cfg.Amount1Max,
		BaseFlag:                 &baseFlag,
		TokenAccount0:            account0,
		TokenAccount1:            account1,
	})
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}

	increased, err := eng.IncreaseLiquidity(engine.IncreaseLiquidityParams{
		NftOwner:      owner,
		NftMint:       nftMint,
		PoolKey:       p.Key,
		Liquidity:     opened.Liquidity.Clone(),
		Amount0Max:    cfg.Amount0Max,
		Amount1Max:    cfg.Amount1Max,
		TokenAccount0: account0,
		TokenAccount1: account1,
	})
	if err != nil {
		return fmt.Errorf("increase liquidity: %w", err)
	}

	half := new(ui.Int).Rsh(new(ui.Int).Add(opened.Liquidity, increased.Liquidity), 1)
	decreased, err := eng.DecreaseLiquidity(engine.DecreaseLiquidityParams{
		NftOwner:               owner,
		NftMint:                nftMint,
		PoolKey:                p.Key,
		Liquidity:              half,
		RecipientTokenAccount0: account0,
		RecipientTokenAccount1: account1,
	})
	if err != nil {
		return fmt.Errorf("decrease liquidity: %w", err)
	}

	logger.Info("scenario complete",
		zap.String("opened_liquidity", opened.Liquidity.Dec()),
		zap.String("increased_liquidity", increased.Liquidity.Dec()),
		zap.String("decreased_liquidity", decreased.Liquidity.Dec()),
		zap.Uint64("withdrawn_0", decreased.Amount0),
		zap.Uint64("withdrawn_1", decreased.Amount1),
		zap.Int("transfers", len(executor.Movements)),
	)

	if cfg.Out != "" {
		if err := writeSnapshots(st, p.Key, cfg.Out); err != nil {
			return err
		}
		logger.Info("snapshots written", zap.String("dir", cfg.Out))
	}
	return nil
}

func writeSnapshots(st *store.Store, poolKey solana.PublicKey, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	p, err := st.GetPool(poolKey)
	if err != nil {
		return err
	}
	data, err := layout.EncodePool(p)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, poolKey.String()+".bin"), data, 0o644)
}

func runPrice(cmd *cobra.Command, _ []string) error {
	if raw, _ := cmd.Flags().GetString("sqrt-price"); raw != "" {
		sqrtPrice, err := ui.FromDecimal(raw)
		if err != nil {
			return fmt.Errorf("parse sqrt price: %w", err)
		}
		tick, err := tm.TickAtSqrtPrice(sqrtPrice)
		if err != nil {
			return err
		}
		fmt.Printf("tick: %d\n", tick)
		return nil
	}

	tick, _ := cmd.Flags().GetInt32("tick")
	sqrtPrice, err := tm.SqrtPriceAtTick(tick)
	if err != nil {
		return err
	}
	fmt.Printf("sqrt_price_x64: %s\n", sqrtPrice.Dec())
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
