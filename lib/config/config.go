package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds simulator settings loaded from flags, env, or config file.
type Config struct {
	TickSpacing uint16
	InitialTick int32
	TickLower   int32
	TickUpper   int32
	Amount0Max  uint64
	Amount1Max  uint64
	FeeBps      uint16
	MaxFee      uint64
	Out         string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("tick-spacing", uint16(10))
	v.SetDefault("initial-tick", int32(0))
	v.SetDefault("tick-lower", int32(-100))
	v.SetDefault("tick-upper", int32(100))
	v.SetDefault("amount-0-max", uint64(1_000_000))
	v.SetDefault("amount-1-max", uint64(1_000_000))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return Config{
		TickSpacing: uint16(v.GetUint32("tick-spacing")),
		InitialTick: v.GetInt32("initial-tick"),
		TickLower:   v.GetInt32("tick-lower"),
		TickUpper:   v.GetInt32("tick-upper"),
		Amount0Max:  v.GetUint64("amount-0-max"),
		Amount1Max:  v.GetUint64("amount-1-max"),
		FeeBps:      uint16(v.GetUint32("fee-bps")),
		MaxFee:      v.GetUint64("max-fee"),
		Out:         v.GetString("out"),
		LogLevel:    v.GetString("log-level"),
	}, nil
}
