package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"cpamm/internal/amm"
)

const envPrefix = "CPAMM"

// PoolConfig identifies the pool and its immutable parameters.
type PoolConfig struct {
	Address        string
	AssetA         string
	AssetB         string
	FeeNumerator   uint64
	FeeDenominator uint64
	PriceScale     string
}

// AMM converts the pool settings into an amm.Config.
func (p PoolConfig) AMM() (amm.Config, error) {
	var (
		cfg amm.Config
		err error
	)
	if cfg.Address, err = parseAddress("pool", p.Address); err != nil {
		return amm.Config{}, err
	}
	if cfg.AssetA, err = parseAddress("asset-a", p.AssetA); err != nil {
		return amm.Config{}, err
	}
	if cfg.AssetB, err = parseAddress("asset-b", p.AssetB); err != nil {
		return amm.Config{}, err
	}
	cfg.Fee = amm.Fee{Numerator: p.FeeNumerator, Denominator: p.FeeDenominator}
	if p.PriceScale != "" {
		if cfg.PriceScale, err = uint256.FromDecimal(p.PriceScale); err != nil {
			return amm.Config{}, fmt.Errorf("invalid price-scale %q: %w", p.PriceScale, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return amm.Config{}, err
	}
	return cfg, nil
}

// RunConfig holds configuration for the run command.
type RunConfig struct {
	Pool              PoolConfig
	In                string
	Out               string
	Errors            string
	BatchSize         uint64
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	PGDSN             string
	MetricsAddr       string
	LogLevel          string
}

// LoadRun merges config file, environment variables, and flags into RunConfig.
func LoadRun(cfgFile string, flags *pflag.FlagSet) (RunConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"in":                 "./data/ops.jsonl",
		"out":                "./data/logs.jsonl",
		"errors":             "./data/rejected_ops.jsonl",
		"batch-size":         uint64(500),
		"checkpoint":         "./data/checkpoint.json",
		"checkpoint-enabled": true,
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
	})
	if err != nil {
		return RunConfig{}, err
	}

	return RunConfig{
		Pool:              loadPool(v),
		In:                v.GetString("in"),
		Out:               v.GetString("out"),
		Errors:            v.GetString("errors"),
		BatchSize:         v.GetUint64("batch-size"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		PGDSN:             v.GetString("pg-dsn"),
		MetricsAddr:       v.GetString("metrics-addr"),
		LogLevel:          v.GetString("log-level"),
	}, nil
}

// newViper builds a viper instance reading, in increasing priority, defaults,
// the config file (--config or ./config.*), CPAMM_* env vars and flags.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("fee-numerator", amm.DefaultFee.Numerator)
	v.SetDefault("fee-denominator", amm.DefaultFee.Denominator)
	v.SetDefault("price-scale", "1")
	v.SetDefault("log-level", "info")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func loadPool(v *viper.Viper) PoolConfig {
	return PoolConfig{
		Address:        v.GetString("pool"),
		AssetA:         v.GetString("asset-a"),
		AssetB:         v.GetString("asset-b"),
		FeeNumerator:   v.GetUint64("fee-numerator"),
		FeeDenominator: v.GetUint64("fee-denominator"),
		PriceScale:     v.GetString("price-scale"),
	}
}

func parseAddress(key, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, fmt.Errorf("%s is required", key)
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", key, input)
	}
	return common.HexToAddress(input), nil
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

// parseStringMap reads "k1=v1,k2=v2" and drops malformed pairs.
func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	for _, pair := range strings.Split(input, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
