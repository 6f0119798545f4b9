package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// AggregateConfig holds configuration for aggregation.
type AggregateConfig struct {
	Pool      PoolConfig
	RPCURL    string
	Input     string
	Window    string
	PGDSN     string
	BatchSize int
	StateFile string
	Recompute bool
	// Decimals maps lower-case asset addresses to token decimals.
	Decimals map[string]uint8
	LogLevel string
}

// LoadAggregate merges config file, environment variables, and flags into AggregateConfig.
func LoadAggregate(cfgFile string, flags *pflag.FlagSet) (AggregateConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"in":         "./data/typed_events.jsonl",
		"batch-size": 1000,
		"window":     "5m",
	})
	if err != nil {
		return AggregateConfig{}, err
	}

	decimals, err := parseDecimals(getStringMap(v, "decimals"))
	if err != nil {
		return AggregateConfig{}, err
	}

	return AggregateConfig{
		Pool:      loadPool(v),
		RPCURL:    v.GetString("rpc"),
		Input:     v.GetString("in"),
		Window:    v.GetString("window"),
		PGDSN:     v.GetString("pg-dsn"),
		BatchSize: v.GetInt("batch-size"),
		StateFile: v.GetString("state-file"),
		Recompute: v.GetBool("recompute"),
		Decimals:  decimals,
		LogLevel:  v.GetString("log-level"),
	}, nil
}

func parseDecimals(raw map[string]string) (map[string]uint8, error) {
	out := make(map[string]uint8, len(raw))
	for asset, value := range raw {
		d, err := strconv.ParseUint(strings.TrimSpace(value), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid decimals for %s: %w", asset, err)
		}
		out[strings.ToLower(strings.TrimSpace(asset))] = uint8(d)
	}
	return out, nil
}
