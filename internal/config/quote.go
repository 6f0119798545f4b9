package config

import (
	"github.com/spf13/pflag"
)

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	Pool       PoolConfig
	Checkpoint string
	AssetIn    string
	Amount     string
	LogLevel   string
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"checkpoint": "./data/checkpoint.json",
		"asset-in":   "A",
	})
	if err != nil {
		return QuoteConfig{}, err
	}

	return QuoteConfig{
		Pool:       loadPool(v),
		Checkpoint: v.GetString("checkpoint"),
		AssetIn:    v.GetString("asset-in"),
		Amount:     v.GetString("amount"),
		LogLevel:   v.GetString("log-level"),
	}, nil
}
