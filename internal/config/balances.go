package config

import (
	"github.com/spf13/pflag"
)

// BalancesConfig holds configuration for the balances command.
type BalancesConfig struct {
	Pool       PoolConfig
	RPCURL     string
	Checkpoint string
	Block      uint64
	LogLevel   string
}

// LoadBalances merges config file, environment variables, and flags into BalancesConfig.
func LoadBalances(cfgFile string, flags *pflag.FlagSet) (BalancesConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"checkpoint": "./data/checkpoint.json",
	})
	if err != nil {
		return BalancesConfig{}, err
	}

	return BalancesConfig{
		Pool:       loadPool(v),
		RPCURL:     v.GetString("rpc"),
		Checkpoint: v.GetString("checkpoint"),
		Block:      v.GetUint64("block"),
		LogLevel:   v.GetString("log-level"),
	}, nil
}
