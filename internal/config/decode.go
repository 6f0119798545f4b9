package config

import (
	"github.com/spf13/pflag"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	Pool            PoolConfig
	RPCURL          string
	In              string
	Out             string
	Errors          string
	LogLevel        string
	Topic0Map       map[string]string
	IncludeLiveMeta bool
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"in":                "./data/logs.jsonl",
		"out":               "./data/typed_events.jsonl",
		"errors":            "./data/decode_errors.jsonl",
		"include-live-meta": false,
	})
	if err != nil {
		return DecodeConfig{}, err
	}

	return DecodeConfig{
		Pool:            loadPool(v),
		RPCURL:          v.GetString("rpc"),
		In:              v.GetString("in"),
		Out:             v.GetString("out"),
		Errors:          v.GetString("errors"),
		LogLevel:        v.GetString("log-level"),
		Topic0Map:       getStringMap(v, "topic0-map"),
		IncludeLiveMeta: v.GetBool("include-live-meta"),
	}, nil
}
