package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"cpamm/internal/amm"
)

const (
	poolAddr   = "0x9999999999999999999999999999999999999999"
	assetAAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	assetBAddr = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestLoadRunDefaults(t *testing.T) {
	cfg, err := LoadRun("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 500 || cfg.MaxRetries != 5 || cfg.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.CheckpointEnabled || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Pool.FeeNumerator != 997 || cfg.Pool.FeeDenominator != 1000 || cfg.Pool.PriceScale != "1" {
		t.Fatalf("unexpected pool defaults: %+v", cfg.Pool)
	}
}

func TestLoadRunPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cpamm.yaml")
	content := "pool: \"" + poolAddr + "\"\nasset-a: \"" + assetAAddr + "\"\nbatch-size: 10\nmax-retries: 1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CPAMM_BATCH_SIZE", "20")
	t.Setenv("CPAMM_ASSET_B", assetBAddr)

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.Int("max-retries", 0, "")
	flags.String("out", "", "")
	if err := flags.Parse([]string{"--max-retries=9"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadRun(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 20 {
		t.Fatalf("env should override file, got %d", cfg.BatchSize)
	}
	if cfg.MaxRetries != 9 {
		t.Fatalf("flag should override file, got %d", cfg.MaxRetries)
	}
	if cfg.Out != "./data/logs.jsonl" {
		t.Fatalf("unset flag should keep default, got %q", cfg.Out)
	}
	if cfg.Pool.Address != poolAddr || cfg.Pool.AssetB != assetBAddr {
		t.Fatalf("pool mismatch: %+v", cfg.Pool)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := LoadRun(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for explicit missing config")
	}
}

func TestPoolConfigAMM(t *testing.T) {
	pool := PoolConfig{
		Address:        poolAddr,
		AssetA:         assetAAddr,
		AssetB:         assetBAddr,
		FeeNumerator:   997,
		FeeDenominator: 1000,
		PriceScale:     "1000000",
	}
	cfg, err := pool.AMM()
	if err != nil {
		t.Fatalf("amm config: %v", err)
	}
	if cfg.PriceScale.Uint64() != 1_000_000 || cfg.Fee != amm.DefaultFee {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	cases := map[string]PoolConfig{
		"missing pool": {AssetA: assetAAddr, AssetB: assetBAddr, FeeNumerator: 1, FeeDenominator: 1},
		"bad asset":    {Address: poolAddr, AssetA: "0x12", AssetB: assetBAddr, FeeNumerator: 1, FeeDenominator: 1},
		"bad scale":    {Address: poolAddr, AssetA: assetAAddr, AssetB: assetBAddr, FeeNumerator: 1, FeeDenominator: 1, PriceScale: "x"},
	}
	for name, pc := range cases {
		if _, err := pc.AMM(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	same := pool
	same.AssetB = assetAAddr
	if _, err := same.AMM(); !errors.Is(err, amm.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	zeroScale := pool
	zeroScale.PriceScale = "0"
	if _, err := zeroScale.AMM(); !errors.Is(err, amm.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestLoadAggregateDecimals(t *testing.T) {
	t.Setenv("CPAMM_DECIMALS", assetAAddr+"=18, "+assetBAddr+"=6")
	cfg, err := LoadAggregate("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Decimals[assetAAddr] != 18 || cfg.Decimals[assetBAddr] != 6 {
		t.Fatalf("decimals mismatch: %+v", cfg.Decimals)
	}
	if cfg.Window != "5m" || cfg.BatchSize != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	t.Setenv("CPAMM_DECIMALS", assetAAddr+"=300")
	if _, err := LoadAggregate("", nil); err == nil {
		t.Fatalf("expected decimals overflow error")
	}
}

func TestParseStringMap(t *testing.T) {
	got := parseStringMap("a=1, b = 2,broken,=3,c=")
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("unexpected map: %+v", got)
	}
}

func TestLoadQuoteAndDecode(t *testing.T) {
	t.Setenv("CPAMM_TOPIC0_MAP", "0x01=swap")
	dec, err := LoadDecode("", nil)
	if err != nil {
		t.Fatalf("load decode: %v", err)
	}
	if dec.Topic0Map["0x01"] != "swap" || dec.Out != "./data/typed_events.jsonl" {
		t.Fatalf("decode mismatch: %+v", dec)
	}

	t.Setenv("CPAMM_AMOUNT", "42")
	q, err := LoadQuote("", nil)
	if err != nil {
		t.Fatalf("load quote: %v", err)
	}
	if q.AssetIn != "A" || q.Amount != "42" || q.Checkpoint != "./data/checkpoint.json" {
		t.Fatalf("quote mismatch: %+v", q)
	}
}
