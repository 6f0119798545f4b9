package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cpamm/internal/aggregate"
	"cpamm/internal/amm"
	"cpamm/internal/chain"
	"cpamm/internal/config"
	"cpamm/internal/dex"
	"cpamm/internal/storage/postgres"
)

func runAggregate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAggregate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}

	windowDuration, err := time.ParseDuration(cfg.Window)
	if err != nil {
		return fmt.Errorf("invalid window: %w", err)
	}
	if windowDuration <= 0 {
		return fmt.Errorf("window must be positive")
	}
	windowSeconds := uint64(windowDuration.Seconds())
	if windowSeconds == 0 {
		return fmt.Errorf("window must be at least 1s")
	}

	fee := amm.Fee{Numerator: cfg.Pool.FeeNumerator, Denominator: cfg.Pool.FeeDenominator}
	if err := fee.Validate(); err != nil {
		return err
	}
	priceScale, ok := new(big.Int).SetString(cfg.Pool.PriceScale, 10)
	if !ok || priceScale.Sign() <= 0 {
		return fmt.Errorf("invalid price-scale %q", cfg.Pool.PriceScale)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A nil interface, not a typed nil client, disables RPC lookups.
	var caller dex.ContractCaller
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		caller = chainClient
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	var stateStore aggregate.StateStore
	if cfg.StateFile != "" {
		stateStore = &aggregate.FileStateStore{Path: cfg.StateFile}
	} else {
		dbState := &aggregate.DBStateStore{Store: store, Name: fmt.Sprintf("aggregator:%d", windowSeconds)}
		if cfg.Pool.Address != "" {
			dbState.Pools = []string{cfg.Pool.Address}
		} else {
			logger.Warn("no pool configured, database progress will not be restored")
		}
		stateStore = dbState
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: windowSeconds,
		BatchSize:     cfg.BatchSize,
		Fee:           fee,
		PriceScale:    priceScale,
		Decimals:      cfg.Decimals,
		Recompute:     cfg.Recompute,
		StateStore:    stateStore,
	}, store, caller, logger)

	logger.Info("aggregate start",
		zap.String("input", cfg.Input),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_seconds", windowSeconds),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Bool("recompute", cfg.Recompute),
		zap.Bool("rpc", caller != nil),
	)

	return agg.Run(ctx, cfg.Input)
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
