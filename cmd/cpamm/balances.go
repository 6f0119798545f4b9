package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cpamm/internal/chain"
	"cpamm/internal/config"
	"cpamm/internal/journal"
)

func runBalances(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadBalances(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	poolCfg, err := cfg.Pool.AMM()
	if err != nil {
		return err
	}

	pool, _, cp, err := journal.RestorePool(cfg.Checkpoint, poolCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	var block *big.Int
	if cfg.Block > 0 {
		block = new(big.Int).SetUint64(cfg.Block)
	}

	view, err := chain.FetchPoolView(ctx, chainClient, poolCfg.Address, poolCfg.AssetA, poolCfg.AssetB, block)
	if err != nil {
		return err
	}

	st := pool.Snapshot()
	mismatches := chain.Reconcile(view, st)
	for _, m := range mismatches {
		logger.Warn("balance mismatch",
			zap.String("field", m.Field),
			zap.String("expected", m.Expected),
			zap.String("actual", m.Actual),
		)
	}

	logger.Info("balances checked",
		zap.String("pool", poolCfg.Address.Hex()),
		zap.Uint64("applied_ops", cp.AppliedOps),
		zap.Uint64("block", cfg.Block),
		zap.String("reserve_a", st.ReserveA.Dec()),
		zap.String("reserve_b", st.ReserveB.Dec()),
		zap.String("total_shares", st.TotalShares.Dec()),
		zap.Int("mismatches", len(mismatches)),
	)

	if len(mismatches) > 0 {
		return fmt.Errorf("pool %s: %d mismatches against chain", poolCfg.Address.Hex(), len(mismatches))
	}
	return nil
}
