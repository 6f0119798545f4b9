package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"cpamm/internal/config"
	"cpamm/internal/journal"
	"cpamm/internal/metrics"
	"cpamm/internal/model"
	"cpamm/internal/storage"
	"cpamm/internal/storage/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cpamm",
		Short:        "Constant-product pool journal tools",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Replay an operation journal against the pool",
		RunE:  runJournal,
	}

	addPoolFlags(runCmd)
	runCmd.Flags().String("in", "./data/ops.jsonl", "operation journal JSONL")
	runCmd.Flags().String("out", "./data/logs.jsonl", "output event logs JSONL")
	runCmd.Flags().String("errors", "./data/rejected_ops.jsonl", "rejected operations JSONL")
	runCmd.Flags().Uint64("batch-size", 500, "operations per batch")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Int("max-retries", 5, "maximum storage retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for event logs and pool snapshots")
	runCmd.Flags().String("metrics-addr", "", "optional Prometheus listen address (e.g. :9100)")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode event logs into typed events",
		RunE:  runDecode,
	}

	addPoolFlags(decodeCmd)
	decodeCmd.Flags().String("rpc", "", "optional RPC URL for pool metadata of unknown pools")
	decodeCmd.Flags().String("in", "", "input event logs JSONL")
	decodeCmd.Flags().String("out", "./data/typed_events.jsonl", "output typed events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	decodeCmd.Flags().Bool("include-live-meta", false, "look up pool metadata over RPC for pools other than the configured one")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate typed events into window metrics",
		RunE:  runAggregate,
	}

	addPoolFlags(aggregateCmd)
	aggregateCmd.Flags().String("rpc", "", "optional RPC URL for token decimals")
	aggregateCmd.Flags().String("in", "", "input typed events JSONL")
	aggregateCmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	aggregateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	aggregateCmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	aggregateCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	aggregateCmd.Flags().Bool("recompute", false, "ignore saved progress and rebuild every window")
	aggregateCmd.Flags().String("decimals", "", "token decimals (comma-separated address=decimals)")
	aggregateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(aggregateCmd)

	balancesCmd := &cobra.Command{
		Use:   "balances",
		Short: "Compare checkpointed pool state with a deployed pool contract",
		RunE:  runBalances,
	}

	addPoolFlags(balancesCmd)
	balancesCmd.Flags().String("rpc", "", "RPC URL")
	balancesCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	balancesCmd.Flags().Uint64("block", 0, "block to read, 0 means latest")
	balancesCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(balancesCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap against checkpointed reserves",
		RunE:  runQuote,
	}

	addPoolFlags(quoteCmd)
	quoteCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	quoteCmd.Flags().String("asset-in", "A", "input asset (A or B)")
	quoteCmd.Flags().String("amount", "", "input amount")
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(quoteCmd)

	return root
}

func addPoolFlags(cmd *cobra.Command) {
	cmd.Flags().String("pool", "", "pool address")
	cmd.Flags().String("asset-a", "", "asset A token address")
	cmd.Flags().String("asset-b", "", "asset B token address")
	cmd.Flags().Uint64("fee-numerator", 997, "share of swap input kept for the trade")
	cmd.Flags().Uint64("fee-denominator", 1000, "fee denominator")
	cmd.Flags().String("price-scale", "1", "fixed-point scale applied to reserve B in prices")
}

func runJournal(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRun(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	poolCfg, err := cfg.Pool.AMM()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jsonl := storage.NewJsonlStorage(cfg.Out)
	sinks := storage.Multi{jsonl}

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := store.UpsertPools(ctx, []model.Pool{{
			Address:        poolCfg.Address.Hex(),
			AssetA:         poolCfg.AssetA.Hex(),
			AssetB:         poolCfg.AssetB.Hex(),
			FeeNumerator:   poolCfg.Fee.Numerator,
			FeeDenominator: poolCfg.Fee.Denominator,
			PriceScale:     cfg.Pool.PriceScale,
		}}); err != nil {
			return err
		}
		sinks = append(sinks, store)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	server := metrics.NewServer(cfg.MetricsAddr, registry)

	runner := journal.NewRunner(journal.RunConfig{
		InputPath:         cfg.In,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		Retry: journal.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
		},
	}, poolCfg, sinks, storage.NewJsonlStorage(cfg.Errors), m, logger)

	logger.Info("journal start",
		zap.String("pool", poolCfg.Address.Hex()),
		zap.String("fee", poolCfg.Fee.String()),
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.Bool("postgres", store != nil),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(shutdownCtx)
		}()

		result, err := runner.Run(gctx)
		if err != nil {
			return err
		}
		if store != nil {
			state := journal.PoolStateToModel(poolCfg.Address.Hex(), result.Pool)
			if err := store.SavePoolState(gctx, state); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
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
