package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cpamm/internal/amm"
	"cpamm/internal/config"
	"cpamm/internal/journal"
)

type quoteResult struct {
	Pool      string `json:"pool"`
	AssetIn   string `json:"asset_in"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	Fee       string `json:"fee"`
	Price     string `json:"price"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var in amm.AssetKind
	switch strings.ToUpper(strings.TrimSpace(cfg.AssetIn)) {
	case "A":
		in = amm.AssetA
	case "B":
		in = amm.AssetB
	default:
		return fmt.Errorf("asset-in must be A or B, got %q", cfg.AssetIn)
	}
	amountIn, err := journal.ParseAmount("amount", cfg.Amount)
	if err != nil {
		return err
	}

	poolCfg, err := cfg.Pool.AMM()
	if err != nil {
		return err
	}
	pool, _, cp, err := journal.RestorePool(cfg.Checkpoint, poolCfg)
	if err != nil {
		return err
	}

	out, err := pool.Quote(in, amountIn)
	if err != nil {
		return fmt.Errorf("quote %s %s: %w", in, amountIn.Dec(), err)
	}

	result := quoteResult{
		Pool:      poolCfg.Address.Hex(),
		AssetIn:   in.String(),
		AmountIn:  amountIn.Dec(),
		AmountOut: out.Dec(),
		Fee:       pool.Config().Fee.String(),
		Price:     pool.Price().Dec(),
	}

	logger.Debug("quote computed", zap.Uint64("applied_ops", cp.AppliedOps))

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return err
}
