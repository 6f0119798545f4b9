package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cpamm/internal/chain"
	"cpamm/internal/config"
	"cpamm/internal/dex"
	"cpamm/internal/model"
	"cpamm/internal/storage"
)

const decodeFlushSize = 1000

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
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
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}
	if cfg.IncludeLiveMeta && cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required with include-live-meta")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metaCache := dex.NewPoolMetaCache()
	if cfg.Pool.Address != "" {
		poolCfg, err := cfg.Pool.AMM()
		if err != nil {
			return err
		}
		metaCache.Set(poolCfg.Address, model.PoolMeta{
			AssetA:         poolCfg.AssetA.Hex(),
			AssetB:         poolCfg.AssetB.Hex(),
			FeeNumerator:   poolCfg.Fee.Numerator,
			FeeDenominator: poolCfg.Fee.Denominator,
		})
	}

	var chainClient *chain.Client
	if cfg.IncludeLiveMeta {
		chainClient, err = chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
	}

	poolDecoder, err := dex.NewPoolDecoder(dex.DecoderConfig{Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}
	var decoder dex.Decoder = poolDecoder

	decodeCtx := dex.DecodeContext{
		PoolMetaCache: metaCache,
		Logger:        logger,
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	output, err := newDecodeOutput(cfg.Out, cfg.Errors)
	if err != nil {
		return err
	}

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Bool("include_live_meta", cfg.IncludeLiveMeta),
	)

	scanner := bufio.NewScanner(inputFile)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var total, decoded, skipped, failed int
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			if err := output.addError(model.DecodeError{Error: err.Error()}); err != nil {
				return err
			}
			continue
		}
		if len(record.Topics) == 0 {
			failed++
			if err := output.addError(decodeErrorFromRecord(record, fmt.Errorf("missing topic0"))); err != nil {
				return err
			}
			continue
		}

		if !decoder.CanDecode(record.Topics[0]) {
			skipped++
			continue
		}

		if chainClient != nil {
			loadLiveMeta(ctx, chainClient, metaCache, record.Address, cfg.Pool, logger)
		}

		event, err := decoder.Decode(record, decodeCtx)
		if err != nil {
			failed++
			if err := output.addError(decodeErrorFromRecord(record, err)); err != nil {
				return err
			}
			continue
		}

		if err := output.addEvent(event); err != nil {
			return err
		}
		decoded++
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	if err := output.flush(); err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", total),
		zap.Int("decoded", decoded),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

// loadLiveMeta reads tokenA/tokenB of a pool missing from the cache. The fee
// is not exposed by the contract, so the configured one is attached.
func loadLiveMeta(ctx context.Context, caller dex.ContractCaller, cache *dex.PoolMetaCache, address string, pool config.PoolConfig, logger *zap.Logger) {
	if !common.IsHexAddress(address) {
		return
	}
	addr := common.HexToAddress(address)
	if _, ok := cache.Get(addr); ok {
		return
	}
	assetA, assetB, err := dex.FetchPoolAssets(ctx, caller, addr)
	if err != nil {
		logger.Warn("pool meta lookup failed", zap.String("pool", address), zap.Error(err))
		// Cache the miss so the lookup is not repeated for every log.
		cache.Set(addr, model.PoolMeta{})
		return
	}
	cache.Set(addr, model.PoolMeta{
		AssetA:         assetA.Hex(),
		AssetB:         assetB.Hex(),
		FeeNumerator:   pool.FeeNumerator,
		FeeDenominator: pool.FeeDenominator,
	})
}

// decodeOutput buffers decode results and appends them to the output files
// in chunks.
type decodeOutput struct {
	outPath    string
	errorsPath string
	events     []*model.TypedEvent
	errs       []model.DecodeError
}

func newDecodeOutput(outPath, errorsPath string) (*decodeOutput, error) {
	for _, path := range []string{outPath, errorsPath} {
		if err := resetFile(path); err != nil {
			return nil, err
		}
	}
	return &decodeOutput{outPath: outPath, errorsPath: errorsPath}, nil
}

func (o *decodeOutput) addEvent(event *model.TypedEvent) error {
	o.events = append(o.events, event)
	if len(o.events) >= decodeFlushSize {
		return o.flush()
	}
	return nil
}

func (o *decodeOutput) addError(errRecord model.DecodeError) error {
	o.errs = append(o.errs, errRecord)
	if len(o.errs) >= decodeFlushSize {
		return o.flush()
	}
	return nil
}

func (o *decodeOutput) flush() error {
	if err := storage.AppendJSONL(o.outPath, o.events); err != nil {
		return fmt.Errorf("write typed events: %w", err)
	}
	if err := storage.AppendJSONL(o.errorsPath, o.errs); err != nil {
		return fmt.Errorf("write decode errors: %w", err)
	}
	o.events = o.events[:0]
	o.errs = o.errs[:0]
	return nil
}

// resetFile truncates path, creating parent directories as needed.
func resetFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	return file.Close()
}

func decodeErrorFromRecord(record model.LogRecord, err error) model.DecodeError {
	topic0 := ""
	if len(record.Topics) > 0 {
		topic0 = record.Topics[0]
	}

	return model.DecodeError{
		Address: record.Address,
		Seq:     record.Seq,
		OpIndex: record.OpIndex,
		Topic0:  topic0,
		Error:   err.Error(),
	}
}
