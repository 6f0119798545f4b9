package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"cpamm/internal/amm"
	"cpamm/internal/dex"
	"cpamm/internal/model"
)

const feeMethodSwapInput = "swap_input_fee"

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	// Fee applies to events whose pool meta carries no fee.
	Fee        amm.Fee
	PriceScale *big.Int
	// Decimals maps lower-case asset addresses to token decimals. Assets not
	// listed are looked up over RPC when a caller is configured.
	Decimals   map[string]uint8
	Recompute  bool
	StateStore StateStore
}

// Sink persists aggregation output. *postgres.Store satisfies it.
type Sink interface {
	UpsertPools(ctx context.Context, pools []model.Pool) error
	UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error
}

// Aggregator aggregates typed events into pool window metrics.
type Aggregator struct {
	cfg          Config
	sink         Sink
	caller       dex.ContractCaller
	logger       *zap.Logger
	tokens       *dex.TokenMetaCache
	accumulators map[string]*Accumulator
	reserves     map[string]*Reserves
	poolSeen     map[string]model.Pool
	cursors      map[string]uint64
	lastSeq      map[string]uint64
}

// NewAggregator builds an Aggregator. caller may be nil when every asset's
// decimals are configured.
func NewAggregator(cfg Config, sink Sink, caller dex.ContractCaller, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Fee == (amm.Fee{}) {
		cfg.Fee = amm.DefaultFee
	}
	if cfg.PriceScale == nil || cfg.PriceScale.Sign() <= 0 {
		cfg.PriceScale = big.NewInt(1)
	}

	tokens := dex.NewTokenMetaCache()
	for asset, d := range cfg.Decimals {
		if common.IsHexAddress(asset) {
			addr := common.HexToAddress(asset)
			tokens.Set(addr, model.TokenMeta{Address: addr.Hex(), Decimals: d})
		}
	}

	return &Aggregator{
		cfg:          cfg,
		sink:         sink,
		caller:       caller,
		logger:       logger,
		tokens:       tokens,
		accumulators: make(map[string]*Accumulator),
		reserves:     make(map[string]*Reserves),
		poolSeen:     make(map[string]model.Pool),
		cursors:      make(map[string]uint64),
		lastSeq:      make(map[string]uint64),
	}
}

// Run executes aggregation over a typed events JSONL file. Reserves are
// rebuilt from every event in the file; only events past the stored cursor
// are counted into windows.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	if a.sink == nil {
		return fmt.Errorf("sink is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	if err := a.loadCursors(ctx); err != nil {
		return err
	}

	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]model.PoolWindowMetrics, 0, a.cfg.BatchSize)
	pools := make([]model.Pool, 0, 16)
	var total, windows, skipped, failed int

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var record model.TypedEventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			a.logger.Warn("decode typed event", zap.Error(err))
			continue
		}

		key := poolKey(record.Address)
		if last, ok := a.lastSeq[key]; ok && record.Seq <= last {
			skipped++
			a.logger.Debug("duplicate event", zap.String("pool", record.Address), zap.Uint64("seq", record.Seq))
			continue
		}

		ev, err := parseEvent(record)
		if err != nil {
			failed++
			a.logger.Warn("aggregate event", zap.Error(err), zap.String("pool", record.Address), zap.String("event", record.EventName))
			continue
		}
		a.lastSeq[key] = record.Seq

		reserves := a.reserves[key]
		if reserves == nil {
			reserves = newReserves()
			a.reserves[key] = reserves
		}

		if record.Seq <= a.cursors[key] {
			if err := reserves.Apply(ev); err != nil {
				return fmt.Errorf("replay %s seq %d: %w", record.Address, record.Seq, err)
			}
			skipped++
			continue
		}

		start := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		acc := a.accumulators[key]
		if acc != nil && acc.WindowStart != start {
			metrics, pool := a.flushAccumulator(ctx, acc, reserves)
			batch = append(batch, metrics)
			windows++
			if pool != nil {
				pools = append(pools, *pool)
			}
			acc = nil
		}
		if acc == nil {
			acc = NewAccumulator(record, a.feeFor(record.PoolMeta), start, start+a.cfg.WindowSeconds)
			a.accumulators[key] = acc
		}

		if err := reserves.Apply(ev); err != nil {
			return fmt.Errorf("replay %s seq %d: %w", record.Address, record.Seq, err)
		}
		acc.AddEvent(ev, record.Seq)

		if len(batch) >= a.cfg.BatchSize {
			if err := a.flushBatches(ctx, batch, pools); err != nil {
				return err
			}
			batch = batch[:0]
			pools = pools[:0]

			if err := a.saveState(ctx); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	for key, acc := range a.accumulators {
		metrics, pool := a.flushAccumulator(ctx, acc, a.reserves[key])
		batch = append(batch, metrics)
		windows++
		if pool != nil {
			pools = append(pools, *pool)
		}
	}

	if err := a.flushBatches(ctx, batch, pools); err != nil {
		return err
	}
	// The last window of each pool may still grow; keep it recomputable.
	if err := a.saveState(ctx); err != nil {
		return err
	}
	a.accumulators = make(map[string]*Accumulator)

	a.logger.Info("aggregate complete",
		zap.Int("total", total),
		zap.Int("windows", windows),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

// Reserves returns the replayed reserves of pool, nil when no event was seen.
func (a *Aggregator) Reserves(pool string) *Reserves {
	return a.reserves[poolKey(pool)]
}

func (a *Aggregator) loadCursors(ctx context.Context) error {
	if a.cfg.Recompute || a.cfg.StateStore == nil {
		return nil
	}
	cursors, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return err
	}
	for pool, seq := range cursors {
		a.cursors[poolKey(pool)] = seq
	}
	return nil
}

// saveState advances each pool's cursor to the last event before its open
// window, so a resumed run recomputes that window from its first event.
func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}
	for key, last := range a.lastSeq {
		safe := last
		if acc := a.accumulators[key]; acc != nil {
			safe = 0
			if acc.FirstSeq > 0 {
				safe = acc.FirstSeq - 1
			}
		}
		if safe > a.cursors[key] {
			a.cursors[key] = safe
		}
	}
	return a.cfg.StateStore.Save(ctx, a.cursors)
}

func (a *Aggregator) flushBatches(ctx context.Context, batch []model.PoolWindowMetrics, pools []model.Pool) error {
	if len(pools) > 0 {
		if err := a.sink.UpsertPools(ctx, pools); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
	}
	if len(batch) > 0 {
		if err := a.sink.UpsertWindowMetrics(ctx, batch); err != nil {
			return fmt.Errorf("upsert window metrics: %w", err)
		}
	}
	return nil
}

func (a *Aggregator) flushAccumulator(ctx context.Context, acc *Accumulator, reserves *Reserves) (model.PoolWindowMetrics, *model.Pool) {
	if reserves == nil {
		reserves = newReserves()
	}
	meta := acc.PoolMeta
	decimalsA := a.tokenDecimals(ctx, meta.AssetA)
	decimalsB := a.tokenDecimals(ctx, meta.AssetB)

	reserveA := formatTokenAmount(reserves.A, decimalsA)
	reserveB := formatTokenAmount(reserves.B, decimalsB)
	feeRateA, feeRateB := computeFeeRates(acc.FeeA, acc.FeeB, reserves.A, reserves.B)

	metrics := model.PoolWindowMetrics{
		PoolAddress:     acc.PoolAddress,
		WindowSizeSecs:  int64(a.cfg.WindowSeconds),
		WindowStart:     time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:       time.Unix(int64(acc.WindowEnd), 0).UTC(),
		SwapCount:       acc.SwapCount,
		LiquidityEvents: acc.LiquidityEvents,
		VolumeA:         formatTokenAmount(acc.VolumeA, decimalsA),
		VolumeB:         formatTokenAmount(acc.VolumeB, decimalsB),
		FeeA:            formatTokenAmount(acc.FeeA, decimalsA),
		FeeB:            formatTokenAmount(acc.FeeB, decimalsB),
		ReserveA:        &reserveA,
		ReserveB:        &reserveB,
		Price:           computePrice(reserves.A, reserves.B, a.cfg.PriceScale),
		FeeRateA:        feeRateA,
		FeeRateB:        feeRateB,
		APR:             computeAPR(feeRateA, feeRateB, a.cfg.WindowSeconds),
		FeeMethod:       feeMethodSwapInput,
	}

	if meta.AssetA == "" || meta.AssetB == "" {
		a.logger.Warn("missing pool meta", zap.String("pool", acc.PoolAddress))
		return metrics, nil
	}
	return metrics, a.registerPool(acc)
}

func (a *Aggregator) registerPool(acc *Accumulator) *model.Pool {
	key := poolKey(acc.PoolAddress)
	pool := model.Pool{
		Address:        acc.PoolAddress,
		AssetA:         acc.PoolMeta.AssetA,
		AssetB:         acc.PoolMeta.AssetB,
		FeeNumerator:   acc.Fee.Numerator,
		FeeDenominator: acc.Fee.Denominator,
		PriceScale:     a.cfg.PriceScale.String(),
		FirstSeenSeq:   acc.FirstSeq,
	}

	if existing, ok := a.poolSeen[key]; ok && existing.FirstSeenSeq <= pool.FirstSeenSeq {
		return nil
	}
	a.poolSeen[key] = pool
	return &pool
}

func (a *Aggregator) feeFor(meta model.PoolMeta) amm.Fee {
	fee := amm.Fee{Numerator: meta.FeeNumerator, Denominator: meta.FeeDenominator}
	if fee.Validate() != nil {
		return a.cfg.Fee
	}
	return fee
}

// tokenDecimals returns 0 for unknown tokens so amounts stay in base units.
func (a *Aggregator) tokenDecimals(ctx context.Context, token string) uint8 {
	if !common.IsHexAddress(token) {
		return 0
	}
	addr := common.HexToAddress(token)
	if meta, ok := a.tokens.Get(addr); ok {
		return meta.Decimals
	}

	meta := model.TokenMeta{Address: addr.Hex()}
	if a.caller == nil {
		a.logger.Warn("token decimals not configured, using base units", zap.String("token", token))
	} else if fetched, err := dex.FetchTokenMeta(ctx, a.caller, addr, a.logger); err != nil {
		a.logger.Warn("token decimals unavailable, using base units", zap.String("token", token), zap.Error(err))
	} else {
		meta = fetched
		a.logger.Debug("token meta loaded",
			zap.String("token", meta.Address),
			zap.String("symbol", meta.Symbol),
			zap.Uint8("decimals", meta.Decimals),
		)
	}
	a.tokens.Set(addr, meta)
	return meta.Decimals
}
