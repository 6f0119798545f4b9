// Package journal replays an operation journal against a pool and records
// the resulting event logs.
package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"cpamm/internal/amm"
	"cpamm/internal/dex"
	"cpamm/internal/ledger"
	"cpamm/internal/metrics"
	"cpamm/internal/model"
	"cpamm/internal/storage"
)

// RunConfig holds runtime settings for a journal replay.
type RunConfig struct {
	InputPath         string
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	Retry             RetryPolicy
}

// Result summarizes a replay.
type Result struct {
	AppliedOps uint64
	Applied    int
	Rejected   int
	Events     int
	Pool       amm.State
	Ledger     ledger.State
}

// Runner replays journal operations and writes encoded events to storage.
type Runner struct {
	cfg        RunConfig
	poolCfg    amm.Config
	storage    storage.Storage
	errors     storage.ErrorSink
	metrics    *metrics.Metrics
	logger     *zap.Logger
	checkpoint *CheckpointStore
	now        func() time.Time
}

// NewRunner builds a Runner with its dependencies. errSink and m may be nil.
func NewRunner(cfg RunConfig, poolCfg amm.Config, sink storage.Storage, errSink storage.ErrorSink, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		poolCfg:    poolCfg,
		storage:    sink,
		errors:     errSink,
		metrics:    m,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		now:        time.Now,
	}
}

// books is the mutable state of one replay.
type books struct {
	ledger *ledger.Memory
	pool   *amm.Pool
	events *amm.EventLog
}

// Run executes the replay loop.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.storage == nil {
		return Result{}, fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize == 0 {
		return Result{}, fmt.Errorf("batch size must be greater than zero")
	}
	ops, err := ReadOperations(r.cfg.InputPath)
	if err != nil {
		return Result{}, err
	}

	b, from, err := r.restore()
	if err != nil {
		return Result{}, err
	}
	result := Result{AppliedOps: from}

	encoder, err := dex.NewEncoder(r.poolCfg.Address)
	if err != nil {
		return Result{}, err
	}
	pool := r.poolCfg.Address.Hex()

	if from >= uint64(len(ops)) {
		r.logger.Info("nothing to apply", zap.Uint64("applied_ops", from), zap.Int("journal_ops", len(ops)))
		result.Pool, result.Ledger = b.pool.Snapshot(), b.ledger.Snapshot()
		return result, nil
	}

	ranges, err := SplitRange(from, uint64(len(ops))-1, r.cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}

	for _, batch := range ranges {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		ingestedAt := r.now().UTC()
		var (
			records  []model.LogRecord
			rejected []model.OperationError
		)
		for i := batch.From; i <= batch.To; i++ {
			op := ops[i]
			if op.Op == "" && op.Actor == "" {
				continue
			}

			if err := r.apply(ctx, b, op); err != nil {
				if fatal(err) {
					return result, fmt.Errorf("apply op %d: %w", i, err)
				}
				code := ErrorCode(err)
				r.logger.Warn("operation rejected",
					zap.Uint64("op_index", i),
					zap.String("op", op.Op),
					zap.String("code", code),
					zap.Error(err),
				)
				r.metrics.ObserveOperation(op.Op, code)
				rejected = append(rejected, model.OperationError{
					OpIndex: i,
					Op:      op.Op,
					Actor:   op.Actor,
					Code:    code,
					Error:   err.Error(),
				})
			} else {
				r.metrics.ObserveOperation(op.Op, "")
				result.Applied++
			}

			// A rejected removal whose payout could not be reversed still
			// commits and emits.
			ts := op.Timestamp
			if ts == 0 {
				ts = uint64(ingestedAt.Unix())
			}
			for _, ev := range b.events.Drain() {
				record, err := encoder.Encode(ev, i, ts, ingestedAt)
				if err != nil {
					return result, fmt.Errorf("encode op %d: %w", i, err)
				}
				r.metrics.ObserveEvent(pool, ev)
				records = append(records, record)
			}
		}

		if err := r.cfg.Retry.do(ctx, func(ctx context.Context) error {
			return r.storage.PutLogBatch(ctx, records)
		}); err != nil {
			return result, fmt.Errorf("store logs: %w", err)
		}
		if r.errors != nil && len(rejected) > 0 {
			if err := r.cfg.Retry.do(ctx, func(ctx context.Context) error {
				return r.errors.PutOperationErrors(ctx, rejected)
			}); err != nil {
				return result, fmt.Errorf("store rejected ops: %w", err)
			}
		}

		result.AppliedOps = batch.To + 1
		result.Rejected += len(rejected)
		result.Events += len(records)
		result.Pool, result.Ledger = b.pool.Snapshot(), b.ledger.Snapshot()

		if err := r.checkpoint.Save(Checkpoint{
			Pool:       pool,
			AppliedOps: result.AppliedOps,
			PoolState:  PoolStateToModel(pool, result.Pool),
			Ledger:     LedgerStateToModel(result.Ledger),
		}); err != nil {
			return result, err
		}
		r.metrics.ObservePool(pool, result.Pool, result.AppliedOps)

		r.logger.Info("batch complete",
			zap.Uint64("from", batch.From),
			zap.Uint64("to", batch.To),
			zap.Int("events", len(records)),
			zap.Int("rejected", len(rejected)),
			zap.String("reserve_a", result.Pool.ReserveA.Dec()),
			zap.String("reserve_b", result.Pool.ReserveB.Dec()),
		)
	}

	return result, nil
}

// restore resumes from the checkpoint when one exists, otherwise starts from
// empty books. It returns the number of operations already consumed.
func (r *Runner) restore() (books, uint64, error) {
	events := amm.NewEventLog()

	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return books{}, 0, err
	}
	if !ok {
		l := ledger.NewMemory()
		pool, err := amm.New(r.poolCfg, l, events)
		if err != nil {
			return books{}, 0, err
		}
		return books{ledger: l, pool: pool, events: events}, 0, nil
	}

	pool, l, err := restoreBooks(cp, r.poolCfg, events)
	if err != nil {
		return books{}, 0, err
	}

	r.logger.Info("resume from checkpoint",
		zap.Uint64("applied_ops", cp.AppliedOps),
		zap.Uint64("seq", cp.PoolState.Seq),
	)
	return books{ledger: l, pool: pool, events: events}, cp.AppliedOps, nil
}

func (r *Runner) apply(ctx context.Context, b books, op model.Operation) error {
	actor, err := ParseAddress("actor", op.Actor)
	if err != nil {
		return err
	}

	switch op.Op {
	case model.OpMint:
		asset, err := r.resolveAsset(op.Asset)
		if err != nil {
			return err
		}
		amount, err := ParseAmount("amount", op.Amount)
		if err != nil {
			return err
		}
		return b.ledger.Mint(asset, actor, amount)

	case model.OpApprove:
		asset, err := r.resolveAsset(op.Asset)
		if err != nil {
			return err
		}
		spender := r.poolCfg.Address
		if op.Spender != "" {
			if spender, err = ParseAddress("spender", op.Spender); err != nil {
				return err
			}
		}
		amount, err := ParseAmount("amount", op.Amount)
		if err != nil {
			return err
		}
		return b.ledger.Approve(asset, actor, spender, amount)

	case model.OpAddLiquidity:
		amountA, err := ParseAmount("amount_a", op.AmountA)
		if err != nil {
			return err
		}
		amountB, err := ParseAmount("amount_b", op.AmountB)
		if err != nil {
			return err
		}
		_, err = b.pool.AddLiquidity(ctx, actor, amountA, amountB)
		return err

	case model.OpRemoveLiquidity:
		shares, err := ParseAmount("amount", op.Amount)
		if err != nil {
			return err
		}
		_, _, err = b.pool.RemoveLiquidity(ctx, actor, shares)
		return err

	case model.OpSwapAForB, model.OpSwapBForA:
		amountIn, err := ParseAmount("amount", op.Amount)
		if err != nil {
			return err
		}
		if op.Op == model.OpSwapAForB {
			_, err = b.pool.SwapAForB(ctx, actor, amountIn)
		} else {
			_, err = b.pool.SwapBForA(ctx, actor, amountIn)
		}
		return err

	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidOperation, op.Op)
	}
}

// resolveAsset accepts "A", "B" or a hex asset address.
func (r *Runner) resolveAsset(input string) (common.Address, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "A":
		return r.poolCfg.AssetA, nil
	case "B":
		return r.poolCfg.AssetB, nil
	}
	return ParseAddress("asset", input)
}
