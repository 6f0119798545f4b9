package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cpamm/internal/model"
)

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_address     TEXT PRIMARY KEY,
	asset_a          TEXT NOT NULL,
	asset_b          TEXT NOT NULL,
	fee_numerator    BIGINT NOT NULL,
	fee_denominator  BIGINT NOT NULL,
	price_scale      NUMERIC(78, 0) NOT NULL,
	first_seen_seq   BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pool_events (
	pool_address  TEXT NOT NULL,
	seq           BIGINT NOT NULL,
	op_index      BIGINT NOT NULL,
	topic0        TEXT NOT NULL,
	topics        TEXT[] NOT NULL,
	data          TEXT NOT NULL,
	ts            BIGINT NOT NULL,
	ingested_at   TEXT NOT NULL,
	PRIMARY KEY (pool_address, seq)
);

CREATE TABLE IF NOT EXISTS pool_snapshots (
	pool_address  TEXT PRIMARY KEY,
	seq           BIGINT NOT NULL,
	reserve_a     NUMERIC(78, 0) NOT NULL,
	reserve_b     NUMERIC(78, 0) NOT NULL,
	total_shares  NUMERIC(78, 0) NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pool_window_metrics (
	pool_address         TEXT NOT NULL,
	window_size_seconds  BIGINT NOT NULL,
	window_start_ts      TIMESTAMPTZ NOT NULL,
	window_end_ts        TIMESTAMPTZ NOT NULL,
	swap_count           BIGINT NOT NULL,
	liquidity_events     BIGINT NOT NULL,
	volume_a             NUMERIC NOT NULL,
	volume_b             NUMERIC NOT NULL,
	fee_a                NUMERIC NOT NULL,
	fee_b                NUMERIC NOT NULL,
	reserve_a            NUMERIC,
	reserve_b            NUMERIC,
	price                NUMERIC,
	fee_rate_a           NUMERIC,
	fee_rate_b           NUMERIC,
	apr                  NUMERIC,
	fee_method           TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_address, window_size_seconds, window_start_ts)
);

CREATE TABLE IF NOT EXISTS aggregate_state (
	name        TEXT PRIMARY KEY,
	last_seq    BIGINT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for pool events, snapshots and metrics.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutLogBatch stores encoded pool events. Replayed sequence numbers are ignored.
func (s *Store) PutLogBatch(ctx context.Context, logs []model.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, log := range logs {
		topic0 := ""
		if len(log.Topics) > 0 {
			topic0 = log.Topics[0]
		}
		batch.Queue(`
			INSERT INTO pool_events (pool_address, seq, op_index, topic0, topics, data, ts, ingested_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (pool_address, seq) DO NOTHING
		`,
			log.Address,
			int64(log.Seq),
			int64(log.OpIndex),
			topic0,
			log.Topics,
			log.Data,
			int64(log.Timestamp),
			log.IngestedAt,
		)
	}
	return s.sendBatch(ctx, batch, len(logs))
}

// UpsertPools inserts or updates pool registrations.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_address, asset_a, asset_b, fee_numerator, fee_denominator, price_scale, first_seen_seq, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, now(), now())
			ON CONFLICT (pool_address)
			DO UPDATE SET
				asset_a = EXCLUDED.asset_a,
				asset_b = EXCLUDED.asset_b,
				fee_numerator = EXCLUDED.fee_numerator,
				fee_denominator = EXCLUDED.fee_denominator,
				price_scale = EXCLUDED.price_scale,
				first_seen_seq = LEAST(pools.first_seen_seq, EXCLUDED.first_seen_seq),
				updated_at = now()
		`,
			pool.Address,
			pool.AssetA,
			pool.AssetB,
			int64(pool.FeeNumerator),
			int64(pool.FeeDenominator),
			pool.PriceScale,
			int64(pool.FirstSeenSeq),
		)
	}
	return s.sendBatch(ctx, batch, len(pools))
}

// SavePoolState upserts the latest reserves of a pool.
func (s *Store) SavePoolState(ctx context.Context, state model.PoolState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pool_snapshots (pool_address, seq, reserve_a, reserve_b, total_shares, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, now())
		ON CONFLICT (pool_address) DO UPDATE SET
			seq = EXCLUDED.seq,
			reserve_a = EXCLUDED.reserve_a,
			reserve_b = EXCLUDED.reserve_b,
			total_shares = EXCLUDED.total_shares,
			updated_at = now()
		WHERE pool_snapshots.seq <= EXCLUDED.seq
	`, state.Address, int64(state.Seq), state.ReserveA, state.ReserveB, state.TotalShares)
	if err != nil {
		return fmt.Errorf("save pool state: %w", err)
	}
	return nil
}

// UpsertWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO pool_window_metrics (
				pool_address, window_size_seconds, window_start_ts, window_end_ts,
				swap_count, liquidity_events, volume_a, volume_b, fee_a, fee_b,
				reserve_a, reserve_b, price, fee_rate_a, fee_rate_b, apr, fee_method, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8::numeric,$9::numeric,$10::numeric,
				$11::numeric,$12::numeric,$13::numeric,$14::numeric,$15::numeric,$16::numeric,$17,now(),now())
			ON CONFLICT (pool_address, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				swap_count = EXCLUDED.swap_count,
				liquidity_events = EXCLUDED.liquidity_events,
				volume_a = EXCLUDED.volume_a,
				volume_b = EXCLUDED.volume_b,
				fee_a = EXCLUDED.fee_a,
				fee_b = EXCLUDED.fee_b,
				reserve_a = EXCLUDED.reserve_a,
				reserve_b = EXCLUDED.reserve_b,
				price = EXCLUDED.price,
				fee_rate_a = EXCLUDED.fee_rate_a,
				fee_rate_b = EXCLUDED.fee_rate_b,
				apr = EXCLUDED.apr,
				fee_method = EXCLUDED.fee_method,
				updated_at = now()
		`,
			m.PoolAddress,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.SwapCount),
			int64(m.LiquidityEvents),
			m.VolumeA,
			m.VolumeB,
			m.FeeA,
			m.FeeB,
			m.ReserveA,
			m.ReserveB,
			m.Price,
			m.FeeRateA,
			m.FeeRateB,
			m.APR,
			m.FeeMethod,
		)
	}
	return s.sendBatch(ctx, batch, len(metrics))
}

// LoadState returns the aggregation cursor stored under name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var seq int64
	row := s.pool.QueryRow(ctx, `SELECT last_seq FROM aggregate_state WHERE name=$1`, name)
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(seq), true, nil
}

// SaveState upserts the aggregation cursor for name.
func (s *Store) SaveState(ctx context.Context, name string, seq uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aggregate_state (name, last_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_seq = EXCLUDED.last_seq, updated_at = now()
	`, name, int64(seq))
	return err
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
