package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"cpamm/internal/amm"
	"cpamm/internal/model"
)

const testPool = "0x9999999999999999999999999999999999999999"

var testMeta = model.PoolMeta{
	AssetA:         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	AssetB:         "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	FeeNumerator:   997,
	FeeDenominator: 1000,
}

type memorySink struct {
	pools   []model.Pool
	metrics []model.PoolWindowMetrics
	calls   int
}

func (s *memorySink) UpsertPools(_ context.Context, pools []model.Pool) error {
	s.pools = append(s.pools, pools...)
	return nil
}

func (s *memorySink) UpsertWindowMetrics(_ context.Context, metrics []model.PoolWindowMetrics) error {
	s.calls++
	s.metrics = append(s.metrics, metrics...)
	return nil
}

func record(t *testing.T, seq, ts uint64, name string, data interface{}) model.TypedEventRecord {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return model.TypedEventRecord{
		Address:   testPool,
		Seq:       seq,
		EventName: name,
		Timestamp: ts,
		Decoded:   raw,
		PoolMeta:  testMeta,
	}
}

func baseRecords(t *testing.T) []model.TypedEventRecord {
	return []model.TypedEventRecord{
		record(t, 1, 1700000000, amm.EventLiquidityAdded, model.LiquidityAddedData{AmountA: "100000", AmountB: "200000", TotalShares: "141421"}),
		record(t, 2, 1700000060, amm.EventSwap, model.SwapData{AssetIn: "A", AmountIn: "10000", AmountOut: "18132"}),
		record(t, 3, 1700003000, amm.EventSwap, model.SwapData{AssetIn: "B", AmountIn: "20000", AmountOut: "10868"}),
	}
}

func writeRecords(t *testing.T, path string, records []model.TypedEventRecord) {
	t.Helper()
	var b strings.Builder
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestAggregatorWindows(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "typed.jsonl")
	records := baseRecords(t)
	records = append(records, model.TypedEventRecord{Address: testPool, Seq: 2, EventName: amm.EventSwap})
	writeRecords(t, input, records)

	sink := &memorySink{}
	agg := NewAggregator(Config{WindowSeconds: 3600}, sink, nil, nil)
	if err := agg.Run(context.Background(), input); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sink.metrics) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(sink.metrics))
	}
	first, second := sink.metrics[0], sink.metrics[1]
	if !first.WindowStart.Equal(time.Unix(1699999200, 0)) || first.WindowSizeSecs != 3600 {
		t.Fatalf("first window mismatch: %+v", first)
	}
	if first.SwapCount != 1 || first.LiquidityEvents != 1 || first.VolumeA != "10000" || first.VolumeB != "18132" {
		t.Fatalf("first window volume mismatch: %+v", first)
	}
	if first.FeeA != "30" || first.FeeB != "0" || *first.ReserveA != "110000" || *first.ReserveB != "181868" || *first.Price != "1" {
		t.Fatalf("first window books mismatch: %+v", first)
	}
	if first.FeeRateA == nil || first.FeeRateB != nil || first.APR == nil {
		t.Fatalf("first window rates mismatch: %+v", first)
	}

	if second.SwapCount != 1 || second.VolumeA != "10868" || second.VolumeB != "20000" || second.FeeB != "60" {
		t.Fatalf("second window mismatch: %+v", second)
	}
	if *second.ReserveA != "99132" || *second.ReserveB != "201868" || *second.Price != "2" {
		t.Fatalf("second window books mismatch: %+v", second)
	}

	if len(sink.pools) != 1 || sink.pools[0].FirstSeenSeq != 1 || sink.pools[0].FeeNumerator != 997 || sink.pools[0].PriceScale != "1" {
		t.Fatalf("pool registration mismatch: %+v", sink.pools)
	}

	reserves := agg.Reserves(strings.ToUpper(testPool[:2]) + testPool[2:])
	if reserves == nil || reserves.A.Int64() != 99132 {
		t.Fatalf("reserves mismatch: %+v", reserves)
	}
}

func TestAggregatorResumeRecomputesOpenWindow(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "typed.jsonl")
	state := &FileStateStore{Path: filepath.Join(dir, "state", "aggregate.json")}
	records := baseRecords(t)
	writeRecords(t, input, records)

	if err := NewAggregator(Config{WindowSeconds: 3600, StateStore: state}, &memorySink{}, nil, nil).Run(context.Background(), input); err != nil {
		t.Fatalf("first run: %v", err)
	}
	cursors, err := state.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if cursors[testPool] != 2 {
		t.Fatalf("cursor should stop before the open window, got %v", cursors)
	}

	records = append(records, record(t, 4, 1700003100, amm.EventSwap, model.SwapData{AssetIn: "A", AmountIn: "1000", AmountOut: "2000"}))
	writeRecords(t, input, records)

	sink := &memorySink{}
	if err := NewAggregator(Config{WindowSeconds: 3600, StateStore: state}, sink, nil, nil).Run(context.Background(), input); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(sink.metrics) != 1 {
		t.Fatalf("expected only the open window, got %d", len(sink.metrics))
	}
	w := sink.metrics[0]
	if w.SwapCount != 2 || w.VolumeA != "11868" || w.VolumeB != "22000" || *w.ReserveA != "100132" || *w.ReserveB != "199868" {
		t.Fatalf("recomputed window mismatch: %+v", w)
	}
}

func TestAggregatorRecomputeIgnoresState(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "typed.jsonl")
	writeRecords(t, input, baseRecords(t))
	state := &FileStateStore{Path: filepath.Join(dir, "state.json")}
	if err := state.Save(context.Background(), map[string]uint64{testPool: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}

	sink := &memorySink{}
	agg := NewAggregator(Config{WindowSeconds: 3600, StateStore: state, Recompute: true}, sink, nil, nil)
	if err := agg.Run(context.Background(), input); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.metrics) != 2 {
		t.Fatalf("expected full recompute, got %d windows", len(sink.metrics))
	}
}

func TestAggregatorRejectsNegativeReserves(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "typed.jsonl")
	writeRecords(t, input, []model.TypedEventRecord{
		record(t, 1, 1700000000, amm.EventSwap, model.SwapData{AssetIn: "A", AmountIn: "10", AmountOut: "5"}),
	})

	err := NewAggregator(Config{WindowSeconds: 60}, &memorySink{}, nil, nil).Run(context.Background(), input)
	if err == nil || !strings.Contains(err.Error(), "negative") {
		t.Fatalf("expected negative reserves error, got %v", err)
	}
}

func TestAggregatorValidatesConfig(t *testing.T) {
	if err := NewAggregator(Config{}, &memorySink{}, nil, nil).Run(context.Background(), "unused"); err == nil {
		t.Fatalf("expected window error")
	}
	if err := NewAggregator(Config{WindowSeconds: 60}, nil, nil, nil).Run(context.Background(), "unused"); err == nil {
		t.Fatalf("expected sink error")
	}
}

// decimalsCaller answers ERC20 decimals calls and fails everything else.
type decimalsCaller struct {
	parsed   abi.ABI
	decimals map[common.Address]uint8
	asked    []common.Address
}

func newDecimalsCaller(t *testing.T, decimals map[common.Address]uint8) *decimalsCaller {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(`[{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]`))
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	return &decimalsCaller{parsed: parsed, decimals: decimals}
}

func (c *decimalsCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method := c.parsed.Methods["decimals"]
	if len(msg.Data) < 4 || !bytes.Equal(msg.Data[:4], method.ID) {
		return nil, fmt.Errorf("execution reverted")
	}
	c.asked = append(c.asked, *msg.To)
	d, ok := c.decimals[*msg.To]
	if !ok {
		return nil, fmt.Errorf("execution reverted")
	}
	return method.Outputs.Pack(d)
}

func TestAggregatorTokenDecimals(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "typed.jsonl")
	writeRecords(t, input, baseRecords(t)[:2])

	assetB := common.HexToAddress(testMeta.AssetB)
	caller := newDecimalsCaller(t, map[common.Address]uint8{assetB: 2})
	sink := &memorySink{}
	cfg := Config{
		WindowSeconds: 3600,
		Decimals:      map[string]uint8{testMeta.AssetA: 3},
	}
	if err := NewAggregator(cfg, sink, caller, nil).Run(context.Background(), input); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sink.metrics) != 1 {
		t.Fatalf("expected 1 window, got %d", len(sink.metrics))
	}
	m := sink.metrics[0]
	if m.VolumeA != "10.000" || m.VolumeB != "181.32" || m.FeeA != "0.030" {
		t.Fatalf("scaled volume mismatch: %+v", m)
	}
	if *m.ReserveA != "110.000" || *m.ReserveB != "1818.68" || *m.Price != "1" {
		t.Fatalf("scaled books mismatch: %+v", m)
	}
	if len(caller.asked) != 1 || caller.asked[0] != assetB {
		t.Fatalf("expected a single decimals lookup for asset B, got %v", caller.asked)
	}
}
