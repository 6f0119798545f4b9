package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cpamm/internal/model"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs.jsonl")
	store := NewJsonlStorage(path)
	ctx := context.Background()

	if err := store.PutLogBatch(ctx, []model.LogRecord{{Seq: 1}, {Seq: 2}}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if err := store.PutLogBatch(ctx, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := store.PutLogBatch(ctx, []model.LogRecord{{Seq: 3}}); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var last model.LogRecord
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Seq != 3 {
		t.Fatalf("seq mismatch: %d", last.Seq)
	}
}

func TestJsonlStorageOperationErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.jsonl")
	store := NewJsonlStorage(path)

	err := store.PutOperationErrors(context.Background(), []model.OperationError{
		{OpIndex: 4, Op: model.OpSwapAForB, Code: "insufficient_liquidity", Error: "empty pool"},
	})
	if err != nil {
		t.Fatalf("put errors: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var got model.OperationError
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.OpIndex != 4 || got.Code != "insufficient_liquidity" {
		t.Fatalf("record mismatch: %+v", got)
	}
}

type failingStorage struct{ calls int }

func (f *failingStorage) PutLogBatch(context.Context, []model.LogRecord) error {
	f.calls++
	return errors.New("down")
}

func TestMultiStopsAtFirstError(t *testing.T) {
	first := &failingStorage{}
	second := &failingStorage{}
	if err := (Multi{nil, first, second}).PutLogBatch(context.Background(), []model.LogRecord{{}}); err == nil {
		t.Fatalf("expected error")
	}
	if first.calls != 1 || second.calls != 0 {
		t.Fatalf("unexpected calls: %d %d", first.calls, second.calls)
	}
}
