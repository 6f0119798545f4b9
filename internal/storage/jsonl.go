package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cpamm/internal/model"
)

// JsonlStorage appends log records and operation errors to JSONL files.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

func (s *JsonlStorage) Path() string {
	return s.path
}

// PutLogBatch appends a batch of log records as JSON lines.
func (s *JsonlStorage) PutLogBatch(_ context.Context, logs []model.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AppendJSONL(s.path, logs)
}

// PutOperationErrors appends rejected operations as JSON lines.
func (s *JsonlStorage) PutOperationErrors(_ context.Context, errs []model.OperationError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AppendJSONL(s.path, errs)
}

// AppendJSONL appends items to path, one JSON document per line. The parent
// directory is created when missing.
func AppendJSONL[T any](path string, items []T) error {
	if len(items) == 0 {
		return nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
