package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cpamm/internal/storage/postgres"
)

// StateStore persists, per pool, the last event sequence number whose window
// is complete. Events at or below it are not re-aggregated.
type StateStore interface {
	Load(ctx context.Context) (map[string]uint64, error)
	Save(ctx context.Context, cursors map[string]uint64) error
}

// FileStateStore stores cursors in a local JSON file.
type FileStateStore struct {
	Path string
}

type stateRecord struct {
	Cursors   map[string]uint64 `json:"cursors"`
	UpdatedAt string            `json:"updated_at"`
}

func (s *FileStateStore) Load(_ context.Context) (map[string]uint64, error) {
	if s == nil || s.Path == "" {
		return map[string]uint64{}, nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]uint64{}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if rec.Cursors == nil {
		rec.Cursors = map[string]uint64{}
	}
	return rec.Cursors, nil
}

func (s *FileStateStore) Save(_ context.Context, cursors map[string]uint64) error {
	if s == nil || s.Path == "" {
		return nil
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	data, err := json.Marshal(stateRecord{
		Cursors:   cursors,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// DBStateStore stores one aggregate_state row per pool, named
// "<Name>:<pool>".
type DBStateStore struct {
	Store *postgres.Store
	Name  string
	Pools []string
}

func (s *DBStateStore) Load(ctx context.Context) (map[string]uint64, error) {
	out := map[string]uint64{}
	if s == nil || s.Store == nil {
		return out, nil
	}
	for _, pool := range s.Pools {
		seq, ok, err := s.Store.LoadState(ctx, s.key(pool))
		if err != nil {
			return nil, fmt.Errorf("load state %s: %w", pool, err)
		}
		if ok {
			out[poolKey(pool)] = seq
		}
	}
	return out, nil
}

func (s *DBStateStore) Save(ctx context.Context, cursors map[string]uint64) error {
	if s == nil || s.Store == nil {
		return nil
	}
	for pool, seq := range cursors {
		if err := s.Store.SaveState(ctx, s.key(pool), seq); err != nil {
			return fmt.Errorf("save state %s: %w", pool, err)
		}
	}
	return nil
}

func (s *DBStateStore) key(pool string) string {
	return s.Name + ":" + poolKey(pool)
}

func poolKey(address string) string {
	return strings.ToLower(address)
}
