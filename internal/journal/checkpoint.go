package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cpamm/internal/amm"
	"cpamm/internal/ledger"
	"cpamm/internal/model"
)

// Checkpoint records how far a journal has been replayed together with the
// books that replay produced.
type Checkpoint struct {
	Pool       string            `json:"pool"`
	AppliedOps uint64            `json:"applied_ops"`
	PoolState  model.PoolState   `json:"pool_state"`
	Ledger     model.LedgerState `json:"ledger"`
	UpdatedAt  string            `json:"updated_at"`
}

// CheckpointStore persists checkpoints to disk.
type CheckpointStore struct {
	path    string
	enabled bool
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled && path != ""}
}

func (c *CheckpointStore) Load() (Checkpoint, bool, error) {
	if !c.enabled {
		return Checkpoint{}, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return Checkpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}

	return cp, true, nil
}

// Save writes cp through a temporary file so a crash never leaves a torn
// checkpoint behind.
func (c *CheckpointStore) Save(cp Checkpoint) error {
	if !c.enabled {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

// RestorePool rebuilds the pool and ledger recorded in the checkpoint at path.
// The restored pool discards events.
func RestorePool(path string, cfg amm.Config) (*amm.Pool, *ledger.Memory, Checkpoint, error) {
	cp, ok, err := NewCheckpointStore(path, true).Load()
	if err != nil {
		return nil, nil, Checkpoint{}, err
	}
	if !ok {
		return nil, nil, Checkpoint{}, fmt.Errorf("no checkpoint at %q", path)
	}
	pool, l, err := restoreBooks(cp, cfg, nil)
	if err != nil {
		return nil, nil, Checkpoint{}, err
	}
	return pool, l, cp, nil
}

func restoreBooks(cp Checkpoint, cfg amm.Config, sink amm.EventSink) (*amm.Pool, *ledger.Memory, error) {
	if !strings.EqualFold(cp.Pool, cfg.Address.Hex()) {
		return nil, nil, fmt.Errorf("checkpoint belongs to pool %s, not %s", cp.Pool, cfg.Address.Hex())
	}
	ledgerState, err := LedgerStateFromModel(cp.Ledger)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint ledger: %w", err)
	}
	l, err := ledger.Restore(ledgerState)
	if err != nil {
		return nil, nil, err
	}
	poolState, err := PoolStateFromModel(cp.PoolState)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint pool state: %w", err)
	}
	pool, err := amm.Restore(cfg, poolState, l, sink)
	if err != nil {
		return nil, nil, fmt.Errorf("restore pool: %w", err)
	}
	return pool, l, nil
}
