package pairs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"pairsync/internal/model"
	"pairsync/internal/store"
)

// Checkpoint is the on-disk copy of one network's mirrored pairs.
type Checkpoint struct {
	Network   string       `json:"network"`
	Pairs     []model.Pair `json:"pairs"`
	Complete  bool         `json:"complete"`
	UpdatedAt string       `json:"updated_at"`
}

// CheckpointStore persists a checkpoint to a single file.
type CheckpointStore struct {
	path    string
	enabled bool
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled && path != ""}
}

// Load reads the checkpoint of network. A missing file, or one written for
// another network, is not an error.
func (c *CheckpointStore) Load(network string) (Checkpoint, bool, error) {
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
	if cp.Network != network {
		return Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// Save writes cp atomically.
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
	data, err := json.Marshal(cp)
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

// Checkpoint captures the current partition of network.
func (e *Engine) Checkpoint(network string) Checkpoint {
	part := e.cfg.Pairs.Get(network)
	return Checkpoint{
		Network:  network,
		Pairs:    part.Pairs,
		Complete: part.Pairs != nil && !part.Loading,
	}
}

// Restore seeds an untouched partition from cp so pagination resumes after
// its last pair. A complete checkpoint also seeds the last-seen marker, so a
// remote repeating its final page ends pagination after one request. It must
// be called before Run and reports whether anything was restored.
func (e *Engine) Restore(cp Checkpoint) bool {
	if cp.Network == "" || len(cp.Pairs) == 0 {
		return false
	}

	var restored store.Partition
	_, changed := e.cfg.Pairs.Update(cp.Network, func(current store.Partition) (store.Partition, bool) {
		if current.Pairs != nil || current.Loading {
			return current, false
		}
		restored, _ = mergePairs(store.Partition{}, normalizePage(cp.Pairs))
		return restored, true
	})
	if !changed {
		return false
	}
	if cp.Complete {
		e.state(cp.Network).lastSeen = restored.Pairs[len(restored.Pairs)-1].ContractAddr
	}

	e.logger.Info("pairs restored",
		zap.String("network", cp.Network),
		zap.Int("total", len(restored.Pairs)),
		zap.Bool("complete", cp.Complete),
	)
	e.reconcile(cp.Network, restored.AssetAddresses)
	e.publishStatus(cp.Network)
	return true
}
