package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pairsync/internal/model"
)

// PairRecord is one JSONL line.
type PairRecord struct {
	Network string `json:"network"`
	model.Pair
	IngestedAt string `json:"ingested_at"`
}

// JsonlStorage appends merged pairs to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path, now: time.Now}
}

// PutPairBatch appends a batch of pairs as JSON lines.
func (s *JsonlStorage) PutPairBatch(_ context.Context, network string, pairs []model.Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	ingestedAt := s.now().UTC().Format(time.RFC3339Nano)
	writer := bufio.NewWriter(file)
	for _, pair := range pairs {
		line, err := json.Marshal(PairRecord{Network: network, Pair: pair, IngestedAt: ingestedAt})
		if err != nil {
			return fmt.Errorf("marshal pair %s: %w", pair.ContractAddr, err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write pair record: %w", err)
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
