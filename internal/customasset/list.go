// Package customasset persists user-added assets that are not yet part of the
// official pair data.
package customasset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"pairsync/internal/model"
)

// ErrNotFound is returned by Get when no custom asset matches.
var ErrNotFound = errors.New("custom asset not found")

const keyPrefix = "custom/"

// List is a goleveldb-backed custom asset list keyed by network and address.
type List struct {
	db  *leveldb.DB
	now func() time.Time
}

// Open opens (or creates) the list at path.
func Open(path string) (*List, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("custom asset db path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open custom asset db: %w", err)
	}
	return &List{db: db, now: time.Now}, nil
}

// OpenMemory opens a list that lives only for the process lifetime.
func OpenMemory() (*List, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory custom asset db: %w", err)
	}
	return &List{db: db, now: time.Now}, nil
}

func (l *List) Close() error {
	return l.db.Close()
}

// Add stores or replaces a custom asset.
func (l *List) Add(network string, asset model.Asset) (model.CustomAsset, error) {
	network, address, err := normalizeKey(network, asset.Address)
	if err != nil {
		return model.CustomAsset{}, err
	}
	asset.Address = address

	record := model.CustomAsset{
		Network: network,
		Asset:   asset,
		AddedAt: l.now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return model.CustomAsset{}, fmt.Errorf("marshal custom asset: %w", err)
	}
	if err := l.db.Put(recordKey(network, address), data, nil); err != nil {
		return model.CustomAsset{}, fmt.Errorf("put custom asset: %w", err)
	}
	return record, nil
}

// Get returns the custom asset for network and address.
func (l *List) Get(network, address string) (model.CustomAsset, error) {
	network, address, err := normalizeKey(network, address)
	if err != nil {
		return model.CustomAsset{}, err
	}
	data, err := l.db.Get(recordKey(network, address), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return model.CustomAsset{}, ErrNotFound
		}
		return model.CustomAsset{}, fmt.Errorf("get custom asset: %w", err)
	}
	var record model.CustomAsset
	if err := json.Unmarshal(data, &record); err != nil {
		return model.CustomAsset{}, fmt.Errorf("parse custom asset: %w", err)
	}
	return record, nil
}

// List returns the custom assets of network sorted by address.
func (l *List) List(network string) ([]model.CustomAsset, error) {
	network = normalizeNetwork(network)
	if network == "" {
		return nil, fmt.Errorf("network is required")
	}

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefix+network+"/")), nil)
	defer iter.Release()

	out := make([]model.CustomAsset, 0)
	for iter.Next() {
		var record model.CustomAsset
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			return nil, fmt.Errorf("parse custom asset %s: %w", iter.Key(), err)
		}
		out = append(out, record)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate custom assets: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// RemoveCustomAsset deletes the entry if present and reports whether it
// existed. Removing an unknown address is not an error.
func (l *List) RemoveCustomAsset(network, address string) (bool, error) {
	network, address, err := normalizeKey(network, address)
	if err != nil {
		return false, err
	}
	key := recordKey(network, address)
	found, err := l.db.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("lookup custom asset: %w", err)
	}
	if !found {
		return false, nil
	}
	if err := l.db.Delete(key, nil); err != nil {
		return false, fmt.Errorf("delete custom asset: %w", err)
	}
	return true, nil
}

func recordKey(network, address string) []byte {
	return []byte(keyPrefix + network + "/" + address)
}

func normalizeKey(network, address string) (string, string, error) {
	network = normalizeNetwork(network)
	if network == "" {
		return "", "", fmt.Errorf("network is required")
	}
	if strings.Contains(network, "/") {
		return "", "", fmt.Errorf("invalid network: %s", network)
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return "", "", fmt.Errorf("address is required")
	}
	return network, address, nil
}

func normalizeNetwork(network string) string {
	return strings.ToLower(strings.TrimSpace(network))
}
