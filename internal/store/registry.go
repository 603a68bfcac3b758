package store

import (
	"github.com/ethereum/go-ethereum/event"

	"pairsync/internal/model"
)

const RegistryName = "assets"

// AssetRegistry keeps the known assets per network. Entries are only added.
type AssetRegistry struct {
	assets *Keyed[[]model.Asset]
}

func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{assets: NewKeyed[[]model.Asset](RegistryName)}
}

// ListAssets returns the registry entries for network. The slice must not be modified.
func (r *AssetRegistry) ListAssets(network string) []model.Asset {
	return r.assets.Get(network)
}

// Contains reports whether address is registered for network.
func (r *AssetRegistry) Contains(network, address string) bool {
	for _, asset := range r.assets.Get(network) {
		if asset.Address == address {
			return true
		}
	}
	return false
}

// AddAssets registers every address not already present and returns how many
// were added. Existing entries keep their attributes.
func (r *AssetRegistry) AddAssets(network string, addresses []string) int {
	added := 0
	r.assets.Update(network, func(current []model.Asset) ([]model.Asset, bool) {
		known := make(map[string]struct{}, len(current))
		for _, asset := range current {
			known[asset.Address] = struct{}{}
		}

		var fresh []model.Asset
		for _, address := range addresses {
			if address == "" {
				continue
			}
			if _, ok := known[address]; ok {
				continue
			}
			known[address] = struct{}{}
			fresh = append(fresh, model.Asset{Address: address})
		}
		if len(fresh) == 0 {
			return current, false
		}

		next := make([]model.Asset, 0, len(current)+len(fresh))
		next = append(next, current...)
		next = append(next, fresh...)
		added = len(fresh)
		return next, true
	})
	return added
}

// Subscribe delivers a Change each time a network's asset list is replaced.
func (r *AssetRegistry) Subscribe(ch chan<- Change) event.Subscription {
	return r.assets.Subscribe(ch)
}
