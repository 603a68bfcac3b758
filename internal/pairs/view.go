package pairs

import (
	"pairsync/internal/model"
	"pairsync/internal/store"
)

var noAddresses = []string{}

// AvailableAssets is the derived set of asset addresses of a network.
type AvailableAssets struct {
	Network   string   `json:"network"`
	Addresses []string `json:"addresses"`
}

// View is a read-only snapshot of one network partition. Lookups never
// allocate, and repeated calls on the same snapshot return the same slices.
type View struct {
	network   string
	partition store.Partition
}

func newView(network string, partition store.Partition) View {
	return View{network: network, partition: partition}
}

func (v View) Network() string { return v.network }

// Pairs returns the partition's pairs, nil while no page has been merged.
func (v View) Pairs() []model.Pair { return v.partition.Pairs }

// Loading reports whether pagination of the partition has not completed.
func (v View) Loading() bool { return v.partition.Loading }

// GetPair finds a pair by contract address.
func (v View) GetPair(contractAddr string) (model.Pair, bool) {
	for _, pair := range v.partition.Pairs {
		if pair.ContractAddr == contractAddr {
			return pair, true
		}
	}
	return model.Pair{}, false
}

// FindPair finds the pair trading both addresses, in either order. Identical
// addresses never match.
func (v View) FindPair(addresses [2]string) (model.Pair, bool) {
	if addresses[0] == addresses[1] {
		return model.Pair{}, false
	}
	for _, pair := range v.partition.Pairs {
		if pair.HasAsset(addresses[0]) && pair.HasAsset(addresses[1]) {
			return pair, true
		}
	}
	return model.Pair{}, false
}

// FindPairByLpAddress finds the pair whose liquidity token is lpAddress.
func (v View) FindPairByLpAddress(lpAddress string) (model.Pair, bool) {
	for _, pair := range v.partition.Pairs {
		if pair.LiquidityToken == lpAddress {
			return pair, true
		}
	}
	return model.Pair{}, false
}

// GetPairedAddresses returns the counterpart leg of every pair containing
// address, in pair order. The result is nil while no page has been merged.
func (v View) GetPairedAddresses(address string) []string {
	if v.partition.Pairs == nil {
		return nil
	}
	if paired, ok := v.partition.Paired[address]; ok {
		return paired
	}
	return noAddresses
}

// AvailableAssetAddresses returns every asset referenced by a pair.
func (v View) AvailableAssetAddresses() AvailableAssets {
	addresses := v.partition.AssetAddresses
	if addresses == nil {
		addresses = noAddresses
	}
	return AvailableAssets{Network: v.network, Addresses: addresses}
}
