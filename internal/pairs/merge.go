package pairs

import (
	"slices"

	"pairsync/internal/model"
	"pairsync/internal/store"
)

func normalizePage(page []model.Pair) []model.Pair {
	out := make([]model.Pair, len(page))
	for i, pair := range page {
		out[i] = model.NormalizePair(pair)
	}
	return out
}

// mergePairs appends page to current, skipping any pair whose contract
// address is already present. The result is always a new partition value;
// derived fields are reused when no pair was added.
func mergePairs(current store.Partition, page []model.Pair) (store.Partition, []model.Pair) {
	seen := make(map[string]struct{}, len(current.Pairs)+len(page))
	for _, pair := range current.Pairs {
		seen[pair.ContractAddr] = struct{}{}
	}

	var added []model.Pair
	for _, pair := range page {
		if _, ok := seen[pair.ContractAddr]; ok {
			continue
		}
		seen[pair.ContractAddr] = struct{}{}
		added = append(added, pair)
	}

	next := store.Partition{
		Pairs:          make([]model.Pair, 0, len(current.Pairs)+len(added)),
		Loading:        current.Loading,
		AssetAddresses: current.AssetAddresses,
		Paired:         current.Paired,
	}
	next.Pairs = append(next.Pairs, current.Pairs...)
	next.Pairs = append(next.Pairs, added...)

	if len(added) > 0 || next.AssetAddresses == nil {
		next.AssetAddresses = assetAddresses(next.Pairs)
		next.Paired = pairedAddresses(next.Pairs)
	}
	return next, added
}

// assetAddresses flattens the legs of every pair, keeping first occurrence order.
func assetAddresses(pairs []model.Pair) []string {
	seen := make(map[string]struct{}, len(pairs)*2)
	out := make([]string, 0, len(pairs)*2)
	for _, pair := range pairs {
		for _, address := range pair.AssetAddresses {
			if address == "" {
				continue
			}
			if _, ok := seen[address]; ok {
				continue
			}
			seen[address] = struct{}{}
			out = append(out, address)
		}
	}
	return out
}

// pairedAddresses maps every asset to the counterpart legs of the pairs
// containing it, in pair order. Slices are clipped so appending to a result
// never writes into the snapshot.
func pairedAddresses(pairs []model.Pair) map[string][]string {
	out := make(map[string][]string, len(pairs)*2)
	for _, pair := range pairs {
		for _, address := range pair.AssetAddresses {
			if address == "" {
				continue
			}
			other, ok := pair.Counterpart(address)
			if !ok || other == "" || other == address {
				continue
			}
			out[address] = append(out[address], other)
		}
	}
	for address, paired := range out {
		out[address] = slices.Clip(paired)
	}
	return out
}
