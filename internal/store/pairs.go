package store

import "pairsync/internal/model"

const PairStoreName = "pairs"

// Partition is the pair list of one network. A nil Pairs slice means no page
// has been merged yet. AssetAddresses and Paired are derived from Pairs and
// replaced together with it.
type Partition struct {
	Pairs          []model.Pair
	Loading        bool
	AssetAddresses []string
	Paired         map[string][]string
}

// PairStore is keyed by network name. The sync engine is its only writer.
type PairStore = Keyed[Partition]

func NewPairStore() *PairStore {
	return NewKeyed[Partition](PairStoreName)
}
