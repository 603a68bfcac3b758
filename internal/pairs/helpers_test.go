package pairs

import (
	"context"
	"sync"

	"pairsync/internal/model"
	"pairsync/internal/pairapi"
)

func pair(contract, a, b string) model.Pair {
	return model.Pair{
		AssetInfos:     [2]model.AssetInfo{model.TokenAsset(a), model.TokenAsset(b)},
		ContractAddr:   contract,
		LiquidityToken: contract + "-lp",
	}
}

type apiCall struct {
	network string
	req     pairapi.PageRequest
}

// fakeAPI answers with respond and records every request.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	respond func(network string, req pairapi.PageRequest) (pairapi.PageResponse, error)
}

func (f *fakeAPI) GetPairs(_ context.Context, network string, req pairapi.PageRequest) (pairapi.PageResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{network: network, req: req})
	respond := f.respond
	f.mu.Unlock()
	return respond(network, req)
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) call(i int) apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// cursorRemote serves pairs strictly after the cursor, like the factory
// contract does. When repeatLast is set an exhausted remote answers with the
// final page again instead of an empty one.
func cursorRemote(all []model.Pair, repeatLast bool) func(string, pairapi.PageRequest) (pairapi.PageResponse, error) {
	return func(_ string, req pairapi.PageRequest) (pairapi.PageResponse, error) {
		start := 0
		if req.StartAfter != nil {
			for i, p := range all {
				if p.AssetInfos[0].Address() == req.StartAfter[0].Address() &&
					p.AssetInfos[1].Address() == req.StartAfter[1].Address() {
					start = i + 1
					break
				}
			}
		}
		if start >= len(all) {
			if !repeatLast {
				return pairapi.PageResponse{Pairs: []model.Pair{}}, nil
			}
			start = len(all) - req.Limit
			if start < 0 {
				start = 0
			}
		}
		end := start + req.Limit
		if end > len(all) {
			end = len(all)
		}
		return pairapi.PageResponse{Pairs: append([]model.Pair(nil), all[start:end]...)}, nil
	}
}

// recordingCustomAssets remembers every removal.
type recordingCustomAssets struct {
	mu      sync.Mutex
	removed []string
	assets  map[string]struct{}
}

func newRecordingCustomAssets(addresses ...string) *recordingCustomAssets {
	r := &recordingCustomAssets{assets: make(map[string]struct{})}
	for _, address := range addresses {
		r.assets[address] = struct{}{}
	}
	return r
}

func (r *recordingCustomAssets) RemoveCustomAsset(network, address string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, network+"/"+address)
	_, ok := r.assets[address]
	delete(r.assets, address)
	return ok, nil
}

func (r *recordingCustomAssets) remaining() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.assets))
	for address := range r.assets {
		out = append(out, address)
	}
	return out
}
