package pairs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairsync/internal/model"
	"pairsync/internal/network"
	"pairsync/internal/pairapi"
	"pairsync/internal/store"
)

type harness struct {
	engine   *Engine
	api      *fakeAPI
	network  *network.Context
	pairs    *store.PairStore
	registry *store.AssetRegistry
	custom   *recordingCustomAssets
}

func newHarness(t *testing.T, respond func(string, pairapi.PageRequest) (pairapi.PageResponse, error), customAssets ...string) *harness {
	t.Helper()
	h := &harness{
		api:      &fakeAPI{respond: respond},
		network:  network.NewContext("mainnet", true),
		pairs:    store.NewPairStore(),
		registry: store.NewAssetRegistry(),
		custom:   newRecordingCustomAssets(customAssets...),
	}
	engine, err := NewEngine(Config{
		API:          h.api,
		Network:      h.network,
		Pairs:        h.pairs,
		Registry:     h.registry,
		CustomAssets: h.custom,
	})
	require.NoError(t, err)
	h.engine = engine
	return h
}

// step runs one evaluate/apply cycle on the calling goroutine.
func (h *harness) step(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	h.engine.evaluate(ctx)
	select {
	case res := <-h.engine.results:
		h.engine.apply(res)
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch did not complete")
	}
	// drain the re-trigger so each step is explicit
	select {
	case <-h.engine.triggers:
	default:
	}
}

func staticPage(pairs ...model.Pair) func(string, pairapi.PageRequest) (pairapi.PageResponse, error) {
	return func(string, pairapi.PageRequest) (pairapi.PageResponse, error) {
		return pairapi.PageResponse{Pairs: append([]model.Pair(nil), pairs...)}, nil
	}
}

func TestFirstPageAppendsAndReconciles(t *testing.T) {
	h := newHarness(t, staticPage(pair("P1", "X", "Y"), pair("P2", "Y", "Z")), "X", "Z", "Q")

	h.engine.evaluate(context.Background())
	h.engine.apply(<-h.engine.results)

	view := h.engine.View()
	require.Len(t, view.Pairs(), 2)
	assert.Equal(t, "P1", view.Pairs()[0].ContractAddr)
	assert.Equal(t, [2]string{"Y", "Z"}, view.Pairs()[1].AssetAddresses)
	assert.True(t, view.Loading(), "more pages may exist")

	assert.Equal(t, AvailableAssets{Network: "mainnet", Addresses: []string{"X", "Y", "Z"}}, h.engine.AvailableAssetAddresses())
	assert.Equal(t, []model.Asset{{Address: "X"}, {Address: "Y"}, {Address: "Z"}}, h.registry.ListAssets("mainnet"))
	assert.Equal(t, []string{"Q"}, h.custom.remaining())

	select {
	case <-h.engine.triggers:
	default:
		t.Fatalf("a changed partition must re-trigger pagination")
	}

	call := h.api.call(0)
	assert.Equal(t, "mainnet", call.network)
	assert.Equal(t, DefaultLimit, call.req.Limit)
	assert.Nil(t, call.req.StartAfter)
}

func TestRepeatedTerminalPageClearsLoading(t *testing.T) {
	h := newHarness(t, staticPage(pair("P1", "X", "Y"), pair("P2", "Y", "Z")))

	h.step(t)
	require.True(t, h.engine.View().Loading())
	before := h.engine.Pairs()

	h.step(t)
	second := h.api.call(1)
	require.NotNil(t, second.req.StartAfter)
	assert.Equal(t, "Y", second.req.StartAfter[0].Address())
	assert.Equal(t, "Z", second.req.StartAfter[1].Address())

	view := h.engine.View()
	assert.False(t, view.Loading())
	assert.Len(t, view.Pairs(), 2)
	assert.Same(t, &before[0], &view.Pairs()[0], "no merge on a repeated page")
}

func TestEmptyPageClearsLoading(t *testing.T) {
	h := newHarness(t, cursorRemote([]model.Pair{pair("P1", "X", "Y")}, false))

	h.step(t)
	require.True(t, h.engine.View().Loading())
	h.step(t)
	assert.False(t, h.engine.View().Loading())
	assert.Len(t, h.engine.Pairs(), 1)
}

func TestGetPairedAddresses(t *testing.T) {
	h := newHarness(t, staticPage(pair("P1", "X", "Y"), pair("P2", "Y", "Z")))
	assert.Nil(t, h.engine.GetPairedAddresses("Y"), "unknown partition")

	h.step(t)
	assert.Equal(t, []string{"X", "Z"}, h.engine.GetPairedAddresses("Y"))
	assert.Equal(t, []string{"Y"}, h.engine.GetPairedAddresses("X"))
	assert.Empty(t, h.engine.GetPairedAddresses("W"))
}

func TestLookups(t *testing.T) {
	h := newHarness(t, staticPage(pair("P1", "X", "Y"), pair("P2", "Y", "Z")))
	_, ok := h.engine.GetPair("P1")
	assert.False(t, ok)

	h.step(t)

	got, ok := h.engine.GetPair("P2")
	require.True(t, ok)
	assert.Equal(t, "P2-lp", got.LiquidityToken)
	_, ok = h.engine.GetPair("P9")
	assert.False(t, ok)

	got, ok = h.engine.FindPairByLpAddress("P1-lp")
	require.True(t, ok)
	assert.Equal(t, "P1", got.ContractAddr)
	_, ok = h.engine.FindPairByLpAddress("P1")
	assert.False(t, ok)
}

func TestFindPairIsSymmetric(t *testing.T) {
	h := newHarness(t, staticPage(pair("P1", "X", "Y"), pair("P2", "Y", "Z"), pair("P3", "Y", "Y")))
	h.step(t)

	addresses := []string{"X", "Y", "Z", "W"}
	for _, a := range addresses {
		for _, b := range addresses {
			forward, okForward := h.engine.FindPair([2]string{a, b})
			backward, okBackward := h.engine.FindPair([2]string{b, a})
			if a == b {
				assert.False(t, okForward, "identical legs %s never match", a)
				continue
			}
			assert.Equal(t, okForward, okBackward)
			assert.Equal(t, forward, backward)
		}
	}

	got, ok := h.engine.FindPair([2]string{"Z", "Y"})
	require.True(t, ok)
	assert.Equal(t, "P2", got.ContractAddr)
	_, ok = h.engine.FindPair([2]string{"X", "Z"})
	assert.False(t, ok)
}

func TestFetchErrorLeavesStateUntouched(t *testing.T) {
	fail := false
	var mu sync.Mutex
	h := newHarness(t, func(network string, req pairapi.PageRequest) (pairapi.PageResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return pairapi.PageResponse{}, errors.New("connection reset")
		}
		return staticPage(pair("P1", "X", "Y"))(network, req)
	})

	h.step(t)
	before := h.pairs.Get("mainnet")
	version := h.pairs.Version("mainnet")
	registry := h.registry.ListAssets("mainnet")

	mu.Lock()
	fail = true
	mu.Unlock()

	assert.NotPanics(t, func() { h.step(t) })

	after := h.pairs.Get("mainnet")
	assert.Equal(t, version, h.pairs.Version("mainnet"), "no write on failure")
	assert.Equal(t, before, after)
	assert.True(t, after.Loading)
	assert.Equal(t, registry, h.registry.ListAssets("mainnet"))

	status := h.engine.Status("mainnet")
	assert.Equal(t, 1, status.ConsecutiveFailures)
	assert.Contains(t, status.LastError, "connection reset")
	assert.False(t, status.InFlight)

	// the next trigger retries the same cursor
	h.step(t)
	assert.Equal(t, h.api.call(1).req.StartAfter, h.api.call(2).req.StartAfter)
	assert.Equal(t, 2, h.engine.Status("mainnet").ConsecutiveFailures)
}

func TestFetchErrorOnFreshPartitionKeepsLoading(t *testing.T) {
	h := newHarness(t, func(string, pairapi.PageRequest) (pairapi.PageResponse, error) {
		return pairapi.PageResponse{}, errors.New("timeout")
	})

	h.step(t)
	view := h.engine.View()
	assert.Nil(t, view.Pairs())
	assert.True(t, view.Loading(), "a stuck partition stays loading")

	var fetchErr *FetchError
	require.ErrorAs(t, h.engine.states["mainnet"].lastErr, &fetchErr)
	assert.Equal(t, "mainnet", fetchErr.Network)
	assert.Empty(t, fetchErr.Cursor)
	assert.Equal(t, "fetch pairs for mainnet: timeout", fetchErr.Error())
}

func TestOfflineSkipsFetch(t *testing.T) {
	h := newHarness(t, staticPage(pair("P1", "X", "Y")))
	h.network.SetOnline(false)

	h.engine.evaluate(context.Background())
	assert.Equal(t, 0, h.api.callCount())
	assert.Equal(t, uint64(0), h.pairs.Version("mainnet"))

	h.network.SetOnline(true)
	h.network.SetNetwork("")
	h.engine.evaluate(context.Background())
	assert.Equal(t, 0, h.api.callCount())
}

func TestInFlightGuard(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(string, pairapi.PageRequest) (pairapi.PageResponse, error) {
		<-release
		return pairapi.PageResponse{Pairs: []model.Pair{pair("P1", "X", "Y")}}, nil
	})

	ctx := context.Background()
	h.engine.evaluate(ctx)
	h.engine.evaluate(ctx)
	h.engine.evaluate(ctx)
	assert.True(t, h.engine.Status("mainnet").InFlight)

	close(release)
	h.engine.apply(<-h.engine.results)
	assert.Equal(t, 1, h.api.callCount())
}

func TestLoadingPartitionOwnedByAnotherWriterIsSkipped(t *testing.T) {
	h := newHarness(t, staticPage(pair("P1", "X", "Y")))
	h.pairs.Set("mainnet", store.Partition{Loading: true})

	h.engine.evaluate(context.Background())
	assert.Equal(t, 0, h.api.callCount())
}

func TestStaleResultAppliesToItsOwnPartition(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(network string, _ pairapi.PageRequest) (pairapi.PageResponse, error) {
		if network == "mainnet" {
			<-release
		}
		return pairapi.PageResponse{Pairs: []model.Pair{pair(network+"-P1", "X", "Y")}}, nil
	})

	ctx := context.Background()
	h.engine.evaluate(ctx)
	h.network.SetNetwork("testnet")
	h.engine.evaluate(ctx)

	testnet := <-h.engine.results
	require.Equal(t, "testnet", testnet.network)
	h.engine.apply(testnet)

	close(release)
	h.engine.apply(<-h.engine.results)

	assert.Equal(t, "testnet-P1", h.engine.Pairs()[0].ContractAddr)
	require.Len(t, h.engine.ViewOf("mainnet").Pairs(), 1)
	assert.Equal(t, "mainnet-P1", h.engine.ViewOf("mainnet").Pairs()[0].ContractAddr)
	assert.Len(t, h.registry.ListAssets("mainnet"), 2)
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t, staticPage(), "X", "Q")
	h.engine.reconcile("mainnet", []string{"X", "Y"})
	registry := h.registry.ListAssets("mainnet")
	remaining := h.custom.remaining()

	h.engine.reconcile("mainnet", []string{"X", "Y"})
	assert.Equal(t, registry, h.registry.ListAssets("mainnet"))
	assert.Equal(t, remaining, h.custom.remaining())
	assert.Equal(t, []string{"Q"}, remaining)
}

func TestQueriesAreReferentiallyStable(t *testing.T) {
	h := newHarness(t, staticPage(pair("P1", "X", "Y"), pair("P2", "Y", "Z")))
	h.step(t)

	first := h.engine.GetPairedAddresses("Y")
	second := h.engine.GetPairedAddresses("Y")
	assert.Same(t, &first[0], &second[0])

	a1 := h.engine.AvailableAssetAddresses()
	a2 := h.engine.AvailableAssetAddresses()
	assert.Same(t, &a1.Addresses[0], &a2.Addresses[0])

	p1 := h.engine.Pairs()
	p2 := h.engine.Pairs()
	assert.Same(t, &p1[0], &p2[0])
}

// The exhaustion check only compares the last contract address of each page,
// so it relies on the remote returning a stable order. A reordered page with
// the same set of pairs is taken as progress: nothing is added but the
// partition is replaced and pagination continues.
func TestReorderedPageIsTreatedAsProgress(t *testing.T) {
	calls := 0
	h := newHarness(t, func(string, pairapi.PageRequest) (pairapi.PageResponse, error) {
		calls++
		if calls%2 == 1 {
			return pairapi.PageResponse{Pairs: []model.Pair{pair("P1", "X", "Y"), pair("P2", "Y", "Z")}}, nil
		}
		return pairapi.PageResponse{Pairs: []model.Pair{pair("P2", "Y", "Z"), pair("P1", "X", "Y")}}, nil
	})

	h.step(t)
	version := h.pairs.Version("mainnet")

	h.engine.evaluate(context.Background())
	h.engine.apply(<-h.engine.results)

	assert.Greater(t, h.pairs.Version("mainnet"), version)
	assert.Len(t, h.engine.Pairs(), 2)
	assert.True(t, h.engine.View().Loading())
	assert.Len(t, h.engine.triggers, 1, "pagination keeps going")
}

func TestRunPaginatesUntilExhausted(t *testing.T) {
	all := make([]model.Pair, 0, 7)
	for i, legs := range [][2]string{{"A", "B"}, {"A", "C"}, {"B", "C"}, {"C", "D"}, {"D", "E"}, {"E", "F"}, {"F", "G"}} {
		all = append(all, pair(string(rune('1'+i)), legs[0], legs[1]))
	}

	sink := &memorySink{}
	h := newHarness(t, cursorRemote(all, true))
	h.engine.cfg.Limit = 3
	h.engine.cfg.StopWhenIdle = true
	h.engine.cfg.Sink = sink

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Run(ctx))

	view := h.engine.View()
	assert.False(t, view.Loading())
	require.Len(t, view.Pairs(), len(all))
	for i := range all {
		assert.Equal(t, all[i].ContractAddr, view.Pairs()[i].ContractAddr)
	}
	// pages: [1,2,3] [4,5,6] [7] then [5,6,7] repeated
	assert.Equal(t, 4, h.api.callCount())
	assert.Equal(t, len(all), sink.count())

	addresses := append([]string(nil), view.AvailableAssetAddresses().Addresses...)
	sort.Strings(addresses)
	assert.Equal(t, []string{"A", "B", "C", "D", "E", "F", "G"}, addresses)

	status := h.engine.Status("mainnet")
	assert.Equal(t, len(all), status.Pairs)
	assert.False(t, status.Loading)
	assert.Equal(t, "7", status.LastPairAddr)
}

func TestRunFollowsNetworkChanges(t *testing.T) {
	h := newHarness(t, func(network string, req pairapi.PageRequest) (pairapi.PageResponse, error) {
		return cursorRemote([]model.Pair{pair(network+"-P1", "X", "Y")}, false)(network, req)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return !h.pairs.Get("mainnet").Loading && h.pairs.Version("mainnet") > 0
	}, 2*time.Second, 5*time.Millisecond)

	h.network.SetNetwork("testnet")
	require.Eventually(t, func() bool {
		part := h.pairs.Get("testnet")
		return len(part.Pairs) == 1 && !part.Loading
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "testnet-P1", h.engine.Pairs()[0].ContractAddr)
}

func TestNewEngineValidates(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)

	_, err = NewEngine(Config{
		API:      &fakeAPI{},
		Network:  network.NewContext("mainnet", true),
		Pairs:    store.NewPairStore(),
		Registry: store.NewAssetRegistry(),
		Limit:    -1,
	})
	assert.Error(t, err)
}

type memorySink struct {
	mu    sync.Mutex
	pairs []model.Pair
}

func (m *memorySink) PutPairBatch(_ context.Context, _ string, pairs []model.Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = append(m.pairs, pairs...)
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pairs)
}

func TestFullSinkQueueDropsBatch(t *testing.T) {
	h := newHarness(t, cursorRemote([]model.Pair{pair("P1", "X", "Y"), pair("P2", "Y", "Z")}, false))
	h.engine.cfg.Sink = &memorySink{}
	h.engine.cfg.Limit = 1

	// unbuffered with no worker: every send would block
	h.engine.sinkJobs = make(chan sinkBatch)
	h.step(t)
	assert.Len(t, h.engine.Pairs(), 1, "the page is merged even when the sink is saturated")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.engine.metrics.SinkErrors.WithLabelValues("mainnet")))

	h.engine.sinkJobs = make(chan sinkBatch, 1)
	h.step(t)
	job := <-h.engine.sinkJobs
	assert.Equal(t, "mainnet", job.network)
	require.Len(t, job.pairs, 1)
	assert.Equal(t, "P2", job.pairs[0].ContractAddr)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.engine.metrics.SinkErrors.WithLabelValues("mainnet")))
}

func TestCustomAssetsRemovedCountsActualRemovals(t *testing.T) {
	h := newHarness(t, staticPage(), "X")

	h.engine.reconcile("mainnet", []string{"X", "Y"})
	h.engine.reconcile("mainnet", []string{"X", "Y"})

	assert.Len(t, h.custom.removed, 4, "every derived address is offered for removal")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.engine.metrics.CustomAssetsRemoved.WithLabelValues("mainnet")))
}

func TestPairedAddressesCannotBeExtendedInPlace(t *testing.T) {
	h := newHarness(t, staticPage(pair("P1", "X", "Y"), pair("P2", "Y", "Z"), pair("P3", "Y", "W")))
	h.step(t)

	got := h.engine.GetPairedAddresses("Y")
	require.Equal(t, []string{"X", "Z", "W"}, got)
	assert.Equal(t, len(got), cap(got))

	_ = append(got, "V")
	assert.Equal(t, []string{"X", "Z", "W"}, h.engine.GetPairedAddresses("Y"))
}

func TestPairWithEmptyLegIsNotReconciled(t *testing.T) {
	broken := pair("P1", "X", "")
	broken.AssetInfos[1] = model.AssetInfo{}
	h := newHarness(t, staticPage(broken, pair("P2", "X", "Y")), "X")
	h.step(t)

	assert.Len(t, h.engine.Pairs(), 2)
	assert.Equal(t, []string{"X", "Y"}, h.engine.AvailableAssetAddresses().Addresses)
	assert.Equal(t, []string{"Y"}, h.engine.GetPairedAddresses("X"))
	assert.Empty(t, h.engine.GetPairedAddresses(""))
	assert.NotContains(t, h.custom.removed, "mainnet/")
	assert.NotContains(t, h.registry.ListAssets("mainnet"), model.Asset{})
}
