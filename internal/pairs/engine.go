// Package pairs keeps a paginated, deduplicated mirror of the trading pairs of
// the active network and derives the asset registry from it.
package pairs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"pairsync/internal/metrics"
	"pairsync/internal/model"
	"pairsync/internal/network"
	"pairsync/internal/pairapi"
	"pairsync/internal/storage"
	"pairsync/internal/store"
)

// DefaultLimit is the page size requested from the remote API.
const DefaultLimit = 30

// PairAPI serves pages of pairs in a stable, cursor-consistent order.
type PairAPI interface {
	GetPairs(ctx context.Context, network string, req pairapi.PageRequest) (pairapi.PageResponse, error)
}

// NetworkSource supplies the active network and announces changes to it.
type NetworkSource interface {
	Current() (name string, online bool)
	Subscribe(ch chan<- network.Change) event.Subscription
}

// AssetRegistry receives the derived asset addresses.
type AssetRegistry interface {
	AddAssets(network string, addresses []string) int
	ListAssets(network string) []model.Asset
}

// CustomAssets drops user-added entries once official data covers them.
// RemoveCustomAsset reports whether an entry existed.
type CustomAssets interface {
	RemoveCustomAsset(network, address string) (bool, error)
}

// Config holds the engine's dependencies and settings.
type Config struct {
	API          PairAPI
	Network      NetworkSource
	Pairs        *store.PairStore
	Registry     AssetRegistry
	CustomAssets CustomAssets
	Sink         storage.Sink
	Metrics      *metrics.Metrics
	Logger       *zap.Logger

	// Limit is the page size, DefaultLimit when zero.
	Limit int
	// RetryInterval re-evaluates the active partition periodically. Zero
	// disables the tick, leaving network changes and Trigger as the only
	// way to retry after a failure.
	RetryInterval time.Duration
	// StopWhenIdle makes Run return once nothing is in flight or queued.
	StopWhenIdle bool
}

func (c *Config) validate() error {
	if c.API == nil {
		return errors.New("pair api is required")
	}
	if c.Network == nil {
		return errors.New("network source is required")
	}
	if c.Pairs == nil {
		return errors.New("pair store is required")
	}
	if c.Registry == nil {
		return errors.New("asset registry is required")
	}
	if c.Limit < 0 {
		return fmt.Errorf("limit must not be negative: %d", c.Limit)
	}
	return nil
}

// Status describes the sync progress of one network partition.
type Status struct {
	Network             string    `json:"network"`
	Pairs               int       `json:"pairs"`
	Loading             bool      `json:"loading"`
	InFlight            bool      `json:"in_flight"`
	Started             bool      `json:"started"`
	LastPairAddr        string    `json:"last_pair_addr,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastFetchAt         time.Time `json:"last_fetch_at,omitempty"`
}

// syncState is owned by the event loop.
type syncState struct {
	started  bool
	inFlight bool
	lastSeen string
	failures int
	lastErr  error
	lastAt   time.Time
}

type fetchResult struct {
	network  string
	cursor   string
	page     pairapi.PageResponse
	err      error
	duration time.Duration
}

type sinkBatch struct {
	network string
	pairs   []model.Pair
}

// Engine is the single writer of the pair store. All state transitions run
// on the goroutine executing Run; fetches run concurrently and report back
// through the results queue.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	triggers chan struct{}
	results  chan fetchResult
	sinkJobs chan sinkBatch

	states map[string]*syncState
	wg     sync.WaitGroup

	statusMu sync.RWMutex
	status   map[string]Status
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Limit == 0 {
		cfg.Limit = DefaultLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		triggers: make(chan struct{}, 1),
		results:  make(chan fetchResult, 16),
		states:   make(map[string]*syncState),
		status:   make(map[string]Status),
	}, nil
}

// Trigger asks the engine to re-evaluate the active partition, e.g. after
// navigation or when connectivity returns. It never blocks.
func (e *Engine) Trigger() {
	select {
	case e.triggers <- struct{}{}:
	default:
	}
}

// Run executes the event loop until ctx is done, or until the engine is idle
// when StopWhenIdle is set. In-flight fetches are awaited before returning.
func (e *Engine) Run(ctx context.Context) error {
	changes := make(chan network.Change, 16)
	sub := e.cfg.Network.Subscribe(changes)
	defer sub.Unsubscribe()

	// Sink writes outlive cancellation so queued batches are drained on exit.
	sinkCtx := context.WithoutCancel(ctx)
	ctx, cancel := context.WithCancel(ctx)
	e.sinkJobs = make(chan sinkBatch, 64)
	sinkDone := make(chan struct{})
	go e.sinkWorker(sinkCtx, e.sinkJobs, sinkDone)
	defer func() {
		cancel()
		e.wg.Wait()
		close(e.sinkJobs)
		<-sinkDone
	}()

	var tick <-chan time.Time
	if e.cfg.RetryInterval > 0 {
		ticker := time.NewTicker(e.cfg.RetryInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	e.onNetworkChange(ctx)

	for {
		if e.cfg.StopWhenIdle && e.idle() {
			e.logger.Debug("engine idle")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err != nil {
				return fmt.Errorf("network subscription: %w", err)
			}
			return nil
		case change := <-changes:
			e.logger.Info("network changed", zap.String("network", change.Name), zap.Bool("online", change.Online))
			e.onNetworkChange(ctx)
		case <-e.triggers:
			e.evaluate(ctx)
		case <-tick:
			e.evaluate(ctx)
		case res := <-e.results:
			e.apply(res)
		}
	}
}

// Status reports the progress of network.
func (e *Engine) Status(network string) Status {
	e.statusMu.RLock()
	st, ok := e.status[network]
	e.statusMu.RUnlock()
	if !ok {
		part := e.cfg.Pairs.Get(network)
		return Status{Network: network, Pairs: len(part.Pairs), Loading: part.Loading}
	}
	return st
}

// Statuses reports every network the pair store holds, sorted by name.
func (e *Engine) Statuses() []Status {
	keys := e.cfg.Pairs.Keys()
	out := make([]Status, 0, len(keys))
	for _, network := range keys {
		out = append(out, e.Status(network))
	}
	return out
}

// View returns a snapshot of the active network's partition.
func (e *Engine) View() View {
	name, _ := e.cfg.Network.Current()
	return e.ViewOf(name)
}

// ViewOf returns a snapshot of network's partition.
func (e *Engine) ViewOf(network string) View {
	return newView(network, e.cfg.Pairs.Get(network))
}

func (e *Engine) Pairs() []model.Pair { return e.View().Pairs() }

func (e *Engine) GetPair(contractAddr string) (model.Pair, bool) {
	return e.View().GetPair(contractAddr)
}

func (e *Engine) FindPair(addresses [2]string) (model.Pair, bool) {
	return e.View().FindPair(addresses)
}

func (e *Engine) FindPairByLpAddress(lpAddress string) (model.Pair, bool) {
	return e.View().FindPairByLpAddress(lpAddress)
}

func (e *Engine) GetPairedAddresses(address string) []string {
	return e.View().GetPairedAddresses(address)
}

func (e *Engine) AvailableAssetAddresses() AvailableAssets {
	return e.View().AvailableAssetAddresses()
}

func (e *Engine) state(network string) *syncState {
	st, ok := e.states[network]
	if !ok {
		st = &syncState{}
		e.states[network] = st
	}
	return st
}

func (e *Engine) idle() bool {
	for _, st := range e.states {
		if st.inFlight {
			return false
		}
	}
	return len(e.triggers) == 0 && len(e.results) == 0
}

func (e *Engine) publishStatus(network string) {
	st := e.state(network)
	part := e.cfg.Pairs.Get(network)
	status := Status{
		Network:             network,
		Pairs:               len(part.Pairs),
		Loading:             part.Loading,
		InFlight:            st.inFlight,
		Started:             st.started,
		LastPairAddr:        st.lastSeen,
		ConsecutiveFailures: st.failures,
		LastFetchAt:         st.lastAt,
	}
	if st.lastErr != nil {
		status.LastError = st.lastErr.Error()
	}

	e.statusMu.Lock()
	e.status[network] = status
	e.statusMu.Unlock()

	e.metrics.PairsInStore.WithLabelValues(network).Set(float64(status.Pairs))
	loading := 0.0
	if status.Loading {
		loading = 1
	}
	e.metrics.Loading.WithLabelValues(network).Set(loading)
}

func (e *Engine) sinkWorker(ctx context.Context, jobs <-chan sinkBatch, done chan<- struct{}) {
	defer close(done)
	for job := range jobs {
		if err := e.cfg.Sink.PutPairBatch(ctx, job.network, job.pairs); err != nil {
			e.metrics.SinkErrors.WithLabelValues(job.network).Inc()
			e.logger.Warn("store pairs failed", zap.Error(err), zap.String("network", job.network), zap.Int("pairs", len(job.pairs)))
			continue
		}
		e.logger.Debug("pairs stored", zap.String("network", job.network), zap.Int("pairs", len(job.pairs)))
	}
}
