package pairs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pairsync/internal/model"
	"pairsync/internal/pairapi"
	"pairsync/internal/store"
)

// evaluate starts a fetch for the active partition when it is allowed to.
func (e *Engine) evaluate(ctx context.Context) {
	name, online := e.cfg.Network.Current()
	if name == "" || !online {
		e.logger.Debug("skip fetch", zap.String("network", name), zap.Bool("online", online))
		return
	}

	st := e.state(name)
	if st.inFlight {
		return
	}
	part := e.cfg.Pairs.Get(name)
	// A loading partition this engine never fetched belongs to another writer.
	if !st.started && part.Loading {
		return
	}

	e.startFetch(ctx, name, st, part)
}

func (e *Engine) startFetch(ctx context.Context, name string, st *syncState, part store.Partition) {
	st.started = true
	st.inFlight = true

	if !part.Loading {
		e.cfg.Pairs.Update(name, func(current store.Partition) (store.Partition, bool) {
			if current.Loading {
				return current, false
			}
			current.Loading = true
			return current, true
		})
	}

	req := pairapi.PageRequest{Limit: e.cfg.Limit}
	cursor := ""
	if n := len(part.Pairs); n > 0 {
		last := part.Pairs[n-1]
		infos := last.AssetInfos
		req.StartAfter = &infos
		cursor = last.ContractAddr
	}
	e.publishStatus(name)

	e.logger.Debug("fetch pairs", zap.String("network", name), zap.String("after", cursor), zap.Int("limit", req.Limit))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		start := time.Now()
		page, err := e.cfg.API.GetPairs(ctx, name, req)
		res := fetchResult{
			network:  name,
			cursor:   cursor,
			page:     page,
			err:      err,
			duration: time.Since(start),
		}
		select {
		case e.results <- res:
		case <-ctx.Done():
		}
	}()
}

// apply folds a fetch result into its own partition, which need not be the
// active one any more.
func (e *Engine) apply(res fetchResult) {
	st := e.state(res.network)
	st.inFlight = false
	st.lastAt = time.Now()
	e.metrics.FetchDuration.WithLabelValues(res.network).Observe(res.duration.Seconds())
	defer e.publishStatus(res.network)

	if res.err != nil {
		st.failures++
		st.lastErr = &FetchError{Network: res.network, Cursor: res.cursor, Err: res.err}
		e.metrics.FetchErrors.WithLabelValues(res.network).Inc()
		e.logger.Warn("fetch pairs failed",
			zap.Error(res.err),
			zap.String("network", res.network),
			zap.String("after", res.cursor),
			zap.Int("consecutive_failures", st.failures),
		)
		return
	}
	st.failures = 0
	st.lastErr = nil

	if len(res.page.Pairs) == 0 {
		e.metrics.PagesFetched.WithLabelValues(res.network, "empty").Inc()
		e.finish(res.network)
		return
	}

	page := normalizePage(res.page.Pairs)
	lastAddr := page[len(page)-1].ContractAddr
	if lastAddr == st.lastSeen {
		e.metrics.PagesFetched.WithLabelValues(res.network, "repeat").Inc()
		e.finish(res.network)
		return
	}
	st.lastSeen = lastAddr
	e.metrics.PagesFetched.WithLabelValues(res.network, "progress").Inc()

	var added []model.Pair
	next, _ := e.cfg.Pairs.Update(res.network, func(current store.Partition) (store.Partition, bool) {
		var merged store.Partition
		merged, added = mergePairs(current, page)
		return merged, true
	})

	e.logger.Info("pairs merged",
		zap.String("network", res.network),
		zap.Int("page", len(page)),
		zap.Int("added", len(added)),
		zap.Int("total", len(next.Pairs)),
		zap.String("last_pair", lastAddr),
	)

	if len(added) > 0 && e.cfg.Sink != nil {
		e.enqueueSink(res.network, added)
	}
	e.reconcile(res.network, next.AssetAddresses)

	// The partition changed, so the next page is due.
	e.Trigger()
}

// enqueueSink hands a batch to the sink worker without blocking the loop. A
// batch that does not fit the queue is dropped and counted as a sink error.
func (e *Engine) enqueueSink(network string, added []model.Pair) {
	select {
	case e.sinkJobs <- sinkBatch{network: network, pairs: added}:
	default:
		e.metrics.SinkErrors.WithLabelValues(network).Inc()
		e.logger.Warn("sink queue full, batch dropped", zap.String("network", network), zap.Int("pairs", len(added)))
	}
}

// finish clears the loading flag: pagination of network is complete.
func (e *Engine) finish(network string) {
	_, changed := e.cfg.Pairs.Update(network, func(current store.Partition) (store.Partition, bool) {
		if !current.Loading {
			return current, false
		}
		current.Loading = false
		return current, true
	})
	if changed {
		e.logger.Info("pairs synced", zap.String("network", network), zap.Int("total", len(e.cfg.Pairs.Get(network).Pairs)))
	}
}

func (e *Engine) onNetworkChange(ctx context.Context) {
	name, _ := e.cfg.Network.Current()
	if name != "" {
		e.reconcile(name, e.cfg.Pairs.Get(name).AssetAddresses)
	}
	e.evaluate(ctx)
}

// reconcile registers every derived address and removes the matching custom
// assets. Running it twice on the same addresses changes nothing further.
func (e *Engine) reconcile(network string, addresses []string) {
	if len(addresses) == 0 {
		return
	}

	added := e.cfg.Registry.AddAssets(network, addresses)
	e.metrics.AssetsInRegistry.WithLabelValues(network).Set(float64(len(e.cfg.Registry.ListAssets(network))))
	if added > 0 {
		e.logger.Debug("assets registered", zap.String("network", network), zap.Int("added", added))
	}

	if e.cfg.CustomAssets == nil {
		return
	}
	for _, address := range addresses {
		removed, err := e.cfg.CustomAssets.RemoveCustomAsset(network, address)
		if err != nil {
			e.logger.Warn("remove custom asset failed", zap.Error(err), zap.String("network", network), zap.String("address", address))
			continue
		}
		if removed {
			e.metrics.CustomAssetsRemoved.WithLabelValues(network).Inc()
			e.logger.Info("custom asset superseded", zap.String("network", network), zap.String("address", address))
		}
	}
}
