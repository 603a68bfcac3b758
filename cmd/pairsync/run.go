package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pairsync/internal/config"
	"pairsync/internal/customasset"
	"pairsync/internal/httpapi"
	"pairsync/internal/metrics"
	"pairsync/internal/network"
	"pairsync/internal/pairapi"
	"pairsync/internal/pairs"
	"pairsync/internal/storage"
	"pairsync/internal/storage/postgres"
	"pairsync/internal/store"
)

// service is everything one engine needs, built from Config.
type service struct {
	cfg      config.Config
	logger   *zap.Logger
	network  *network.Context
	pairs    *store.PairStore
	registry *store.AssetRegistry
	custom   *customasset.List
	promReg  *prometheus.Registry
	engine   *pairs.Engine
	cps      *pairs.CheckpointStore
	pg       *postgres.Store
	networks []string
	closers  []func()
}

func (r *service) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.logger.Sync()
}

func newService(ctx context.Context, cmd *cobra.Command, stopWhenIdle bool) (*service, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &service{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	endpoints := make(map[string]pairapi.Endpoint, len(cfg.Networks))
	for name, ep := range cfg.Networks {
		endpoints[name] = pairapi.Endpoint{LCD: ep.LCD, Factory: ep.Factory}
	}
	client, err := pairapi.NewClient(pairapi.Config{
		Endpoints:    endpoints,
		Timeout:      cfg.RequestTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, logger)
	if err != nil {
		return nil, err
	}
	rt.networks = client.Networks()

	rt.custom, err = customasset.Open(cfg.CustomAssets)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { rt.custom.Close() })

	sink, err := rt.buildSink(ctx)
	if err != nil {
		return nil, err
	}

	rt.promReg = prometheus.NewRegistry()
	rt.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt.network = network.NewContext(cfg.Network, !cfg.Offline)
	rt.pairs = store.NewPairStore()
	rt.registry = store.NewAssetRegistry()
	rt.engine, err = pairs.NewEngine(pairs.Config{
		API:           client,
		Network:       rt.network,
		Pairs:         rt.pairs,
		Registry:      rt.registry,
		CustomAssets:  rt.custom,
		Sink:          sink,
		Metrics:       metrics.New(rt.promReg),
		Logger:        logger,
		Limit:         cfg.Limit,
		RetryInterval: cfg.RetryInterval,
		StopWhenIdle:  stopWhenIdle,
	})
	if err != nil {
		return nil, err
	}

	rt.cps = pairs.NewCheckpointStore(cfg.Checkpoint, true)
	cp, found, err := rt.cps.Load(cfg.Network)
	if err != nil {
		return nil, err
	}
	if !found && rt.pg != nil {
		// The Postgres mirror stands in for a missing checkpoint.
		stored, err := rt.pg.ListPairs(ctx, cfg.Network)
		if err != nil {
			return nil, fmt.Errorf("load stored pairs: %w", err)
		}
		cp, found = pairs.Checkpoint{Network: cfg.Network, Pairs: stored}, len(stored) > 0
	}
	if found {
		rt.engine.Restore(cp)
	}

	ok = true
	return rt, nil
}

func (r *service) saveCheckpoint() {
	cp := r.engine.Checkpoint(r.cfg.Network)
	if len(cp.Pairs) == 0 {
		return
	}
	if err := r.cps.Save(cp); err != nil {
		r.logger.Warn("save checkpoint failed", zap.Error(err))
	}
}

func (r *service) buildSink(ctx context.Context) (storage.Sink, error) {
	var sinks storage.Multi
	if r.cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(r.cfg.Out))
	}
	if r.cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, r.cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		r.closers = append(r.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		sinks = append(sinks, pg)
		r.pg = pg
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newService(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ep := rt.cfg.Networks[rt.cfg.Network]
	rt.logger.Info("sync start",
		zap.String("network", rt.cfg.Network),
		zap.String("lcd", ep.LCD),
		zap.String("factory", ep.Factory),
		zap.Int("limit", rt.cfg.Limit),
		zap.String("out", rt.cfg.Out),
		zap.Bool("postgres", rt.cfg.PGDSN != ""),
	)

	err = rt.engine.Run(ctx)
	rt.saveCheckpoint()
	if err != nil {
		return err
	}

	status := rt.engine.Status(rt.cfg.Network)
	rt.logger.Info("sync done",
		zap.String("network", status.Network),
		zap.Int("pairs", status.Pairs),
		zap.Bool("loading", status.Loading),
		zap.Int("assets", len(rt.registry.ListAssets(rt.cfg.Network))),
	)
	if status.LastError != "" {
		return fmt.Errorf("sync stalled after %d pairs: %s", status.Pairs, status.LastError)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newService(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	hub := httpapi.NewHub(rt.network, rt.logger, rt.pairs, rt.registry)
	server, err := httpapi.NewServer(httpapi.Config{
		Pairs:        rt.engine,
		Network:      rt.network,
		Registry:     rt.registry,
		CustomAssets: rt.custom,
		Hub:          hub,
		Gatherer:     rt.promReg,
		Networks:     rt.networks,
		Logger:       rt.logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()
	engineDone := make(chan error, 1)
	go func() { engineDone <- rt.engine.Run(ctx) }()

	rt.logger.Info("serve start",
		zap.String("network", rt.cfg.Network),
		zap.Strings("networks", rt.networks),
		zap.String("listen", rt.cfg.Listen),
	)

	serveErr := server.Run(ctx, rt.cfg.Listen)
	cancel()

	engineErr := <-engineDone
	rt.saveCheckpoint()
	if errors.Is(engineErr, context.Canceled) {
		engineErr = nil
	}
	<-hubDone

	if serveErr != nil {
		return serveErr
	}
	return engineErr
}
