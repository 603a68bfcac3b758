// Package metrics defines the Prometheus instruments of the pair sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every instrument, labeled by network.
type Metrics struct {
	PagesFetched        *prometheus.CounterVec
	FetchErrors         *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	PairsInStore        *prometheus.GaugeVec
	Loading             *prometheus.GaugeVec
	AssetsInRegistry    *prometheus.GaugeVec
	CustomAssetsRemoved *prometheus.CounterVec
	SinkErrors          *prometheus.CounterVec
}

// New registers the instruments with reg. A nil reg uses a private registry,
// which keeps tests and multiple engines from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairsync",
			Name:      "pages_fetched_total",
			Help:      "Pair pages fetched from the remote API, labeled by outcome.",
		}, []string{"network", "outcome"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairsync",
			Name:      "fetch_errors_total",
			Help:      "Failed pair page fetches.",
		}, []string{"network"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pairsync",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of a single pair page fetch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"network"}),
		PairsInStore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pairsync",
			Name:      "pairs",
			Help:      "Pairs currently mirrored per network.",
		}, []string{"network"}),
		Loading: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pairsync",
			Name:      "loading",
			Help:      "1 while pagination of the network has not completed.",
		}, []string{"network"}),
		AssetsInRegistry: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pairsync",
			Name:      "registry_assets",
			Help:      "Assets in the derived registry per network.",
		}, []string{"network"}),
		CustomAssetsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairsync",
			Name:      "custom_asset_removals_total",
			Help:      "Custom asset removals issued because the asset appeared in pair data.",
		}, []string{"network"}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairsync",
			Name:      "sink_errors_total",
			Help:      "Failed writes of merged pairs to the configured sink.",
		}, []string{"network"}),
	}
}

// Handler exposes the default gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
