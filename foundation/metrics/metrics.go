// Package metrics exposes the node's operational gauges over a prometheus
// endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instruments the node updates as it runs.
type Metrics struct {
	TipHeight      prometheus.Gauge
	MempoolDepth   prometheus.Gauge
	ConnectedPeers prometheus.Gauge
	SupplyBurned   prometheus.Gauge

	registry *prometheus.Registry
}

// New constructs the instrument set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		TipHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quanta_tip_height",
			Help: "Height of the canonical tip.",
		}),
		MempoolDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quanta_mempool_depth",
			Help: "Transactions currently pooled.",
		}),
		ConnectedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quanta_connected_peers",
			Help: "Ready peer connections.",
		}),
		SupplyBurned: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quanta_supply_burned_microunits",
			Help: "Total supply burned through fees.",
		}),
		registry: registry,
	}
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
