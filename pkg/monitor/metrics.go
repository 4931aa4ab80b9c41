package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gauges are read at scrape time from whatever owns them.
type Gauges struct {
	HotKeys      func() float64
	ColdKeys     func() float64
	ValueBytes   func() float64
	LiveHandles  func() float64
	PendingFrees func() float64
}

// Metrics exposes TierStats and store gauges on a private registry.
type Metrics struct {
	registry *prometheus.Registry
}

func NewMetrics(stats *TierStats, gauges Gauges) *Metrics {
	registry := prometheus.NewRegistry()

	counter := func(name, help string, v interface{ Load() uint64 }) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tierkv",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, fn func() float64) {
		if fn == nil {
			return
		}
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tierkv",
			Name:      name,
			Help:      help,
		}, fn))
	}

	registry.MustRegister(
		counter("reads_total", "Lookups served by the orchestrator.", &stats.Reads),
		counter("hot_hits_total", "Lookups served by the hot tier.", &stats.HotHits),
		counter("cold_hits_total", "Lookups served by the cold tier.", &stats.ColdHits),
		counter("misses_total", "Lookups absent from both tiers.", &stats.Misses),
		counter("creates_total", "Slots created in the hot tier.", &stats.Creates),
		counter("promotions_total", "Slots promoted from cold to hot.", &stats.Promotions),
		counter("promotion_races_total", "Promotions that lost a concurrent insert race.", &stats.PromotionRaces),
		counter("evictions_total", "Slots demoted from hot to cold.", &stats.Evictions),
		counter("removes_total", "Remove calls.", &stats.Removes),
	)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tierkv",
		Name:      "hot_hit_ratio",
		Help:      "Hot hits over all lookups.",
	}, stats.HotHitRatio))

	gauge("hot_keys", "Keys resident in the hot tier.", gauges.HotKeys)
	gauge("cold_keys", "Keys persisted in the cold tier.", gauges.ColdKeys)
	gauge("value_bytes", "Payload bytes held by live handles.", gauges.ValueBytes)
	gauge("live_handles", "Handles not yet released.", gauges.LiveHandles)
	gauge("pending_frees", "Evicted handles waiting on the invalidation list.", gauges.PendingFrees)

	return &Metrics{registry: registry}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
