package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/efreitasn/matchingengine/internal/domain"
	"github.com/efreitasn/matchingengine/internal/engine"
)

const namespace = "matching_engine"

var instrumentLabels = []string{"asset_class", "symbol"}

// Source supplies per-instrument metrics keyed by "ASSET_CLASS:SYMBOL".
type Source interface {
	AllMetrics() map[string]engine.Metrics
}

// Collector exposes book metrics as const metrics, read at scrape time.
type Collector struct {
	source  Source
	orders  *prometheus.Desc
	trades  *prometheus.Desc
	volume  *prometheus.Desc
	latency *prometheus.Desc
}

// NewCollector creates a collector over source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		orders: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "orders_total"),
			"Accepted orders per instrument.",
			instrumentLabels, nil,
		),
		trades: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "trades_total"),
			"Executed trades per instrument.",
			instrumentLabels, nil,
		),
		volume: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "volume_total"),
			"Traded quantity per instrument, in lots.",
			instrumentLabels, nil,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "avg_latency_microseconds"),
			"Mean submission latency per instrument.",
			instrumentLabels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.orders
	ch <- c.trades
	ch <- c.volume
	ch <- c.latency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for key, m := range c.source.AllMetrics() {
		ik, err := domain.ParseInstrumentKey(key)
		if err != nil {
			continue
		}
		labels := []string{string(ik.AssetClass), ik.Symbol}
		ch <- prometheus.MustNewConstMetric(c.orders, prometheus.CounterValue, float64(m.TotalOrders), labels...)
		ch <- prometheus.MustNewConstMetric(c.trades, prometheus.CounterValue, float64(m.TotalTrades), labels...)
		ch <- prometheus.MustNewConstMetric(c.volume, prometheus.CounterValue, float64(m.TotalVolume), labels...)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, m.AvgLatencyMicros, labels...)
	}
}

// Register wires the book collector and an event counter for eng into reg.
// The returned func stops counting events.
func Register(reg prometheus.Registerer, eng *engine.MatchingEngine) (func(), error) {
	if err := reg.Register(NewCollector(eng)); err != nil {
		return nil, err
	}

	events := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published by the engine.",
		},
		[]string{"kind"},
	)
	for _, kind := range engine.EventKinds {
		events.WithLabelValues(string(kind))
	}

	unsub := eng.SubscribeAll(func(ev engine.Event) {
		events.WithLabelValues(string(ev.Kind)).Inc()
	})
	return unsub, nil
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
