// Package metrics exposes run counters in the Prometheus format. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flat_notifier"

// Metrics holds the collectors of one process on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ListingsProcessed *prometheus.CounterVec
	ListingsSkipped   *prometheus.CounterVec
	ListingsRecorded  *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	RateLimited       prometheus.Counter
	FetchFailures     *prometheus.CounterVec
	Pruned            *prometheus.CounterVec
	LastRunTimestamp  prometheus.Gauge
	LastRunDuration   prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ListingsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_processed_total",
			Help:      "Listings that passed normalization.",
		}, []string{"source"}),
		ListingsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_skipped_total",
			Help:      "Listings skipped, by reason.",
		}, []string{"source", "reason"}),
		ListingsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_recorded_total",
			Help:      "Listings newly written to the ledger.",
		}, []string{"source"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-destination delivery attempts, by result.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "429 responses received from the messaging API.",
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Provider fetches that yielded no candidates because of an error.",
		}, []string{"source"}),
		Pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_rows_total",
			Help:      "Rows removed by the retention sweep.",
		}, []string{"table"}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		LastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
	m.Registry.MustRegister(
		m.ListingsProcessed, m.ListingsSkipped, m.ListingsRecorded, m.Deliveries,
		m.RateLimited, m.FetchFailures, m.Pruned, m.LastRunTimestamp, m.LastRunDuration,
	)
	return m
}

func (m *Metrics) Processed(source string) {
	if m == nil {
		return
	}
	m.ListingsProcessed.WithLabelValues(source).Inc()
}

func (m *Metrics) Skipped(source, reason string) {
	if m == nil {
		return
	}
	m.ListingsSkipped.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) Recorded(source string) {
	if m == nil {
		return
	}
	m.ListingsRecorded.WithLabelValues(source).Inc()
}

// Delivery counts one attempt; result is "delivered" or "failed".
func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) RateLimit() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) FetchFailed(source string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) PrunedRows(listings, deliveries int64) {
	if m == nil {
		return
	}
	m.Pruned.WithLabelValues("listings").Add(float64(listings))
	m.Pruned.WithLabelValues("deliveries").Add(float64(deliveries))
}

// RunFinished stamps the end of a run.
func (m *Metrics) RunFinished(started, finished time.Time) {
	if m == nil {
		return
	}
	m.LastRunTimestamp.Set(float64(finished.Unix()))
	m.LastRunDuration.Set(finished.Sub(started).Seconds())
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
