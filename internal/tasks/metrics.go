package tasks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "datainserter"

// Metrics holds the Prometheus collectors updated while provisioning. A nil *Metrics records nothing.
type Metrics struct {
	records  *prometheus.CounterVec
	retries  prometheus.Counter
	duration prometheus.Histogram
	batches  prometheus.Counter
}

// NewMetrics registers the provisioning collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_total",
			Help:      "Records that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Provisioning attempts retried after a transient store error.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "record_duration_seconds",
			Help:      "Time spent provisioning one record, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_total",
			Help:      "Batches processed.",
		}),
	}
}

func (m *Metrics) record(outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observe(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) batch() {
	if m == nil {
		return
	}
	m.batches.Inc()
}

// WriteTextfile writes the metrics gathered by g to path in the node exporter textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
