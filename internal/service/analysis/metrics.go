package analysis

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics holds worker-level Prometheus collectors shared by the collector loop.
type Metrics struct {
	once        sync.Once
	initialized bool

	batchesConsumed   prometheus.Counter
	batchesRejected   prometheus.Counter
	rawResultsStored  prometheus.Counter
	sessionsFinalized *prometheus.CounterVec
	donePublishes     *prometheus.CounterVec
	aggregateDuration prometheus.Histogram
}

// NewMetrics registers the worker collectors, reusing existing ones when the
// process registered them before.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.once.Do(func() {
		m.batchesConsumed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raporting",
			Subsystem: "analyzer",
			Name:      "batches_consumed_total",
			Help:      "Count of raw measurement batches processed and acknowledged",
		})
		m.batchesRejected = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raporting",
			Subsystem: "analyzer",
			Name:      "batches_rejected_total",
			Help:      "Count of malformed batches rejected without redelivery",
		})
		m.rawResultsStored = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raporting",
			Subsystem: "analyzer",
			Name:      "raw_results_stored_total",
			Help:      "Count of raw measurement rows persisted",
		})
		m.sessionsFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raporting",
			Subsystem: "analyzer",
			Name:      "sessions_finalized_total",
			Help:      "Count of finalized session attempts by outcome and completion reason",
		}, []string{"outcome", "reason"})
		m.donePublishes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raporting",
			Subsystem: "analyzer",
			Name:      "done_publishes_total",
			Help:      "Count of finished-signal publishes by result",
		}, []string{"result"})
		m.aggregateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raporting",
			Subsystem: "analyzer",
			Name:      "aggregation_duration_seconds",
			Help:      "Duration of session aggregate recomputation",
			Buckets:   durationBuckets,
		})

		collectors := []prometheus.Collector{
			m.batchesConsumed, m.batchesRejected, m.rawResultsStored,
			m.sessionsFinalized, m.donePublishes, m.aggregateDuration,
		}
		for i, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch existing := already.ExistingCollector.(type) {
					case prometheus.Counter:
						switch i {
						case 0:
							m.batchesConsumed = existing
						case 1:
							m.batchesRejected = existing
						case 2:
							m.rawResultsStored = existing
						}
					case *prometheus.CounterVec:
						if i == 3 {
							m.sessionsFinalized = existing
						} else {
							m.donePublishes = existing
						}
					case prometheus.Histogram:
						m.aggregateDuration = existing
					}
				}
			}
		}
		m.initialized = true
	})
	return m
}

// BatchConsumed records one acknowledged batch carrying n raw results.
func (m *Metrics) BatchConsumed(n int) {
	if m == nil || !m.initialized {
		return
	}
	m.batchesConsumed.Inc()
	m.rawResultsStored.Add(float64(n))
}

// BatchRejected records one batch rejected without redelivery.
func (m *Metrics) BatchRejected() {
	if m == nil || !m.initialized {
		return
	}
	m.batchesRejected.Inc()
}

// SessionFinalized records one finalized session attempt.
func (m *Metrics) SessionFinalized(outcome string, reason CompletionReason) {
	if m == nil || !m.initialized {
		return
	}
	m.sessionsFinalized.With(prometheus.Labels{"outcome": outcome, "reason": string(reason)}).Inc()
}

// DonePublished records one finished-signal publish attempt.
func (m *Metrics) DonePublished(result string) {
	if m == nil || !m.initialized {
		return
	}
	m.donePublishes.With(prometheus.Labels{"result": result}).Inc()
}

// ObserveAggregation records how long one recomputation took.
func (m *Metrics) ObserveAggregation(d time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	m.aggregateDuration.Observe(d.Seconds())
}
