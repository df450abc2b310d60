package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway. One instance is
// created in main and injected into every component that records.
type Metrics struct {
	VerificationsTotal  *prometheus.CounterVec
	VerificationSeconds prometheus.Histogram
	CacheHits           *prometheus.CounterVec
	CacheMisses         prometheus.Counter
	PaymentsRecorded    prometheus.Counter
	PredictionsComputed prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a caller-supplied registry. Tests use a
// fresh registry per instance to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qguard_payment_verifications_total",
			Help: "Payment verification outcomes by result code",
		}, []string{"result"}),
		VerificationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "qguard_payment_verification_seconds",
			Help:    "Latency of on-chain payment verification",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qguard_cache_hits_total",
			Help: "Cache hits by tier",
		}, []string{"tier"}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "qguard_cache_misses_total",
			Help: "Total cache misses across both tiers",
		}),
		PaymentsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "qguard_payments_recorded_total",
			Help: "Total verified payments recorded by analytics",
		}),
		PredictionsComputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "qguard_gas_predictions_computed_total",
			Help: "Gas predictions recomputed on cache miss or expiry",
		}),
	}
}

// ObserveVerification records one verification outcome and its duration.
func (m *Metrics) ObserveVerification(result string, elapsed time.Duration) {
	m.VerificationsTotal.WithLabelValues(result).Inc()
	m.VerificationSeconds.Observe(elapsed.Seconds())
}
