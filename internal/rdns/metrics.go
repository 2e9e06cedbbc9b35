package rdns

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yk_rdns",
			Name:      "reconcile_total",
			Help:      "Total number of PTR reconciliations by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yk_rdns",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of PTR reconciliations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"provider"},
	)
)

func init() {
	metrics.Registry.MustRegister(reconcileTotal, reconcileDuration)
}

func recordReconcile(provider string, outcome Outcome, d time.Duration) {
	reconcileTotal.WithLabelValues(provider, string(outcome)).Inc()
	reconcileDuration.WithLabelValues(provider).Observe(d.Seconds())
}
