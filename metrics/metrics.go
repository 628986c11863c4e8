// Package metrics registers the Cache Client Facade's Prometheus
// counters: operation outcomes, retries, and fleet health. Grounded on
// the dcache reference client's own Hit/Latency/Error MetricSet.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Set holds every counter/gauge the Facade updates. A nil *Set is safe
// to call methods on; every method is a no-op in that case, so metrics
// stay opt-in.
type Set struct {
	Ops       *prometheus.CounterVec
	Retries   *prometheus.CounterVec
	Buckets   *prometheus.GaugeVec
}

// NewSet builds a Set and, if register is true, registers every metric
// against the default Prometheus registry under the given namespace.
func NewSet(namespace string, register bool) *Set {
	s := &Set{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dache_ops_total",
			Help:      "Cache client operations by name and outcome.",
		}, []string{"op", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dache_retries_total",
			Help:      "Transport-failure retries by operation.",
		}, []string{"op"}),
		Buckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dache_buckets_offline",
			Help:      "1 if a Bucket index is in the offline-index-set, else 0.",
		}, []string{"bucket_index"}),
	}
	if register {
		prometheus.MustRegister(s.Ops, s.Retries, s.Buckets)
	}
	return s
}

func (s *Set) ObserveOp(op, outcome string) {
	if s == nil {
		return
	}
	s.Ops.WithLabelValues(op, outcome).Inc()
}

func (s *Set) ObserveRetry(op string) {
	if s == nil {
		return
	}
	s.Retries.WithLabelValues(op).Inc()
}

func (s *Set) SetBucketOffline(index int, offline bool) {
	if s == nil {
		return
	}
	v := 0.0
	if offline {
		v = 1.0
	}
	s.Buckets.WithLabelValues(strconv.Itoa(index)).Set(v)
}
