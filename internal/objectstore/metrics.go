package objectstore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics holds Prometheus metrics for object store operations.
type storeMetrics struct {
	operations *prometheus.CounterVec   // by operation and outcome
	latency    *prometheus.HistogramVec // by operation
}

// newStoreMetrics registers object store metrics with reg.
// A nil registerer disables metrics.
func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	if reg == nil {
		return nil
	}
	m := &storeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tshirt",
			Subsystem: "objectstore",
			Name:      "operations_total",
			Help:      "Total number of object store operations",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tshirt",
			Subsystem: "objectstore",
			Name:      "duration_seconds",
			Help:      "Object store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	m.operations = register(reg, m.operations)
	m.latency = register(reg, m.latency)
	return m
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *storeMetrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
