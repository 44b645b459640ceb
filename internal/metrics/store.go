// Package metrics exposes application metrics collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "txbuild7000"

var (
	reservationStoreTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reservation_store",
		Name:      "operations_total",
		Help:      "Count of reservation store operations.",
	}, []string{"operation", "backend", "status"})
	reservationStoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reservation_store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of reservation store operations.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "backend", "status"})
	reservationConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reservation_store",
		Name:      "conflicting_outputs_total",
		Help:      "Count of outputs found held by another request during reserve.",
	}, []string{"backend"})

	artifactStoreTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "artifact_store",
		Name:      "operations_total",
		Help:      "Count of artifact store operations.",
	}, []string{"operation", "backend", "status"})
	artifactStoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "artifact_store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of artifact store operations.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "backend", "status"})
)

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Store tracks metrics for one store backend.
type Store struct {
	backend   string
	total     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	conflicts *prometheus.CounterVec
}

// NewReservationStore returns the collector for reservation store operations.
func NewReservationStore(backend string) *Store {
	return &Store{
		backend:   orUnknown(backend),
		total:     reservationStoreTotal,
		duration:  reservationStoreDuration,
		conflicts: reservationConflictsTotal,
	}
}

// NewArtifactStore returns the collector for artifact store operations.
func NewArtifactStore(backend string) *Store {
	return &Store{
		backend:  orUnknown(backend),
		total:    artifactStoreTotal,
		duration: artifactStoreDuration,
	}
}

// Observe records a single store operation.
func (m Store) Observe(operation string, err error, started time.Time) {
	status := statusOf(err)
	m.total.WithLabelValues(operation, m.backend, status).Inc()
	m.duration.WithLabelValues(operation, m.backend, status).Observe(time.Since(started).Seconds())
}

// ObserveConflict counts outputs another request already holds.
func (m Store) ObserveConflict(held int) {
	if m.conflicts == nil || held == 0 {
		return
	}
	m.conflicts.WithLabelValues(m.backend).Add(float64(held))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
