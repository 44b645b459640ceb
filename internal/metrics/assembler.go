package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assemblerBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assembler",
		Name:      "builds_total",
		Help:      "Count of transaction builds by operation and result code.",
	}, []string{"operation", "code"})
	assemblerBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "assembler",
		Name:      "build_duration_seconds",
		Help:      "Duration of transaction builds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "code"})
	assemblerFeeRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "assembler",
		Name:      "fee_rounds",
		Help:      "Fee iteration rounds needed per build.",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	})
	assemblerReserveAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "assembler",
		Name:      "reserve_attempts",
		Help:      "Reservation attempts needed per build.",
		Buckets:   prometheus.LinearBuckets(1, 1, 6),
	})
	assemblerScriptEvalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "assembler",
		Name:      "script_evaluation_duration_seconds",
		Help:      "Duration of script cost evaluation per transaction.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	}, []string{"status"})

	finalizerTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "finalizer",
		Name:      "finalizations_total",
		Help:      "Count of finalize requests by family and result code.",
	}, []string{"family", "code"})
)

// Assembler tracks metrics for transaction assembly.
type Assembler struct{}

// NewAssembler creates an Assembler metrics collector.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// ObserveBuild records a build outcome; code is "OK" on success.
func (m Assembler) ObserveBuild(operation, code string, feeRounds, reserveAttempts int, started time.Time) {
	assemblerBuildsTotal.WithLabelValues(operation, code).Inc()
	assemblerBuildDuration.WithLabelValues(operation, code).Observe(time.Since(started).Seconds())
	if feeRounds > 0 {
		assemblerFeeRounds.Observe(float64(feeRounds))
	}
	if reserveAttempts > 0 {
		assemblerReserveAttempts.Observe(float64(reserveAttempts))
	}
}

// ObserveEvaluation records script cost evaluation.
func (m Assembler) ObserveEvaluation(err error, started time.Time) {
	assemblerScriptEvalDuration.WithLabelValues(statusOf(err)).Observe(time.Since(started).Seconds())
}

// Finalizer tracks metrics for finalization.
type Finalizer struct{}

// NewFinalizer creates a Finalizer metrics collector.
func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// Observe records a finalize outcome; code is "OK" on success.
func (m Finalizer) Observe(family, code string) {
	finalizerTotal.WithLabelValues(family, code).Inc()
}
