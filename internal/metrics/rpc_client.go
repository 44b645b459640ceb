package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerRPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger_rpc",
		Name:      "operations_total",
		Help:      "Count of ledger gateway RPC operations.",
	}, []string{"operation", "network", "status"})
	ledgerRPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger_rpc",
		Name:      "operation_duration_seconds",
		Help:      "Duration of ledger gateway RPC operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "network", "status"})
)

// RPCClient tracks metrics for calls to the ledger gateway.
type RPCClient struct {
	network string
}

// NewRPCClient constructs a metrics collector for ledger RPC calls.
func NewRPCClient(network string) *RPCClient {
	if network == "" {
		network = "unknown"
	}
	return &RPCClient{network: network}
}

// Observe records a single RPC call outcome and duration.
func (m RPCClient) Observe(operation string, err error, started time.Time) {
	status := statusOf(err)
	ledgerRPCRequestsTotal.WithLabelValues(operation, m.network, status).Inc()
	ledgerRPCRequestDuration.WithLabelValues(operation, m.network, status).Observe(time.Since(started).Seconds())
}
