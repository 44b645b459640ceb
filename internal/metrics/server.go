package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	serverCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "commands_total",
		Help:      "Count of handled commands by result code.",
	}, []string{"command", "code"})
	serverCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "command_duration_seconds",
		Help:      "Duration of handled commands.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"command", "code"})
	serverConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "connections",
		Help:      "Number of open client connections.",
	})
	serverConnectionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "connections_closed_total",
		Help:      "Count of closed client connections by reason.",
	}, []string{"reason"})
)

// Server tracks metrics for the build server connection loop.
type Server struct{}

// NewServer creates a Server metrics collector.
func NewServer() *Server {
	return &Server{}
}

// ObserveCommand records a command and the code it ended with; code is "OK" on success.
func (m Server) ObserveCommand(command, code string, started time.Time) {
	if command == "" {
		command = "unknown"
	}
	serverCommandsTotal.WithLabelValues(command, code).Inc()
	serverCommandDuration.WithLabelValues(command, code).Observe(time.Since(started).Seconds())
}

// ConnectionOpened increments the open connections gauge.
func (m Server) ConnectionOpened() {
	serverConnections.Inc()
}

// ConnectionClosed decrements the open connections gauge.
func (m Server) ConnectionClosed(reason string) {
	serverConnections.Dec()
	serverConnectionsClosed.WithLabelValues(reason).Inc()
}
