// Package transport exposes the operational gRPC and HTTP endpoints: health
// checks and Prometheus metrics.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the build server.
const ServiceName = "txbuild7000.BuildServer"

// Probe checks one dependency.
type Probe interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler reports dependency readiness over gRPC health and HTTP.
type HealthHandler struct {
	probes  map[string]Probe
	timeout time.Duration
	server  *health.Server
	logger  *zap.Logger

	mu   sync.RWMutex
	last map[string]string
}

// NewHealthHandler returns a handler that is NOT_SERVING until the first check.
func NewHealthHandler(probes map[string]Probe, timeout time.Duration, logger *zap.Logger) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthHandler{
		probes:  probes,
		timeout: timeout,
		server:  health.NewServer(),
		logger:  logger.Named("health"),
		last:    make(map[string]string),
	}
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register adds the gRPC health service to s.
func (h *HealthHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Check runs every probe and updates the serving status. It returns the
// failure message per dependency, empty for healthy ones.
func (h *HealthHandler) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type outcome struct {
		name string
		err  error
	}
	results := make(chan outcome, len(h.probes))
	for name, p := range h.probes {
		go func() { results <- outcome{name: name, err: p.Ping(ctx)} }()
	}

	status := make(map[string]string, len(h.probes))
	healthy := true
	for range h.probes {
		o := <-results
		status[o.name] = ""
		if o.err != nil {
			status[o.name] = o.err.Error()
			healthy = false
		}
	}

	h.mu.Lock()
	for name, msg := range status {
		if prev, seen := h.last[name]; !seen || prev != msg {
			if msg == "" {
				h.logger.Info("dependency healthy", zap.String("dependency", name))
			} else {
				h.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.String("error", msg))
			}
		}
	}
	h.last = status
	h.mu.Unlock()

	if healthy {
		h.setStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return status, healthy
}

// Run checks every interval until ctx is done, then reports NOT_SERVING for good.
func (h *HealthHandler) Run(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

func (h *HealthHandler) setStatus(s healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", s)
	h.server.SetServingStatus(ServiceName, s)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ServeHTTP answers /healthz with 200 when every dependency is up and 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, healthy := h.Check(r.Context())
	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(status))}
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if status[name] == "" {
			resp.Checks[name] = "ok"
		} else {
			resp.Checks[name] = status[name]
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		resp.Status = "unavailable"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Debug("write health response", zap.Error(err))
	}
}
