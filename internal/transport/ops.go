package transport

import (
	"net/http"
	"time"

	grpcMiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcZap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpcRecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpcCtxTags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpcPrometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// NewGRPCServer builds the ops gRPC server with recovery, tags, Prometheus and
// zap interceptors, and registers the health service on it.
func NewGRPCServer(health *HealthHandler, logger *zap.Logger) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{
		grpcRecovery.UnaryServerInterceptor(),
		grpcCtxTags.UnaryServerInterceptor(),
		grpcPrometheus.UnaryServerInterceptor,
		grpcZap.UnaryServerInterceptor(logger),
	}
	streamChain := []grpc.StreamServerInterceptor{
		grpcRecovery.StreamServerInterceptor(),
		grpcCtxTags.StreamServerInterceptor(),
		grpcPrometheus.StreamServerInterceptor,
		grpcZap.StreamServerInterceptor(logger),
	}
	s := grpc.NewServer(
		grpc.UnaryInterceptor(grpcMiddleware.ChainUnaryServer(chain...)),
		grpc.StreamInterceptor(grpcMiddleware.ChainStreamServer(streamChain...)),
	)
	health.Register(s)
	grpcPrometheus.EnableHandlingTimeHistogram()
	grpcPrometheus.Register(s)
	return s
}

// NewOpsHandler serves /metrics and /healthz behind permissive CORS.
func NewOpsHandler(health *HealthHandler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	return cors.Default().Handler(mux)
}

// NewOpsServer wraps NewOpsHandler in an http.Server with the usual timeouts.
func NewOpsServer(addr string, health *HealthHandler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewOpsHandler(health),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}
}
