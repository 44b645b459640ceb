// Package audit records build and finalize outcomes off the request path.
package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
	"github.com/goodnatureofminers/txbuild7000-backend/pkg/batcher"
)

const (
	DefaultFlushSize     = 500
	DefaultFlushInterval = 2 * time.Second
	DefaultFlushRPS      = 10
)

type Config struct {
	FlushSize     int
	FlushInterval time.Duration
	FlushRPS      int
}

// Sink batches events into a Writer. Record never blocks: when the buffer is
// full the event is dropped and counted.
type Sink struct {
	batcher *batcher.Batcher[model.AuditEvent]
	dropped atomic.Uint64
	logger  *zap.Logger
}

func NewSink(writer Writer, cfg Config, logger *zap.Logger) (*Sink, error) {
	if writer == nil {
		return nil, errors.New("audit writer is required")
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = DefaultFlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.FlushRPS <= 0 {
		cfg.FlushRPS = DefaultFlushRPS
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("audit")
	return &Sink{
		batcher: batcher.New(logger, writer.InsertAuditEvents, cfg.FlushSize, cfg.FlushInterval, cfg.FlushRPS),
		logger:  logger,
	}, nil
}

// Start runs the flush loop until ctx is canceled or Stop is called.
func (s *Sink) Start(ctx context.Context) {
	s.batcher.Start(ctx)
}

// Stop flushes buffered events and waits for the loop.
func (s *Sink) Stop() {
	s.batcher.Stop()
	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("audit events dropped", zap.Uint64("count", n))
	}
}

func (s *Sink) Record(_ context.Context, e model.AuditEvent) {
	if s.batcher.TryAdd(e) {
		return
	}
	if s.dropped.Add(1) == 1 {
		s.logger.Warn("audit buffer full, dropping events", zap.String("request_id", e.RequestID))
	}
}

// Dropped returns how many events were discarded.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Logger writes every event to a zap logger. It is the auditor used when no
// audit store is configured.
type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("audit")}
}

func (l *Logger) Record(_ context.Context, e model.AuditEvent) {
	l.logger.Info("audit",
		zap.String("request_id", e.RequestID),
		zap.String("customer_id", e.CustomerID),
		zap.String("operation", e.Operation),
		zap.String("stage", string(e.Stage)),
		zap.String("code", string(e.Code)),
		zap.String("tx_hash", e.TxHash),
		zap.Uint64("fee", e.Fee),
		zap.Int("inputs", e.Inputs),
		zap.Time("at", e.At),
	)
}
