// Package server runs the build protocol over TCP: one goroutine per
// connection, one command at a time per connection.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/clock"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/protocol"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/dispatcher"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultWriteTimeout = 10 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
	DefaultDrainGrace   = 5 * time.Second
)

// Close reasons reported to metrics.
const (
	closedByClient   = "client"
	closedIdle       = "idle"
	closedShutdown   = "shutdown"
	closedProtocol   = "protocol"
	closedReadError  = "read_error"
	closedWriteError = "write_error"
)

// Config tunes connection handling.
type Config struct {
	// IdleTimeout closes a connection that has not completed a frame for this long.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	// PollInterval bounds how long a read blocks before shutdown is rechecked.
	PollInterval time.Duration
	// DrainGrace bounds how long a partial frame may keep a connection open
	// after shutdown starts.
	DrainGrace time.Duration
	Limits     protocol.Limits
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = DefaultDrainGrace
	}
	return c
}

// Server accepts client connections and feeds their frames to a Handler.
type Server struct {
	handler Handler
	metrics Metrics
	cfg     Config
	logger  *zap.Logger

	wg     sync.WaitGroup
	nextID atomic.Uint64
}

// New constructs a Server.
func New(handler Handler, metrics Metrics, cfg Config, logger *zap.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if metrics == nil {
		return nil, errors.New("metrics is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		handler: handler,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("server"),
	}, nil
}

// Serve accepts connections on ln until ctx is canceled, then stops accepting
// and waits for every open connection to finish its in-flight command.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("accepting connections", zap.String("addr", ln.Addr().String()))
	var failures int
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				failures++
				delay := clock.Backoff(failures, 5*time.Millisecond, time.Second)
				s.logger.Warn("accept failed, retrying", zap.Duration("delay", delay), zap.Error(err))
				if clock.SleepWithContext(ctx, delay) != nil {
					break
				}
				continue
			}
			s.wg.Wait()
			return err
		}
		failures = 0
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}

	s.logger.Info("draining connections")
	s.wg.Wait()
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	id := s.nextID.Add(1)
	logger := s.logger.With(zap.Uint64("conn", id), zap.String("remote", conn.RemoteAddr().String()))
	s.metrics.ConnectionOpened()
	reason := closedByClient
	defer func() {
		_ = conn.Close()
		s.metrics.ConnectionClosed(reason)
		logger.Debug("connection closed", zap.String("reason", reason))
	}()

	// commands outlive shutdown; only the loop below watches ctx
	cmdCtx := context.WithoutCancel(ctx)
	dec := protocol.NewDecoder(conn, s.cfg.Limits)
	lastFrame := time.Now()
	var draining time.Time
	for {
		if ctx.Err() != nil && dec.Buffered() == 0 {
			reason = closedShutdown
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
			reason = closedReadError
			return
		}
		f, err := dec.Decode()
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				if ctx.Err() != nil {
					if draining.IsZero() {
						draining = time.Now()
					}
					if time.Since(draining) >= s.cfg.DrainGrace {
						reason = closedShutdown
						logger.Info("dropping partial frame at shutdown", zap.Int("buffered", dec.Buffered()))
						return
					}
				}
				if time.Since(lastFrame) >= s.cfg.IdleTimeout {
					reason = closedIdle
					return
				}
				continue
			case errors.Is(err, io.EOF):
				return
			case protocol.IsProtocolError(err):
				reason = closedProtocol
				logger.Info("malformed frame", zap.Error(err))
				s.write(conn, dispatcher.ErrorFrame(model.Wrap(model.CodeProtocol, err, "malformed frame")))
				return
			default:
				reason = closedReadError
				logger.Debug("read failed", zap.Error(err))
				return
			}
		}

		reply := s.handler.Handle(cmdCtx, f)
		if err := s.write(conn, reply); err != nil {
			reason = closedWriteError
			logger.Debug("write failed", zap.Error(err))
			return
		}
		lastFrame = time.Now()
	}
}

func (s *Server) write(conn net.Conn, f protocol.Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return protocol.WriteFrame(conn, f)
}
