package dispatcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/protocol"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// Dispatcher answers one command frame with one response frame.
type Dispatcher struct {
	handler Handler
	metrics Metrics
	logger  *zap.Logger
}

// New constructs a Dispatcher.
func New(handler Handler, metrics Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if metrics == nil {
		return nil, errors.New("metrics is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{handler: handler, metrics: metrics, logger: logger.Named("dispatcher")}, nil
}

// Handle parses f, runs the command and renders its result. Every error,
// including a panic inside a handler, comes back as an Error frame.
func (d *Dispatcher) Handle(ctx context.Context, f protocol.Frame) (reply protocol.Frame) {
	started := time.Now()
	name := ""
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = model.Errorf(model.CodeInternal, "command panicked")
			d.logger.Error("command panicked", zap.String("command", name), zap.Any("panic", r), zap.Stack("stack"))
			reply = ErrorFrame(err)
		}
		d.metrics.ObserveCommand(name, model.CodeLabel(err), started)
	}()

	cmd, err := Parse(f)
	if cmd != nil {
		name = cmd.Name()
	}
	if err != nil {
		d.logger.Debug("rejected command", zap.String("command", name), zap.Error(err))
		return ErrorFrame(err)
	}

	reply, err = cmd.dispatch(ctx, d.handler)
	if err != nil {
		d.log(cmd, err)
		return ErrorFrame(err)
	}
	return reply
}

func (d *Dispatcher) log(cmd Command, err error) {
	code := model.CodeOf(err)
	fields := []zap.Field{
		zap.String("command", cmd.Name()),
		zap.String("code", string(code)),
		zap.Error(err),
	}
	if id := cmd.RequestID(); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	switch {
	case code.Defect():
		d.logger.Error("command failed", fields...)
	case code.Retryable():
		d.logger.Info("command failed", fields...)
	default:
		d.logger.Debug("command failed", fields...)
	}
}
