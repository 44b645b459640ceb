// Package dispatcher turns protocol frames into typed commands and routes them
// to the build and finalize services.
package dispatcher

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/protocol"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// Command names as they appear on the wire.
const (
	NameBuildStdTx       = "BuildStdTx"
	NameBuildMultiSig    = "BuildMultiSig"
	NameBuildContract    = "BuildContract"
	NameFinalizeStdTx    = "FinalizeStdTx"
	NameFinalizeMultiSig = "FinalizeMultiSig"
	NameFinalizeContract = "FinalizeContract"
	NameVerifyUser       = "VerifyUser"
)

// Handler serves every command. Adding a command adds a method here, so an
// implementation that misses one does not compile.
type Handler interface {
	BuildStdTx(ctx context.Context, req model.TransactionRequest) (model.BuildResult, error)
	BuildMultiSig(ctx context.Context, req model.TransactionRequest) (model.BuildResult, error)
	BuildContract(ctx context.Context, req model.TransactionRequest) (model.BuildResult, error)
	FinalizeStdTx(ctx context.Context, req model.FinalizeRequest) (model.FinalizeResult, error)
	FinalizeMultiSig(ctx context.Context, req model.FinalizeRequest) (model.FinalizeResult, error)
	FinalizeContract(ctx context.Context, req model.FinalizeRequest) (model.FinalizeResult, error)
	VerifyUser(ctx context.Context, req model.VerifyUserRequest) error
}

// Command is one parsed client command. The set of implementations is closed.
type Command interface {
	Name() string
	// RequestID identifies the request for logging; empty when none was sent.
	RequestID() string
	dispatch(ctx context.Context, h Handler) (protocol.Frame, error)
}

type (
	BuildStdTx       struct{ Request model.TransactionRequest }
	BuildMultiSig    struct{ Request model.TransactionRequest }
	BuildContract    struct{ Request model.TransactionRequest }
	FinalizeStdTx    struct{ Request model.FinalizeRequest }
	FinalizeMultiSig struct{ Request model.FinalizeRequest }
	FinalizeContract struct{ Request model.FinalizeRequest }
	VerifyUser       struct{ Request model.VerifyUserRequest }
)

func (BuildStdTx) Name() string       { return NameBuildStdTx }
func (BuildMultiSig) Name() string    { return NameBuildMultiSig }
func (BuildContract) Name() string    { return NameBuildContract }
func (FinalizeStdTx) Name() string    { return NameFinalizeStdTx }
func (FinalizeMultiSig) Name() string { return NameFinalizeMultiSig }
func (FinalizeContract) Name() string { return NameFinalizeContract }
func (VerifyUser) Name() string       { return NameVerifyUser }

func (c BuildStdTx) RequestID() string       { return c.Request.RequestID }
func (c BuildMultiSig) RequestID() string    { return c.Request.RequestID }
func (c BuildContract) RequestID() string    { return c.Request.RequestID }
func (c FinalizeStdTx) RequestID() string    { return c.Request.RequestID }
func (c FinalizeMultiSig) RequestID() string { return c.Request.RequestID }
func (c FinalizeContract) RequestID() string { return c.Request.RequestID }
func (c VerifyUser) RequestID() string       { return "" }

func (c BuildStdTx) dispatch(ctx context.Context, h Handler) (protocol.Frame, error) {
	return jsonReply(h.BuildStdTx(ctx, c.Request))
}

func (c BuildMultiSig) dispatch(ctx context.Context, h Handler) (protocol.Frame, error) {
	return jsonReply(h.BuildMultiSig(ctx, c.Request))
}

func (c BuildContract) dispatch(ctx context.Context, h Handler) (protocol.Frame, error) {
	return jsonReply(h.BuildContract(ctx, c.Request))
}

func (c FinalizeStdTx) dispatch(ctx context.Context, h Handler) (protocol.Frame, error) {
	return jsonReply(h.FinalizeStdTx(ctx, c.Request))
}

func (c FinalizeMultiSig) dispatch(ctx context.Context, h Handler) (protocol.Frame, error) {
	return jsonReply(h.FinalizeMultiSig(ctx, c.Request))
}

func (c FinalizeContract) dispatch(ctx context.Context, h Handler) (protocol.Frame, error) {
	return jsonReply(h.FinalizeContract(ctx, c.Request))
}

func (c VerifyUser) dispatch(ctx context.Context, h Handler) (protocol.Frame, error) {
	if err := h.VerifyUser(ctx, c.Request); err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Simple("OK"), nil
}

func jsonReply[T any](v T, err error) (protocol.Frame, error) {
	if err != nil {
		return protocol.Frame{}, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return protocol.Frame{}, model.Wrap(model.CodeInternal, err, "encode result")
	}
	return protocol.Bulk(b), nil
}

// Parse reads Array[Simple(name), Bulk(json)] into a Command.
func Parse(f protocol.Frame) (Command, error) {
	if f.Kind != protocol.KindArray || len(f.Array) == 0 {
		return nil, model.Validation("command must be an array of name and payload, got %s", f.Kind)
	}
	head := f.Array[0]
	if head.Kind != protocol.KindSimple && head.Kind != protocol.KindBulk {
		return nil, model.Validation("command name must be a simple string, got %s", head.Kind)
	}
	name := head.Str
	if head.Kind == protocol.KindBulk {
		name = string(head.Bulk)
	}

	var payload []byte
	if len(f.Array) > 1 {
		switch p := f.Array[1]; p.Kind {
		case protocol.KindBulk:
			payload = p.Bulk
		case protocol.KindSimple:
			payload = []byte(p.Str)
		case protocol.KindNull:
		default:
			return nil, model.Validation("%s payload must be bulk JSON, got %s", name, p.Kind)
		}
	}

	switch name {
	case NameBuildStdTx:
		req, err := buildRequest(name, payload, model.FamilyStd)
		return BuildStdTx{Request: req}, err
	case NameBuildMultiSig:
		req, err := buildRequest(name, payload, model.FamilyMultiSig)
		return BuildMultiSig{Request: req}, err
	case NameBuildContract:
		req, err := buildRequest(name, payload, model.FamilyContract)
		return BuildContract{Request: req}, err
	case NameFinalizeStdTx:
		req, err := finalizeRequest(name, payload)
		return FinalizeStdTx{Request: req}, err
	case NameFinalizeMultiSig:
		req, err := finalizeRequest(name, payload)
		return FinalizeMultiSig{Request: req}, err
	case NameFinalizeContract:
		req, err := finalizeRequest(name, payload)
		return FinalizeContract{Request: req}, err
	case NameVerifyUser:
		var req model.VerifyUserRequest
		if err := decode(name, payload, &req); err != nil {
			return nil, err
		}
		return VerifyUser{Request: req}, req.Validate()
	default:
		return nil, model.Errorf(model.CodeUnknownCommand, "unknown command %q", truncate(name, 64))
	}
}

func decode(name string, payload []byte, v any) error {
	if len(payload) == 0 {
		return model.Validation("%s requires a JSON payload", name)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return model.Wrap(model.CodeValidation, err, name+" payload")
	}
	return nil
}

func buildRequest(name string, payload []byte, family model.Family) (model.TransactionRequest, error) {
	var req model.TransactionRequest
	if err := decode(name, payload, &req); err != nil {
		return req, err
	}
	if got := req.Operation.Family(); got != family {
		return req, model.Validation("operation %q does not belong to %s", req.Operation, name)
	}
	return req, req.Validate()
}

func finalizeRequest(name string, payload []byte) (model.FinalizeRequest, error) {
	var req model.FinalizeRequest
	if err := decode(name, payload, &req); err != nil {
		return req, err
	}
	return req, req.Validate()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ErrorFrame renders err as "<CODE> <message>" on a single line.
func ErrorFrame(err error) protocol.Frame {
	code := model.CodeOf(err)
	msg := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, err.Error())
	return protocol.Error(string(code) + " " + msg)
}
