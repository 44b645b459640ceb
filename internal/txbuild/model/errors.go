package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code is the stable machine-readable error code carried in Error frames.
type Code string

const (
	CodeProtocol                   Code = "PROTOCOL"
	CodeUnknownCommand             Code = "UNKNOWN_COMMAND"
	CodeValidation                 Code = "VALIDATION"
	CodeConflict                   Code = "CONFLICT"
	CodeInsufficientFunds          Code = "INSUFFICIENT_FUNDS"
	CodeTimeout                    Code = "TIMEOUT"
	CodeFeeConvergence             Code = "FEE_CONVERGENCE"
	CodeUnsupportedRedeemerPurpose Code = "UNSUPPORTED_REDEEMER_PURPOSE"
	CodeScriptFailure              Code = "SCRIPT_FAILURE"
	CodeArtifactNotFound           Code = "ARTIFACT_NOT_FOUND"
	CodeSignatureMismatch          Code = "SIGNATURE_MISMATCH"
	CodeAlreadyFinalized           Code = "ALREADY_FINALIZED"
	CodeBalanceInvariant           Code = "BALANCE_INVARIANT"
	CodeUnauthorized               Code = "UNAUTHORIZED"
	CodeInternal                   Code = "INTERNAL"
)

// Retryable reports whether a client may retry with a fresh request.
func (c Code) Retryable() bool {
	switch c {
	case CodeTimeout, CodeConflict, CodeInsufficientFunds:
		return true
	default:
		return false
	}
}

// Defect reports whether the code signals a server-side bug or limit.
func (c Code) Defect() bool {
	switch c {
	case CodeFeeConvergence, CodeUnsupportedRedeemerPurpose, CodeBalanceInvariant, CodeInternal:
		return true
	default:
		return false
	}
}

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Errorf builds a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	ErrInsufficientFunds          = &Error{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrFeeConvergence             = &Error{Code: CodeFeeConvergence, Message: "fee did not converge"}
	ErrUnsupportedRedeemerPurpose = &Error{Code: CodeUnsupportedRedeemerPurpose, Message: "unsupported redeemer purpose"}
	ErrArtifactNotFound           = &Error{Code: CodeArtifactNotFound, Message: "artifact not found"}
	ErrSignatureMismatch          = &Error{Code: CodeSignatureMismatch, Message: "signature does not match transaction body"}
	ErrBalanceInvariant           = &Error{Code: CodeBalanceInvariant, Message: "transaction is not balanced"}
	ErrUnauthorized               = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
)

// ConflictError reports output ids already reserved by another request.
type ConflictError struct {
	Held []OutputRef
}

func (e *ConflictError) Error() string {
	held := make([]string, len(e.Held))
	for i, ref := range e.Held {
		held[i] = ref.String()
	}
	return "outputs already reserved: " + strings.Join(held, ",")
}

func (e *ConflictError) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Code == CodeConflict
}

// AlreadyFinalizedError is returned for a second finalize of the same request.
type AlreadyFinalizedError struct {
	RequestID string
	TxHash    string
}

func (e *AlreadyFinalizedError) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("request %s is being finalized", e.RequestID)
	}
	return fmt.Sprintf("request %s already finalized as %s", e.RequestID, e.TxHash)
}

func (e *AlreadyFinalizedError) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Code == CodeAlreadyFinalized
}

// Validation is shorthand for a VALIDATION error.
func Validation(format string, args ...any) *Error {
	return Errorf(CodeValidation, format, args...)
}

// CodeOf classifies err into a wire error code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var (
		coded     *Error
		conflict  *ConflictError
		finalized *AlreadyFinalizedError
		netErr    net.Error
	)
	switch {
	case errors.As(err, &conflict):
		return CodeConflict
	case errors.As(err, &finalized):
		return CodeAlreadyFinalized
	case errors.As(err, &coded):
		return coded.Code
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return CodeTimeout
	default:
		return CodeInternal
	}
}
