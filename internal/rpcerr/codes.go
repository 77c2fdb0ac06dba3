package rpcerr

import (
	"github.com/cockroachdb/errors"
)

// EIP-1193 provider codes
const (
	CodeUserRejected        = 4001
	CodeUnauthorized        = 4100
	CodeUnsupportedMethod   = 4200
	CodeDisconnected        = 4900
	CodeChainDisconnected   = 4901
	CodeUnrecognizedChain   = 4902
	CodeResourceUnavailable = -32002
)

// JSON-RPC codes (EIP-1474 style)
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ProviderError is the error object sent back to a dApp.
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	cause error
}

func (e *ProviderError) Error() string { return e.Message }

func (e *ProviderError) Unwrap() error { return e.cause }

// New builds a ProviderError that still matches cause under errors.Is.
func New(code int, msg string, cause error) error {
	return &ProviderError{Code: code, Message: msg, cause: cause}
}

// Code classifies err into a provider error code.
func Code(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	switch {
	case errors.Is(err, ErrUserRejected):
		return CodeUserRejected
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrUnsupportedMethod):
		return CodeUnsupportedMethod
	case errors.Is(err, ErrDisconnected), errors.Is(err, ErrReset):
		return CodeDisconnected
	case errors.Is(err, ErrChainDisconnected):
		return CodeChainDisconnected
	case errors.Is(err, ErrUnrecognizedChain):
		return CodeUnrecognizedChain
	case errors.Is(err, ErrDuplicateRequest), errors.Is(err, ErrAuthPending):
		return CodeResourceUnavailable
	case errors.Is(err, ErrInvalidCandidate), errors.Is(err, ErrInvalidParams):
		return CodeInvalidParams
	default:
		return CodeInternalError
	}
}

// ToRPC converts any error into the wire shape. Nil stays nil.
func ToRPC(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Code: Code(err), Message: err.Error()}
}
