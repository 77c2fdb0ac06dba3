// Package rpcerr holds the broker error taxonomy and its mapping onto the
// EIP-1193 / EIP-1474 error codes a dApp provider is expected to return.
package rpcerr

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrUnauthorized: origin unknown, denied, or account not in its allowed set.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDuplicateRequest: an identical confirmation is already pending.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrAuthPending: an authorization prompt for the origin is already open.
	ErrAuthPending = errors.New("authorization request already pending")

	// ErrInvalidCandidate: malformed add-network/add-token input.
	ErrInvalidCandidate = errors.New("invalid candidate")

	// ErrProvider matches every provider subtype below; each subtype only
	// matches itself otherwise.
	ErrProvider                = errors.New("provider error")
	ErrChainDisconnected error = &providerSubtype{msg: "chain disconnected"}
	ErrProbeFailed       error = &providerSubtype{msg: "probe failed"}
	ErrInvalidParams     error = &providerSubtype{msg: "invalid params"}
	ErrUnrecognizedChain error = &providerSubtype{msg: "unrecognized chain id"}

	ErrUserRejected = errors.New("user rejected the request")

	// ErrDisconnected cancels entries whose transport channel closed.
	ErrDisconnected = errors.New("channel disconnected")

	// ErrReset cancels every entry on wallet lock/reset.
	ErrReset = errors.New("wallet reset")

	ErrUnknownRequest    = errors.New("unknown request id")
	ErrAlreadySettled    = errors.New("request already settled")
	ErrUnsupportedMethod = errors.New("unsupported method")
)

type providerSubtype struct {
	msg string
}

func (e *providerSubtype) Error() string { return e.msg }

func (e *providerSubtype) Is(target error) bool {
	return target == ErrProvider
}

// IsCancelled reports whether err is a non-human cancellation (channel close or reset).
func IsCancelled(err error) bool {
	return errors.Is(err, ErrDisconnected) || errors.Is(err, ErrReset)
}
