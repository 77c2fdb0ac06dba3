package provider

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

// positional splits a JSON-RPC params array. A missing or null params value
// is an empty list.
func positional(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "params must be an array")
	}
	return out, nil
}

// firstObject returns params[0], or params itself when a bare object was sent.
func firstObject(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return trimmed, nil
	}
	list, err := positional(raw)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "missing params object")
	}
	return list[0], nil
}

func decodeString(raw json.RawMessage, what string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errors.Wrapf(rpcerr.ErrInvalidParams, "%s must be a string", what)
	}
	return s, nil
}

// asArgs converts params into call arguments for pass-through.
func asArgs(raw json.RawMessage) ([]any, error) {
	list, err := positional(raw)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(list))
	for i, v := range list {
		out[i] = v
	}
	return out, nil
}
