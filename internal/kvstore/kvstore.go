// Package kvstore provides the durable key/value blob storage the broker keeps
// its authorization map, custom chains and metadata in.
package kvstore

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// PersistentKV is durable get/set by key. Get returns ok=false for a missing key.
type PersistentKV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// ReadJSON loads key into a T. Missing key returns the zero value and ok=false.
func ReadJSON[T any](ctx context.Context, kv PersistentKV, key string) (T, bool, error) {
	var out T
	b, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, false, errors.Wrapf(err, "unmarshal %s", key)
	}
	return out, true, nil
}

// WriteJSON marshals v and stores it under key.
func WriteJSON[T any](ctx context.Context, kv PersistentKV, key string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	return kv.Set(ctx, key, b)
}
