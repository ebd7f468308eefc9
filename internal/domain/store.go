package domain

import "context"

// KeyClientName is the store key holding the last resolved client identifier.
const KeyClientName = "clientName"

// KeyValueStore is the local durable store used for best-effort persistence.
type KeyValueStore interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Close() error
}
