// Package provider defines the byte storage shopsync persists envelopes to.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. If a store performs
// internal transforms they MUST be fully reversed on read.
//
// Keys are "<namespace>:<key>"; each shopsync store owns its namespace prefix.
// Foreign writes under an owned prefix are treated as corruption and deleted.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by providers whose backend cannot be reached.
var ErrUnavailable = errors.New("provider: storage unavailable")

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<=0 means no expiry). May ignore
	// cost if unsupported. Returns ok=false when the store rejected the write
	// because it is full.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Scanner is implemented by providers that can enumerate their keys.
// Stores use it for Keys, Clear and Sweep; without it they fall back to the
// keys they wrote during the current process lifetime.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}
