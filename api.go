package shopsync

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/shopsync/codec"
	pr "github.com/unkn0wn-root/shopsync/provider"
)

// SetCostFunc reports the cost passed to Provider.Set. Default: len(raw).
type SetCostFunc func(storageKey string, raw []byte) int64

// Store is an expiring, encoded key/value store over a byte Provider, with an
// in-memory mirror of decoded values. V is the caller's value type.
//
// Reads never fail: a missing, expired or undecodable entry is a miss, and
// undecodable entries are deleted. Values are not copied; treat values passed
// to Set and returned by Get as immutable.
type Store[V any] interface {
	Enabled() bool
	Close(context.Context) error

	Set(ctx context.Context, key string, value V, opts ...SetOption) error
	Get(ctx context.Context, key string) (v V, ok bool)
	GetOr(ctx context.Context, key string, def V) V
	Has(ctx context.Context, key string) bool
	Remove(ctx context.Context, key string) error

	// Keys lists live keys in the namespace, evicting dead entries it meets.
	Keys(ctx context.Context) ([]string, error)
	// Clear removes every key in the namespace and reports how many.
	Clear(ctx context.Context) (int, error)
	// Sweep evicts expired and corrupt entries and reports how many.
	Sweep(ctx context.Context) (int, error)
	// Forget drops key from the in-memory mirror only; the next Get reads
	// through to the provider.
	Forget(key string)
}

// Options tune a Store. Namespace, Provider and Codec are required.
type Options[V any] struct {
	Namespace string // key prefix, e.g. "session", "cart", "prefs"
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger        Logger        // nil => NopLogger
	Hooks         Hooks         // nil => NopHooks
	DefaultTTL    time.Duration // 0 => entries never expire
	SweepInterval time.Duration // 0 => 1h; < 0 disables the background sweep
	Disabled      bool          // default false (enabled)

	// Compress applies run-length encoding when it shrinks the payload.
	Compress bool

	// Encrypt obfuscates payloads with a key derived from DeviceKey.
	// This hides values from casual inspection of the backend only; the key
	// is derivable from the host, so it is not a security boundary.
	Encrypt bool
	// DeviceKey seeds the obfuscation key. "" => host/user fingerprint.
	DeviceKey string

	// CloseProvider makes Close also close Provider. Leave false when several
	// stores share one provider.
	CloseProvider bool

	ComputeSetCost SetCostFunc      // default len(raw)
	Now            func() time.Time // default time.Now
}

func New[V any](opts Options[V]) (Store[V], error) {
	return newStore[V](opts)
}

// SetOption overrides store defaults for a single Set.
type SetOption func(*setConfig)

type setConfig struct {
	ttl      time.Duration
	encrypt  bool
	compress bool
}

// WithTTL sets the entry lifetime. ttl <= 0 means the entry never expires.
func WithTTL(ttl time.Duration) SetOption {
	return func(c *setConfig) { c.ttl = ttl }
}

func WithEncryption(on bool) SetOption {
	return func(c *setConfig) { c.encrypt = on }
}

func WithCompression(on bool) SetOption {
	return func(c *setConfig) { c.compress = on }
}
