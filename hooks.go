package shopsync

// Hooks are lightweight callbacks for high-signal store events.
// Implementations MUST be cheap and non-blocking; wrap slow ones with
// hooks/async.
type Hooks interface {
	// An entry was deleted by the store on read or sweep.
	// reason ∈ {"corrupt", "expired", "deobfuscate", "decompress", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (storage full).
	ProviderSetRejected(storageKey string)

	// Provider returned an error. op ∈ {"get", "set", "del", "keys"}
	ProviderError(op, storageKey string, err error)

	// A sweep finished and evicted n entries (only called when n > 0).
	Swept(namespace string, n int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)             {}
func (NopHooks) ProviderSetRejected(string)          {}
func (NopHooks) ProviderError(string, string, error) {}
func (NopHooks) Swept(string, int)                   {}
