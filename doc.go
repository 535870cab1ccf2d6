// Package shopsync keeps a shop client consistent with its remote API: an
// encoded, expiring key/value store (this package), a request pipeline with
// retries and single-flight token refresh (client), and a cart that merges a
// guest cart into the server cart on login (cart).
//
// Store components:
//   - Provider: byte store with TTL (memory, SQLite, Redis, BigCache, Ristretto).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Envelope: every entry is stored as created/expires timestamps, flags and
//     payload; expired or undecodable envelopes are deleted on read.
//
// Write path:
//
//	value -> Codec.Encode -> run-length compress (if smaller) -> obfuscate (optional) -> envelope -> Provider.Set
//
// Keys are namespaced as <ns>:<key>. Sub-stores (session, cart, prefs) are
// separate Store values over the same Provider with different namespaces.
//
// The obfuscation option uses a key derived from the device and is
// reversible by anyone on that device. It is not encryption in the security
// sense and must not be relied on to protect secrets.
package shopsync
