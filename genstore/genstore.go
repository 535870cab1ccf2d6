// Package genstore keeps monotonically increasing generation counters per
// scope. shopsync uses them as login epochs: every login and logout bumps the
// session scope, and work tagged with an older epoch is discarded.
package genstore

import "context"

// GenStore abstracts where generations live.
// Use Local (default) for a single process, or Redis to share epochs between
// processes of the same user.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, scope string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, scope string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}

// Scope names used by shopsync.
const (
	ScopeSession = "session"
)
