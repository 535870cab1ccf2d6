package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unkn0wn-root/shopsync"
	"github.com/unkn0wn-root/shopsync/events"
	"github.com/unkn0wn-root/shopsync/genstore"
)

const currentKey = "current"

var ErrNoSession = errors.New("session: no session")

type Options struct {
	KV     shopsync.Store[Session] // required; namespace "session", encrypted
	Gens   genstore.GenStore       // nil => genstore.NewLocal()
	Bus    *events.Bus             // nil => events are not published
	Logger shopsync.Logger
	Now    func() time.Time
}

// Store is the single live session of this client.
type Store struct {
	kv   shopsync.Store[Session]
	gens genstore.GenStore
	bus  *events.Bus
	log  shopsync.Logger
	now  func() time.Time

	// mu orders Start/Replace/Clear so epoch bumps follow the writes they describe.
	mu sync.Mutex
	// fallback keeps the session in-process when the provider rejected it.
	fallback *Session
}

func New(opts Options) (*Store, error) {
	if opts.KV == nil {
		return nil, errors.New("session: KV store is required")
	}
	s := &Store{kv: opts.KV, gens: opts.Gens, bus: opts.Bus, log: opts.Logger, now: opts.Now}
	if s.gens == nil {
		s.gens = genstore.NewLocal()
	}
	if s.log == nil {
		s.log = shopsync.NopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Current returns the live session. The returned User is a copy.
func (s *Store) Current(ctx context.Context) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.currentLocked(ctx)
	if ok && sess.User != nil {
		u := *sess.User
		sess.User = &u
	}
	return sess, ok
}

// Token returns the bearer token, or "" when there is no session.
func (s *Store) Token(ctx context.Context) string {
	sess, _ := s.Current(ctx)
	return sess.Token
}

func (s *Store) Authenticated(ctx context.Context) bool {
	sess, ok := s.Current(ctx)
	return ok && sess.Token != ""
}

// Epoch is the current login epoch. It changes on every Start and Clear.
func (s *Store) Epoch(ctx context.Context) uint64 {
	g, err := s.gens.Snapshot(ctx, genstore.ScopeSession)
	if err != nil {
		s.log.Warn("epoch snapshot failed", shopsync.Fields{"err": err})
	}
	return g
}

// Start stores a freshly issued session as a new login transition and
// publishes session:started. It returns the new epoch.
func (s *Store) Start(ctx context.Context, sess Session) (uint64, error) {
	if sess.Token == "" {
		return 0, errors.New("session: empty token")
	}
	s.mu.Lock()
	s.persistLocked(ctx, s.stamp(sess))
	epoch, err := s.gens.Bump(ctx, genstore.ScopeSession)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	s.log.Info("session started", shopsync.Fields{"epoch": epoch})
	if s.bus != nil {
		s.bus.Publish(events.SessionStarted, StartedEvent{User: sess.User, Epoch: epoch})
	}
	return epoch, nil
}

// Replace swaps tokens after a refresh within the same login. A refresh
// response that omits the user keeps the previous one.
func (s *Store) Replace(ctx context.Context, sess Session) error {
	if sess.Token == "" {
		return errors.New("session: empty token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.User == nil || sess.RefreshToken == "" {
		if prev, ok := s.currentLocked(ctx); ok {
			if sess.User == nil {
				sess.User = prev.User
			}
			if sess.RefreshToken == "" {
				sess.RefreshToken = prev.RefreshToken
			}
		}
	}
	s.persistLocked(ctx, s.stamp(sess))
	return nil
}

// Clear ends the session. A non-empty reason publishes session:expired.
func (s *Store) Clear(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.fallback = nil
	rmErr := s.kv.Remove(ctx, currentKey)
	epoch, err := s.gens.Bump(ctx, genstore.ScopeSession)
	s.mu.Unlock()

	if rmErr != nil {
		s.log.Warn("session remove failed", shopsync.Fields{"err": rmErr})
	}
	if err != nil {
		return err
	}
	s.log.Info("session cleared", shopsync.Fields{"epoch": epoch, "reason": reason})
	if reason != "" && s.bus != nil {
		s.bus.Publish(events.SessionExpired, ExpiredEvent{Reason: reason, Epoch: epoch})
	}
	return rmErr
}

// currentLocked prefers the in-process fallback: while it is set, whatever
// the provider still holds is older.
func (s *Store) currentLocked(ctx context.Context) (Session, bool) {
	if s.fallback != nil {
		return *s.fallback, true
	}
	return s.kv.Get(ctx, currentKey)
}

func (s *Store) stamp(sess Session) Session {
	if sess.ObtainedAt.IsZero() {
		sess.ObtainedAt = s.now()
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = Expiry(sess.Token)
	}
	return sess
}

func (s *Store) persistLocked(ctx context.Context, sess Session) {
	var opts []shopsync.SetOption
	if ttl := s.ttl(sess); ttl > 0 {
		opts = append(opts, shopsync.WithTTL(ttl))
	}
	if err := s.kv.Set(ctx, currentKey, sess, opts...); err != nil {
		s.log.Warn("session not persisted; keeping it in memory", shopsync.Fields{"err": err})
		cp := sess
		s.fallback = &cp
		// a rejected write leaves the previous session in the provider
		if rmErr := s.kv.Remove(ctx, currentKey); rmErr != nil {
			s.log.Warn("stale session not removed", shopsync.Fields{"err": rmErr})
		}
		return
	}
	s.fallback = nil
}

// ttl bounds the stored entry by the longest-lived credential: the refresh
// token when there is one, else the access token.
func (s *Store) ttl(sess Session) time.Duration {
	exp := sess.ExpiresAt
	if sess.RefreshToken != "" {
		exp = Expiry(sess.RefreshToken)
	}
	if exp.IsZero() {
		return 0
	}
	if d := exp.Sub(s.now()); d > 0 {
		return d
	}
	return time.Millisecond
}
