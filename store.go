package shopsync

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	c "github.com/unkn0wn-root/shopsync/codec"
	"github.com/unkn0wn-root/shopsync/internal/obfuscate"
	"github.com/unkn0wn-root/shopsync/internal/runlength"
	"github.com/unkn0wn-root/shopsync/internal/util"
	"github.com/unkn0wn-root/shopsync/internal/wire"
	pr "github.com/unkn0wn-root/shopsync/provider"
)

const defaultSweep = time.Hour

type mirrorEntry[V any] struct {
	v   V
	exp time.Time // zero => no expiry
}

type store[V any] struct {
	ns             string
	provider       pr.Provider
	codec          c.Codec[V]
	log            Logger
	hooks          Hooks
	enabled        bool
	closeProvider  bool
	defaultTTL     time.Duration
	sweepInterval  time.Duration
	encrypt        bool
	compress       bool
	key            *obfuscate.Key
	computeSetCost SetCostFunc
	now            func() time.Time

	// mu guards mirror, written and version. Writers hold it across the
	// provider call so the mirror never lags the persisted value.
	mu      sync.RWMutex
	mirror  map[string]mirrorEntry[V]
	written map[string]struct{} // keys set in this process; Sweep fallback without a Scanner
	version uint64              // bumped by every mutation; read-through installs are skipped if it moved

	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

func newStore[V any](opts Options[V]) (*store[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("shopsync: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("shopsync: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("shopsync: namespace is required")
	}

	s := &store[V]{
		ns:            opts.Namespace,
		provider:      opts.Provider,
		codec:         opts.Codec,
		enabled:       !opts.Disabled,
		closeProvider: opts.CloseProvider,
		defaultTTL:    opts.DefaultTTL,
		encrypt:       opts.Encrypt,
		compress:      opts.Compress,
		mirror:        make(map[string]mirrorEntry[V]),
		written:       make(map[string]struct{}),
	}

	// defaults
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.sweepInterval = coalesce[time.Duration](opts.SweepInterval, defaultSweep)
	s.now = opts.Now
	if s.now == nil {
		s.now = time.Now
	}
	if opts.ComputeSetCost != nil {
		s.computeSetCost = opts.ComputeSetCost
	} else {
		s.computeSetCost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}

	fp := opts.DeviceKey
	if fp == "" {
		fp = obfuscate.DeviceFingerprint()
	}
	k, err := obfuscate.NewKey(fp)
	if err != nil {
		return nil, fmt.Errorf("shopsync: derive device key: %w", err)
	}
	s.key = k

	if s.enabled && s.sweepInterval > 0 {
		s.ticker = time.NewTicker(s.sweepInterval)
		s.stopCh = make(chan struct{})
		s.closeWg.Add(1)
		go s.sweepLoop()
	}
	return s, nil
}

func (s *store[V]) Enabled() bool { return s.enabled }

// Close stops the background sweep and runs a final one.
func (s *store[V]) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.closeWg.Wait()
			s.ticker.Stop()
		}
		if s.enabled {
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Warn("final sweep failed", Fields{"ns": s.ns, "err": err})
			}
		}
	})
	if s.closeProvider {
		return s.provider.Close(ctx)
	}
	return nil
}

func (s *store[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) error {
	if !s.enabled {
		return nil
	}
	cfg := setConfig{ttl: s.defaultTTL, encrypt: s.encrypt, compress: s.compress}
	for _, o := range opts {
		o(&cfg)
	}

	payload, err := s.codec.Encode(value)
	if err != nil {
		return &WriteError{Op: "set", Key: key, Err: fmt.Errorf("encode: %w", err)}
	}
	var compressed, encrypted bool
	if cfg.compress {
		payload, compressed = runlength.Compress(payload)
	}
	if cfg.encrypt {
		if payload, err = s.key.Seal(payload); err != nil {
			return &WriteError{Op: "set", Key: key, Err: fmt.Errorf("obfuscate: %w", err)}
		}
		encrypted = true
	}

	now := s.now()
	e := wire.Entry{Payload: payload, CreatedAt: now, Encrypted: encrypted, Compressed: compressed}
	if cfg.ttl > 0 {
		e.ExpiresAt = now.Add(cfg.ttl)
	}
	raw := wire.Encode(e)
	k := s.storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++

	ok, err := s.provider.Set(ctx, k, raw, s.computeSetCost(k, raw), cfg.ttl)
	if err != nil {
		delete(s.mirror, k)
		s.hooks.ProviderError("set", k, err)
		s.log.Warn("provider set failed", Fields{"key": key, "err": err})
		return &WriteError{Op: "set", Key: key, Err: err}
	}
	if !ok {
		// the previous persisted value may still be there; the mirror must not mask it
		delete(s.mirror, k)
		s.hooks.ProviderSetRejected(k)
		s.log.Warn("provider rejected set (storage full)", Fields{"key": key, "bytes": len(raw)})
		return &WriteError{Op: "set", Key: key, Err: ErrStorageFull}
	}
	s.mirror[k] = mirrorEntry[V]{v: value, exp: e.ExpiresAt}
	s.written[k] = struct{}{}
	return nil
}

func (s *store[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if !s.enabled {
		return zero, false
	}
	k := s.storageKey(key)
	now := s.now()

	s.mu.RLock()
	me, hit := s.mirror[k]
	ver := s.version
	s.mu.RUnlock()
	if hit && (me.exp.IsZero() || now.Before(me.exp)) {
		return me.v, true
	}

	raw, ok, err := s.provider.Get(ctx, k)
	if err != nil {
		s.hooks.ProviderError("get", k, err)
		s.log.Warn("provider get failed; serving default", Fields{"key": key, "err": err})
		return zero, false
	}
	if !ok {
		if hit {
			s.dropMirror(k, ver)
		}
		return zero, false
	}

	v, exp, reason := s.decode(raw, now)
	if reason != "" {
		s.evict(ctx, k, raw, reason)
		return zero, false
	}

	s.mu.Lock()
	// install only if nothing was written or removed meanwhile
	if s.version == ver {
		s.mirror[k] = mirrorEntry[V]{v: v, exp: exp}
		s.written[k] = struct{}{}
	}
	s.mu.Unlock()
	return v, true
}

func (s *store[V]) GetOr(ctx context.Context, key string, def V) V {
	if v, ok := s.Get(ctx, key); ok {
		return v
	}
	return def
}

func (s *store[V]) Has(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

func (s *store[V]) Remove(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}
	k := s.storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	delete(s.mirror, k)
	delete(s.written, k)
	if err := s.provider.Del(ctx, k); err != nil {
		s.hooks.ProviderError("del", k, err)
		return &WriteError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

func (s *store[V]) Forget(key string) {
	k := s.storageKey(key)
	s.mu.Lock()
	s.version++
	delete(s.mirror, k)
	s.mu.Unlock()
}

func (s *store[V]) Keys(ctx context.Context) ([]string, error) {
	if !s.enabled {
		return nil, nil
	}
	live, _, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(live))
	for _, k := range live {
		if uk, ok := util.UserKey(s.ns, k); ok {
			out = append(out, uk)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *store[V]) Sweep(ctx context.Context) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	_, evicted, err := s.scan(ctx)
	if evicted > 0 {
		s.hooks.Swept(s.ns, evicted)
		s.log.Debug("sweep evicted entries", Fields{"ns": s.ns, "evicted": evicted})
	}
	return evicted, err
}

func (s *store[V]) Clear(ctx context.Context) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	keys, err := s.storageKeys(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	var cerr *ClearError
	removed := 0
	for _, k := range keys {
		delete(s.mirror, k)
		delete(s.written, k)
		if err := s.provider.Del(ctx, k); err != nil {
			if cerr == nil {
				cerr = &ClearError{Namespace: s.ns}
			}
			cerr.Keys = append(cerr.Keys, k)
			cerr.Errs = append(cerr.Errs, err)
			continue
		}
		removed++
	}
	// anything mirrored but not enumerated is gone as well
	for k := range s.mirror {
		delete(s.mirror, k)
	}
	if cerr != nil {
		return removed, cerr
	}
	return removed, nil
}

// scan validates every key in the namespace, evicting dead entries.
func (s *store[V]) scan(ctx context.Context) (live []string, evicted int, err error) {
	keys, err := s.storageKeys(ctx)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, k := range keys {
		raw, ok, err := s.provider.Get(ctx, k)
		if err != nil {
			s.hooks.ProviderError("get", k, err)
			continue
		}
		if !ok {
			s.forgetWritten(k)
			continue
		}
		e, err := wire.Decode(raw)
		switch {
		case err != nil:
			s.evict(ctx, k, raw, "corrupt")
			evicted++
		case e.Expired(now):
			s.evict(ctx, k, raw, "expired")
			evicted++
		default:
			live = append(live, k)
		}
	}
	return live, evicted, nil
}

func (s *store[V]) storageKeys(ctx context.Context) ([]string, error) {
	if sc, ok := s.provider.(pr.Scanner); ok {
		keys, err := sc.Keys(ctx, util.Prefix(s.ns))
		if err != nil {
			s.hooks.ProviderError("keys", util.Prefix(s.ns), err)
			return nil, fmt.Errorf("shopsync: list %q: %w", s.ns, err)
		}
		return keys, nil
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.written))
	for k := range s.written {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// decode reverses Set. A non-empty reason means the entry is unusable.
func (s *store[V]) decode(raw []byte, now time.Time) (v V, exp time.Time, reason string) {
	e, err := wire.Decode(raw)
	if err != nil {
		return v, exp, "corrupt"
	}
	if e.Expired(now) {
		return v, exp, "expired"
	}
	p := e.Payload
	if e.Encrypted {
		if p, err = s.key.Open(p); err != nil {
			return v, exp, "deobfuscate"
		}
	}
	if e.Compressed {
		if p, err = runlength.Decode(p); err != nil {
			return v, exp, "decompress"
		}
	}
	if v, err = s.codec.Decode(p); err != nil {
		return v, exp, "value_decode"
	}
	return v, e.ExpiresAt, ""
}

// evict deletes k if it still holds raw. A concurrent Set holds mu while
// writing, so checking under mu never deletes a fresher value.
func (s *store[V]) evict(ctx context.Context, k string, raw []byte, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok, err := s.provider.Get(ctx, k)
	if err != nil || !ok || !bytes.Equal(cur, raw) {
		return
	}
	s.version++
	delete(s.mirror, k)
	delete(s.written, k)
	_ = s.provider.Del(ctx, k)
	s.hooks.SelfHeal(k, reason)
	s.log.Debug("evicted unusable entry", Fields{"key": k, "reason": reason})
}

func (s *store[V]) dropMirror(k string, ver uint64) {
	s.mu.Lock()
	if s.version == ver {
		delete(s.mirror, k)
	}
	s.mu.Unlock()
}

func (s *store[V]) forgetWritten(k string) {
	s.mu.Lock()
	delete(s.written, k)
	s.mu.Unlock()
}

func (s *store[V]) storageKey(userKey string) string {
	return util.StorageKey(s.ns, userKey)
}

func (s *store[V]) sweepLoop() {
	defer s.closeWg.Done()
	for {
		select {
		case <-s.ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.log.Warn("sweep failed", Fields{"ns": s.ns, "err": err})
			}
		case <-s.stopCh:
			return
		}
	}
}
