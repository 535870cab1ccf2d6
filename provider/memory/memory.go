// Package memory is an in-process provider with a byte capacity, modelled on
// browser local storage: writes that would exceed the quota are rejected
// instead of evicting other entries.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/shopsync/provider"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type Provider struct {
	mu       sync.RWMutex
	m        map[string]entry
	size     int64
	capacity int64
	now      func() time.Time
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Scanner  = (*Provider)(nil)
)

type Config struct {
	CapacityBytes int64            // 0 = unlimited; counts len(key)+len(value)
	Now           func() time.Time // nil => time.Now
}

func New(cfg Config) *Provider {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{m: make(map[string]entry), capacity: cfg.CapacityBytes, now: now}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	e, ok := p.m[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && !p.now().Before(e.exp) {
		p.mu.Lock()
		if cur, ok := p.m[key]; ok && cur.exp.Equal(e.exp) {
			p.deleteLocked(key)
		}
		p.mu.Unlock()
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = p.now().Add(ttl)
	}
	v := append([]byte(nil), value...)

	p.mu.Lock()
	defer p.mu.Unlock()
	delta := int64(len(key) + len(v))
	if old, ok := p.m[key]; ok {
		delta -= int64(len(key) + len(old.v))
	}
	if p.capacity > 0 && p.size+delta > p.capacity {
		return false, nil
	}
	p.m[key] = entry{v: v, exp: exp}
	p.size += delta
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	p.deleteLocked(key)
	p.mu.Unlock()
	return nil
}

func (p *Provider) deleteLocked(key string) {
	if old, ok := p.m[key]; ok {
		p.size -= int64(len(key) + len(old.v))
		delete(p.m, key)
	}
}

// Keys returns the live keys starting with prefix, sorted.
func (p *Provider) Keys(_ context.Context, prefix string) ([]string, error) {
	now := p.now()
	p.mu.RLock()
	out := make([]string, 0, len(p.m))
	for k, e := range p.m {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.exp.IsZero() && !now.Before(e.exp) {
			continue
		}
		out = append(out, k)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Size is the number of bytes currently counted against the capacity.
func (p *Provider) Size() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

func (p *Provider) Close(_ context.Context) error {
	p.mu.Lock()
	p.m = make(map[string]entry)
	p.size = 0
	p.mu.Unlock()
	return nil
}
