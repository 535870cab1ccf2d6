package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/shopsync"
)

const (
	// Namespace is the store namespace the guest cart lives in.
	Namespace = "cart"
	localKey  = "local"
)

// Store persists the guest cart. When the provider refuses a write the cart
// is kept in-process so the user's cart is not lost.
type Store struct {
	kv  shopsync.Store[Cart]
	log shopsync.Logger

	mu       sync.Mutex
	fallback *Cart
}

func NewStore(kv shopsync.Store[Cart], log shopsync.Logger) (*Store, error) {
	if kv == nil {
		return nil, errors.New("cart: KV store is required")
	}
	if log == nil {
		log = shopsync.NopLogger{}
	}
	return &Store{kv: kv, log: log}, nil
}

// Load returns a copy of the guest cart; a missing cart is empty. While a
// fallback is held it wins over the provider, which can only hold an older
// cart.
func (s *Store) Load(ctx context.Context) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback != nil {
		return s.fallback.Clone()
	}
	if c, ok := s.kv.Get(ctx, localKey); ok {
		return c.Clone()
	}
	return Cart{}
}

// Save persists c. The returned error is informational: the cart is held in
// memory either way.
func (s *Store) Save(ctx context.Context, c Cart) error {
	c = c.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, localKey, c); err != nil {
		s.log.Warn("guest cart not persisted; keeping it in memory", shopsync.Fields{"err": err, "items": len(c.Items)})
		s.fallback = &c
		if rmErr := s.kv.Remove(ctx, localKey); rmErr != nil {
			s.log.Warn("stale guest cart not removed", shopsync.Fields{"err": rmErr})
		}
		return err
	}
	s.fallback = nil
	return nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = nil
	return s.kv.Remove(ctx, localKey)
}
