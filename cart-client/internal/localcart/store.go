// Package localcart keeps a single cart snapshot in a key-value slot for the guest
// and offline case. Reads never fail: a missing, unreadable, corrupted or expired
// snapshot is replaced by a fresh empty cart.
package localcart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-client/internal/kv"
	"github.com/fjod/go_cart/pkg/domain"
	"github.com/fjod/go_cart/pkg/pricing"
)

const (
	DefaultKey = "cart"
	DefaultTTL = 24 * time.Hour
)

// envelope is the stored value. ExpiresAt is kept beside the cart and checked on
// every read.
type envelope struct {
	Cart      *domain.Cart `json:"cart"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}

type Store struct {
	kv     kv.Store
	key    string
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
	policy pricing.Policy
	log    *zap.Logger

	mu sync.Mutex
}

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func WithPolicy(p pricing.Policy) Option {
	return func(s *Store) { s.policy = p }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:     store,
		key:    DefaultKey,
		ttl:    DefaultTTL,
		now:    time.Now,
		newID:  domain.NewID,
		policy: pricing.DefaultPolicy(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored cart, creating and persisting a fresh one when needed.
func (s *Store) Get(ctx context.Context) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cart := s.load(ctx); cart != nil {
		return cart, nil
	}

	cart := s.fresh("")
	if _, err := s.persist(ctx, cart); err != nil {
		s.log.Warn("persist fresh local cart", zap.Error(err))
	}
	return cart.Clone(), nil
}

// Save overwrites the stored snapshot.
func (s *Store) Save(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	if cart == nil {
		return nil, errors.New("nil cart")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cart.Clone()
	s.policy.Apply(c)
	return s.persist(ctx, c)
}

func (s *Store) AddItem(ctx context.Context, item domain.NewItem) (*domain.Cart, error) {
	return s.mutate(ctx, func(c *domain.Cart) error {
		items, err := domain.AddLine(c.Items, item, s.now(), s.newID)
		if err != nil {
			return err
		}
		c.Items = items
		return nil
	})
}

// UpdateItem sets a line's quantity; quantity <= 0 removes it. Unknown ids leave
// the cart unchanged.
func (s *Store) UpdateItem(ctx context.Context, itemID string, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, func(c *domain.Cart) error {
		c.Items, _ = domain.UpdateLine(c.Items, itemID, quantity)
		return nil
	})
}

func (s *Store) RemoveItem(ctx context.Context, itemID string) (*domain.Cart, error) {
	return s.mutate(ctx, func(c *domain.Cart) error {
		c.Items = domain.RemoveLine(c.Items, itemID)
		return nil
	})
}

// Clear replaces the stored cart with an empty one under a new id. The session id
// is kept so the shopper stays the same guest.
func (s *Store) Clear(ctx context.Context) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := ""
	if prev := s.load(ctx); prev != nil {
		sessionID = prev.SessionID
	}
	return s.persist(ctx, s.fresh(sessionID))
}

func (s *Store) mutate(ctx context.Context, fn func(c *domain.Cart) error) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.load(ctx)
	if cart == nil {
		cart = s.fresh("")
	}
	if err := fn(cart); err != nil {
		return nil, err
	}
	s.policy.Apply(cart)
	return s.persist(ctx, cart)
}

// load returns nil whenever there is no usable snapshot.
func (s *Store) load(ctx context.Context) *domain.Cart {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn("read local cart", zap.Error(err))
		}
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("discard corrupted local cart", zap.Error(err))
		return nil
	}
	if env.Cart == nil {
		return nil
	}
	if env.ExpiresAt != nil && !s.now().Before(*env.ExpiresAt) {
		s.log.Debug("local cart expired", zap.String("cart_id", env.Cart.ID), zap.Time("expires_at", *env.ExpiresAt))
		return nil
	}

	cart := env.Cart
	cart.ExpiresAt = env.ExpiresAt
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	if cart.Status == "" {
		cart.Status = domain.StatusActive
	}
	s.policy.Apply(cart)
	return cart
}

func (s *Store) fresh(sessionID string) *domain.Cart {
	if sessionID == "" {
		sessionID = s.newID()
	}
	cart := domain.NewCart(s.newID(), s.now())
	cart.SessionID = sessionID
	s.policy.Apply(cart)
	return cart
}

// persist stamps updatedAt and, for guest carts, pushes expiresAt to now+ttl.
// On a write failure the computed cart is still returned.
func (s *Store) persist(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	now := s.now()
	cart.UpdatedAt = now
	if cart.IsGuest() {
		exp := now.Add(s.ttl)
		cart.ExpiresAt = &exp
	} else {
		cart.ExpiresAt = nil
	}

	data, err := json.Marshal(envelope{Cart: cart, ExpiresAt: cart.ExpiresAt})
	if err != nil {
		return cart.Clone(), fmt.Errorf("marshal local cart: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.log.Warn("write local cart", zap.Error(err))
		return cart.Clone(), fmt.Errorf("write local cart: %w", err)
	}
	return cart.Clone(), nil
}
