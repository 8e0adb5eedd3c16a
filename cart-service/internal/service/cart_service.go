package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/cart-service/internal/cache"
	"github.com/fjod/go_cart/cart-service/internal/identity"
	"github.com/fjod/go_cart/cart-service/internal/repository"
	"github.com/fjod/go_cart/pkg/domain"
	"github.com/fjod/go_cart/pkg/pricing"
)

const (
	MaxQuantity         = 99
	DefaultGuestCartTTL = 24 * time.Hour
	DefaultAbandonAfter = 7 * 24 * time.Hour
)

var (
	ErrNoOwner      = errors.New("cart owner is required")
	ErrInvalidItem  = errors.New("invalid item")
	ErrItemNotFound = errors.New("item not found in cart")
	ErrGuestMerge   = errors.New("merging a cart requires a signed-in customer")
)

type CartService struct {
	repo         repository.CartRepository
	cache        cache.CartCache
	sfg          singleflight.Group // Prevents cache stampede
	policy       pricing.Policy
	guestTTL     time.Duration
	abandonAfter time.Duration
	now          func() time.Time
	newID        func() string
	log          *zap.Logger

	locks sync.Map // owner key -> *ownerLock
	bg    sync.WaitGroup
}

// ownerLock serializes reads and writes of one owner's cart. gen is bumped on
// every cache invalidation so a background cache fill can tell its cart is stale.
type ownerLock struct {
	mu  sync.Mutex
	gen atomic.Uint64
}

type Option func(*CartService)

func WithPolicy(p pricing.Policy) Option {
	return func(s *CartService) { s.policy = p }
}

func WithGuestTTL(ttl time.Duration) Option {
	return func(s *CartService) { s.guestTTL = ttl }
}

func WithAbandonAfter(d time.Duration) Option {
	return func(s *CartService) { s.abandonAfter = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *CartService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *CartService) { s.newID = newID }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *CartService) {
		if log != nil {
			s.log = log
		}
	}
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, opts ...Option) *CartService {
	s := &CartService{
		repo:         repo,
		cache:        cache,
		policy:       pricing.DefaultPolicy(),
		guestTTL:     DefaultGuestCartTTL,
		abandonAfter: DefaultAbandonAfter,
		now:          time.Now,
		newID:        domain.NewID,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCart returns the owner's active cart, creating and storing an empty one on
// first access.
func (s *CartService) GetCart(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
	if owner.IsZero() {
		return nil, ErrNoOwner
	}
	key := owner.Key()

	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(key, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, key)
		if err == nil && s.usable(cart) {
			return cart, nil
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cache get error", zap.String("owner", key), zap.Error(err))
		}

		unlock := s.lock(key)
		defer unlock()
		gen := s.ownerLock(key).gen.Load()

		cart, err = s.loadOrCreate(ctx, owner)
		if err != nil {
			return nil, err
		}
		s.cacheAsync(key, gen, cart)
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a flight must not share the pointer
	return v.(*domain.Cart).Clone(), nil
}

// AddItem merges item into a line with the same product and variant, or adds a
// new line.
func (s *CartService) AddItem(ctx context.Context, owner identity.Owner, item domain.NewItem) (*domain.Cart, error) {
	if err := ValidateItem(item); err != nil {
		return nil, err
	}
	return s.mutate(ctx, owner, func(cart *domain.Cart) error {
		items, err := domain.AddLine(cart.Items, item, s.now(), s.newID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidItem, err)
		}
		cart.Items = capQuantities(items)
		return nil
	})
}

// UpdateItem sets a line's quantity; quantity <= 0 removes the line.
func (s *CartService) UpdateItem(ctx context.Context, owner identity.Owner, itemID string, quantity int) (*domain.Cart, error) {
	if quantity > MaxQuantity {
		return nil, fmt.Errorf("%w: quantity must be at most %d", ErrInvalidItem, MaxQuantity)
	}
	return s.mutate(ctx, owner, func(cart *domain.Cart) error {
		items, found := domain.UpdateLine(cart.Items, itemID, quantity)
		if !found {
			return ErrItemNotFound
		}
		cart.Items = items
		return nil
	})
}

// RemoveItem drops a line. Removing an absent line is not an error.
func (s *CartService) RemoveItem(ctx context.Context, owner identity.Owner, itemID string) (*domain.Cart, error) {
	return s.mutate(ctx, owner, func(cart *domain.Cart) error {
		cart.Items = domain.RemoveLine(cart.Items, itemID)
		return nil
	})
}

// ClearCart discards the active cart and starts a new empty one under a new id.
func (s *CartService) ClearCart(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
	if owner.IsZero() {
		return nil, ErrNoOwner
	}
	unlock := s.lock(owner.Key())
	defer unlock()

	prev, err := s.repo.GetActiveCart(ctx, owner)
	switch {
	case err == nil:
		if err := s.repo.DeleteCart(ctx, prev.ID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
			s.log.Error("repo delete cart error", zap.String("cart_id", prev.ID), zap.Error(err))
			return nil, err
		}
	case !errors.Is(err, repository.ErrCartNotFound):
		return nil, err
	}

	cart := s.newCart(owner)
	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	s.invalidateCache(owner.Key())
	return cart.Clone(), nil
}

func (s *CartService) Summary(ctx context.Context, owner identity.Owner) (*domain.Summary, error) {
	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}
	summary := cart.Summary()
	return &summary, nil
}

// Merge folds the caller's guest carts into the customer's active cart: the
// active cart of the request's session, the cart named by guestCartID when it
// belongs to the same session, and the lines sent by the client. Folded guest
// carts are deleted.
func (s *CartService) Merge(ctx context.Context, owner identity.Owner, guestCartID string, items []domain.CartItem) (*domain.Cart, error) {
	if !owner.IsCustomer() {
		return nil, ErrGuestMerge
	}

	guestKey := ""
	if owner.SessionID != "" {
		guestKey = identity.Owner{SessionID: owner.SessionID}.Key()
		unlock := s.lock(guestKey)
		defer unlock()
	}

	guests, err := s.guestCarts(ctx, owner.SessionID, guestCartID)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.CartItem, 0, len(items))
	for _, g := range guests {
		lines = append(lines, g.Items...)
	}
	lines = append(lines, items...)

	cart, err := s.mutate(ctx, owner, func(cart *domain.Cart) error {
		cart.Items = capQuantities(domain.MergeLines(cart.Items, validLines(lines), s.now(), s.newID))
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, g := range guests {
		if err := s.repo.DeleteCart(ctx, g.ID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
			s.log.Warn("delete merged guest cart", zap.String("cart_id", g.ID), zap.Error(err))
		}
	}
	if len(guests) > 0 {
		s.invalidateCache(guestKey)
	}

	s.log.Info("guest cart merged",
		zap.String("customer_id", owner.CustomerID),
		zap.String("guest_cart_id", guestCartID),
		zap.Int("guest_carts", len(guests)),
		zap.Int("item_count", cart.ItemCount()))
	return cart, nil
}

// guestCarts returns the usable guest carts owned by sessionID: its active cart
// and, when different, the cart named by guestCartID. Carts of other sessions
// are never returned.
func (s *CartService) guestCarts(ctx context.Context, sessionID, guestCartID string) ([]*domain.Cart, error) {
	if sessionID == "" {
		return nil, nil
	}

	var carts []*domain.Cart
	current, err := s.repo.GetActiveCart(ctx, identity.Owner{SessionID: sessionID})
	switch {
	case err == nil && s.usable(current):
		carts = append(carts, current)
	case err != nil && !errors.Is(err, repository.ErrCartNotFound):
		return nil, err
	}

	if guestCartID == "" || (len(carts) > 0 && carts[0].ID == guestCartID) {
		return carts, nil
	}
	named, err := s.repo.GetCartByID(ctx, guestCartID)
	switch {
	case err == nil && named.IsGuest() && named.SessionID == sessionID && s.usable(named):
		carts = append(carts, named)
	case err != nil && !errors.Is(err, repository.ErrCartNotFound):
		return nil, err
	}
	return carts, nil
}

// ConvertCart marks the customer's active cart as checked out.
func (s *CartService) ConvertCart(ctx context.Context, customerID string) error {
	owner := identity.Owner{CustomerID: customerID}
	unlock := s.lock(owner.Key())
	defer unlock()

	cart, err := s.repo.MarkConverted(ctx, customerID)
	if err != nil {
		return fmt.Errorf("convert cart for %s: %w", customerID, err)
	}
	s.invalidateCache(owner.Key())
	s.log.Info("cart converted", zap.String("customer_id", customerID), zap.String("cart_id", cart.ID))
	return nil
}

// SweepAbandoned marks carts idle longer than the abandonment window, and guest
// carts past their expiry, as abandoned.
func (s *CartService) SweepAbandoned(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.repo.MarkAbandoned(ctx, now.Add(-s.abandonAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("abandoned carts swept", zap.Int64("count", n))
	}
	return n, nil
}

// RunSweeper calls SweepAbandoned every interval until ctx is cancelled.
func (s *CartService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepAbandoned(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep abandoned carts", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Wait blocks until background cache writes have finished.
func (s *CartService) Wait() {
	s.bg.Wait()
}

func (s *CartService) mutate(ctx context.Context, owner identity.Owner, fn func(cart *domain.Cart) error) (*domain.Cart, error) {
	if owner.IsZero() {
		return nil, ErrNoOwner
	}
	unlock := s.lock(owner.Key())
	defer unlock()

	cart, err := s.loadOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := fn(cart); err != nil {
		return nil, err
	}
	if err := s.save(ctx, cart); err != nil {
		s.log.Error("repo save cart error", zap.String("cart_id", cart.ID), zap.Error(err))
		return nil, err
	}
	s.invalidateCache(owner.Key())
	return cart.Clone(), nil
}

// loadOrCreate reads the active cart from the repository. A missing or expired
// cart is replaced by a new stored one.
func (s *CartService) loadOrCreate(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
	cart, err := s.repo.GetActiveCart(ctx, owner)
	switch {
	case err == nil && !cart.IsExpired(s.now()):
		s.policy.Apply(cart)
		return cart, nil
	case err == nil:
		cart.Status = domain.StatusAbandoned
		if err := s.repo.SaveCart(ctx, cart); err != nil {
			s.log.Warn("abandon expired cart", zap.String("cart_id", cart.ID), zap.Error(err))
		}
	case !errors.Is(err, repository.ErrCartNotFound):
		return nil, err
	}

	cart = s.newCart(owner)
	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) newCart(owner identity.Owner) *domain.Cart {
	cart := domain.NewCart(s.newID(), s.now())
	cart.CustomerID = owner.CustomerID
	cart.SessionID = owner.SessionID
	s.policy.Apply(cart)
	return cart
}

// save prices the cart, stamps it and writes it. Guest carts get a sliding expiry.
func (s *CartService) save(ctx context.Context, cart *domain.Cart) error {
	now := s.now()
	s.policy.Apply(cart)
	cart.UpdatedAt = now
	if cart.IsGuest() {
		exp := now.Add(s.guestTTL)
		cart.ExpiresAt = &exp
	} else {
		cart.ExpiresAt = nil
	}
	return s.repo.SaveCart(ctx, cart)
}

func (s *CartService) usable(cart *domain.Cart) bool {
	return cart != nil && cart.Status == domain.StatusActive && !cart.IsExpired(s.now())
}

func (s *CartService) ownerLock(key string) *ownerLock {
	v, _ := s.locks.LoadOrStore(key, &ownerLock{})
	return v.(*ownerLock)
}

func (s *CartService) lock(key string) func() {
	l := s.ownerLock(key)
	l.mu.Lock()
	return l.mu.Unlock
}

// cacheAsync fills the cache with a cart read at generation gen. The fill is
// dropped if the owner's cache was invalidated since.
func (s *CartService) cacheAsync(key string, gen uint64, cart *domain.Cart) {
	snapshot := cart.Clone()
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		unlock := s.lock(key)
		defer unlock()
		if s.ownerLock(key).gen.Load() != gen {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.cache.Set(ctx, key, snapshot); err != nil {
			s.log.Warn("cache set error", zap.String("owner", key), zap.Error(err))
		}
	}()
}

// invalidateCache is called with the owner's lock held.
func (s *CartService) invalidateCache(key string) {
	s.ownerLock(key).gen.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, key); err != nil {
		s.log.Warn("cache invalidate error", zap.String("owner", key), zap.Error(err))
	}
}

// ValidateItem checks an add request.
func ValidateItem(item domain.NewItem) error {
	price := float64(item.Price)
	switch {
	case item.ProductID == "":
		return fmt.Errorf("%w: productId is required", ErrInvalidItem)
	case math.IsNaN(price) || math.IsInf(price, 0) || price < 0:
		return fmt.Errorf("%w: price must be a non-negative number", ErrInvalidItem)
	case item.Quantity < 1 || item.Quantity > MaxQuantity:
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidItem, MaxQuantity)
	}
	return nil
}

func validLines(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if item.Price.Sanitize() < 0 {
			continue
		}
		out = append(out, item)
	}
	return out
}

func capQuantities(items []domain.CartItem) []domain.CartItem {
	for i := range items {
		if items[i].Quantity > MaxQuantity {
			items[i].Quantity = MaxQuantity
			items[i].TotalPrice = domain.LineTotal(items[i].Price, MaxQuantity)
		}
	}
	return items
}
