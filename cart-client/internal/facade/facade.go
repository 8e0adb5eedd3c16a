// Package facade presents one cart API and hides whether the authoritative copy
// is the remote service or the local store.
package facade

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/pkg/domain"
)

// ErrMergeFailed wraps the cause of a failed guest-to-customer merge. The guest
// cart is left untouched when it is returned.
var ErrMergeFailed = errors.New("merge guest cart failed")

// Store is implemented by both the remote client and the local store.
type Store interface {
	Get(ctx context.Context) (*domain.Cart, error)
	AddItem(ctx context.Context, item domain.NewItem) (*domain.Cart, error)
	UpdateItem(ctx context.Context, itemID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, itemID string) (*domain.Cart, error)
	Clear(ctx context.Context) (*domain.Cart, error)
}

type RemoteStore interface {
	Store
	Summary(ctx context.Context) (*domain.Summary, error)
	Merge(ctx context.Context, guest *domain.Cart) (*domain.Cart, error)
	SetToken(token string)
}

type Facade struct {
	remote RemoteStore
	local  Store
	policy Policy
	log    *zap.Logger

	mu       sync.RWMutex
	snapshot *domain.Cart
}

type Option func(*Facade)

func WithPolicy(p Policy) Option {
	return func(f *Facade) { f.policy = p }
}

func WithLogger(log *zap.Logger) Option {
	return func(f *Facade) {
		if log != nil {
			f.log = log
		}
	}
}

// New uses SilentFallback unless WithPolicy says otherwise.
func New(remote RemoteStore, local Store, opts ...Option) *Facade {
	f := &Facade{
		remote: remote,
		local:  local,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.policy == nil {
		f.policy = SilentFallback{Log: f.log}
	}
	return f
}

func (f *Facade) GetCart(ctx context.Context) (*domain.Cart, error) {
	return f.run(ctx, "get", func(ctx context.Context, s Store) (*domain.Cart, error) {
		return s.Get(ctx)
	})
}

// RefreshCart re-reads the cart, replacing whatever snapshot is held.
func (f *Facade) RefreshCart(ctx context.Context) (*domain.Cart, error) {
	return f.run(ctx, "refresh", func(ctx context.Context, s Store) (*domain.Cart, error) {
		return s.Get(ctx)
	})
}

func (f *Facade) AddToCart(ctx context.Context, item domain.NewItem) (*domain.Cart, error) {
	return f.run(ctx, "add", func(ctx context.Context, s Store) (*domain.Cart, error) {
		return s.AddItem(ctx, item)
	})
}

func (f *Facade) UpdateCartItem(ctx context.Context, itemID string, quantity int) (*domain.Cart, error) {
	return f.run(ctx, "update", func(ctx context.Context, s Store) (*domain.Cart, error) {
		return s.UpdateItem(ctx, itemID, quantity)
	})
}

func (f *Facade) RemoveFromCart(ctx context.Context, itemID string) (*domain.Cart, error) {
	return f.run(ctx, "remove", func(ctx context.Context, s Store) (*domain.Cart, error) {
		return s.RemoveItem(ctx, itemID)
	})
}

func (f *Facade) ClearCart(ctx context.Context) (*domain.Cart, error) {
	return f.run(ctx, "clear", func(ctx context.Context, s Store) (*domain.Cart, error) {
		return s.Clear(ctx)
	})
}

// Summary prefers the service's own summary and otherwise derives one from the
// local cart, which then becomes the snapshot.
func (f *Facade) Summary(ctx context.Context) (*domain.Summary, error) {
	return resolve(ctx, f, "summary", f.remote.Summary, func(ctx context.Context) (*domain.Summary, error) {
		cart, err := f.local.Get(ctx)
		if cart == nil {
			return nil, err
		}
		f.setSnapshot(cart)
		s := cart.Summary()
		return &s, nil
	})
}

// MergeGuestCart authenticates the remote client with token and asks the service
// to merge the guest cart into the customer cart. The request names the guest
// cart the service holds for this session, or the local cart when the service
// could not be reached, and carries the local lines. On success the merged cart
// is adopted and the local guest cart is cleared; on failure the guest cart is
// kept and ErrMergeFailed is returned.
func (f *Facade) MergeGuestCart(ctx context.Context, token string) (*domain.Cart, error) {
	local, err := f.local.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read guest cart: %w", ErrMergeFailed, err)
	}

	guest := local.Clone()
	if id := f.remoteGuestCartID(ctx, local.ID); id != "" {
		guest.ID = id
	}

	f.remote.SetToken(token)
	merged, err := f.remote.Merge(ctx, guest)
	if err != nil {
		f.log.Warn("guest cart merge failed, keeping guest cart",
			zap.String("guest_cart_id", guest.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}

	if _, err := f.local.Clear(ctx); err != nil {
		f.log.Warn("clear local cart after merge", zap.Error(err))
	}
	f.setSnapshot(merged)
	return merged.Clone(), nil
}

// remoteGuestCartID looks up the guest cart the service holds for the current
// session. It must run before the token is set. When the service is unreachable
// the last snapshot is used if it came from the service.
func (f *Facade) remoteGuestCartID(ctx context.Context, localID string) string {
	cart, err := f.remote.Get(ctx)
	if err == nil {
		if cart.IsGuest() {
			return cart.ID
		}
		return ""
	}
	f.log.Debug("guest cart lookup failed", zap.Error(err))
	if snap := f.Snapshot(); snap != nil && snap.IsGuest() && snap.ID != localID {
		return snap.ID
	}
	return ""
}

// ItemCount, Subtotal and Total read the last cart returned by a cart operation
// or by a Summary served from the local store.
func (f *Facade) ItemCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.snapshot == nil {
		return 0
	}
	return f.snapshot.ItemCount()
}

func (f *Facade) Subtotal() domain.Amount {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.snapshot == nil {
		return 0
	}
	return f.snapshot.Subtotal
}

func (f *Facade) Total() domain.Amount {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.snapshot == nil {
		return 0
	}
	return f.snapshot.Total
}

// Snapshot returns a copy of the last cart, or nil before the first operation.
func (f *Facade) Snapshot() *domain.Cart {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshot.Clone()
}

func (f *Facade) run(ctx context.Context, op string, fn func(ctx context.Context, s Store) (*domain.Cart, error)) (*domain.Cart, error) {
	cart, err := resolve(ctx, f, op,
		func(ctx context.Context) (*domain.Cart, error) { return fn(ctx, f.remote) },
		func(ctx context.Context) (*domain.Cart, error) { return f.runLocal(ctx, op, fn) },
	)
	if err != nil {
		return nil, err
	}
	f.setSnapshot(cart)
	return cart.Clone(), nil
}

// runLocal runs op locally and degrades to the best local state it can find.
func (f *Facade) runLocal(ctx context.Context, op string, fn func(ctx context.Context, s Store) (*domain.Cart, error)) (*domain.Cart, error) {
	cart, err := fn(ctx, f.local)
	if err == nil {
		return cart, nil
	}
	f.log.Warn("local cart operation failed", zap.String("op", op), zap.Error(err))
	if cart != nil {
		return cart, nil
	}
	if snap := f.Snapshot(); snap != nil {
		return snap, nil
	}
	return f.local.Get(ctx)
}

func (f *Facade) setSnapshot(cart *domain.Cart) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = cart.Clone()
}

// resolve runs remote and, if it fails and the policy allows, local.
func resolve[T any](ctx context.Context, f *Facade, op string,
	remote func(context.Context) (T, error),
	local func(context.Context) (T, error),
) (T, error) {
	v, err := remote(ctx)
	if err == nil {
		return v, nil
	}
	if !f.policy.Fallback(ctx, op, err) {
		var zero T
		return zero, err
	}
	return local(ctx)
}
