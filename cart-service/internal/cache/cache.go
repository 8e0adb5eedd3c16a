package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/pkg/domain"
)

// CartCache holds the latest cart per owner key (see identity.Owner.Key).
type CartCache interface {
	Get(ctx context.Context, ownerKey string) (*domain.Cart, error)
	Set(ctx context.Context, ownerKey string, cart *domain.Cart) error
	Delete(ctx context.Context, ownerKey string) error
}

var ErrCacheMiss = errors.New("cache miss")
