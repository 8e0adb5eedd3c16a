package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/identity"
	"github.com/fjod/go_cart/pkg/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// CartRepository stores whole cart documents. Line edits happen in the service
// and are written back with SaveCart.
type CartRepository interface {
	// GetActiveCart returns the owner's active cart or ErrCartNotFound.
	GetActiveCart(ctx context.Context, owner identity.Owner) (*domain.Cart, error)
	GetCartByID(ctx context.Context, id string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
	DeleteCart(ctx context.Context, id string) error
	// MarkConverted flips the customer's active cart to converted.
	MarkConverted(ctx context.Context, customerID string) (*domain.Cart, error)
	// MarkAbandoned flips active carts idle since before, or past their expiry at
	// now, to abandoned and reports how many changed.
	MarkAbandoned(ctx context.Context, before, now time.Time) (int64, error)
}
