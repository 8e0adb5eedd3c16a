package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/fjod/go_cart/cart-service/internal/identity"
	"github.com/fjod/go_cart/pkg/domain"
)

func setupTestDB(t *testing.T) CartRepository {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, EnsureIndexes(ctx, repo))
	return repo
}

func newCart(id string, owner identity.Owner, updated time.Time) *domain.Cart {
	cart := domain.NewCart(id, updated)
	cart.CustomerID = owner.CustomerID
	cart.SessionID = owner.SessionID
	cart.UpdatedAt = updated
	return cart
}

func TestGetActiveCart_NotFound(t *testing.T) {
	repo := setupTestDB(t)

	cart, err := repo.GetActiveCart(context.Background(), identity.Owner{CustomerID: "nobody"})
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestSaveAndGet_RoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	owner := identity.Owner{CustomerID: "c1"}

	cart := newCart("cart-1", owner, time.Now().UTC().Truncate(time.Millisecond))
	cart.Items = []domain.CartItem{{ID: "l1", ProductID: "p1", Price: 15, Quantity: 2, TotalPrice: 30}}
	cart.Subtotal, cart.Total = 30, 42.4
	require.NoError(t, repo.SaveCart(ctx, cart))

	got, err := repo.GetActiveCart(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "cart-1", got.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "p1", got.Items[0].ProductID)
	assert.Equal(t, domain.Amount(42.4), got.Total)

	byID, err := repo.GetCartByID(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", byID.CustomerID)
}

func TestSaveCart_ReplacesDocument(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	owner := identity.Owner{SessionID: "s1"}

	cart := newCart("cart-1", owner, time.Now())
	cart.Items = []domain.CartItem{{ID: "l1", ProductID: "p1", Quantity: 1}}
	require.NoError(t, repo.SaveCart(ctx, cart))

	cart.Items = []domain.CartItem{}
	require.NoError(t, repo.SaveCart(ctx, cart))

	got, err := repo.GetActiveCart(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
}

func TestGetActiveCart_GuestDoesNotSeeCustomerCart(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	cart := newCart("cart-1", identity.Owner{CustomerID: "c1", SessionID: "s1"}, time.Now())
	require.NoError(t, repo.SaveCart(ctx, cart))

	_, err := repo.GetActiveCart(ctx, identity.Owner{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestDeleteCart(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveCart(ctx, newCart("cart-1", identity.Owner{SessionID: "s1"}, time.Now())))
	require.NoError(t, repo.DeleteCart(ctx, "cart-1"))
	assert.ErrorIs(t, repo.DeleteCart(ctx, "cart-1"), ErrCartNotFound)
}

func TestMarkConverted(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	owner := identity.Owner{CustomerID: "c1"}

	require.NoError(t, repo.SaveCart(ctx, newCart("cart-1", owner, time.Now())))

	converted, err := repo.MarkConverted(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConverted, converted.Status)

	_, err = repo.GetActiveCart(ctx, owner)
	assert.ErrorIs(t, err, ErrCartNotFound)

	_, err = repo.MarkConverted(ctx, "c1")
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestMarkAbandoned(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	stale := newCart("stale", identity.Owner{CustomerID: "c1"}, now.Add(-10*24*time.Hour))
	fresh := newCart("fresh", identity.Owner{CustomerID: "c2"}, now)
	expired := newCart("expired", identity.Owner{SessionID: "s1"}, now)
	past := now.Add(-time.Minute)
	expired.ExpiresAt = &past
	for _, c := range []*domain.Cart{stale, fresh, expired} {
		require.NoError(t, repo.SaveCart(ctx, c))
	}

	n, err := repo.MarkAbandoned(ctx, now.Add(-7*24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.GetCartByID(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, got.Status)

	_, err = repo.GetActiveCart(ctx, identity.Owner{CustomerID: "c2"})
	assert.NoError(t, err)
}
