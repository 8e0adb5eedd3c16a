package facade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-client/internal/kv"
	"github.com/fjod/go_cart/cart-client/internal/localcart"
	"github.com/fjod/go_cart/cart-client/internal/remotecart"
	"github.com/fjod/go_cart/pkg/domain"
	"github.com/fjod/go_cart/pkg/pricing"
)

var (
	_ RemoteStore = (*remotecart.Client)(nil)
	_ Store       = (*localcart.Store)(nil)
)

var errUnavailable = errors.New("connection refused")

// mockRemote is an in-memory cart service. When err is set every call fails.
type mockRemote struct {
	m     sync.RWMutex
	cart  *domain.Cart
	err   error
	token string
	calls int

	getToken    string // token in use at the last Get
	mergedID    string
	mergedItems []domain.CartItem
}

func newMockRemote() *mockRemote {
	c := domain.NewCart("remote-1", time.Now())
	pricing.Apply(c)
	return &mockRemote{cart: c}
}

func (m *mockRemote) apply(fn func(c *domain.Cart)) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	fn(m.cart)
	pricing.Apply(m.cart)
	return m.cart.Clone(), nil
}

func (m *mockRemote) Get(context.Context) (*domain.Cart, error) {
	return m.apply(func(*domain.Cart) { m.getToken = m.token })
}

func (m *mockRemote) AddItem(_ context.Context, item domain.NewItem) (*domain.Cart, error) {
	return m.apply(func(c *domain.Cart) {
		c.Items, _ = domain.AddLine(c.Items, item, time.Now(), nil)
	})
}

func (m *mockRemote) UpdateItem(_ context.Context, id string, qty int) (*domain.Cart, error) {
	return m.apply(func(c *domain.Cart) {
		c.Items, _ = domain.UpdateLine(c.Items, id, qty)
	})
}

func (m *mockRemote) RemoveItem(_ context.Context, id string) (*domain.Cart, error) {
	return m.apply(func(c *domain.Cart) {
		c.Items = domain.RemoveLine(c.Items, id)
	})
}

func (m *mockRemote) Clear(context.Context) (*domain.Cart, error) {
	return m.apply(func(c *domain.Cart) {
		c.ID = "remote-2"
		c.Items = []domain.CartItem{}
	})
}

func (m *mockRemote) Summary(context.Context) (*domain.Summary, error) {
	cart, err := m.apply(func(*domain.Cart) {})
	if err != nil {
		return nil, err
	}
	s := cart.Summary()
	return &s, nil
}

func (m *mockRemote) Merge(_ context.Context, guest *domain.Cart) (*domain.Cart, error) {
	return m.apply(func(c *domain.Cart) {
		m.mergedID = guest.ID
		m.mergedItems = guest.Items
		c.CustomerID = "cust-1"
		c.Items = domain.MergeLines(c.Items, guest.Items, time.Now(), nil)
	})
}

func (m *mockRemote) SetToken(token string) {
	m.m.Lock()
	defer m.m.Unlock()
	m.token = token
}

func (m *mockRemote) setErr(err error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.err = err
}

func setupFacade(t *testing.T, opts ...Option) (*Facade, *mockRemote, *localcart.Store) {
	t.Helper()
	remote := newMockRemote()
	local := localcart.NewStore(kv.NewMemoryStore())
	return New(remote, local, opts...), remote, local
}

func TestAddToCart_RemoteSuccess(t *testing.T) {
	f, remote, local := setupFacade(t)
	ctx := context.Background()

	cart, err := f.AddToCart(ctx, domain.NewItem{ProductID: "p1", Quantity: 2, Price: 15})
	require.NoError(t, err)
	assert.Equal(t, "remote-1", cart.ID)
	assert.Equal(t, domain.Amount(42.4), cart.Total)
	assert.Equal(t, 1, remote.calls)

	localCart, err := local.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, localCart.Items, "local store must not be touched when remote succeeds")
}

func TestAddToCart_RemoteFails_FallsBackSilently_ScenarioD(t *testing.T) {
	f, remote, _ := setupFacade(t)
	remote.setErr(errUnavailable)

	cart, err := f.AddToCart(context.Background(), domain.NewItem{ProductID: "p1", Quantity: 2, Price: 15})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "p1", cart.Items[0].ProductID)
	assert.Equal(t, domain.Amount(30), cart.Subtotal)
	assert.Equal(t, domain.Amount(42.4), cart.Total)
	assert.NotEqual(t, "remote-1", cart.ID)
}

func TestEveryOperation_FallsBack(t *testing.T) {
	f, remote, _ := setupFacade(t)
	remote.setErr(errUnavailable)
	ctx := context.Background()

	cart, err := f.GetCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	cart, err = f.AddToCart(ctx, domain.NewItem{ProductID: "p1", Quantity: 1, Price: 10})
	require.NoError(t, err)
	lineID := cart.Items[0].ID

	cart, err = f.UpdateCartItem(ctx, lineID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, cart.Items[0].Quantity)

	cart, err = f.RemoveFromCart(ctx, lineID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	before := cart.ID
	cart, err = f.ClearCart(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, cart.ID)

	cart, err = f.RefreshCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestFailFast_SurfacesRemoteError(t *testing.T) {
	f, remote, local := setupFacade(t, WithPolicy(FailFast{}))
	remote.setErr(errUnavailable)
	ctx := context.Background()

	_, err := f.AddToCart(ctx, domain.NewItem{ProductID: "p1", Quantity: 1, Price: 10})
	assert.ErrorIs(t, err, errUnavailable)

	localCart, err := local.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, localCart.Items)
}

func TestFallback_InvalidLocalInputKeepsSnapshot(t *testing.T) {
	f, remote, _ := setupFacade(t)
	ctx := context.Background()

	good, err := f.AddToCart(ctx, domain.NewItem{ProductID: "p1", Quantity: 1, Price: 10})
	require.NoError(t, err)

	remote.setErr(errUnavailable)
	cart, err := f.AddToCart(ctx, domain.NewItem{ProductID: "p2", Quantity: 0, Price: 10})
	require.NoError(t, err)
	assert.Equal(t, good.ID, cart.ID)
	assert.Equal(t, good.Items, cart.Items)
}

func TestAccessors(t *testing.T) {
	f, _, _ := setupFacade(t)
	assert.Equal(t, 0, f.ItemCount())
	assert.Equal(t, domain.Amount(0), f.Subtotal())
	assert.Equal(t, domain.Amount(0), f.Total())
	assert.Nil(t, f.Snapshot())

	ctx := context.Background()
	_, err := f.AddToCart(ctx, domain.NewItem{ProductID: "p1", Quantity: 2, Price: 15})
	require.NoError(t, err)
	_, err = f.AddToCart(ctx, domain.NewItem{ProductID: "p2", Quantity: 1, Price: 5})
	require.NoError(t, err)

	assert.Equal(t, 3, f.ItemCount())
	assert.Equal(t, domain.Amount(35), f.Subtotal())
	assert.Equal(t, domain.Amount(47.8), f.Total())
}

func TestSummary_FallsBackToLocal(t *testing.T) {
	f, remote, local := setupFacade(t)
	ctx := context.Background()

	_, err := local.AddItem(ctx, domain.NewItem{ProductID: "p1", Quantity: 4, Price: 10})
	require.NoError(t, err)

	remote.setErr(errUnavailable)
	s, err := f.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, s.ItemCount)
	assert.Equal(t, domain.Amount(40), s.Subtotal)
	assert.Equal(t, 4, f.ItemCount(), "accessors follow the summary that was shown")
	assert.Equal(t, domain.Amount(40), f.Subtotal())
}

func TestMergeGuestCart_Success(t *testing.T) {
	f, remote, local := setupFacade(t)
	ctx := context.Background()

	_, err := local.AddItem(ctx, domain.NewItem{ProductID: "p1", Quantity: 2, Price: 15})
	require.NoError(t, err)

	merged, err := f.MergeGuestCart(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", merged.CustomerID)
	require.Len(t, merged.Items, 1)
	assert.Equal(t, "tok-1", remote.token)
	assert.Equal(t, 2, f.ItemCount())

	guest, err := local.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, guest.Items, "guest cart is cleared after a successful merge")
}

func TestMergeGuestCart_NamesRemoteGuestCart(t *testing.T) {
	f, remote, local := setupFacade(t)
	ctx := context.Background()

	_, err := f.AddToCart(ctx, domain.NewItem{ProductID: "p1", Quantity: 2, Price: 15})
	require.NoError(t, err)

	merged, err := f.MergeGuestCart(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "remote-1", remote.mergedID, "merge must name the cart the service holds")
	assert.Empty(t, remote.mergedItems, "lines already on the service are not sent again")
	assert.Equal(t, "", remote.getToken, "guest cart is looked up before signing in")
	require.Len(t, merged.Items, 1)
	assert.Equal(t, "p1", merged.Items[0].ProductID)
	assert.Equal(t, 2, f.ItemCount())

	guest, err := local.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, guest.Items)
}

func TestMergeGuestCart_SendsLocalLinesWithRemoteGuestCart(t *testing.T) {
	f, remote, local := setupFacade(t)
	ctx := context.Background()

	_, err := f.AddToCart(ctx, domain.NewItem{ProductID: "p1", Quantity: 1, Price: 10})
	require.NoError(t, err)
	remote.setErr(errUnavailable)
	_, err = f.AddToCart(ctx, domain.NewItem{ProductID: "p2", Quantity: 1, Price: 5})
	require.NoError(t, err)
	remote.setErr(nil)

	merged, err := f.MergeGuestCart(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "remote-1", remote.mergedID)
	require.Len(t, remote.mergedItems, 1)
	assert.Equal(t, "p2", remote.mergedItems[0].ProductID)
	assert.Len(t, merged.Items, 2)

	guest, err := local.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, guest.Items)
}

func TestMergeGuestCart_FailureKeepsGuestCart(t *testing.T) {
	f, remote, local := setupFacade(t)
	ctx := context.Background()

	before, err := local.AddItem(ctx, domain.NewItem{ProductID: "p1", Quantity: 2, Price: 15})
	require.NoError(t, err)

	remote.setErr(errUnavailable)
	_, err = f.MergeGuestCart(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrMergeFailed)
	assert.ErrorIs(t, err, errUnavailable)

	after, err := local.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	require.Len(t, after.Items, 1)
	assert.Equal(t, before.Items[0].ID, after.Items[0].ID)
	assert.Equal(t, 2, after.Items[0].Quantity)
}

type countingPolicy struct {
	ops []string
}

func (p *countingPolicy) Fallback(_ context.Context, op string, _ error) bool {
	p.ops = append(p.ops, op)
	return true
}

func TestPolicy_IsConsultedOnlyOnFailure(t *testing.T) {
	p := &countingPolicy{}
	f, remote, _ := setupFacade(t, WithPolicy(p), WithLogger(zap.NewNop()))
	ctx := context.Background()

	_, err := f.GetCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.ops)

	remote.setErr(errUnavailable)
	_, err = f.GetCart(ctx)
	require.NoError(t, err)
	_, err = f.ClearCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "clear"}, p.ops)
}

func TestSilentFallback_AlwaysFallsBack(t *testing.T) {
	assert.True(t, SilentFallback{}.Fallback(context.Background(), "add", errUnavailable))
	assert.True(t, SilentFallback{Log: zap.NewNop()}.Fallback(context.Background(), "add", errUnavailable))
	assert.False(t, FailFast{}.Fallback(context.Background(), "add", errUnavailable))
}
