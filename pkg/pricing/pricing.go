// Package pricing derives cart totals from line items under a fixed policy.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/pkg/domain"
)

const (
	DefaultTaxRate               = 0.08
	DefaultFreeShippingThreshold = 100.0
	DefaultFlatShippingFee       = 10.0
)

// Policy holds the constants totals are computed with. Shipping is free only when
// the subtotal is strictly greater than FreeShippingThreshold.
type Policy struct {
	TaxRate               float64
	FreeShippingThreshold float64
	FlatShippingFee       float64
	// FloorTotalAtZero clamps Total at 0 when Discount exceeds everything else.
	FloorTotalAtZero bool
}

type Totals struct {
	Subtotal domain.Amount `json:"subtotal"`
	Tax      domain.Amount `json:"tax"`
	Shipping domain.Amount `json:"shipping"`
	Total    domain.Amount `json:"total"`
}

func DefaultPolicy() Policy {
	return Policy{
		TaxRate:               DefaultTaxRate,
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		FlatShippingFee:       DefaultFlatShippingFee,
	}
}

// Recompute uses the default policy and no discount.
func Recompute(items []domain.CartItem) Totals {
	return DefaultPolicy().Recompute(items, 0)
}

// Apply prices cart with the default policy.
func Apply(cart *domain.Cart) {
	DefaultPolicy().Apply(cart)
}

// Recompute is pure and deterministic. Non-finite numbers and non-positive
// quantities count as 0. Line totals are re-derived from price and quantity, so
// the subtotal equals the sum of line totals after Apply; a stale TotalPrice on
// an input line is ignored.
func (p Policy) Recompute(items []domain.CartItem, discount domain.Amount) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(dec(domain.LineTotal(item.Price, item.Quantity)))
	}

	tax := subtotal.Mul(decimal.NewFromFloat(p.TaxRate))

	shipping := decimal.NewFromFloat(p.FlatShippingFee)
	if subtotal.GreaterThan(decimal.NewFromFloat(p.FreeShippingThreshold)) {
		shipping = decimal.Zero
	}

	total := subtotal.Add(tax).Add(shipping).Sub(dec(discount))
	if p.FloorTotalAtZero && total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal: domain.Amount(subtotal.InexactFloat64()),
		Tax:      domain.Amount(tax.InexactFloat64()),
		Shipping: domain.Amount(shipping.InexactFloat64()),
		Total:    domain.Amount(total.InexactFloat64()),
	}
}

// Apply re-derives every line total and the cart totals in place.
func (p Policy) Apply(cart *domain.Cart) {
	if cart == nil {
		return
	}
	for i := range cart.Items {
		cart.Items[i].Price = cart.Items[i].Price.Sanitize()
		cart.Items[i].TotalPrice = domain.LineTotal(cart.Items[i].Price, cart.Items[i].Quantity)
	}
	cart.Discount = cart.Discount.Sanitize()

	t := p.Recompute(cart.Items, cart.Discount)
	cart.Subtotal = t.Subtotal
	cart.Tax = t.Tax
	cart.Shipping = t.Shipping
	cart.Total = t.Total
}

func dec(a domain.Amount) decimal.Decimal {
	return decimal.NewFromFloat(a.Float64())
}
