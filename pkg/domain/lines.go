package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingProduct  = errors.New("product id is required")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// NewID generates line, cart and session identifiers.
func NewID() string {
	return uuid.NewString()
}

// LineTotal is price * quantity, with malformed inputs treated as 0.
func LineTotal(price Amount, quantity int) Amount {
	if quantity <= 0 {
		return 0
	}
	total := decimal.NewFromFloat(price.Float64()).Mul(decimal.NewFromInt(int64(quantity)))
	return Amount(total.InexactFloat64())
}

func sameVariant(item CartItem, in NewItem) bool {
	return item.ProductID == in.ProductID && item.Color == in.Color && item.Size == in.Size
}

// AddLine merges in into an existing line with the same product, color and size,
// or appends a new line.
func AddLine(items []CartItem, in NewItem, now time.Time, newID func() string) ([]CartItem, error) {
	if in.ProductID == "" {
		return items, ErrMissingProduct
	}
	if in.Quantity <= 0 {
		return items, ErrInvalidQuantity
	}

	for i := range items {
		if sameVariant(items[i], in) {
			items[i].Quantity += in.Quantity
			items[i].TotalPrice = LineTotal(items[i].Price, items[i].Quantity)
			return items, nil
		}
	}

	if newID == nil {
		newID = NewID
	}
	return append(items, CartItem{
		ID:         newID(),
		ProductID:  in.ProductID,
		Name:       in.Name,
		Price:      in.Price.Sanitize(),
		Quantity:   in.Quantity,
		TotalPrice: LineTotal(in.Price, in.Quantity),
		Color:      in.Color,
		Size:       in.Size,
		Image:      in.Image,
		AddedAt:    now,
	}), nil
}

// UpdateLine sets the quantity of line id; a quantity <= 0 removes the line.
// The bool reports whether the line existed.
func UpdateLine(items []CartItem, id string, quantity int) ([]CartItem, bool) {
	for i := range items {
		if items[i].ID != id {
			continue
		}
		if quantity <= 0 {
			return append(items[:i], items[i+1:]...), true
		}
		items[i].Quantity = quantity
		items[i].TotalPrice = LineTotal(items[i].Price, quantity)
		return items, true
	}
	return items, false
}

// RemoveLine deletes line id. Removing an absent line is a no-op.
func RemoveLine(items []CartItem, id string) []CartItem {
	out := items[:0]
	for _, item := range items {
		if item.ID != id {
			out = append(out, item)
		}
	}
	return out
}

// MergeLines folds every valid line of src into dst using AddLine matching.
// Prices already on dst lines win.
func MergeLines(dst, src []CartItem, now time.Time, newID func() string) []CartItem {
	for _, item := range src {
		merged, err := AddLine(dst, NewItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Color:     item.Color,
			Size:      item.Size,
			Image:     item.Image,
		}, now, newID)
		if err != nil {
			continue
		}
		dst = merged
	}
	return dst
}
