package domain

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusAbandoned Status = "abandoned"
	StatusConverted Status = "converted"
)

// Cart is the aggregate of line items plus derived totals. Totals are only ever
// written by the pricing package.
type Cart struct {
	ID         string     `json:"id" bson:"_id"`
	CustomerID string     `json:"customerId,omitempty" bson:"customer_id,omitempty"`
	SessionID  string     `json:"sessionId,omitempty" bson:"session_id,omitempty"`
	Items      []CartItem `json:"items" bson:"items"`
	Subtotal   Amount     `json:"subtotal" bson:"subtotal"`
	Tax        Amount     `json:"tax" bson:"tax"`
	Shipping   Amount     `json:"shipping" bson:"shipping"`
	Discount   Amount     `json:"discount" bson:"discount"`
	Total      Amount     `json:"total" bson:"total"`
	Status     Status     `json:"status" bson:"status"`
	CreatedAt  time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" bson:"updated_at"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty" bson:"expires_at,omitempty"`
}

// CartItem is one product+variant line.
type CartItem struct {
	ID         string    `json:"id" bson:"id"`
	ProductID  string    `json:"productId" bson:"product_id"`
	Name       string    `json:"name" bson:"name"`
	Price      Amount    `json:"price" bson:"price"`
	Quantity   int       `json:"quantity" bson:"quantity"`
	TotalPrice Amount    `json:"totalPrice" bson:"total_price"`
	Color      string    `json:"color,omitempty" bson:"color,omitempty"`
	Size       string    `json:"size,omitempty" bson:"size,omitempty"`
	Image      string    `json:"image,omitempty" bson:"image,omitempty"`
	AddedAt    time.Time `json:"addedAt" bson:"added_at"`
}

// UnmarshalJSON decodes quantity leniently, the same way Amount decodes prices.
func (i *CartItem) UnmarshalJSON(data []byte) error {
	type alias CartItem
	aux := struct {
		*alias
		Quantity Amount `json:"quantity"`
	}{alias: (*alias)(i)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	i.Quantity = int(aux.Quantity.Float64())
	return nil
}

// NewItem is the input of an add operation.
type NewItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     Amount `json:"price"`
	Quantity  int    `json:"quantity"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
	Image     string `json:"image,omitempty"`
}

type Summary struct {
	ItemCount int    `json:"itemCount"`
	Subtotal  Amount `json:"subtotal"`
	Tax       Amount `json:"tax"`
	Shipping  Amount `json:"shipping"`
	Discount  Amount `json:"discount"`
	Total     Amount `json:"total"`
}

// NewCart returns an empty active cart. Totals are zero until priced.
func NewCart(id string, now time.Time) *Cart {
	return &Cart{
		ID:        id,
		Items:     []CartItem{},
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) IsGuest() bool {
	return c.CustomerID == ""
}

func (c *Cart) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// ItemCount is the number of units across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		if item.Quantity > 0 {
			n += item.Quantity
		}
	}
	return n
}

func (c *Cart) Summary() Summary {
	return Summary{
		ItemCount: c.ItemCount(),
		Subtotal:  c.Subtotal,
		Tax:       c.Tax,
		Shipping:  c.Shipping,
		Discount:  c.Discount,
		Total:     c.Total,
	}
}

// Clone returns a deep copy so snapshots handed to callers cannot be mutated in place.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]CartItem, len(c.Items))
	copy(out.Items, c.Items)
	if c.ExpiresAt != nil {
		exp := *c.ExpiresAt
		out.ExpiresAt = &exp
	}
	return &out
}
