package domain

import "github.com/shopspring/decimal"

// Product is what the storefront hands over when a shopper adds something to the cart.
type Product struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image,omitempty"`
	Quantity int             `json:"quantity,omitempty"`
}

// CartItem is a single cart line. Quantity is always >= 1 while the item is in a cart.
type CartItem struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Image    string          `json:"image,omitempty"`
}

// LineTotal is price times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartLine is what the backend cart is created from.
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// CartState is the persisted form of a cart. CartID stays nil until the
// backend has assigned one.
type CartState struct {
	Items  []CartItem `json:"items"`
	CartID *int64     `json:"cartId"`
}
