package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is the body of an order-creation call.
type OrderRequest struct {
	CartID        int64        `json:"cart_id"`
	DeliveryInfo  DeliveryInfo `json:"delivery_info"`
	PaymentMethod string       `json:"payment_method,omitempty"`
}

// OrderItem is one line of a created order.
type OrderItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// OrderResponse is an order as returned by the backend. Orders are never edited client side.
type OrderResponse struct {
	ID           int64           `json:"id"`
	OrderNumber  string          `json:"order_number"`
	Status       string          `json:"status"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Items        []OrderItem     `json:"items"`
	DeliveryInfo DeliveryInfo    `json:"delivery_info"`
	CreatedAt    time.Time       `json:"created_at"`
}
