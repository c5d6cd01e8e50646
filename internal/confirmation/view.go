// Package confirmation builds what the shopper sees once checkout completes.
package confirmation

import (
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-checkout/internal/domain"
)

type Kind string

const (
	KindOrder       Kind = "order"
	KindTransaction Kind = "transaction"
)

type Line struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

type DeliverySummary struct {
	Recipient    string `json:"recipient"`
	Phone        string `json:"phone"`
	Email        string `json:"email,omitempty"`
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

// Transaction holds the identifiers a hosted gateway appends to the return URL.
type Transaction struct {
	ID              string `json:"transaction_id,omitempty"`
	PurchaseOrderID string `json:"purchase_order_id,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Mobile          string `json:"mobile,omitempty"`
	Status          string `json:"status,omitempty"`
}

func (t Transaction) Empty() bool {
	return t.ID == "" && t.PurchaseOrderID == "" && t.Amount == "" && t.Mobile == ""
}

// completedStatuses are the gateway status values that mean the payment went
// through. Khalti sends "Completed", eSewa "COMPLETE".
var completedStatuses = map[string]bool{
	"completed": true,
	"complete":  true,
	"success":   true,
}

// Completed reports whether the gateway marked the payment as paid. A return
// without a status counts as paid.
func (t Transaction) Completed() bool {
	return t.Status == "" || completedStatuses[strings.ToLower(t.Status)]
}

// View is the rendered confirmation. Exactly one of the order fields or
// Transaction is populated, depending on Kind.
type View struct {
	Kind        Kind             `json:"kind"`
	OrderID     int64            `json:"order_id,omitempty"`
	OrderNumber string           `json:"order_number,omitempty"`
	Status      string           `json:"status,omitempty"`
	PlacedAt    *time.Time       `json:"placed_at,omitempty"`
	Items       []Line           `json:"items,omitempty"`
	ItemCount   int              `json:"item_count,omitempty"`
	Total       *decimal.Decimal `json:"total,omitempty"`
	Delivery    *DeliverySummary `json:"delivery,omitempty"`
	Transaction *Transaction     `json:"transaction,omitempty"`
	NextSteps   []string         `json:"next_steps"`
}

var orderNextSteps = []string{
	"You will receive a confirmation call before dispatch.",
	"Keep your order number handy for any support request.",
	"Track the order from your order history.",
}

var transactionNextSteps = []string{
	"Your payment was received by the gateway.",
	"The order will appear in your order history once the payment is verified.",
}

var incompleteNextSteps = []string{
	"The payment was not completed and nothing was charged.",
	"Choose a payment method to try again.",
}

// FromOrder renders a created order.
func FromOrder(o domain.OrderResponse) View {
	v := View{
		Kind:        KindOrder,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Status:      o.Status,
		Items:       make([]Line, 0, len(o.Items)),
		NextSteps:   orderNextSteps,
	}
	if !o.CreatedAt.IsZero() {
		placed := o.CreatedAt
		v.PlacedAt = &placed
	}

	sum := decimal.Zero
	for _, it := range o.Items {
		line := Line{Name: it.ProductName, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Total: it.TotalPrice}
		if line.Total.IsZero() {
			line.Total = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		}
		sum = sum.Add(line.Total)
		v.ItemCount += it.Quantity
		v.Items = append(v.Items, line)
	}

	total := o.TotalAmount
	if total.IsZero() {
		total = sum
	}
	v.Total = &total

	d := o.DeliveryInfo
	if d.CustomerName != "" || d.Address != "" {
		v.Delivery = &DeliverySummary{
			Recipient:    d.CustomerName,
			Phone:        d.PhoneNumber,
			Email:        d.Email,
			Address:      joinNonEmpty(", ", d.Address, d.City, d.State, d.ZipCode),
			Instructions: d.DeliveryInstructions,
		}
	}
	return v
}

// FromQuery renders the gateway redirect-back page from its query string.
// Gateways use either transaction_id or pidx for the transaction reference.
func FromQuery(q url.Values) View {
	tx := Transaction{
		ID:              firstNonEmpty(q.Get("transaction_id"), q.Get("pidx")),
		PurchaseOrderID: strings.TrimSpace(q.Get("purchase_order_id")),
		Amount:          strings.TrimSpace(q.Get("amount")),
		Mobile:          strings.TrimSpace(q.Get("mobile")),
		Status:          strings.TrimSpace(q.Get("status")),
	}
	v := View{Kind: KindTransaction, Status: tx.Status, NextSteps: transactionNextSteps}
	if !tx.Empty() {
		v.Transaction = &tx
	}
	if !tx.Completed() {
		v.NextSteps = incompleteNextSteps
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
