package checkout

import (
	"log"

	"github.com/shopspring/decimal"

	"marketplace-checkout/internal/auth"
	"marketplace-checkout/internal/cart"
	"marketplace-checkout/internal/confirmation"
	"marketplace-checkout/internal/delivery"
	"marketplace-checkout/internal/domain"
	"marketplace-checkout/internal/payment"
)

// Snapshot is the persisted form of a flow. In-flight flags are not part of it.
type Snapshot struct {
	Step         Step                  `json:"step"`
	Cart         domain.CartState      `json:"cart"`
	Auth         auth.State            `json:"auth"`
	Payment      payment.State         `json:"payment"`
	Location     *delivery.Point       `json:"location,omitempty"`
	Delivery     *domain.DeliveryInfo  `json:"delivery,omitempty"`
	Draft        *domain.DeliveryInfo  `json:"draft,omitempty"`
	Order        *domain.OrderResponse `json:"order,omitempty"`
	Confirmation *confirmation.View    `json:"confirmation,omitempty"`
	Failure      string                `json:"failure,omitempty"`
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := Snapshot{
		Step:         f.step,
		Cart:         f.cart.State(),
		Auth:         f.gate.State(),
		Payment:      f.payments.State(),
		Delivery:     copyDelivery(f.delivery),
		Draft:        copyDelivery(f.draft),
		Order:        f.order,
		Confirmation: f.view,
		Failure:      f.failure,
	}
	if pt, picked := f.picker.Current(); picked {
		snap.Location = &pt
	}
	return snap
}

// Restore rebuilds a flow from a snapshot. A flow saved while an order was
// pending comes back as failed, since the outcome of that call is unknown.
func Restore(snap Snapshot, backend Backend, settings Settings, v *delivery.Validator, logger *log.Logger) *Flow {
	f := newFlow(backend, settings, v, logger, cart.Restore(snap.Cart, backend, settings.ShippingFee))
	f.gate.Restore(snap.Auth)
	f.payments.Restore(snap.Payment)
	if snap.Location != nil {
		if err := f.picker.Pick(snap.Location.Latitude, snap.Location.Longitude); err != nil {
			logger.Printf("restore location: %v", err)
		}
	}
	switch {
	case snap.Step == StepOrderPending:
		f.step = StepFailed
	case snap.Step.Valid():
		f.step = snap.Step
	}
	f.delivery = copyDelivery(snap.Delivery)
	f.draft = copyDelivery(snap.Draft)
	f.order = snap.Order
	f.view = snap.Confirmation
	f.failure = snap.Failure
	return f
}

func copyDelivery(d *domain.DeliveryInfo) *domain.DeliveryInfo {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// PaymentSummary is the payment stage as shown to the shopper.
type PaymentSummary struct {
	Gateways   []domain.Gateway         `json:"gateways"`
	Warning    string                   `json:"warning,omitempty"`
	Expanded   string                   `json:"expanded,omitempty"`
	Selected   *domain.PaymentSelection `json:"selected,omitempty"`
	Processing bool                     `json:"processing"`
}

// Summary is the read model of a session.
type Summary struct {
	Step           Step                  `json:"step"`
	Items          []domain.CartItem     `json:"items"`
	SubTotal       decimal.Decimal       `json:"sub_total"`
	Shipping       decimal.Decimal       `json:"shipping"`
	Total          decimal.Decimal       `json:"total"`
	CartID         *int64                `json:"cart_id"`
	Authenticated  bool                  `json:"authenticated"`
	PendingAction  string                `json:"pending_action,omitempty"`
	Location       delivery.Point        `json:"location"`
	LocationPicked bool                  `json:"location_picked"`
	Delivery       *domain.DeliveryInfo  `json:"delivery,omitempty"`
	Draft          *domain.DeliveryInfo  `json:"draft,omitempty"`
	Payment        PaymentSummary        `json:"payment"`
	Order          *domain.OrderResponse `json:"order,omitempty"`
	Confirmation   *confirmation.View    `json:"confirmation,omitempty"`
	Failure        string                `json:"failure,omitempty"`
}

func (f *Flow) Summary() Summary {
	snap := f.Snapshot()
	pt, picked := f.picker.Current()
	s := Summary{
		Step:           snap.Step,
		Items:          snap.Cart.Items,
		SubTotal:       f.cart.SubTotal(),
		Shipping:       f.cart.Shipping(),
		Total:          f.cart.Total(),
		CartID:         snap.Cart.CartID,
		Authenticated:  snap.Auth.Token != "",
		Location:       pt,
		LocationPicked: picked,
		Delivery:       snap.Delivery,
		Draft:          snap.Draft,
		Payment: PaymentSummary{
			Gateways:   snap.Payment.Gateways,
			Warning:    snap.Payment.Warning,
			Expanded:   snap.Payment.Expanded,
			Selected:   snap.Payment.Choice,
			Processing: f.payments.Processing(),
		},
		Order:        snap.Order,
		Confirmation: snap.Confirmation,
		Failure:      snap.Failure,
	}
	if snap.Auth.Pending != nil {
		s.PendingAction = snap.Auth.Pending.Action
	}
	if s.Payment.Gateways == nil {
		s.Payment.Gateways = []domain.Gateway{}
	}
	return s
}
