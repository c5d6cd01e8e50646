package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAuthRequired means there is no session token; the shopper must log in.
	ErrAuthRequired = errors.New("authentication required")
	// ErrEmptyCart means an order was attempted with no items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCartMissing means the cart was never persisted to the backend.
	ErrCartMissing = errors.New("cart id missing, re-enter delivery details")
	// ErrBusy is returned while an earlier submission of the same action is still in flight.
	ErrBusy = errors.New("request already in progress")
	// ErrNoPaymentMethod means confirm was called before any method was chosen.
	ErrNoPaymentMethod = errors.New("please select a payment method")
	// ErrBankRequired means a multi-bank gateway was chosen without a bank.
	ErrBankRequired = errors.New("please select a bank")
	// ErrUnknownGateway means the slug or bank is not in the loaded gateway list.
	ErrUnknownGateway = errors.New("unknown payment gateway")
	// ErrDeliveryMissing means payment was attempted before delivery details were captured.
	ErrDeliveryMissing = errors.New("delivery details missing")
	// ErrIllegalTransition is returned for a checkout step change the flow does not allow.
	ErrIllegalTransition = errors.New("illegal transition of checkout step")
)

// CartCreationError wraps a failed backend cart creation.
type CartCreationError struct {
	Err error
}

func (e *CartCreationError) Error() string {
	return "create cart: " + e.Err.Error()
}

func (e *CartCreationError) Unwrap() error {
	return e.Err
}

// PaymentInitiationError is a rejected or unreachable payment initiation.
// Message is shown to the shopper as is.
type PaymentInitiationError struct {
	Message string
	Err     error
}

func (e *PaymentInitiationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return "payment initiation failed: " + e.Err.Error()
	}
	return "payment initiation failed"
}

func (e *PaymentInitiationError) Unwrap() error {
	return e.Err
}

// OrderValidationError carries the flattened field errors the backend returned.
type OrderValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *OrderValidationError) Error() string {
	return e.Message
}

// OrderCreationError is any other order-creation failure.
type OrderCreationError struct {
	Message string
	Err     error
}

func (e *OrderCreationError) Error() string {
	return e.Message
}

func (e *OrderCreationError) Unwrap() error {
	return e.Err
}
