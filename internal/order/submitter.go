package order

import (
	"context"
	"errors"
	"log"
	"strings"

	"marketplace-checkout/internal/domain"
	"marketplace-checkout/internal/marketplace"
)

const genericFailure = "Failed to create order. Please try again."

// Backend creates and reads orders.
type Backend interface {
	CreateOrder(ctx context.Context, token string, in domain.OrderRequest) (*domain.OrderResponse, error)
	GetOrder(ctx context.Context, token string, id int64) (*domain.OrderResponse, error)
	ListOrders(ctx context.Context, token string) ([]domain.OrderResponse, error)
}

// Cart is the part of the cart store order submission needs.
type Cart interface {
	Len() int
	CartID() (int64, bool)
	Clear()
}

// Submitter turns a cart, delivery details and a payment label into an order.
type Submitter struct {
	backend Backend
	logger  *log.Logger
}

func NewSubmitter(backend Backend, logger *log.Logger) *Submitter {
	return &Submitter{backend: backend, logger: logger}
}

// Create checks the preconditions, creates the order and clears the cart on
// success. On any failure the cart is left as it was.
func (s *Submitter) Create(ctx context.Context, token string, cart Cart, delivery domain.DeliveryInfo, paymentLabel string) (*domain.OrderResponse, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrAuthRequired
	}
	if cart.Len() == 0 {
		return nil, domain.ErrEmptyCart
	}
	cartID, ok := cart.CartID()
	if !ok {
		return nil, domain.ErrCartMissing
	}

	created, err := s.backend.CreateOrder(ctx, token, domain.OrderRequest{
		CartID:        cartID,
		DeliveryInfo:  delivery,
		PaymentMethod: paymentLabel,
	})
	if err != nil {
		s.logger.Printf("create order for cart %d: %v", cartID, err)
		return nil, classify(err)
	}
	cart.Clear()
	return created, nil
}

// Get reads a single order.
func (s *Submitter) Get(ctx context.Context, token string, id int64) (*domain.OrderResponse, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrAuthRequired
	}
	return s.backend.GetOrder(ctx, token, id)
}

// List reads the shopper's orders.
func (s *Submitter) List(ctx context.Context, token string) ([]domain.OrderResponse, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrAuthRequired
	}
	return s.backend.ListOrders(ctx, token)
}

func classify(err error) error {
	var apiErr *marketplace.APIError
	if !errors.As(err, &apiErr) {
		return &domain.OrderCreationError{Message: genericFailure, Err: err}
	}
	if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
		return domain.ErrAuthRequired
	}
	if apiErr.IsClientError() {
		if fields, msgs := FieldErrors(apiErr.Body); len(msgs) > 0 {
			if msg := JoinMessages(msgs); msg != "" {
				return &domain.OrderValidationError{Message: msg, Fields: fields}
			}
		}
	}
	msg := apiErr.Message()
	if msg == "" {
		msg = genericFailure
	}
	return &domain.OrderCreationError{Message: msg, Err: err}
}
