package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"marketplace-checkout/internal/checkout"
	"marketplace-checkout/internal/delivery"
	"marketplace-checkout/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"auth", domain.ErrAuthRequired, http.StatusUnauthorized, "auth_required"},
		{"busy", domain.ErrBusy, http.StatusConflict, "busy"},
		{"dismissed", checkout.ErrAttemptDismissed, http.StatusConflict, "attempt_dismissed"},
		{"bank", domain.ErrBankRequired, http.StatusUnprocessableEntity, "bank_required"},
		{"fields", delivery.FieldErrors{"city": "is required"}, http.StatusUnprocessableEntity, "invalid_delivery"},
		{"empty", domain.ErrEmptyCart, http.StatusConflict, "empty_cart"},
		{"missing", domain.ErrCartMissing, http.StatusConflict, "cart_missing"},
		{"wrapped transition", fmt.Errorf("%w: a -> b", domain.ErrIllegalTransition), http.StatusConflict, "illegal_transition"},
		{"cart creation", &domain.CartCreationError{Err: errors.New("down")}, http.StatusBadGateway, "cart_creation_failed"},
		{"initiation", &domain.PaymentInitiationError{Message: "declined"}, http.StatusBadGateway, "payment_initiation_failed"},
		{"order creation", &domain.OrderCreationError{Message: "nope"}, http.StatusBadGateway, "order_creation_failed"},
		{"order validation", &domain.OrderValidationError{Message: "Invalid."}, http.StatusUnprocessableEntity, "order_validation"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := classify(tc.err)
			if status != tc.status || body.Code != tc.code {
				t.Fatalf("classify(%v) = %d %s, want %d %s", tc.err, status, body.Code, tc.status, tc.code)
			}
		})
	}
}

func TestClassify_PassesInitiationMessageThrough(t *testing.T) {
	_, body := classify(&domain.PaymentInitiationError{Message: "Wallet balance is insufficient"})
	if body.Message != "Wallet balance is insufficient" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}
