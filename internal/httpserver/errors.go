package httpserver

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-checkout/internal/auth"
	"marketplace-checkout/internal/checkout"
	"marketplace-checkout/internal/delivery"
	"marketplace-checkout/internal/domain"
)

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"error"`
	Fields  interface{} `json:"fields,omitempty"`
}

// upstreamError is a marketplace failure outside the checkout error taxonomy.
type upstreamError struct {
	message string
	err     error
}

func (e *upstreamError) Error() string { return e.message }

func (e *upstreamError) Unwrap() error { return e.err }

func errorBody(code, msg string) apiError {
	return apiError{Code: code, Message: msg}
}

var sentinelStatus = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAuthRequired, http.StatusUnauthorized, "auth_required"},
	{checkout.ErrTokenRequired, http.StatusBadRequest, "token_required"},
	{domain.ErrBusy, http.StatusConflict, "busy"},
	{checkout.ErrAttemptDismissed, http.StatusConflict, "attempt_dismissed"},
	{domain.ErrBankRequired, http.StatusUnprocessableEntity, "bank_required"},
	{domain.ErrNoPaymentMethod, http.StatusUnprocessableEntity, "payment_method_required"},
	{domain.ErrUnknownGateway, http.StatusUnprocessableEntity, "unknown_gateway"},
	{delivery.ErrInvalidLocation, http.StatusUnprocessableEntity, "invalid_location"},
	{domain.ErrEmptyCart, http.StatusConflict, "empty_cart"},
	{domain.ErrCartMissing, http.StatusConflict, "cart_missing"},
	{domain.ErrDeliveryMissing, http.StatusConflict, "delivery_missing"},
	{domain.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{auth.ErrUnknownAction, http.StatusInternalServerError, "internal"},
}

// classify maps an error to its status and body.
func classify(err error) (int, apiError) {
	var fieldErrs delivery.FieldErrors
	if errors.As(err, &fieldErrs) {
		return http.StatusUnprocessableEntity, apiError{Code: "invalid_delivery", Message: "Please correct the highlighted fields.", Fields: fieldErrs}
	}
	var orderValidation *domain.OrderValidationError
	if errors.As(err, &orderValidation) {
		return http.StatusUnprocessableEntity, apiError{Code: "order_validation", Message: orderValidation.Message, Fields: orderValidation.Fields}
	}
	var cartCreation *domain.CartCreationError
	if errors.As(err, &cartCreation) {
		return http.StatusBadGateway, errorBody("cart_creation_failed", "Could not save your cart. Please try again.")
	}
	var initiation *domain.PaymentInitiationError
	if errors.As(err, &initiation) {
		return http.StatusBadGateway, errorBody("payment_initiation_failed", initiation.Error())
	}
	var orderCreation *domain.OrderCreationError
	if errors.As(err, &orderCreation) {
		return http.StatusBadGateway, errorBody("order_creation_failed", orderCreation.Message)
	}
	var upstream *upstreamError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway, errorBody("backend_unavailable", upstream.message)
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			if s.status == http.StatusInternalServerError {
				return s.status, errorBody(s.code, "internal error")
			}
			return s.status, errorBody(s.code, err.Error())
		}
	}
	return http.StatusInternalServerError, errorBody("internal", "internal error")
}

func writeError(c *gin.Context, logger *log.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, body)
}
