// Package checkout drives one shopper's checkout from cart review to a
// confirmed order.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"marketplace-checkout/internal/auth"
	"marketplace-checkout/internal/cart"
	"marketplace-checkout/internal/confirmation"
	"marketplace-checkout/internal/delivery"
	"marketplace-checkout/internal/domain"
	"marketplace-checkout/internal/marketplace"
	"marketplace-checkout/internal/order"
	"marketplace-checkout/internal/payment"
)

// ActionSubmitDelivery is the pending action held when delivery details are
// submitted without a session token.
const ActionSubmitDelivery = "submit_delivery"

const initiationFailure = "Could not start the payment. Please try again."

var (
	// ErrAttemptDismissed is returned when the payment modal was closed
	// before the initiation response arrived. The response is discarded.
	ErrAttemptDismissed = errors.New("payment attempt was dismissed")
	// ErrTokenRequired is returned by Authenticate for a blank token.
	ErrTokenRequired = errors.New("token required")
)

// Backend is everything the flow needs from the marketplace.
type Backend interface {
	cart.Backend
	payment.GatewaySource
	order.Backend
	Login(ctx context.Context, username, password string) (string, error)
	InitiatePayment(ctx context.Context, token string, in marketplace.PaymentInitiation) (*marketplace.InitiationResult, error)
}

// Settings are the per-deployment knobs of a flow.
type Settings struct {
	ShippingFee     decimal.Decimal
	FallbackGateway domain.Gateway
	DefaultLocation delivery.Point
	ReturnURL       string
}

// Flow is one checkout session. The cart store is created once per flow and
// shared by every stage.
type Flow struct {
	mu         sync.Mutex
	step       Step
	submitting bool
	delivery   *domain.DeliveryInfo
	draft      *domain.DeliveryInfo
	order      *domain.OrderResponse
	view       *confirmation.View
	failure    string

	backend   Backend
	settings  Settings
	logger    *log.Logger
	validator *delivery.Validator
	cart      *cart.Store
	gate      *auth.Gate
	picker    *delivery.Picker
	payments  *payment.Selector
	orders    *order.Submitter
}

// New starts a flow at cart review with an empty cart.
func New(backend Backend, settings Settings, v *delivery.Validator, logger *log.Logger) *Flow {
	return newFlow(backend, settings, v, logger, cart.New(backend, settings.ShippingFee))
}

func newFlow(backend Backend, settings Settings, v *delivery.Validator, logger *log.Logger, store *cart.Store) *Flow {
	f := &Flow{
		step:      StepCartReview,
		backend:   backend,
		settings:  settings,
		logger:    logger,
		validator: v,
		cart:      store,
		gate:      auth.NewGate(),
		picker:    delivery.NewPicker(settings.DefaultLocation),
		payments:  payment.NewSelector(backend, settings.FallbackGateway),
		orders:    order.NewSubmitter(backend, logger),
	}
	f.gate.Register(ActionSubmitDelivery, f.replayDelivery)
	return f
}

// Step returns the current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Cart exposes the shared store for reads.
func (f *Flow) Cart() *cart.Store {
	return f.cart
}

func (f *Flow) AddItem(p domain.Product) {
	f.startOver()
	f.cart.Add(p)
}

func (f *Flow) UpdateItem(itemID int64, quantity int) {
	f.startOver()
	f.cart.UpdateQuantity(itemID, quantity)
}

func (f *Flow) RemoveItem(itemID int64) {
	f.startOver()
	f.cart.Remove(itemID)
}

func (f *Flow) ClearCart() {
	f.startOver()
	f.cart.Clear()
}

// startOver leaves a confirmed checkout when the shopper touches the cart again.
func (f *Flow) startOver() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == StepConfirmed {
		f.step = StepCartReview
		f.order = nil
		f.view = nil
		f.failure = ""
	}
}

// GoTo handles navigation requested by the shopper. Moving back to an
// earlier data-entry step keeps everything entered so far. The only forward
// move allowed here is cart review to delivery entry; the others happen as a
// result of submitting a stage.
func (f *Flow) GoTo(to Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	from := f.step
	if from == to {
		return nil
	}
	if !CanTransitionTo(from, to) || !userReachable(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}
	if from == StepCartReview && f.cart.Len() == 0 {
		return domain.ErrEmptyCart
	}
	if from == StepConfirmed {
		f.order = nil
		f.view = nil
	}
	if from == StepAwaitingGateway {
		f.payments.Dismiss()
	}
	f.failure = ""
	f.step = to
	return nil
}

func userReachable(from, to Step) bool {
	if from == StepOrderPending || to.entryRank() < 0 {
		return false
	}
	if from == StepCartReview && to == StepDeliveryEntry {
		return true
	}
	return from.entryRank() < 0 || to.entryRank() < from.entryRank()
}

// PickLocation records the map point chosen for delivery.
func (f *Flow) PickLocation(lat, lng float64) error {
	return f.picker.Pick(lat, lng)
}

// DeliveryResult is returned once delivery details are accepted.
type DeliveryResult struct {
	Delivery domain.DeliveryInfo `json:"delivery"`
	CartID   int64               `json:"cart_id"`
}

// SubmitDelivery validates the form, persists the cart and moves on to
// payment selection. Without a session token the form is held and replayed
// after login; ErrAuthRequired is returned and nothing reaches the backend.
func (f *Flow) SubmitDelivery(ctx context.Context, form domain.DeliveryInfo) (*DeliveryResult, error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return nil, domain.ErrBusy
	}
	if f.step != StepDeliveryEntry {
		step := f.step
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: submit delivery from %s", domain.ErrIllegalTransition, step)
	}
	if f.cart.Len() == 0 {
		f.mu.Unlock()
		return nil, domain.ErrEmptyCart
	}
	info, err := f.validator.Validate(f.picker.Apply(form))
	draft := info
	f.draft = &draft
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	token := f.gate.Token()
	if token == "" {
		f.mu.Unlock()
		if err := f.gate.Hold(ActionSubmitDelivery, info); err != nil {
			return nil, err
		}
		return nil, domain.ErrAuthRequired
	}
	f.submitting = true
	f.mu.Unlock()
	return f.persistDelivery(ctx, token, info)
}

func (f *Flow) replayDelivery(ctx context.Context, token string, payload json.RawMessage) (any, error) {
	var info domain.DeliveryInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("decode held delivery: %w", err)
	}
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return nil, domain.ErrBusy
	}
	if f.step != StepDeliveryEntry {
		step := f.step
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: replay delivery from %s", domain.ErrIllegalTransition, step)
	}
	if f.cart.Len() == 0 {
		f.mu.Unlock()
		return nil, domain.ErrEmptyCart
	}
	f.submitting = true
	f.mu.Unlock()

	res, err := f.persistDelivery(ctx, token, info)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (f *Flow) persistDelivery(ctx context.Context, token string, info domain.DeliveryInfo) (*DeliveryResult, error) {
	cartID, err := f.cart.CreateOnBackend(ctx, token)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	if err != nil {
		f.logger.Printf("submit delivery: %v", err)
		return nil, err
	}
	accepted := info
	f.delivery = &accepted
	if f.step == StepDeliveryEntry {
		f.step = StepPaymentSelect
	}
	return &DeliveryResult{Delivery: info, CartID: cartID}, nil
}

// AuthResult describes a successful login and any replayed action.
type AuthResult struct {
	Replayed  string          `json:"replayed,omitempty"`
	Delivery  *DeliveryResult `json:"delivery,omitempty"`
	ReplayErr error           `json:"-"`
}

// Login exchanges credentials for a token and authenticates the session.
func (f *Flow) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	token, err := f.backend.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return f.Authenticate(ctx, token)
}

// Authenticate stores the token and replays the held action exactly once.
// A failed replay does not fail the login; it is reported in ReplayErr.
func (f *Flow) Authenticate(ctx context.Context, token string) (*AuthResult, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenRequired
	}
	pending, held := f.gate.PendingAction()
	res, ran, err := f.gate.Authenticate(ctx, token)
	out := &AuthResult{}
	if held {
		out.Replayed = pending.Action
	}
	if err != nil {
		f.logger.Printf("replay %s: %v", pending.Action, err)
		out.ReplayErr = err
	}
	if d, ok := res.(*DeliveryResult); ran && ok {
		out.Delivery = d
	}
	return out, nil
}

func (f *Flow) Logout() {
	f.gate.Logout()
}

// Gateways returns the payment options, fetching them on first use and again
// after a failed fetch. The warning is non-empty when defaults are shown.
func (f *Flow) Gateways(ctx context.Context) ([]domain.Gateway, string) {
	if _, warning := f.payments.Gateways(); !f.payments.Loaded() || warning != "" {
		if err := f.payments.Load(ctx, f.gate.Token()); err != nil {
			f.logger.Printf("payment gateways: %v", err)
		}
	}
	return f.payments.Gateways()
}

// SelectPayment picks a gateway, or a bank inside a gateway when bank is set.
func (f *Flow) SelectPayment(gateway, bank string) error {
	if step := f.Step(); step != StepPaymentSelect {
		return fmt.Errorf("%w: select payment from %s", domain.ErrIllegalTransition, step)
	}
	if strings.TrimSpace(bank) != "" {
		return f.payments.SelectBank(gateway, bank)
	}
	return f.payments.Select(gateway)
}

// DismissPayment closes the card or bank modal. Any initiation still in
// flight is abandoned.
func (f *Flow) DismissPayment() {
	f.payments.Dismiss()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == StepAwaitingGateway {
		f.step = StepPaymentSelect
	}
}

type OutcomeKind string

const (
	OutcomeRedirect OutcomeKind = "redirect"
	OutcomeOrder    OutcomeKind = "order"
)

// PaymentOutcome is the result of confirming a payment.
type PaymentOutcome struct {
	Kind         OutcomeKind           `json:"kind"`
	RedirectURL  string                `json:"redirect_url,omitempty"`
	Order        *domain.OrderResponse `json:"order,omitempty"`
	Confirmation *confirmation.View    `json:"confirmation,omitempty"`
}

// ConfirmPayment runs the chosen method. Cash on delivery creates the order
// directly. Other gateways are initiated first: a payment URL sends the
// shopper to the gateway, an immediate success creates the order, anything
// else is a PaymentInitiationError and no order is created.
func (f *Flow) ConfirmPayment(ctx context.Context) (*PaymentOutcome, error) {
	f.mu.Lock()
	if f.step != StepPaymentSelect {
		step := f.step
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: confirm payment from %s", domain.ErrIllegalTransition, step)
	}
	if f.delivery == nil {
		f.mu.Unlock()
		return nil, domain.ErrDeliveryMissing
	}
	if f.cart.Len() == 0 {
		f.step = StepCartReview
		f.failure = domain.ErrEmptyCart.Error()
		f.mu.Unlock()
		return nil, domain.ErrEmptyCart
	}
	info := *f.delivery
	f.mu.Unlock()

	method, err := f.payments.Method()
	if err != nil {
		return nil, err
	}
	token := f.gate.Token()
	if token == "" {
		return nil, domain.ErrAuthRequired
	}
	attempt, err := f.payments.Begin()
	if err != nil {
		return nil, err
	}
	if method.IsCOD() {
		defer f.payments.Finish(attempt)
		// Re-persists the cart when it changed after delivery was saved.
		if _, err := f.cart.CreateOnBackend(ctx, token); err != nil {
			return nil, err
		}
		return f.placeOrder(ctx, token, info, domain.CODLabel)
	}
	return f.initiate(ctx, token, info, method, attempt)
}

func (f *Flow) initiate(ctx context.Context, token string, info domain.DeliveryInfo, method domain.PaymentMethod, attempt uint64) (*PaymentOutcome, error) {
	cartID, err := f.cart.CreateOnBackend(ctx, token)
	if err != nil {
		f.payments.Finish(attempt)
		return nil, err
	}
	if !f.payments.Current(attempt) {
		return nil, ErrAttemptDismissed
	}

	res, err := f.backend.InitiatePayment(ctx, token, marketplace.PaymentInitiation{
		CartID:        cartID,
		Gateway:       method.Slug,
		CustomerName:  info.CustomerName,
		CustomerEmail: info.Email,
		CustomerPhone: info.PhoneNumber,
		TaxAmount:     "0",
		ShippingCost:  f.cart.Shipping().String(),
		ReturnURL:     f.settings.ReturnURL,
		Bank:          method.BankID,
	})
	if !f.payments.Current(attempt) {
		return nil, ErrAttemptDismissed
	}
	if err != nil {
		f.payments.Finish(attempt)
		f.logger.Printf("initiate %s payment for cart %d: %v", method.Slug, cartID, err)
		return nil, &domain.PaymentInitiationError{Message: initiationFailure, Err: err}
	}

	switch {
	case res.PaymentURL != "":
		f.payments.Finish(attempt)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.step != StepPaymentSelect {
			return nil, fmt.Errorf("%w: checkout moved to %s", ErrAttemptDismissed, f.step)
		}
		f.step = StepAwaitingGateway
		return &PaymentOutcome{Kind: OutcomeRedirect, RedirectURL: res.PaymentURL}, nil
	case res.Success:
		defer f.payments.Finish(attempt)
		return f.placeOrder(ctx, token, info, f.payments.GatewayName(method))
	default:
		f.payments.Finish(attempt)
		msg := res.Message
		if msg == "" {
			msg = initiationFailure
		}
		return nil, &domain.PaymentInitiationError{Message: msg}
	}
}

func (f *Flow) placeOrder(ctx context.Context, token string, info domain.DeliveryInfo, label string) (*PaymentOutcome, error) {
	f.mu.Lock()
	f.step = StepOrderPending
	f.failure = ""
	f.mu.Unlock()

	created, err := f.orders.Create(ctx, token, f.cart, info, label)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.failure = err.Error()
		f.step = stepAfterFailure(err)
		return nil, err
	}
	view := confirmation.FromOrder(*created)
	f.order = created
	f.view = &view
	f.step = StepConfirmed
	return &PaymentOutcome{Kind: OutcomeOrder, Order: created, Confirmation: &view}, nil
}

// stepAfterFailure sends the shopper back to the stage that can fix err.
func stepAfterFailure(err error) Step {
	var verr *domain.OrderValidationError
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return StepPaymentSelect
	case errors.Is(err, domain.ErrEmptyCart):
		return StepCartReview
	case errors.Is(err, domain.ErrCartMissing), errors.As(err, &verr):
		return StepDeliveryEntry
	default:
		return StepFailed
	}
}

// GatewayReturn renders the page a hosted gateway redirects back to. The
// cart is kept; only an order response clears it. A return whose status is
// not a completed payment puts the shopper back on payment selection.
func (f *Flow) GatewayReturn(q url.Values) confirmation.View {
	view := confirmation.FromQuery(q)
	f.mu.Lock()
	defer f.mu.Unlock()
	if view.Transaction == nil || f.step != StepAwaitingGateway {
		return view
	}
	if !view.Transaction.Completed() {
		f.step = StepPaymentSelect
		f.failure = fmt.Sprintf("payment not completed: %s", view.Transaction.Status)
		return view
	}
	f.step = StepConfirmed
	f.failure = ""
	v := view
	f.view = &v
	return view
}

func (f *Flow) Order(ctx context.Context, id int64) (*domain.OrderResponse, error) {
	return f.orders.Get(ctx, f.gate.Token(), id)
}

func (f *Flow) Orders(ctx context.Context) ([]domain.OrderResponse, error) {
	return f.orders.List(ctx, f.gate.Token())
}
