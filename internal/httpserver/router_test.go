package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace-checkout/internal/checkout"
	"marketplace-checkout/internal/delivery"
	"marketplace-checkout/internal/domain"
	"marketplace-checkout/internal/marketplace"
	sessionrepo "marketplace-checkout/internal/repository/session"
	sessionsvc "marketplace-checkout/internal/service/session"
)

type stubBackend struct {
	mu         sync.Mutex
	orderErr   error
	orderCalls int
	initCalls  int
	lastOrder  domain.OrderRequest
	loginErr   error
}

func (b *stubBackend) CreateCart(context.Context, string, []domain.CartLine) (int64, error) {
	return 31, nil
}

func (b *stubBackend) ListGateways(context.Context, string) ([]domain.Gateway, error) {
	return []domain.Gateway{
		{Slug: "esewa", Name: "eSewa"},
		{Slug: "ebanking", Name: "E-Banking", Items: []domain.GatewayBank{{Idx: "nabil", Name: "Nabil Bank"}}},
	}, nil
}

func (b *stubBackend) CreateOrder(_ context.Context, _ string, in domain.OrderRequest) (*domain.OrderResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderCalls++
	b.lastOrder = in
	if b.orderErr != nil {
		return nil, b.orderErr
	}
	return &domain.OrderResponse{ID: 12, OrderNumber: "ORD-12", Status: "pending", TotalAmount: decimal.NewFromInt(350)}, nil
}

func (b *stubBackend) GetOrder(_ context.Context, _ string, id int64) (*domain.OrderResponse, error) {
	if id != 12 {
		return nil, domain.ErrNotFound
	}
	return &domain.OrderResponse{ID: 12, OrderNumber: "ORD-12"}, nil
}

func (b *stubBackend) ListOrders(context.Context, string) ([]domain.OrderResponse, error) {
	return []domain.OrderResponse{{ID: 12, OrderNumber: "ORD-12"}}, nil
}

func (b *stubBackend) Login(_ context.Context, username, _ string) (string, error) {
	if b.loginErr != nil {
		return "", b.loginErr
	}
	return "token-" + username, nil
}

func (b *stubBackend) InitiatePayment(context.Context, string, marketplace.PaymentInitiation) (*marketplace.InitiationResult, error) {
	b.mu.Lock()
	b.initCalls++
	b.mu.Unlock()
	return &marketplace.InitiationResult{PaymentURL: "https://pay.example/session"}, nil
}

func logDiscard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testRouter(t *testing.T, backend *stubBackend) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	settings := checkout.Settings{
		ShippingFee:     decimal.NewFromInt(100),
		FallbackGateway: domain.Gateway{Slug: "khalti", Name: "Khalti Wallet"},
		DefaultLocation: delivery.Point{Latitude: 27.7172, Longitude: 85.3240},
		ReturnURL:       "https://shop.example/return",
	}
	sessions := sessionsvc.New(sessionrepo.NewMemory(), backend, settings, time.Hour, logDiscard())
	router, err := buildRouter(logDiscard(), Deps{Sessions: sessions, CORSOrigins: []string{"https://shop.example"}})
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	return router
}

type response struct {
	code int
	body map[string]interface{}
	raw  string
}

func do(t *testing.T, router *gin.Engine, method, path, body string) response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := response{code: rec.Code, raw: rec.Body.String()}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out.body); err != nil {
			t.Fatalf("decode %s %s: %v body=%s", method, path, err, rec.Body.String())
		}
	}
	return out
}

func sessionStep(t *testing.T, r response) string {
	t.Helper()
	s, ok := r.body["session"].(map[string]interface{})
	if !ok {
		t.Fatalf("no session in body: %s", r.raw)
	}
	step, _ := s["step"].(string)
	return step
}

func newSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	res := do(t, router, http.MethodPost, "/api/checkout/sessions", "")
	if res.code != http.StatusCreated {
		t.Fatalf("create session: %d %s", res.code, res.raw)
	}
	id, _ := res.body["id"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected uuid session id, got %q", id)
	}
	return "/api/checkout/sessions/" + id
}

const deliveryBody = `{"customer_name":"Sita","phone_number":"+9779800000000","address":"Thamel","city":"Kathmandu","state":"Bagmati","zip_code":"44600"}`

// toPaymentSelect drives a session through cart, delivery and login.
func toPaymentSelect(t *testing.T, router *gin.Engine) string {
	t.Helper()
	base := newSession(t, router)
	if res := do(t, router, http.MethodPost, base+"/cart/items", `{"id":1,"name":"Tea","price":"100","quantity":2}`); res.code != http.StatusOK {
		t.Fatalf("add item: %d %s", res.code, res.raw)
	}
	if res := do(t, router, http.MethodPost, base+"/cart/items", `{"id":2,"name":"Mug","price":50}`); res.code != http.StatusOK {
		t.Fatalf("add item: %d %s", res.code, res.raw)
	}
	if res := do(t, router, http.MethodPost, base+"/step", `{"step":"delivery_entry"}`); res.code != http.StatusOK {
		t.Fatalf("step: %d %s", res.code, res.raw)
	}

	res := do(t, router, http.MethodPost, base+"/delivery", deliveryBody)
	if res.code != http.StatusUnauthorized || res.body["pending_action"] != checkout.ActionSubmitDelivery {
		t.Fatalf("expected held delivery, got %d %s", res.code, res.raw)
	}

	res = do(t, router, http.MethodPost, base+"/login", `{"username":"sita","password":"pw"}`)
	if res.code != http.StatusOK {
		t.Fatalf("login: %d %s", res.code, res.raw)
	}
	if res.body["replayed"] != checkout.ActionSubmitDelivery {
		t.Fatalf("expected replayed delivery, got %s", res.raw)
	}
	if step := sessionStep(t, res); step != string(checkout.StepPaymentSelect) {
		t.Fatalf("expected payment_select, got %s", step)
	}
	return base
}

func TestHealthAndReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sessions := sessionsvc.New(sessionrepo.NewMemory(), &stubBackend{}, checkout.Settings{}, time.Hour, logDiscard())
	router, err := buildRouter(logDiscard(), Deps{
		Sessions: sessions,
		Ready: []ReadyCheck{{Name: "redis", Check: func(context.Context) error {
			return errors.New("connection refused")
		}}},
	})
	if err != nil {
		t.Fatalf("build router: %v", err)
	}

	if res := do(t, router, http.MethodGet, "/healthz", ""); res.code != http.StatusOK {
		t.Fatalf("healthz: %d", res.code)
	}
	res := do(t, router, http.MethodGet, "/readyz", "")
	if res.code != http.StatusServiceUnavailable || res.body["reason"] != "redis not reachable" {
		t.Fatalf("readyz: %d %s", res.code, res.raw)
	}
}

func TestSessionMiddleware_UnknownSession(t *testing.T) {
	router := testRouter(t, &stubBackend{})

	res := do(t, router, http.MethodGet, "/api/checkout/sessions/"+uuid.NewString(), "")
	if res.code != http.StatusNotFound || res.body["code"] != "session_not_found" {
		t.Fatalf("expected 404, got %d %s", res.code, res.raw)
	}
	res = do(t, router, http.MethodGet, "/api/checkout/sessions/nope", "")
	if res.code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed id, got %d", res.code)
	}
}

func TestCart_TotalsAndQuantityRules(t *testing.T) {
	router := testRouter(t, &stubBackend{})
	base := newSession(t, router)

	do(t, router, http.MethodPost, base+"/cart/items", `{"id":1,"name":"Tea","price":"100","quantity":2}`)
	res := do(t, router, http.MethodPost, base+"/cart/items", `{"id":2,"name":"Mug","price":"50"}`)
	s := res.body["session"].(map[string]interface{})
	if s["total"] != "350" || s["sub_total"] != "250" || s["shipping"] != "100" {
		t.Fatalf("unexpected totals: %s", res.raw)
	}

	res = do(t, router, http.MethodPut, base+"/cart/items/1", `{"quantity":0}`)
	s = res.body["session"].(map[string]interface{})
	if items := s["items"].([]interface{}); len(items) != 1 {
		t.Fatalf("expected item removed, got %s", res.raw)
	}

	if res := do(t, router, http.MethodPut, base+"/cart/items/abc", `{"quantity":1}`); res.code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad item id, got %d", res.code)
	}
	if res := do(t, router, http.MethodPost, base+"/cart/items", `{"id":3,"name":"Bad","price":"-1"}`); res.code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative price, got %d", res.code)
	}

	res = do(t, router, http.MethodDelete, base+"/cart", "")
	s = res.body["session"].(map[string]interface{})
	if items := s["items"].([]interface{}); len(items) != 0 {
		t.Fatalf("expected empty cart, got %s", res.raw)
	}
	if res := do(t, router, http.MethodPost, base+"/step", `{"step":"delivery_entry"}`); res.code != http.StatusConflict {
		t.Fatalf("expected 409 for empty cart, got %d %s", res.code, res.raw)
	}
}

func TestDelivery_ValidationErrors(t *testing.T) {
	router := testRouter(t, &stubBackend{})
	base := newSession(t, router)
	do(t, router, http.MethodPost, base+"/cart/items", `{"id":1,"name":"Tea","price":"100"}`)
	do(t, router, http.MethodPost, base+"/step", `{"step":"delivery_entry"}`)

	res := do(t, router, http.MethodPost, base+"/delivery", `{"customer_name":"","phone_number":"12"}`)
	if res.code != http.StatusUnprocessableEntity || res.body["code"] != "invalid_delivery" {
		t.Fatalf("expected 422, got %d %s", res.code, res.raw)
	}
	fields := res.body["fields"].(map[string]interface{})
	if _, ok := fields["phone_number"]; !ok {
		t.Fatalf("expected phone_number error, got %s", res.raw)
	}

	if res := do(t, router, http.MethodPost, base+"/delivery/location", `{"latitude":0,"longitude":0}`); res.code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for zero location, got %d", res.code)
	}
}

func TestCheckout_CashOnDelivery(t *testing.T) {
	backend := &stubBackend{}
	router := testRouter(t, backend)
	base := toPaymentSelect(t, router)

	res := do(t, router, http.MethodGet, base+"/payment/gateways", "")
	gateways := res.body["gateways"].([]interface{})
	if len(gateways) != 3 || gateways[0].(map[string]interface{})["slug"] != domain.CODSlug {
		t.Fatalf("unexpected gateways: %s", res.raw)
	}

	if res := do(t, router, http.MethodPost, base+"/payment/select", `{"gateway":"cod"}`); res.code != http.StatusOK {
		t.Fatalf("select: %d %s", res.code, res.raw)
	}
	res = do(t, router, http.MethodPost, base+"/payment/confirm", "")
	if res.code != http.StatusOK {
		t.Fatalf("confirm: %d %s", res.code, res.raw)
	}
	outcome := res.body["outcome"].(map[string]interface{})
	if outcome["kind"] != "order" {
		t.Fatalf("expected order outcome, got %s", res.raw)
	}
	if step := sessionStep(t, res); step != string(checkout.StepConfirmed) {
		t.Fatalf("expected confirmed, got %s", step)
	}
	if backend.initCalls != 0 || backend.lastOrder.PaymentMethod != domain.CODLabel || backend.lastOrder.CartID != 31 {
		t.Fatalf("unexpected backend calls: init=%d order=%+v", backend.initCalls, backend.lastOrder)
	}

	res = do(t, router, http.MethodGet, base+"/orders/12", "")
	if res.code != http.StatusOK || res.body["order_number"] != "ORD-12" {
		t.Fatalf("get order: %d %s", res.code, res.raw)
	}
	if res := do(t, router, http.MethodGet, base+"/orders/99", ""); res.code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", res.code)
	}
}

func TestCheckout_BankRequired(t *testing.T) {
	backend := &stubBackend{}
	router := testRouter(t, backend)
	base := toPaymentSelect(t, router)
	do(t, router, http.MethodGet, base+"/payment/gateways", "")

	do(t, router, http.MethodPost, base+"/payment/select", `{"gateway":"ebanking"}`)
	res := do(t, router, http.MethodPost, base+"/payment/confirm", "")
	if res.code != http.StatusUnprocessableEntity || res.body["code"] != "bank_required" {
		t.Fatalf("expected bank_required, got %d %s", res.code, res.raw)
	}
	if backend.initCalls != 0 || backend.orderCalls != 0 {
		t.Fatalf("expected no backend calls")
	}
}

func TestCheckout_RedirectAndReturn(t *testing.T) {
	router := testRouter(t, &stubBackend{})
	base := toPaymentSelect(t, router)
	do(t, router, http.MethodGet, base+"/payment/gateways", "")
	do(t, router, http.MethodPost, base+"/payment/select", `{"gateway":"esewa"}`)

	res := do(t, router, http.MethodPost, base+"/payment/confirm", "")
	outcome := res.body["outcome"].(map[string]interface{})
	if outcome["kind"] != "redirect" || outcome["redirect_url"] != "https://pay.example/session" {
		t.Fatalf("expected redirect, got %s", res.raw)
	}

	res = do(t, router, http.MethodGet, base+"/payment/return?transaction_id=T-1&purchase_order_id=31&amount=35000&mobile=98XXXXX001", "")
	view := res.body["confirmation"].(map[string]interface{})
	tx := view["transaction"].(map[string]interface{})
	if tx["transaction_id"] != "T-1" || tx["purchase_order_id"] != "31" {
		t.Fatalf("unexpected confirmation: %s", res.raw)
	}
	if step := sessionStep(t, res); step != string(checkout.StepConfirmed) {
		t.Fatalf("expected confirmed, got %s", step)
	}
}

func TestCheckout_OrderValidationMessage(t *testing.T) {
	backend := &stubBackend{orderErr: &marketplace.APIError{
		StatusCode: http.StatusBadRequest,
		Body:       []byte(`{"phone_number":["Invalid"],"address":["Required"]}`),
	}}
	router := testRouter(t, backend)
	base := toPaymentSelect(t, router)
	do(t, router, http.MethodPost, base+"/payment/select", `{"gateway":"cod"}`)

	res := do(t, router, http.MethodPost, base+"/payment/confirm", "")
	if res.code != http.StatusUnprocessableEntity || res.body["error"] != "Invalid. Required." {
		t.Fatalf("expected flattened validation message, got %d %s", res.code, res.raw)
	}
	session := do(t, router, http.MethodGet, base, "")
	s := session.body["session"].(map[string]interface{})
	if items := s["items"].([]interface{}); len(items) != 2 {
		t.Fatalf("expected cart kept, got %s", session.raw)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	router := testRouter(t, &stubBackend{loginErr: &marketplace.APIError{StatusCode: http.StatusBadRequest}})
	base := newSession(t, router)

	res := do(t, router, http.MethodPost, base+"/login", `{"username":"sita","password":"bad"}`)
	if res.code != http.StatusUnauthorized || res.body["code"] != "invalid_credentials" {
		t.Fatalf("expected 401, got %d %s", res.code, res.raw)
	}
	if res := do(t, router, http.MethodPost, base+"/login", `{}`); res.code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty login, got %d", res.code)
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	router := testRouter(t, &stubBackend{})
	req := httptest.NewRequest(http.MethodOptions, "/api/checkout/sessions", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example" {
		t.Fatalf("expected allowed origin, got %q (status %d)", got, rec.Code)
	}
}

func TestCORS_RejectsMalformedOrigin(t *testing.T) {
	if _, err := corsFor([]string{"shop.example"}); err == nil {
		t.Fatalf("expected error for origin without scheme")
	}
}
