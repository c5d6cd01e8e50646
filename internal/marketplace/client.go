package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"marketplace-checkout/internal/domain"
)

// Client talks to the marketplace REST backend. Authenticated calls send
// "Authorization: Token <token>".
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	logger   *log.Logger
	gateways *gobreaker.CircuitBreaker[[]domain.Gateway]
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// New builds a Client. BaseURL must be absolute.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("backend url %q is not absolute", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{baseURL: base, http: hc, logger: logger}
	c.gateways = gobreaker.NewCircuitBreaker[[]domain.Gateway](gobreaker.Settings{
		Name:        "payment-gateways",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("breaker %s: %s -> %s", name, from, to)
		},
	})
	return c, nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Message extracts a human readable message ("message", "detail" or "error") from the body.
func (e *APIError) Message() string {
	var body map[string]any
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ""
	}
	for _, key := range []string{"message", "detail", "error"} {
		if s, ok := body[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// IsClientError reports a 4xx status.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse path %q: %w", path, err)
	}
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(ref).String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Printf("%s %s -> %d", method, path, resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Body: raw}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	in := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login/", "", in, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("login response carried no token")
	}
	return out.Token, nil
}

// CreateCart persists a new cart holding lines and returns its backend id.
func (c *Client) CreateCart(ctx context.Context, token string, lines []domain.CartLine) (int64, error) {
	var out struct {
		ID   int64 `json:"id"`
		Data *struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if lines == nil {
		lines = []domain.CartLine{}
	}
	in := struct {
		Items []domain.CartLine `json:"items"`
	}{Items: lines}
	if err := c.do(ctx, http.MethodPost, "marketplace/cart/", token, in, &out); err != nil {
		return 0, err
	}
	id := out.ID
	if id == 0 && out.Data != nil {
		id = out.Data.ID
	}
	if id == 0 {
		return 0, errors.New("cart response carried no id")
	}
	return id, nil
}

// ListGateways fetches the available payment gateways. Repeated failures open
// a breaker so callers fall back without waiting on a dead backend.
func (c *Client) ListGateways(ctx context.Context, token string) ([]domain.Gateway, error) {
	return c.gateways.Execute(func() ([]domain.Gateway, error) {
		var out struct {
			Status any              `json:"status"`
			Data   []domain.Gateway `json:"data"`
		}
		if err := c.do(ctx, http.MethodGet, "payments/gateways/", token, nil, &out); err != nil {
			return nil, err
		}
		if !statusOK(out.Status) {
			return nil, fmt.Errorf("gateway list status %v", out.Status)
		}
		return out.Data, nil
	})
}

// statusOK accepts the shapes the gateway endpoint uses for its status flag.
func statusOK(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case bool:
		return s
	case string:
		s = strings.ToLower(s)
		return s == "success" || s == "ok" || s == "true"
	case float64:
		return s >= 200 && s < 300
	default:
		return false
	}
}

// PaymentInitiation is the body of a payment initiation call.
type PaymentInitiation struct {
	CartID        int64  `json:"cart_id"`
	Gateway       string `json:"gateway"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	TaxAmount     string `json:"tax_amount"`
	ShippingCost  string `json:"shipping_cost"`
	ReturnURL     string `json:"return_url"`
	Bank          string `json:"bank,omitempty"`
}

// InitiationResult is the backend's answer to a payment initiation.
type InitiationResult struct {
	PaymentURL string `json:"payment_url,omitempty"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
}

// InitiatePayment starts a hosted-gateway payment. A 4xx with a JSON body is
// returned as a failed result rather than an error so the message reaches the shopper.
func (c *Client) InitiatePayment(ctx context.Context, token string, in PaymentInitiation) (*InitiationResult, error) {
	var out InitiationResult
	err := c.do(ctx, http.MethodPost, "payments/initiate/", token, in, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.IsClientError() {
		return &InitiationResult{Success: false, Message: apiErr.Message()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder creates an order from a persisted cart.
func (c *Client) CreateOrder(ctx context.Context, token string, in domain.OrderRequest) (*domain.OrderResponse, error) {
	var out domain.OrderResponse
	if err := c.do(ctx, http.MethodPost, "marketplace/orders/create/", token, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder reads a single order.
func (c *Client) GetOrder(ctx context.Context, token string, id int64) (*domain.OrderResponse, error) {
	var out domain.OrderResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("marketplace/orders/%d/", id), token, nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders reads the shopper's orders.
func (c *Client) ListOrders(ctx context.Context, token string) ([]domain.OrderResponse, error) {
	var out struct {
		Results []domain.OrderResponse `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "marketplace/orders/", token, nil, &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = []domain.OrderResponse{}
	}
	return out.Results, nil
}
