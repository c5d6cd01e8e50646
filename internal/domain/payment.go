package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// CODSlug identifies cash on delivery. It is always offered and never goes through a gateway.
const CODSlug = "cod"

// CODLabel is the payment method label sent with cash-on-delivery orders.
const CODLabel = "Cash on Delivery"

// Gateway is a payment provider as listed by the backend. Items holds the
// banks a multi-bank gateway (mobile banking, e-banking) lets the shopper pick.
type Gateway struct {
	Slug  string        `json:"slug"`
	Name  string        `json:"name"`
	Logo  string        `json:"logo,omitempty"`
	Items []GatewayBank `json:"items"`
}

// RequiresBank reports whether a bank must be chosen before this gateway can be used.
func (g Gateway) RequiresBank() bool {
	return len(g.Items) > 0
}

// Bank looks up a sub-item by its idx.
func (g Gateway) Bank(id string) (GatewayBank, bool) {
	for _, b := range g.Items {
		if b.Idx == id {
			return b, true
		}
	}
	return GatewayBank{}, false
}

// GatewayBank is one selectable bank inside a gateway.
type GatewayBank struct {
	Idx  string `json:"idx"`
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

// UnmarshalJSON accepts idx as either a JSON string or number.
func (b *GatewayBank) UnmarshalJSON(data []byte) error {
	var raw struct {
		Idx  json.RawMessage `json:"idx"`
		Name string          `json:"name"`
		Logo string          `json:"logo"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Name = raw.Name
	b.Logo = raw.Logo
	b.Idx = ""
	idx := bytes.TrimSpace(raw.Idx)
	if len(idx) == 0 || bytes.Equal(idx, []byte("null")) {
		return nil
	}
	if idx[0] == '"' {
		return json.Unmarshal(idx, &b.Idx)
	}
	var n json.Number
	if err := json.Unmarshal(idx, &n); err != nil {
		return err
	}
	b.Idx = n.String()
	return nil
}

// MethodKind tags the PaymentMethod variant.
type MethodKind string

const (
	MethodCOD    MethodKind = "cod"
	MethodSimple MethodKind = "gateway"
	MethodBank   MethodKind = "bank"
)

// PaymentMethod is the active payment choice: cash on delivery, a plain
// gateway, or a gateway plus the bank picked inside it.
type PaymentMethod struct {
	Kind   MethodKind `json:"kind"`
	Slug   string     `json:"slug,omitempty"`
	BankID string     `json:"bankId,omitempty"`
}

func Cod() PaymentMethod {
	return PaymentMethod{Kind: MethodCOD, Slug: CODSlug}
}

func SimpleGateway(slug string) PaymentMethod {
	return PaymentMethod{Kind: MethodSimple, Slug: slug}
}

func BankGateway(slug, bankID string) PaymentMethod {
	return PaymentMethod{Kind: MethodBank, Slug: slug, BankID: bankID}
}

// IsCOD reports whether the method skips gateway initiation.
func (m PaymentMethod) IsCOD() bool {
	return m.Kind == MethodCOD
}

// ID renders the storefront's compound identifier ("slug" or "slug_bank").
// Only for display; code never parses it back.
func (m PaymentMethod) ID() string {
	if m.Kind == MethodBank {
		return m.Slug + "_" + m.BankID
	}
	return m.Slug
}

// PaymentSelection is the persisted selector state.
type PaymentSelection struct {
	GatewaySlug string `json:"gatewaySlug,omitempty"`
	BankID      string `json:"bankId,omitempty"`
}

// Selection converts the method to its persisted form.
func (m PaymentMethod) Selection() PaymentSelection {
	return PaymentSelection{GatewaySlug: m.Slug, BankID: m.BankID}
}

// NormalizeSlug lower-cases and trims a gateway slug.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
