package payment

import (
	"context"
	"fmt"
	"sync"

	"marketplace-checkout/internal/domain"
)

// GatewaySource lists the payment gateways the backend offers.
type GatewaySource interface {
	ListGateways(ctx context.Context, token string) ([]domain.Gateway, error)
}

// Selector keeps the gateway list and the shopper's choice for one checkout.
type Selector struct {
	mu         sync.Mutex
	source     GatewaySource
	fallback   domain.Gateway
	gateways   []domain.Gateway
	loaded     bool
	warning    string
	expanded   string
	active     *domain.PaymentMethod
	processing bool
	attempt    uint64
}

// NewSelector builds a selector that falls back to a single gateway when the
// list cannot be fetched.
func NewSelector(source GatewaySource, fallback domain.Gateway) *Selector {
	return &Selector{source: source, fallback: fallback}
}

func codGateway() domain.Gateway {
	return domain.Gateway{Slug: domain.CODSlug, Name: domain.CODLabel, Items: []domain.GatewayBank{}}
}

// Load fetches gateways. On failure the fallback list is used and a
// non-fatal warning is recorded; the returned error is that warning.
func (s *Selector) Load(ctx context.Context, token string) error {
	list, err := s.source.ListGateways(ctx, token)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	if err != nil || len(list) == 0 {
		s.gateways = []domain.Gateway{codGateway(), s.fallback}
		if err == nil {
			err = fmt.Errorf("no payment gateways returned")
		}
		s.warning = "Could not load payment options, showing defaults"
		return fmt.Errorf("load gateways: %w", err)
	}
	s.warning = ""
	s.gateways = make([]domain.Gateway, 0, len(list)+1)
	s.gateways = append(s.gateways, codGateway())
	for _, g := range list {
		if domain.NormalizeSlug(g.Slug) == domain.CODSlug {
			continue
		}
		s.gateways = append(s.gateways, g)
	}
	return nil
}

// Loaded reports whether Load has run at least once.
func (s *Selector) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Gateways returns the current list and warning.
func (s *Selector) Gateways() ([]domain.Gateway, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Gateway, len(s.gateways))
	copy(out, s.gateways)
	return out, s.warning
}

func (s *Selector) find(slug string) (domain.Gateway, bool) {
	slug = domain.NormalizeSlug(slug)
	for _, g := range s.gateways {
		if domain.NormalizeSlug(g.Slug) == slug {
			return g, true
		}
	}
	return domain.Gateway{}, false
}

// Select picks a gateway. Gateways with banks are only expanded; the
// method becomes active once a bank is chosen.
func (s *Selector) Select(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.find(slug)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownGateway, slug)
	}
	if g.RequiresBank() {
		s.expanded = g.Slug
		s.active = nil
		return nil
	}
	s.expanded = ""
	m := domain.SimpleGateway(g.Slug)
	if domain.NormalizeSlug(g.Slug) == domain.CODSlug {
		m = domain.Cod()
	}
	s.active = &m
	return nil
}

// SelectBank picks a bank inside a multi-bank gateway.
func (s *Selector) SelectBank(slug, bankID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.find(slug)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownGateway, slug)
	}
	if _, ok := g.Bank(bankID); !ok {
		return fmt.Errorf("%w: bank %s in %s", domain.ErrUnknownGateway, bankID, slug)
	}
	m := domain.BankGateway(g.Slug, bankID)
	s.expanded = g.Slug
	s.active = &m
	return nil
}

// Method returns the method ready for confirmation.
func (s *Selector) Method() (domain.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		if s.expanded != "" {
			return domain.PaymentMethod{}, domain.ErrBankRequired
		}
		return domain.PaymentMethod{}, domain.ErrNoPaymentMethod
	}
	return *s.active, nil
}

// GatewayName returns the display name used as the order's payment label.
func (s *Selector) GatewayName(m domain.PaymentMethod) string {
	if m.IsCOD() {
		return domain.CODLabel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.find(m.Slug)
	if !ok || g.Name == "" {
		return m.Slug
	}
	if m.Kind == domain.MethodBank {
		if b, ok := g.Bank(m.BankID); ok && b.Name != "" {
			return g.Name + " - " + b.Name
		}
	}
	return g.Name
}

// Begin marks a confirmation in flight. The returned attempt must be handed
// to Finish.
func (s *Selector) Begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return 0, domain.ErrBusy
	}
	s.processing = true
	s.attempt++
	return s.attempt, nil
}

// Finish ends an attempt. It returns false when the attempt was abandoned
// by Dismiss, in which case the caller must not act on its result.
func (s *Selector) Finish(attempt uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt != s.attempt {
		return false
	}
	s.processing = false
	return true
}

// Current reports whether attempt is still in flight and not abandoned.
func (s *Selector) Current(attempt uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing && attempt == s.attempt
}

// Dismiss handles a closed card or bank modal: the confirm action becomes
// usable again and any in-flight attempt is abandoned.
func (s *Selector) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	s.attempt++
}

// Processing reports whether a confirmation is in flight.
func (s *Selector) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// State is the persisted selector state.
type State struct {
	Gateways []domain.Gateway         `json:"gateways,omitempty"`
	Warning  string                   `json:"warning,omitempty"`
	Loaded   bool                     `json:"loaded"`
	Expanded string                   `json:"expanded,omitempty"`
	Choice   *domain.PaymentSelection `json:"choice,omitempty"`
}

func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Gateways: append([]domain.Gateway(nil), s.gateways...),
		Warning:  s.warning,
		Loaded:   s.loaded,
		Expanded: s.expanded,
	}
	if s.active != nil {
		sel := s.active.Selection()
		st.Choice = &sel
	}
	return st
}

// Restore loads persisted state. Processing is never restored.
func (s *Selector) Restore(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gateways = append([]domain.Gateway(nil), st.Gateways...)
	s.warning = st.Warning
	s.loaded = st.Loaded
	s.expanded = st.Expanded
	s.active = nil
	if st.Choice != nil {
		m := methodFromSelection(*st.Choice)
		s.active = &m
	}
	s.processing = false
}

func methodFromSelection(sel domain.PaymentSelection) domain.PaymentMethod {
	switch {
	case sel.BankID != "":
		return domain.BankGateway(sel.GatewaySlug, sel.BankID)
	case domain.NormalizeSlug(sel.GatewaySlug) == domain.CODSlug:
		return domain.Cod()
	default:
		return domain.SimpleGateway(sel.GatewaySlug)
	}
}
