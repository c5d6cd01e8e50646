package cart

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"marketplace-checkout/internal/domain"
)

// DefaultShippingFee is the flat delivery fee added to every cart.
var DefaultShippingFee = decimal.NewFromInt(100)

// Backend persists a cart with its lines and hands back its id.
type Backend interface {
	CreateCart(ctx context.Context, token string, lines []domain.CartLine) (int64, error)
}

// Store is the single source of truth for one shopper's cart. All checkout
// stages share the same instance.
type Store struct {
	mu          sync.Mutex
	items       []domain.CartItem
	cartID      *int64
	generation  uint64
	shippingFee decimal.Decimal
	backend     Backend
	sfg         singleflight.Group
}

// New returns an empty store.
func New(backend Backend, shippingFee decimal.Decimal) *Store {
	return &Store{backend: backend, shippingFee: shippingFee}
}

// Restore rebuilds a store from persisted state, dropping any line that
// violates the quantity invariant.
func Restore(state domain.CartState, backend Backend, shippingFee decimal.Decimal) *Store {
	s := New(backend, shippingFee)
	for _, item := range state.Items {
		if item.Quantity >= 1 {
			s.items = append(s.items, item)
		}
	}
	if state.CartID != nil {
		id := *state.CartID
		s.cartID = &id
	}
	return s
}

// Add inserts the product or bumps the quantity of the matching line.
func (s *Store) Add(p domain.Product) {
	qty := p.Quantity
	if qty < 1 {
		qty = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
	for i := range s.items {
		if s.items[i].ID == p.ID {
			s.items[i].Quantity += qty
			return
		}
	}
	s.items = append(s.items, domain.CartItem{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Quantity: qty,
		Image:    p.Image,
	})
}

// UpdateQuantity sets the quantity of an item; zero or less removes it.
func (s *Store) UpdateQuantity(itemID int64, quantity int) {
	if quantity <= 0 {
		s.Remove(itemID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == itemID {
			if s.items[i].Quantity != quantity {
				s.items[i].Quantity = quantity
				s.invalidateLocked()
			}
			return
		}
	}
}

// Remove drops an item. Removing an unknown item is a no-op.
func (s *Store) Remove(itemID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.invalidateLocked()
			return
		}
	}
}

// Clear empties the cart and forgets the backend cart id.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.invalidateLocked()
}

// invalidateLocked forgets the backend cart after the lines changed, so the
// next CreateOnBackend persists the current lines. Callers hold s.mu.
func (s *Store) invalidateLocked() {
	s.cartID = nil
	s.generation++
}

// CartID returns the backend id, if one has been assigned.
func (s *Store) CartID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cartID == nil {
		return 0, false
	}
	return *s.cartID, true
}

// CreateOnBackend returns the cached cart id or creates the cart from the
// current lines. Concurrent callers on the same lines share a single backend
// call. A cart change during the call keeps the returned id out of the cache.
func (s *Store) CreateOnBackend(ctx context.Context, token string) (int64, error) {
	s.mu.Lock()
	if s.cartID != nil {
		id := *s.cartID
		s.mu.Unlock()
		return id, nil
	}
	gen := s.generation
	lines := make([]domain.CartLine, 0, len(s.items))
	for _, item := range s.items {
		lines = append(lines, domain.CartLine{ProductID: item.ID, Quantity: item.Quantity})
	}
	s.mu.Unlock()

	v, err, _ := s.sfg.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		id, err := s.backend.CreateCart(ctx, token, lines)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cartID != nil {
			return *s.cartID, nil
		}
		if s.generation == gen {
			s.cartID = &id
		}
		return id, nil
	})
	if err != nil {
		return 0, &domain.CartCreationError{Err: err}
	}
	return v.(int64), nil
}

// Items returns a copy of the current lines.
func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CartItem, len(s.items))
	copy(out, s.items)
	return out
}

// Len is the number of distinct lines.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) SubTotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (s *Store) Shipping() decimal.Decimal {
	return s.shippingFee
}

func (s *Store) Total() decimal.Decimal {
	return s.SubTotal().Add(s.shippingFee)
}

// State snapshots the cart for persistence.
func (s *Store) State() domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := domain.CartState{Items: make([]domain.CartItem, len(s.items))}
	copy(state.Items, s.items)
	if s.cartID != nil {
		id := *s.cartID
		state.CartID = &id
	}
	return state
}
