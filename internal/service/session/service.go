package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"marketplace-checkout/internal/checkout"
	"marketplace-checkout/internal/delivery"
	"marketplace-checkout/internal/domain"
	sessionrepo "marketplace-checkout/internal/repository/session"
)

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 24 * time.Hour

type expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Service hands out checkout flows by session id. Live flows are kept in
// memory so that concurrent requests for one session share a flow; every
// change is written through to the repository.
type Service struct {
	repo      sessionrepo.Repository
	backend   checkout.Backend
	settings  checkout.Settings
	validator *delivery.Validator
	logger    *log.Logger
	ttl       time.Duration
	now       func() time.Time

	mu    sync.Mutex
	live  map[string]*entry
	loads singleflight.Group
}

type entry struct {
	flow *checkout.Flow
	seen time.Time
}

func New(repo sessionrepo.Repository, backend checkout.Backend, settings checkout.Settings, ttl time.Duration, logger *log.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo:      repo,
		backend:   backend,
		settings:  settings,
		validator: delivery.NewValidator(),
		logger:    logger,
		ttl:       ttl,
		now:       time.Now,
		live:      make(map[string]*entry),
	}
}

// Create starts a new session at cart review.
func (s *Service) Create(ctx context.Context) (string, *checkout.Flow, error) {
	id := uuid.NewString()
	flow := checkout.New(s.backend, s.settings, s.validator, s.logger)
	if err := s.Save(ctx, id, flow); err != nil {
		return "", nil, err
	}
	return id, flow, nil
}

// Get returns the live flow for id, restoring it from the repository when
// it is not in memory. Unknown or malformed ids are ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*checkout.Flow, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	s.mu.Lock()
	if e, ok := s.live[id]; ok && s.now().Sub(e.seen) < s.ttl {
		e.seen = s.now()
		s.mu.Unlock()
		return e.flow, nil
	}
	s.mu.Unlock()

	v, err, _ := s.loads.Do(id, func() (interface{}, error) {
		s.mu.Lock()
		if e, ok := s.live[id]; ok && s.now().Sub(e.seen) < s.ttl {
			s.mu.Unlock()
			return e.flow, nil
		}
		s.mu.Unlock()

		rec, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		var snap checkout.Snapshot
		if err := json.Unmarshal(rec.Data, &snap); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		flow := checkout.Restore(snap, s.backend, s.settings, s.validator, s.logger)
		s.mu.Lock()
		s.live[id] = &entry{flow: flow, seen: s.now()}
		s.mu.Unlock()
		return flow, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*checkout.Flow), nil
}

// Save persists the flow and refreshes its expiry.
func (s *Service) Save(ctx context.Context, id string, flow *checkout.Flow) error {
	data, err := json.Marshal(flow.Snapshot())
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	if err := s.repo.Save(ctx, id, data, s.ttl); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	s.mu.Lock()
	s.live[id] = &entry{flow: flow, seen: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

// Sweep drops idle flows from memory and, when the repository supports it,
// expired sessions from storage.
func (s *Service) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	for id, e := range s.live {
		if e.seen.Before(cutoff) {
			delete(s.live, id)
		}
	}
	s.mu.Unlock()

	if ex, ok := s.repo.(expirer); ok {
		n, err := ex.DeleteExpired(ctx)
		if err != nil {
			s.logger.Printf("sweep sessions: %v", err)
			return
		}
		if n > 0 {
			s.logger.Printf("swept %d expired sessions", n)
		}
	}
}

// Run sweeps every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Live is the number of flows held in memory.
func (s *Service) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
