package session

import (
	"context"
	"sync"
	"time"

	"marketplace-checkout/internal/domain"
)

type memoryRepo struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewMemory keeps sessions in process. They are lost on restart.
func NewMemory() Repository {
	return &memoryRepo{records: make(map[string]Record), now: time.Now}
}

func (r *memoryRepo) Save(_ context.Context, id string, data []byte, ttl time.Duration) error {
	now := r.now()
	rec := Record{
		ID:        id,
		Data:      append([]byte(nil), data...),
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*Record, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	if r.now().After(rec.ExpiresAt) {
		r.mu.Lock()
		delete(r.records, id)
		r.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return &rec, nil
}

func (r *memoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, id)
	return nil
}
