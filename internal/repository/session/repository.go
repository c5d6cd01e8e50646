package session

import (
	"context"
	"time"
)

// Record is a persisted checkout session. Data is the JSON snapshot of the flow.
type Record struct {
	ID        string
	Data      []byte
	ExpiresAt time.Time
	UpdatedAt time.Time
}

type Repository interface {
	Save(ctx context.Context, id string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
}
