package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-checkout/internal/domain"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Save(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	const q = `
INSERT INTO checkout_sessions (id, data, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3))
ON CONFLICT (id) DO UPDATE
SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = now()
`
	_, err := r.pool.Exec(ctx, q, id, data, ttl.Seconds())
	return err
}

func (r *postgresRepo) Get(ctx context.Context, id string) (*Record, error) {
	const q = `
SELECT id::text, data, expires_at, updated_at
FROM checkout_sessions
WHERE id = $1 AND expires_at > now()
LIMIT 1
`
	var out Record
	if err := r.pool.QueryRow(ctx, q, id).Scan(&out.ID, &out.Data, &out.ExpiresAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (r *postgresRepo) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM checkout_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteExpired removes sessions past their expiry and returns how many went.
func (r *postgresRepo) DeleteExpired(ctx context.Context) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM checkout_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
