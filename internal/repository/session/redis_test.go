package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-checkout/internal/domain"
)

func setupRedis(t *testing.T) (Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client), mr
}

func TestRedis_SaveAndGet(t *testing.T) {
	repo, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "abc", []byte(`{"step":"payment_select"}`), 30*time.Minute))
	assert.True(t, mr.Exists(redisKey("abc")))
	assert.Equal(t, 30*time.Minute, mr.TTL(redisKey("abc")))

	rec, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", rec.ID)
	assert.JSONEq(t, `{"step":"payment_select"}`, string(rec.Data))
	assert.False(t, rec.ExpiresAt.IsZero())
}

func TestRedis_Expires(t *testing.T) {
	repo, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "abc", []byte(`{}`), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := repo.Get(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedis_Delete(t *testing.T) {
	repo, _ := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "abc", []byte(`{}`), time.Minute))
	require.NoError(t, repo.Delete(ctx, "abc"))
	assert.ErrorIs(t, repo.Delete(ctx, "abc"), domain.ErrNotFound)
}

func TestRedis_ServerDown(t *testing.T) {
	repo, mr := setupRedis(t)
	mr.Close()

	_, err := repo.Get(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
