package session

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-checkout/internal/checkout"
	"marketplace-checkout/internal/domain"
	"marketplace-checkout/internal/marketplace"
	sessionrepo "marketplace-checkout/internal/repository/session"
)

type stubBackend struct{}

func (stubBackend) CreateCart(context.Context, string, []domain.CartLine) (int64, error) {
	return 1, nil
}

func (stubBackend) ListGateways(context.Context, string) ([]domain.Gateway, error) {
	return nil, nil
}

func (stubBackend) CreateOrder(context.Context, string, domain.OrderRequest) (*domain.OrderResponse, error) {
	return &domain.OrderResponse{ID: 1}, nil
}

func (stubBackend) GetOrder(context.Context, string, int64) (*domain.OrderResponse, error) {
	return nil, domain.ErrNotFound
}

func (stubBackend) ListOrders(context.Context, string) ([]domain.OrderResponse, error) {
	return nil, nil
}

func (stubBackend) Login(context.Context, string, string) (string, error) { return "tok", nil }

func (stubBackend) InitiatePayment(context.Context, string, marketplace.PaymentInitiation) (*marketplace.InitiationResult, error) {
	return &marketplace.InitiationResult{}, nil
}

var settings = checkout.Settings{ShippingFee: decimal.NewFromInt(100)}

func newService(repo sessionrepo.Repository) *Service {
	return New(repo, stubBackend{}, settings, time.Hour, log.New(io.Discard, "", 0))
}

func TestCreateAndGet_SharesFlow(t *testing.T) {
	ctx := context.Background()
	svc := newService(sessionrepo.NewMemory())

	id, flow, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, flow, got)
}

func TestGet_UnknownSession(t *testing.T) {
	svc := newService(sessionrepo.NewMemory())

	_, err := svc.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGet_RestoresFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := sessionrepo.NewMemory()
	first := newService(repo)

	id, flow, err := first.Create(ctx)
	require.NoError(t, err)
	flow.AddItem(domain.Product{ID: 7, Name: "Tea", Price: decimal.NewFromInt(120)})
	require.NoError(t, flow.GoTo(checkout.StepDeliveryEntry))
	require.NoError(t, first.Save(ctx, id, flow))

	second := newService(repo)
	restored, err := second.Get(ctx, id)
	require.NoError(t, err)
	assert.NotSame(t, flow, restored)
	assert.Equal(t, checkout.StepDeliveryEntry, restored.Step())
	assert.Equal(t, 1, restored.Cart().Len())
	assert.True(t, restored.Cart().Total().Equal(decimal.NewFromInt(220)))
}

func TestSweep_DropsIdleFlows(t *testing.T) {
	ctx := context.Background()
	svc := newService(sessionrepo.NewMemory())
	now := time.Now()
	svc.now = func() time.Time { return now }

	_, _, err := svc.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Live())

	now = now.Add(2 * time.Hour)
	svc.Sweep(ctx)
	assert.Equal(t, 0, svc.Live())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc := newService(sessionrepo.NewMemory())
	id, _, err := svc.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, id))
	_, err = svc.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, id))
}

func TestRedisBackedSessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	first := newService(sessionrepo.NewRedis(client))
	id, flow, err := first.Create(ctx)
	require.NoError(t, err)
	flow.AddItem(domain.Product{ID: 1, Name: "Mug", Price: decimal.NewFromInt(50), Quantity: 3})
	require.NoError(t, first.Save(ctx, id, flow))

	second := newService(sessionrepo.NewRedis(client))
	restored, err := second.Get(ctx, id)
	require.NoError(t, err)
	items := restored.Cart().Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
}
