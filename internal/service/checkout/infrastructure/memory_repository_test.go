package infrastructure

import (
	"context"
	"testing"
	"time"

	"checkoutcore/internal/service/checkout/domain"
	invdomain "checkoutcore/internal/service/inventory/domain"
	rdomain "checkoutcore/internal/service/routing/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seedOrder(t *testing.T, repo *MemoryRepository, id string) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(id, "v1", []rdomain.Line{{Item: invdomain.ItemKey{ProductID: "p1"}, Quantity: 1}}, decimal.NewFromInt(5), t0)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func TestMemoryRepository_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	o := seedOrder(t, repo, "o1")

	assert.ErrorIs(t, repo.Create(ctx, o), domain.ErrOrderExists)

	require.NoError(t, o.MarkRouted(t0))
	require.NoError(t, repo.Save(ctx, o))
	got, err := repo.FindByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRouted, got.Status)

	// 返回的是副本
	got.Status = domain.StatusCancelled
	again, _ := repo.FindByID(ctx, "o1")
	assert.Equal(t, domain.StatusRouted, again.Status)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemoryPaymentRepository_SingleCapturePerOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedOrder(t, repo, "o1")
	payments := repo.Payments()

	first := domain.NewAuthorizedAttempt("o1", 1, "auth-1", decimal.NewFromInt(5), t0)
	require.NoError(t, first.MarkCaptured(t0))
	require.NoError(t, payments.Save(ctx, first))

	second := domain.NewAuthorizedAttempt("o1", 2, "auth-2", decimal.NewFromInt(5), t0)
	require.NoError(t, payments.Save(ctx, second))
	require.NoError(t, second.MarkCaptured(t0))
	assert.ErrorIs(t, payments.Save(ctx, second), domain.ErrDuplicateCapture)

	list, err := payments.FindByOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Sequence)
	assert.Equal(t, domain.PaymentAuthorized, list[1].State)
}

func TestMemoryPaymentRepository_ListUnsettledCaptures(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	payments := repo.Payments()

	capture := func(orderID string, at time.Time) {
		a := domain.NewAuthorizedAttempt(orderID, 1, "auth-"+orderID, decimal.NewFromInt(5), at)
		require.NoError(t, a.MarkCaptured(at))
		require.NoError(t, payments.Save(ctx, a))
	}

	seedOrder(t, repo, "stale")
	capture("stale", t0)

	seedOrder(t, repo, "fresh")
	capture("fresh", t0.Add(time.Hour))

	done := seedOrder(t, repo, "done")
	capture("done", t0)
	for _, step := range []func(time.Time) error{done.MarkRouted, done.MarkReserved, done.MarkAuthorized, done.MarkCaptured, done.Complete} {
		require.NoError(t, step(t0))
	}
	require.NoError(t, repo.Save(ctx, done))

	flagged := seedOrder(t, repo, "flagged")
	capture("flagged", t0)
	flagged.FlagReview("no hold", t0)
	require.NoError(t, repo.Save(ctx, flagged))

	list, err := payments.ListUnsettledCaptures(ctx, t0.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "stale", list[0].OrderID)
}
