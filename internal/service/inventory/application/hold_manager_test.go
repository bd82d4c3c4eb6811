package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkoutcore/internal/pkg/metrics"
	"checkoutcore/internal/service/inventory/domain"
	"checkoutcore/internal/service/inventory/infrastructure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

var tracer = noop.NewTracerProvider().Tracer("inventory-test")

type fixture struct {
	store   *infrastructure.MemoryStore
	holds   *HoldManager
	ledger  *Ledger
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := infrastructure.NewMemoryStore()
	m := metrics.NewUnregistered()
	return &fixture{
		store:   store,
		holds:   NewHoldManager(store, tracer, m, opts...),
		ledger:  NewLedger(store, tracer, m, opts...),
		metrics: m,
	}
}

func (f *fixture) stock(t *testing.T, item domain.ItemKey, location string, qty int) {
	t.Helper()
	require.NoError(t, f.ledger.Receive(context.Background(), item, location, qty, "seed"))
}

func (f *fixture) record(t *testing.T, product, location string) *domain.InventoryRecord {
	t.Helper()
	r, err := f.ledger.Record(context.Background(), product, location)
	require.NoError(t, err)
	return r
}

func claim(product, variant, location string, qty int) domain.ClaimRequest {
	return domain.ClaimRequest{Item: domain.ItemKey{ProductID: product, VariantID: variant}, LocationID: location, Quantity: qty}
}

func TestReserve_NoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.stock(t, domain.ItemKey{ProductID: "p1"}, "loc-a", 10)

	const buyers = 40
	var (
		wg           sync.WaitGroup
		reserved     atomic.Int32
		insufficient atomic.Int32
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.holds.Reserve(context.Background(), fmt.Sprintf("order-%d", i), []domain.ClaimRequest{claim("p1", "", "loc-a", 1)})
			var ie *domain.InsufficientInventoryError
			switch {
			case err == nil:
				reserved.Add(1)
			case errors.As(err, &ie):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 10, reserved.Load())
	assert.EqualValues(t, buyers-10, insufficient.Load())

	r := f.record(t, "p1", "loc-a")
	assert.Equal(t, 10, r.OnHand)
	assert.Equal(t, 10, r.Reserved)
	assert.Equal(t, 0, r.Available())
}

func TestReserve_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.stock(t, domain.ItemKey{ProductID: "p1"}, "loc-a", 5)
	f.stock(t, domain.ItemKey{ProductID: "p2"}, "loc-a", 1)

	_, err := f.holds.Reserve(context.Background(), "order-1", []domain.ClaimRequest{
		claim("p1", "", "loc-a", 3),
		claim("p2", "", "loc-a", 2),
	})

	var ie *domain.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "p2", ie.Item.ProductID)
	assert.Equal(t, 1, ie.Available)
	assert.False(t, ie.Contended)

	assert.Equal(t, 0, f.record(t, "p1", "loc-a").Reserved)
	assert.Equal(t, 0, f.record(t, "p2", "loc-a").Reserved)

	h, err := f.holds.Hold(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestReserve_IdempotentForSamePlanConflictOtherwise(t *testing.T) {
	f := newFixture(t)
	f.stock(t, domain.ItemKey{ProductID: "p1"}, "loc-a", 5)
	ctx := context.Background()

	first, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 2)})
	require.NoError(t, err)

	again, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 2)})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, f.record(t, "p1", "loc-a").Reserved)

	_, err = f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 3)})
	assert.ErrorIs(t, err, domain.ErrHoldStateConflict)
}

func TestFinalize_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.stock(t, domain.ItemKey{ProductID: "p1"}, "loc-a", 10)
	ctx := context.Background()

	_, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 3)})
	require.NoError(t, err)

	require.NoError(t, f.holds.Finalize(ctx, "order-1"))
	require.NoError(t, f.holds.Finalize(ctx, "order-1"))

	r := f.record(t, "p1", "loc-a")
	assert.Equal(t, 7, r.OnHand)
	assert.Equal(t, 0, r.Reserved)

	movements, err := f.ledger.Movements(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementSale, movements[0].Type)
	assert.Equal(t, -3, movements[0].QuantityDelta)

	h, err := f.holds.Hold(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.HoldFinalized, h.State)

	// 终态之后 release 也是空操作
	require.NoError(t, f.holds.Release(ctx, "order-1"))
	assert.Equal(t, 7, f.record(t, "p1", "loc-a").OnHand)
}

func TestRelease_RestoresAvailability(t *testing.T) {
	f := newFixture(t)
	f.stock(t, domain.ItemKey{ProductID: "p1"}, "loc-a", 4)
	ctx := context.Background()

	before := f.record(t, "p1", "loc-a").Available()
	_, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 4)})
	require.NoError(t, err)
	assert.Equal(t, 0, f.record(t, "p1", "loc-a").Available())

	require.NoError(t, f.holds.Release(ctx, "order-1"))
	require.NoError(t, f.holds.Release(ctx, "order-1"))
	assert.Equal(t, before, f.record(t, "p1", "loc-a").Available())

	movements, err := f.ledger.Movements(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, movements)

	// 释放后可以重新预留
	_, err = f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 1)})
	require.NoError(t, err)
}

func TestReserve_AutoConvertsFromParentStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	variant := domain.ItemKey{ProductID: "shirt", VariantID: "xl"}

	f.stock(t, domain.ItemKey{ProductID: "shirt"}, "loc-a", 10)
	require.NoError(t, f.ledger.DefineVariant(ctx, variant, "loc-a", 1))
	f.stock(t, variant, "loc-a", 1)

	hold, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("shirt", "xl", "loc-a", 3)})
	require.NoError(t, err)
	require.Len(t, hold.Claims, 1)
	c := hold.Claims[0]
	assert.Equal(t, 1, c.FromVariantStock)
	assert.True(t, c.Conversion.ConversionApplied)
	assert.Equal(t, 2, c.Conversion.ConvertedQuantity)
	assert.Equal(t, 2, c.Conversion.ConvertedUnits)
	assert.Equal(t, "shirt", c.Conversion.VariantTemplateID)

	assert.Equal(t, 2, f.record(t, "shirt", "loc-a").Reserved)

	require.NoError(t, f.holds.Finalize(ctx, "order-1"))

	parent := f.record(t, "shirt", "loc-a")
	assert.Equal(t, 8, parent.OnHand)
	assert.Equal(t, 0, parent.Reserved)

	v, err := f.ledger.Variant(ctx, variant, "loc-a")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Quantity)
	assert.Equal(t, 0, v.Reserved)

	movements, err := f.ledger.Movements(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, -1, movements[0].QuantityDelta)
	assert.Equal(t, 2, movements[0].ConvertedQuantity)
}

func TestReserve_PartialConversionIsRejectedWhole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	variant := domain.ItemKey{ProductID: "shirt", VariantID: "xl"}

	f.stock(t, domain.ItemKey{ProductID: "shirt"}, "loc-a", 3)
	require.NoError(t, f.ledger.DefineVariant(ctx, variant, "loc-a", 2))
	f.stock(t, variant, "loc-a", 1)

	_, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("shirt", "xl", "loc-a", 3)})
	var ie *domain.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Available)

	v, err := f.ledger.Variant(ctx, variant, "loc-a")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Reserved)
	assert.Equal(t, 0, f.record(t, "shirt", "loc-a").Reserved)
}

func TestReserve_VariantAndParentShareParentStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	variant := domain.ItemKey{ProductID: "shirt", VariantID: "xl"}

	f.stock(t, domain.ItemKey{ProductID: "shirt"}, "loc-a", 4)
	require.NoError(t, f.ledger.DefineVariant(ctx, variant, "loc-a", 1))

	// 变体 2 件全部来自父库存，父商品本身再要 3 件时只剩 2 件
	_, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{
		claim("shirt", "xl", "loc-a", 2),
		claim("shirt", "", "loc-a", 3),
	})
	var ie *domain.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 0, f.record(t, "shirt", "loc-a").Reserved)
}

// contendedStore 在前 failures 次事务中模拟死锁。
type contendedStore struct {
	domain.Store
	failures int32
	calls    atomic.Int32
}

func (s *contendedStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if s.calls.Add(1) <= s.failures {
		return domain.ErrLockContention
	}
	return s.Store.WithinTx(ctx, fn)
}

func TestReserve_RetriesTransientLockContention(t *testing.T) {
	inner := infrastructure.NewMemoryStore()
	m := metrics.NewUnregistered()
	ledger := NewLedger(inner, tracer, m)
	require.NoError(t, ledger.Receive(context.Background(), domain.ItemKey{ProductID: "p1"}, "loc-a", 2, "seed"))

	store := &contendedStore{Store: inner, failures: 1}
	holds := NewHoldManager(store, tracer, m, WithRetryPolicy(RetryPolicy{Attempts: 3, Backoff: time.Millisecond}))

	_, err := holds.Reserve(context.Background(), "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 1)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, store.calls.Load())
}

func TestReserve_ExhaustedContentionSurfacesAsInsufficient(t *testing.T) {
	store := &contendedStore{Store: infrastructure.NewMemoryStore(), failures: 100}
	holds := NewHoldManager(store, tracer, metrics.NewUnregistered(), WithRetryPolicy(RetryPolicy{Attempts: 2, Backoff: time.Millisecond}))

	_, err := holds.Reserve(context.Background(), "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 1)})
	var ie *domain.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.True(t, ie.Contended)
	assert.EqualValues(t, 2, store.calls.Load())
}

// lockedRowStore 让某个商品的父库存行一直处于锁冲突。
type lockedRowStore struct {
	domain.Store
	product string
}

type lockedRowTx struct {
	domain.Tx
	product string
}

func (s *lockedRowStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx domain.Tx) error {
		return fn(&lockedRowTx{Tx: tx, product: s.product})
	})
}

func (tx *lockedRowTx) LockRecord(productID, locationID string) (*domain.InventoryRecord, error) {
	if productID == tx.product {
		return nil, domain.ErrLockContention
	}
	return tx.Tx.LockRecord(productID, locationID)
}

func TestReserve_ExhaustedContentionNamesContendedRow(t *testing.T) {
	inner := infrastructure.NewMemoryStore()
	m := metrics.NewUnregistered()
	ledger := NewLedger(inner, tracer, m)
	require.NoError(t, ledger.Receive(context.Background(), domain.ItemKey{ProductID: "p1"}, "loc-a", 5, "seed"))
	require.NoError(t, ledger.Receive(context.Background(), domain.ItemKey{ProductID: "p2"}, "loc-b", 5, "seed"))

	holds := NewHoldManager(&lockedRowStore{Store: inner, product: "p2"}, tracer, m,
		WithRetryPolicy(RetryPolicy{Attempts: 2, Backoff: time.Millisecond}))

	_, err := holds.Reserve(context.Background(), "order-1", []domain.ClaimRequest{
		claim("p1", "", "loc-a", 1),
		claim("p2", "", "loc-b", 3),
	})
	var ie *domain.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.True(t, ie.Contended)
	assert.Equal(t, "p2", ie.Item.ProductID)
	assert.Equal(t, "loc-b", ie.LocationID)
	assert.Equal(t, 3, ie.Requested)

	r, err := ledger.Record(context.Background(), "p1", "loc-a")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Reserved)
}

func TestReserve_RejectsOverflowingClaims(t *testing.T) {
	f := newFixture(t)
	f.stock(t, domain.ItemKey{ProductID: "p1"}, "loc-a", 5)

	_, err := f.holds.Reserve(context.Background(), "order-1", []domain.ClaimRequest{
		claim("p1", "", "loc-a", math.MaxInt),
		claim("p1", "", "loc-a", math.MaxInt),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidClaim)

	_, err = f.holds.Reserve(context.Background(), "order-2", []domain.ClaimRequest{claim("p1", "", "loc-a", -1)})
	assert.ErrorIs(t, err, domain.ErrInvalidClaim)

	r := f.record(t, "p1", "loc-a")
	assert.Equal(t, 5, r.OnHand)
	assert.Equal(t, 0, r.Reserved)
}

func TestReserve_HugeVariantRequestDoesNotWrapParentStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	variant := domain.ItemKey{ProductID: "shirt", VariantID: "6pk"}

	f.stock(t, domain.ItemKey{ProductID: "shirt"}, "loc-a", 10)
	require.NoError(t, f.ledger.DefineVariant(ctx, variant, "loc-a", 4))
	f.stock(t, variant, "loc-a", 1)

	_, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("shirt", "6pk", "loc-a", math.MaxInt/2)})
	var ie *domain.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, ie.Available)

	assert.Equal(t, 0, f.record(t, "shirt", "loc-a").Reserved)
	v, err := f.ledger.Variant(ctx, variant, "loc-a")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Reserved)
}

func TestHasReservation_FollowsHoldLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, domain.ItemKey{ProductID: "p1"}, "loc-a", 5)

	has, err := f.holds.HasReservation(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 1)})
	require.NoError(t, err)
	has, err = f.holds.HasReservation(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, f.holds.Finalize(ctx, "order-1"))
	has, err = f.holds.HasReservation(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = f.holds.Reserve(ctx, "order-2", []domain.ClaimRequest{claim("p1", "", "loc-a", 1)})
	require.NoError(t, err)
	require.NoError(t, f.holds.Release(ctx, "order-2"))
	has, err = f.holds.HasReservation(ctx, "order-2")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestExpiredHolds_UsesCreationTime(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	f.stock(t, domain.ItemKey{ProductID: "p1"}, "loc-a", 5)
	ctx := context.Background()

	_, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 1)})
	require.NoError(t, err)

	expired, err := f.holds.ExpiredHolds(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = f.holds.ExpiredHolds(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "order-1", expired[0].OrderID)
}
