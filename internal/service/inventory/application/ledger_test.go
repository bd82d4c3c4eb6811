package application

import (
	"context"
	"testing"

	"checkoutcore/internal/service/inventory/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ReceiveAndAdjust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := domain.ItemKey{ProductID: "p1"}

	require.NoError(t, f.ledger.Receive(ctx, item, "loc-a", 5, "po-1"))
	require.NoError(t, f.ledger.Receive(ctx, item, "loc-a", 3, "po-2"))
	assert.Equal(t, 8, f.record(t, "p1", "loc-a").OnHand)

	_, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("p1", "", "loc-a", 6)})
	require.NoError(t, err)

	// 在库不能被调到预留量以下
	assert.ErrorIs(t, f.ledger.Adjust(ctx, item, "loc-a", -3, "cycle count"), domain.ErrBelowReserved)
	require.NoError(t, f.ledger.Adjust(ctx, item, "loc-a", -2, "cycle count"))

	r := f.record(t, "p1", "loc-a")
	assert.Equal(t, 6, r.OnHand)
	assert.Equal(t, 6, r.Reserved)

	receipts, err := f.ledger.Movements(ctx, "po-1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, domain.MovementReceipt, receipts[0].Type)
	assert.Equal(t, 5, receipts[0].QuantityDelta)

	adjustments, err := f.ledger.Movements(ctx, "cycle count")
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.Equal(t, -2, adjustments[0].QuantityDelta)
}

func TestLedger_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.ledger.Receive(ctx, domain.ItemKey{ProductID: "p1"}, "loc-a", 0, "x"), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, f.ledger.Receive(ctx, domain.ItemKey{ProductID: "p1", VariantID: "v"}, "loc-a", 1, "x"), domain.ErrRecordNotFound)
	assert.ErrorIs(t, f.ledger.DefineVariant(ctx, domain.ItemKey{ProductID: "p1", VariantID: "v"}, "loc-a", 0), domain.ErrInvalidRatio)
	assert.ErrorIs(t, f.ledger.DefineVariant(ctx, domain.ItemKey{ProductID: "p1"}, "loc-a", 1), domain.ErrInvalidClaim)
}

func TestLedger_Availability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := domain.ItemKey{ProductID: "shirt"}
	variant := domain.ItemKey{ProductID: "shirt", VariantID: "xl"}
	unknown := domain.ItemKey{ProductID: "hat"}

	f.stock(t, parent, "loc-a", 7)
	require.NoError(t, f.ledger.DefineVariant(ctx, variant, "loc-a", 2))
	f.stock(t, variant, "loc-a", 1)

	_, err := f.holds.Reserve(ctx, "order-1", []domain.ClaimRequest{claim("shirt", "", "loc-a", 2)})
	require.NoError(t, err)

	av, err := f.ledger.Availability(ctx, "loc-a", []domain.ItemKey{parent, variant, unknown})
	require.NoError(t, err)

	assert.Equal(t, domain.Availability{Direct: 5}, av[parent])
	assert.Equal(t, domain.Availability{Direct: 1, ParentAvailable: 5, ConversionRatio: 2}, av[variant])
	assert.Equal(t, 1+2, av[variant].Sellable())
	assert.Equal(t, 0, av[unknown].Sellable())

	other, err := f.ledger.Availability(ctx, "loc-b", []domain.ItemKey{parent, variant})
	require.NoError(t, err)
	assert.Equal(t, 0, other[parent].Sellable())
	assert.Equal(t, 0, other[variant].Sellable())
}
