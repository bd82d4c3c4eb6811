package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeClaims_MergesAndSorts(t *testing.T) {
	reqs := []ClaimRequest{
		{Item: ItemKey{ProductID: "p2"}, LocationID: "a", Quantity: 1},
		{Item: ItemKey{ProductID: "p1", VariantID: "red"}, LocationID: "b", Quantity: 2},
		{Item: ItemKey{ProductID: "p1"}, LocationID: "b", Quantity: 1},
		{Item: ItemKey{ProductID: "p2"}, LocationID: "a", Quantity: 3},
	}

	got, err := NormalizeClaims(reqs)
	require.NoError(t, err)
	assert.Equal(t, []ClaimRequest{
		{Item: ItemKey{ProductID: "p1"}, LocationID: "b", Quantity: 1},
		{Item: ItemKey{ProductID: "p1", VariantID: "red"}, LocationID: "b", Quantity: 2},
		{Item: ItemKey{ProductID: "p2"}, LocationID: "a", Quantity: 4},
	}, got)
}

func TestNormalizeClaims_RejectsInvalid(t *testing.T) {
	_, err := NormalizeClaims([]ClaimRequest{{Item: ItemKey{ProductID: "p1"}, LocationID: "a", Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidClaim)

	_, err = NormalizeClaims([]ClaimRequest{{Item: ItemKey{ProductID: "p1"}, Quantity: 1}})
	assert.ErrorIs(t, err, ErrInvalidClaim)
}

func TestHold_TerminalTransitions(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := NewHold("order-1", nil, now)
	require.True(t, h.IsActive())

	require.NoError(t, h.MarkFinalized(now.Add(time.Second)))
	assert.Equal(t, HoldFinalized, h.State)
	assert.ErrorIs(t, h.MarkReleased(now), ErrHoldStateConflict)
	assert.ErrorIs(t, h.MarkFinalized(now), ErrHoldStateConflict)
}

func TestHold_Matches(t *testing.T) {
	reqs := []ClaimRequest{{Item: ItemKey{ProductID: "p1"}, LocationID: "a", Quantity: 2}}
	h := NewHold("order-1", []Claim{{Item: ItemKey{ProductID: "p1"}, LocationID: "a", Quantity: 2}}, time.Now())

	assert.True(t, h.Matches(reqs))
	assert.False(t, h.Matches([]ClaimRequest{{Item: ItemKey{ProductID: "p1"}, LocationID: "a", Quantity: 3}}))
	assert.False(t, h.Matches(nil))
}

func TestClaimParentUnitsAndSaleMovement(t *testing.T) {
	variantClaim := Claim{
		Item:             ItemKey{ProductID: "shirt", VariantID: "xl"},
		LocationID:       "a",
		Quantity:         3,
		FromVariantStock: 1,
		Conversion:       ConversionMetadata{VariantTemplateID: "shirt", ConversionApplied: true, ConvertedQuantity: 2, ConvertedUnits: 2},
	}
	assert.Equal(t, 2, variantClaim.ParentUnits())

	m := SaleMovement("order-1", variantClaim, time.Now())
	assert.Equal(t, MovementSale, m.Type)
	assert.Equal(t, -1, m.QuantityDelta)
	assert.Equal(t, 2, m.ConvertedQuantity)
	assert.Equal(t, "order-1", m.Reference)

	parentClaim := Claim{Item: ItemKey{ProductID: "shirt"}, LocationID: "a", Quantity: 4}
	assert.Equal(t, 4, parentClaim.ParentUnits())
	assert.Equal(t, -4, SaleMovement("order-1", parentClaim, time.Now()).QuantityDelta)
}

func TestAvailability_Sellable(t *testing.T) {
	assert.Equal(t, 5, Availability{Direct: 5}.Sellable())
	assert.Equal(t, 1+3, Availability{Direct: 1, ParentAvailable: 7, ConversionRatio: 2}.Sellable())
}

func TestInventoryRecord_CommitKeepsInvariant(t *testing.T) {
	r := &InventoryRecord{ProductID: "p", LocationID: "a", OnHand: 5}
	require.NoError(t, r.Reserve(3))
	assert.Equal(t, 2, r.Available())
	assert.ErrorIs(t, r.Reserve(3), ErrInvariantViolation)

	require.NoError(t, r.Commit(3))
	assert.Equal(t, 2, r.OnHand)
	assert.Equal(t, 0, r.Reserved)
	assert.ErrorIs(t, r.Commit(1), ErrInvariantViolation)
}

func TestNormalizeClaims_RejectsOverflowingMerge(t *testing.T) {
	_, err := NormalizeClaims([]ClaimRequest{
		{Item: ItemKey{ProductID: "p1"}, LocationID: "a", Quantity: math.MaxInt},
		{Item: ItemKey{ProductID: "p1"}, LocationID: "a", Quantity: math.MaxInt},
	})
	assert.ErrorIs(t, err, ErrInvalidClaim)

	got, err := NormalizeClaims([]ClaimRequest{
		{Item: ItemKey{ProductID: "p1"}, LocationID: "a", Quantity: math.MaxInt - 1},
		{Item: ItemKey{ProductID: "p1"}, LocationID: "a", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, got[0].Quantity)
}

func TestRecords_RejectNonPositiveQuantities(t *testing.T) {
	for _, qty := range []int{0, -2} {
		r := &InventoryRecord{ProductID: "p", LocationID: "a", OnHand: 10, Reserved: 4}
		assert.ErrorIs(t, r.Reserve(qty), ErrInvariantViolation)
		assert.ErrorIs(t, r.Unreserve(qty), ErrInvariantViolation)
		assert.ErrorIs(t, r.Commit(qty), ErrInvariantViolation)
		assert.Equal(t, 10, r.OnHand)
		assert.Equal(t, 4, r.Reserved)

		v := &VariantRecord{ProductID: "p", VariantID: "xl", LocationID: "a", Quantity: 3, Reserved: 1, ConversionRatio: 2}
		assert.ErrorIs(t, v.Reserve(qty), ErrInvariantViolation)
		assert.ErrorIs(t, v.Unreserve(qty), ErrInvariantViolation)
		assert.ErrorIs(t, v.Commit(qty), ErrInvariantViolation)
		assert.Equal(t, 3, v.Quantity)
		assert.Equal(t, 1, v.Reserved)
	}
}
