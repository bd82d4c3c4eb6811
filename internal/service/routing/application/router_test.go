package application

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	invdomain "checkoutcore/internal/service/inventory/domain"
	"checkoutcore/internal/service/routing/domain"
	"checkoutcore/internal/service/routing/infrastructure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type staticOrders map[string]*domain.RoutableOrder

func (s staticOrders) RoutableOrder(_ context.Context, orderID string) (*domain.RoutableOrder, error) {
	o, ok := s[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

type staticLocations []domain.Location

func (s staticLocations) Locations(_ context.Context, vendorID string) ([]domain.Location, error) {
	var out []domain.Location
	for _, l := range s {
		if l.VendorID == vendorID {
			out = append(out, l)
		}
	}
	if out == nil {
		return nil, domain.ErrUnknownVendor
	}
	return out, nil
}

// staticStock 按地点保存父商品可用量与变体视图。
type staticStock map[string]map[invdomain.ItemKey]invdomain.Availability

func (s staticStock) Availability(_ context.Context, locationID string, items []invdomain.ItemKey) (map[invdomain.ItemKey]invdomain.Availability, error) {
	out := make(map[invdomain.ItemKey]invdomain.Availability, len(items))
	for _, it := range items {
		out[it] = s[locationID][it]
	}
	return out, nil
}

type failingStock struct{}

func (failingStock) Availability(context.Context, string, []invdomain.ItemKey) (map[invdomain.ItemKey]invdomain.Availability, error) {
	return nil, errors.New("db down")
}

func item(p string) invdomain.ItemKey { return invdomain.ItemKey{ProductID: p} }

func line(p string, qty int) domain.Line { return domain.Line{Item: item(p), Quantity: qty} }

func loc(id string) domain.Location { return domain.Location{ID: id, VendorID: "v1", Active: true} }

func newTestRouter(t *testing.T, orders staticOrders, locs staticLocations, stock domain.AvailabilityReader, exprs map[string]string) (*Router, *infrastructure.MemoryAssignmentRepository) {
	t.Helper()
	policies, err := NewPolicySet(exprs)
	require.NoError(t, err)
	repo := infrastructure.NewMemoryAssignmentRepository()
	return NewRouter(orders, locs, stock, repo, policies, noop.NewTracerProvider().Tracer("test")), repo
}

func TestRoute_PrefersSingleLocation(t *testing.T) {
	orders := staticOrders{"o1": {OrderID: "o1", VendorID: "v1", Lines: []domain.Line{line("p1", 5)}}}
	stock := staticStock{
		"loc-a": {item("p1"): {Direct: 10}},
		"loc-b": {item("p1"): {Direct: 2}},
	}
	r, repo := newTestRouter(t, orders, staticLocations{loc("loc-b"), loc("loc-a")}, stock, nil)

	plan, err := r.Route(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 1)
	a := plan.Assignments[0]
	assert.Equal(t, "loc-a", a.LocationID)
	assert.Equal(t, domain.FulfillmentSingle, a.FulfillmentType)
	assert.Equal(t, 5, a.ItemCount)

	saved, err := repo.FindByOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, plan.Assignments, saved)

	stored, err := r.Plan(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, plan.Assignments, stored.Assignments)
}

func TestRoute_SingleLocationTieBreaksOnTotalThenID(t *testing.T) {
	orders := staticOrders{"o1": {OrderID: "o1", VendorID: "v1", Lines: []domain.Line{line("p1", 1), line("p2", 1)}}}
	stock := staticStock{
		"loc-c": {item("p1"): {Direct: 5}, item("p2"): {Direct: 5}},
		"loc-b": {item("p1"): {Direct: 3}, item("p2"): {Direct: 3}},
		"loc-a": {item("p1"): {Direct: 3}, item("p2"): {Direct: 3}},
	}
	r, _ := newTestRouter(t, orders, staticLocations{loc("loc-a"), loc("loc-b"), loc("loc-c")}, stock, nil)
	plan, err := r.Route(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "loc-c", plan.Assignments[0].LocationID)

	delete(stock, "loc-c")
	plan, err = r.Route(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "loc-a", plan.Assignments[0].LocationID)
}

func TestRoute_SplitsGreedilyWhenNoSingleLocation(t *testing.T) {
	orders := staticOrders{"o1": {OrderID: "o1", VendorID: "v1", Lines: []domain.Line{line("p1", 4), line("p2", 3)}}}
	stock := staticStock{
		"loc-a": {item("p1"): {Direct: 4}, item("p2"): {Direct: 1}},
		"loc-b": {item("p1"): {Direct: 0}, item("p2"): {Direct: 6}},
	}
	r, _ := newTestRouter(t, orders, staticLocations{loc("loc-a"), loc("loc-b")}, stock, nil)

	plan, err := r.Route(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 2)
	assert.Equal(t, "loc-a", plan.Assignments[0].LocationID)
	assert.Equal(t, []domain.Line{line("p1", 4)}, plan.Assignments[0].Items)
	assert.Equal(t, "loc-b", plan.Assignments[1].LocationID)
	assert.Equal(t, []domain.Line{line("p2", 3)}, plan.Assignments[1].Items)
	for _, a := range plan.Assignments {
		assert.Equal(t, domain.FulfillmentSplit, a.FulfillmentType)
	}

	claims := plan.Claims()
	assert.Len(t, claims, 2)
}

func TestRoute_IsDeterministicAcrossInputOrder(t *testing.T) {
	lines := []domain.Line{line("p1", 2), line("p2", 2), line("p3", 1), line("p4", 3)}
	locs := staticLocations{loc("loc-a"), loc("loc-b"), loc("loc-c")}
	stock := staticStock{
		"loc-a": {item("p1"): {Direct: 2}, item("p2"): {Direct: 1}, item("p4"): {Direct: 3}},
		"loc-b": {item("p2"): {Direct: 2}, item("p3"): {Direct: 1}},
		"loc-c": {item("p1"): {Direct: 2}, item("p3"): {Direct: 4}, item("p4"): {Direct: 1}},
	}

	var first *domain.Plan
	for i := 0; i < 20; i++ {
		shuffledLines := append([]domain.Line(nil), lines...)
		rand.Shuffle(len(shuffledLines), func(a, b int) { shuffledLines[a], shuffledLines[b] = shuffledLines[b], shuffledLines[a] })
		shuffledLocs := append(staticLocations(nil), locs...)
		rand.Shuffle(len(shuffledLocs), func(a, b int) { shuffledLocs[a], shuffledLocs[b] = shuffledLocs[b], shuffledLocs[a] })

		orders := staticOrders{"o1": {OrderID: "o1", VendorID: "v1", Lines: shuffledLines}}
		r, _ := newTestRouter(t, orders, shuffledLocs, stock, nil)
		plan, err := r.Route(context.Background(), "o1")
		require.NoError(t, err)
		if first == nil {
			first = plan
			continue
		}
		assert.Equal(t, first, plan)
	}
}

func TestRoute_PartialAvailability(t *testing.T) {
	orders := staticOrders{"o1": {OrderID: "o1", VendorID: "v1", Lines: []domain.Line{line("p1", 2), line("p2", 9)}}}
	stock := staticStock{"loc-a": {item("p1"): {Direct: 2}, item("p2"): {Direct: 3}}}
	r, repo := newTestRouter(t, orders, staticLocations{loc("loc-a")}, stock, nil)

	plan, err := r.Route(context.Background(), "o1")
	var partial *domain.PartialAvailabilityError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []domain.Line{line("p2", 9)}, partial.Unassigned)
	require.NotNil(t, plan)
	assert.False(t, plan.Complete())
	require.Len(t, plan.Assignments, 1)
	assert.Equal(t, []domain.Line{line("p1", 2)}, plan.Assignments[0].Items)

	saved, _ := repo.FindByOrder(context.Background(), "o1")
	assert.Len(t, saved, 1)
}

func TestRoute_VariantSharesParentStock(t *testing.T) {
	xl := invdomain.ItemKey{ProductID: "shirt", VariantID: "xl"}
	orders := staticOrders{"o1": {OrderID: "o1", VendorID: "v1", Lines: []domain.Line{
		{Item: xl, Quantity: 2},
		line("shirt", 3),
	}}}
	// loc-a: 变体 1 件 + 父商品 4 件（比例 1）。变体用掉 1 件父商品后只剩 3 件，单地点刚好满足。
	stock := staticStock{"loc-a": {
		xl:            {Direct: 1, ParentAvailable: 4, ConversionRatio: 1},
		item("shirt"): {Direct: 4},
	}}
	r, _ := newTestRouter(t, orders, staticLocations{loc("loc-a")}, stock, nil)
	plan, err := r.Route(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 1)

	// 父商品需求再多一件就无法满足。
	orders["o1"].Lines[1].Quantity = 4
	_, err = r.Route(context.Background(), "o1")
	var partial *domain.PartialAvailabilityError
	assert.ErrorAs(t, err, &partial)
}

func TestRoute_ExcludesInactiveAndIneligibleLocations(t *testing.T) {
	locs := staticLocations{
		{ID: "loc-a", VendorID: "v1", Region: "eu", Active: true},
		{ID: "loc-b", VendorID: "v1", Region: "us", Active: true},
		{ID: "loc-c", VendorID: "v1", Region: "eu", Active: false},
	}
	stock := staticStock{
		"loc-a": {item("p1"): {Direct: 1}},
		"loc-b": {item("p1"): {Direct: 50}},
		"loc-c": {item("p1"): {Direct: 50}},
	}
	orders := staticOrders{"o1": {OrderID: "o1", VendorID: "v1", Lines: []domain.Line{line("p1", 1)}}}
	r, _ := newTestRouter(t, orders, locs, stock, map[string]string{"v1": `location.region == "eu"`})

	plan, err := r.Route(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "loc-a", plan.Assignments[0].LocationID)
}

func TestRoute_Errors(t *testing.T) {
	orders := staticOrders{
		"empty": {OrderID: "empty", VendorID: "v1"},
		"lost":  {OrderID: "lost", VendorID: "nobody", Lines: []domain.Line{line("p1", 1)}},
		"ok":    {OrderID: "ok", VendorID: "v1", Lines: []domain.Line{line("p1", 1)}},
	}
	r, _ := newTestRouter(t, orders, staticLocations{loc("loc-a")}, staticStock{}, nil)

	_, err := r.Route(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = r.Route(context.Background(), "empty")
	assert.ErrorIs(t, err, domain.ErrEmptyOrder)
	_, err = r.Route(context.Background(), "lost")
	assert.ErrorIs(t, err, domain.ErrUnknownVendor)
	_, err = r.Plan(context.Background(), "ok")
	assert.ErrorIs(t, err, domain.ErrPlanNotRecorded)

	failing, _ := newTestRouter(t, orders, staticLocations{loc("loc-a")}, failingStock{}, nil)
	_, err = failing.Route(context.Background(), "ok")
	assert.EqualError(t, err, "db down")
}

type staticReservations map[string]bool

func (s staticReservations) HasReservation(_ context.Context, orderID string) (bool, error) {
	return s[orderID], nil
}

func TestRoute_KeepsStoredPlanOnceReserved(t *testing.T) {
	orders := staticOrders{
		"o1": {OrderID: "o1", VendorID: "v1", Lines: []domain.Line{line("p1", 5)}},
		"o2": {OrderID: "o2", VendorID: "v1", Lines: []domain.Line{line("p1", 5)}},
		"o3": {OrderID: "o3", VendorID: "v1", Lines: []domain.Line{line("p1", 5)}},
	}
	stock := staticStock{
		"east": {item("p1"): {Direct: 10}},
		"west": {item("p1"): {Direct: 6}},
	}
	r, repo := newTestRouter(t, orders, staticLocations{loc("east"), loc("west")}, stock, nil)
	reserved := staticReservations{}
	r.WithReservations(reserved)
	ctx := context.Background()

	for _, id := range []string{"o1", "o2", "o3"} {
		plan, err := r.Route(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "east", plan.Assignments[0].LocationID)
	}

	// 预留后库存变化，west 成为更优的地点
	stock["east"][item("p1")] = invdomain.Availability{Direct: 5}
	orders["o1"].PlanLocked = true
	reserved["o2"] = true

	for _, id := range []string{"o1", "o2"} {
		plan, err := r.Route(ctx, id)
		require.NoError(t, err)
		require.Len(t, plan.Assignments, 1)
		assert.Equal(t, "east", plan.Assignments[0].LocationID, id)

		saved, err := repo.FindByOrder(ctx, id)
		require.NoError(t, err)
		require.Len(t, saved, 1)
		assert.Equal(t, "east", saved[0].LocationID, id)
	}

	plan, err := r.Route(ctx, "o3")
	require.NoError(t, err)
	assert.Equal(t, "west", plan.Assignments[0].LocationID)
}

func TestRoute_LockedOrderWithoutStoredPlanRoutesNormally(t *testing.T) {
	orders := staticOrders{"o1": {OrderID: "o1", VendorID: "v1", Lines: []domain.Line{line("p1", 2)}, PlanLocked: true}}
	stock := staticStock{"east": {item("p1"): {Direct: 3}}}
	r, repo := newTestRouter(t, orders, staticLocations{loc("east")}, stock, nil)

	plan, err := r.Route(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 1)

	saved, err := repo.FindByOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}
