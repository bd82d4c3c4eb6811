package application

import (
	"context"
	"sort"

	"checkoutcore/internal/pkg/logger"
	invdomain "checkoutcore/internal/service/inventory/domain"
	"checkoutcore/internal/service/routing/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const availabilityConcurrency = 8

// Router 决定订单由哪些地点履约。它只读取库存，不做任何预留。
type Router struct {
	orders      domain.OrderReader
	locations   domain.LocationDirectory
	stock       domain.AvailabilityReader
	assignments domain.AssignmentRepository
	policies    *PolicySet
	tracer      trace.Tracer
	// reservations 为空时只按订单状态判断分配是否已锁定
	reservations domain.ReservationReader
}

func NewRouter(orders domain.OrderReader, locations domain.LocationDirectory, stock domain.AvailabilityReader,
	assignments domain.AssignmentRepository, policies *PolicySet, tracer trace.Tracer) *Router {
	return &Router{
		orders:      orders,
		locations:   locations,
		stock:       stock,
		assignments: assignments,
		policies:    policies,
		tracer:      tracer,
	}
}

// WithReservations 让路由器在订单已有库存预留时保留原分配。
func (r *Router) WithReservations(res domain.ReservationReader) *Router {
	r.reservations = res
	return r
}

// Route 为订单生成地点分配并替换已保存的分配。
// 有订单行无法分配时，计划与 *domain.PartialAvailabilityError 一起返回。
// 订单已经预留过库存时不再重新计算，直接返回保存的分配。
func (r *Router) Route(ctx context.Context, orderID string) (*domain.Plan, error) {
	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := r.orders.RoutableOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load order")
		return nil, err
	}

	stored, err := r.lockedPlan(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load locked plan")
		return nil, err
	}
	if stored != nil {
		span.AddEvent("Plan locked by reservation, returning stored assignments")
		logger.Ctx(ctx).Info().Str("order_id", orderID).Int("locations", len(stored.Assignments)).Msg("Order already reserved, keeping stored plan")
		return stored, nil
	}

	plan, err := r.route(ctx, order)
	if err != nil && plan == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing failed")
		return nil, err
	}

	if saveErr := r.assignments.Replace(ctx, orderID, plan.Assignments); saveErr != nil {
		span.RecordError(saveErr)
		span.SetStatus(codes.Error, "failed to save assignments")
		return nil, saveErr
	}

	span.SetAttributes(
		attribute.Int("plan.locations", len(plan.Assignments)),
		attribute.Int("plan.unassigned", len(plan.Unassigned)),
	)
	log := logger.Ctx(ctx).Info()
	if err != nil {
		span.RecordError(err)
		log = logger.Ctx(ctx).Warn().Err(err)
	}
	log.Str("order_id", orderID).
		Int("locations", len(plan.Assignments)).
		Int("unassigned", len(plan.Unassigned)).
		Msg("Order routed")
	return plan, err
}

// lockedPlan 在订单已越过预留或持有未释放的 Hold 时返回保存的分配。
// 没有保存过分配时返回 nil，由调用方正常路由。
func (r *Router) lockedPlan(ctx context.Context, order *domain.RoutableOrder) (*domain.Plan, error) {
	locked := order.PlanLocked
	if !locked && r.reservations != nil {
		var err error
		if locked, err = r.reservations.HasReservation(ctx, order.OrderID); err != nil {
			return nil, err
		}
	}
	if !locked {
		return nil, nil
	}
	assignments, err := r.assignments.FindByOrder(ctx, order.OrderID)
	if err != nil || len(assignments) == 0 {
		return nil, err
	}
	return domain.PlanFromAssignments(order.OrderID, assignments), nil
}

func (r *Router) route(ctx context.Context, order *domain.RoutableOrder) (*domain.Plan, error) {
	orderID := order.OrderID
	if len(order.Lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	candidates, err := r.eligibleLocations(ctx, order)
	if err != nil {
		return nil, err
	}

	items := distinctItems(order.Lines)
	avail := make([]map[invdomain.ItemKey]invdomain.Availability, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(availabilityConcurrency)
	for i, loc := range candidates {
		g.Go(func() error {
			av, err := r.stock.Availability(gctx, loc.ID, items)
			avail[i] = av
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	plan := buildPlan(order, candidates, avail)
	if !plan.Complete() {
		return plan, &domain.PartialAvailabilityError{OrderID: orderID, Unassigned: plan.Unassigned}
	}
	return plan, nil
}

// eligibleLocations 返回启用且满足商家资格表达式的地点，按 ID 排序。
func (r *Router) eligibleLocations(ctx context.Context, order *domain.RoutableOrder) ([]domain.Location, error) {
	all, err := r.locations.Locations(ctx, order.VendorID)
	if err != nil {
		return nil, err
	}
	policy := r.policies.For(order.VendorID)

	var out []domain.Location
	for _, loc := range all {
		if !loc.Active {
			continue
		}
		ok, err := policy.Eligible(loc, order)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Plan 返回订单最近一次保存的分配。
func (r *Router) Plan(ctx context.Context, orderID string) (*domain.Plan, error) {
	assignments, err := r.assignments.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, domain.ErrPlanNotRecorded
	}
	return domain.PlanFromAssignments(orderID, assignments), nil
}

func distinctItems(lines []domain.Line) []invdomain.ItemKey {
	seen := make(map[invdomain.ItemKey]bool, len(lines))
	var out []invdomain.ItemKey
	for _, l := range lines {
		if !seen[l.Item] {
			seen[l.Item] = true
			out = append(out, l.Item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
