package saga

import (
	"errors"

	"checkoutcore/internal/service/checkout/domain"
	rdomain "checkoutcore/internal/service/routing/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RouteHandler 为订单生成履约计划。
type RouteHandler struct {
	NextHandler
}

func (h *RouteHandler) Handle(c *CheckoutContext) error {
	ctx, span := c.Tracer.Start(c.Ctx, "saga.Route")
	defer span.End()

	plan, err := c.Routing.Route(ctx, c.Order.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing failed")
		var partial *rdomain.PartialAvailabilityError
		if errors.As(err, &partial) {
			return cancel(domain.ReasonLocationUnavailable, err)
		}
		return err
	}
	c.Plan = plan
	if err := c.transition(ctx, c.Order.MarkRouted); err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Int("plan.locations", len(plan.Assignments)))
	span.AddEvent("Order routed")
	return h.executeNext(c)
}
