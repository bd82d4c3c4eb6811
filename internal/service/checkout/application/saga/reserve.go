package saga

import (
	"context"
	"errors"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/service/checkout/domain"
	invdomain "checkoutcore/internal/service/inventory/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReserveHandler 按计划预留库存。库存被并发抢走时重新路由并再试一次。
type ReserveHandler struct {
	NextHandler
}

func (h *ReserveHandler) Handle(c *CheckoutContext) error {
	ctx, span := c.Tracer.Start(c.Ctx, "saga.Reserve")
	defer span.End()

	hold, err := c.Stock.Reserve(ctx, c.Order.ID, c.Plan.Claims())
	var insufficient *invdomain.InsufficientInventoryError
	if errors.As(err, &insufficient) {
		span.AddEvent("Reservation lost a race, re-routing")
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", c.Order.ID).Msg("Reservation failed, re-routing once")

		plan, rerr := c.Routing.Route(ctx, c.Order.ID)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "re-route failed")
			return cancel(domain.ReasonInsufficientStock, errors.Join(err, rerr))
		}
		c.Plan = plan
		if err := c.transition(ctx, c.Order.MarkRouted); err != nil {
			return err
		}
		hold, err = c.Stock.Reserve(ctx, c.Order.ID, plan.Claims())
		if errors.As(err, &insufficient) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "inventory reservation failed")
			return cancel(domain.ReasonInsufficientStock, err)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inventory reservation failed")
		return err
	}

	c.Hold = hold
	c.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := c.Tracer.Start(compCtx, "saga.compensation.ReleaseHold")
		defer compSpan.End()
		if err := c.Stock.Release(compCtx, c.Order.ID); err != nil {
			// 释放失败的 Hold 会在 TTL 之后被清扫器回收
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).Str("order_id", c.Order.ID).Msg("Failed to release hold during compensation")
		}
	})

	if err := c.transition(ctx, c.Order.MarkReserved); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("hold.id", hold.ID), attribute.Int("hold.claims", len(hold.Claims)))
	span.AddEvent("Inventory reserved")
	return h.executeNext(c)
}
