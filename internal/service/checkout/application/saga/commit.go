package saga

import (
	"context"
	"errors"
	"time"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/service/checkout/domain"
	"checkoutcore/internal/service/checkout/domain/port"

	"go.opentelemetry.io/otel/codes"
)

// CommitHandler 扣款并提交库存，两步视为一次逻辑提交。
// 扣款成功之后的任何故障都不做补偿，交给清扫器处理。
type CommitHandler struct {
	NextHandler
}

func (h *CommitHandler) Handle(c *CheckoutContext) error {
	ctx, span := c.Tracer.Start(c.Ctx, "saga.Commit")
	defer span.End()

	attempt := c.Attempt
	callCtx, cancelCall := c.gatewayCtx(ctx)
	err := c.Gateway.Capture(callCtx, attempt.AuthorizationID, attempt.IdempotencyKey)
	cancelCall()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		captureErr := &domain.PaymentCaptureError{
			OrderID:        c.Order.ID,
			IdempotencyKey: attempt.IdempotencyKey,
			Definitive:     errors.Is(err, port.ErrPaymentDeclined),
			Err:            err,
		}
		if !captureErr.Definitive {
			return reconcile(captureErr)
		}
		if err := attempt.Fail(err.Error(), c.Now()); err == nil {
			if saveErr := c.Payments.Save(ctx, attempt); saveErr != nil {
				logger.Ctx(ctx).Error().Err(saveErr).Str("key", attempt.IdempotencyKey).Msg("Failed to record declined capture")
			}
		}
		return cancel(domain.ReasonPaymentCaptureFailed, captureErr)
	}

	if err := attempt.MarkCaptured(c.Now()); err != nil {
		return reconcile(err)
	}
	if err := c.Payments.Save(ctx, attempt); err != nil {
		span.RecordError(err)
		return reconcile(err)
	}
	if err := c.transition(ctx, c.Order.MarkCaptured); err != nil {
		span.RecordError(err)
		return reconcile(err)
	}
	span.AddEvent("Payment captured")

	if err := h.finalize(ctx, c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		return reconcile(err)
	}
	if err := c.transition(ctx, c.Order.Complete); err != nil {
		span.RecordError(err)
		return reconcile(err)
	}
	span.AddEvent("Order committed")
	return h.executeNext(c)
}

// finalize 以少量的立即重试提交库存，仍失败则留给清扫器。
func (h *CommitHandler) finalize(ctx context.Context, c *CheckoutContext) error {
	attempts := max(c.Settings.FinalizeAttempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(c.Settings.FinalizeBackoff << (i - 1)):
			}
		}
		if err = c.Stock.Finalize(ctx, c.Order.ID); err == nil {
			return nil
		}
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", c.Order.ID).Int("attempt", i+1).Msg("Finalize failed")
	}
	return err
}
