package saga

import (
	"context"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/service/checkout/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AuthorizeHandler 向网关申请授权。授权前先持久化尝试序号，保证幂等键不被复用。
type AuthorizeHandler struct {
	NextHandler
}

func (h *AuthorizeHandler) Handle(c *CheckoutContext) error {
	ctx, span := c.Tracer.Start(c.Ctx, "saga.Authorize")
	defer span.End()

	seq := c.Order.BeginAttempt(c.Now())
	if err := c.Orders.Save(ctx, c.Order); err != nil {
		span.RecordError(err)
		return err
	}
	key := domain.IdempotencyKey(c.Order.ID, seq)
	span.SetAttributes(attribute.String("payment.idempotency_key", key))

	callCtx, cancelCall := c.gatewayCtx(ctx)
	authID, err := c.Gateway.Authorize(callCtx, c.Order.Amount, c.Instrument, key)
	cancelCall()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorization failed")
		attempt := domain.NewFailedAttempt(c.Order.ID, seq, c.Order.Amount, err.Error(), c.Now())
		if saveErr := c.Payments.Save(ctx, attempt); saveErr != nil {
			logger.Ctx(ctx).Error().Err(saveErr).Str("key", key).Msg("Failed to record failed payment attempt")
		}
		c.Attempt = attempt
		return cancel(domain.ReasonPaymentDeclined, &domain.PaymentAuthorizationError{OrderID: c.Order.ID, IdempotencyKey: key, Err: err})
	}

	attempt := domain.NewAuthorizedAttempt(c.Order.ID, seq, authID, c.Order.Amount, c.Now())
	c.Attempt = attempt
	if err := c.Payments.Save(ctx, attempt); err != nil {
		span.RecordError(err)
		return reconcile(err)
	}
	c.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := c.Tracer.Start(compCtx, "saga.compensation.VoidAuthorization")
		defer compSpan.End()
		if err := c.Gateway.Void(compCtx, attempt.AuthorizationID); err != nil {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).Str("key", attempt.IdempotencyKey).Msg("Failed to void authorization during compensation")
			return
		}
		if attempt.State == domain.PaymentAuthorized {
			_ = attempt.MarkVoided(c.Now())
		}
		if err := c.Payments.Save(compCtx, attempt); err != nil {
			compSpan.RecordError(err)
		}
	})

	if err := c.transition(ctx, c.Order.MarkAuthorized); err != nil {
		span.RecordError(err)
		return reconcile(err)
	}
	span.AddEvent("Payment authorized")
	return h.executeNext(c)
}
