package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/service/checkout/domain"
	"checkoutcore/internal/service/checkout/domain/port"
	invdomain "checkoutcore/internal/service/inventory/domain"
	rdomain "checkoutcore/internal/service/routing/domain"

	"go.opentelemetry.io/otel/trace"
)

// Settings 是责任链需要的超时与重试参数。
type Settings struct {
	GatewayTimeout   time.Duration
	FinalizeAttempts int
	FinalizeBackoff  time.Duration
}

// CheckoutContext 在责任链中传递一次结算的全部状态。
type CheckoutContext struct {
	Ctx        context.Context
	Order      *domain.Order
	Instrument string
	Tracer     trace.Tracer
	Settings   Settings
	Now        func() time.Time

	Orders   domain.OrderRepository
	Payments domain.PaymentRepository
	Routing  port.RoutingService
	Stock    port.InventoryService
	Gateway  port.PaymentGateway

	// 链路执行过程中逐步填充
	Plan    *rdomain.Plan
	Hold    *invdomain.Hold
	Attempt *domain.PaymentAttempt

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 登记补偿动作，后登记的先执行。
func (c *CheckoutContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

func (c *CheckoutContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	logger.Ctx(ctx).Info().Str("order_id", c.Order.ID).Int("count", len(c.compensations)).Msg("Executing compensation functions")
	for _, comp := range c.compensations {
		comp(ctx)
	}
	c.compensations = nil
}

// transition 推进订单状态并立即持久化。
func (c *CheckoutContext) transition(ctx context.Context, move func(time.Time) error) error {
	if err := move(c.Now()); err != nil {
		return err
	}
	return c.Orders.Save(ctx, c.Order)
}

// gatewayCtx 为一次网关调用设置超时。
func (c *CheckoutContext) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Settings.GatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Settings.GatewayTimeout)
}

// Failure 是结算链的业务性终止。Reconcile 为 true 时不得执行补偿，
// 订单转入 NEEDS_RECONCILIATION；否则执行补偿并以 Reason 取消订单。
type Failure struct {
	Reason    domain.CancelReason
	Reconcile bool
	Err       error
}

func (f *Failure) Error() string {
	if f.Reconcile {
		return fmt.Sprintf("checkout needs reconciliation: %v", f.Err)
	}
	return fmt.Sprintf("checkout cancelled (%s): %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func cancel(reason domain.CancelReason, err error) error {
	return &Failure{Reason: reason, Err: err}
}

func reconcile(err error) error {
	return &Failure{Reconcile: true, Err: err}
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(c *CheckoutContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(c *CheckoutContext) error {
	if h.next != nil {
		return h.next.Handle(c)
	}
	return nil
}
