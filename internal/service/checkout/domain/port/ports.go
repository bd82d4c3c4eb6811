package port

import (
	"context"
	"errors"

	"checkoutcore/internal/service/checkout/domain"
	invdomain "checkoutcore/internal/service/inventory/domain"
	rdomain "checkoutcore/internal/service/routing/domain"

	"github.com/shopspring/decimal"
)

// ErrPaymentDeclined 表示网关给出了明确的拒绝，结果不会再变化。
var ErrPaymentDeclined = errors.New("payment declined")

// PaymentGateway 是外部支付网关的出站端口。
type PaymentGateway interface {
	Authorize(ctx context.Context, amount decimal.Decimal, instrument, idempotencyKey string) (authorizationID string, err error)
	Capture(ctx context.Context, authorizationID, idempotencyKey string) error
	Void(ctx context.Context, authorizationID string) error
}

// InventoryService 是库存预留的出站端口，由 HoldManager 实现。
type InventoryService interface {
	Reserve(ctx context.Context, orderID string, claims []invdomain.ClaimRequest) (*invdomain.Hold, error)
	Finalize(ctx context.Context, orderID string) error
	Release(ctx context.Context, orderID string) error
	Hold(ctx context.Context, orderID string) (*invdomain.Hold, error)
}

// RoutingService 为订单生成履约计划。
type RoutingService interface {
	Route(ctx context.Context, orderID string) (*rdomain.Plan, error)
}

// EventPublisher 发布订单事件。
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.OrderEvent) error
}

// CheckoutGuard 保证同一订单在所有实例中同时只有一个结算在执行。
// 已被占用时返回 domain.ErrCheckoutInProgress。
type CheckoutGuard interface {
	Acquire(ctx context.Context, orderID string) (release func(), err error)
}
