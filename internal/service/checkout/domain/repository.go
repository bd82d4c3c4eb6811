package domain

import (
	"context"
	"time"
)

// OrderRepository 定义订单聚合的持久化接口。
type OrderRepository interface {
	// Create 保存新订单，ID 已存在时返回 ErrOrderExists。
	Create(ctx context.Context, order *Order) error
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
}

// PaymentRepository 保存支付尝试。
type PaymentRepository interface {
	// Save 新增或更新一次尝试；同一订单第二个 CAPTURED 返回 ErrDuplicateCapture。
	Save(ctx context.Context, attempt *PaymentAttempt) error
	FindByOrder(ctx context.Context, orderID string) ([]*PaymentAttempt, error)
	// ListUnsettledCaptures 列出早于 cutoff 扣款成功、订单却未完成且未标记复核的尝试。
	ListUnsettledCaptures(ctx context.Context, cutoff time.Time, limit int) ([]*PaymentAttempt, error)
}
