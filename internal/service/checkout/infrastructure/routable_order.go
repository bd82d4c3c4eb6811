package infrastructure

import (
	"context"
	"errors"

	"checkoutcore/internal/service/checkout/domain"
	rdomain "checkoutcore/internal/service/routing/domain"
)

// RoutableOrderReader 让路由器通过订单仓储读取订单行。
type RoutableOrderReader struct {
	orders domain.OrderRepository
}

func NewRoutableOrderReader(orders domain.OrderRepository) *RoutableOrderReader {
	return &RoutableOrderReader{orders: orders}
}

func (r *RoutableOrderReader) RoutableOrder(ctx context.Context, orderID string) (*rdomain.RoutableOrder, error) {
	o, err := r.orders.FindByID(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, rdomain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return o.Routable(), nil
}
