package domain

import (
	"context"

	invdomain "checkoutcore/internal/service/inventory/domain"
)

// OrderReader 加载待路由的订单。
type OrderReader interface {
	RoutableOrder(ctx context.Context, orderID string) (*RoutableOrder, error)
}

// LocationDirectory 返回商家配置的全部履约地点。
type LocationDirectory interface {
	Locations(ctx context.Context, vendorID string) ([]Location, error)
}

// AvailabilityReader 是库存账本的只读视图。
type AvailabilityReader interface {
	Availability(ctx context.Context, locationID string, items []invdomain.ItemKey) (map[invdomain.ItemKey]invdomain.Availability, error)
}

// ReservationReader 报告订单是否已有未释放的库存预留（ACTIVE 或 FINALIZED）。
type ReservationReader interface {
	HasReservation(ctx context.Context, orderID string) (bool, error)
}

// AssignmentRepository 保存每个订单当前的地点分配。
type AssignmentRepository interface {
	Replace(ctx context.Context, orderID string, assignments []Assignment) error
	FindByOrder(ctx context.Context, orderID string) ([]Assignment, error)
}
