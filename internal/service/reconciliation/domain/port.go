package domain

import (
	"context"
	"time"

	invdomain "checkoutcore/internal/service/inventory/domain"
)

// HoldService 是清扫器对预留单的操作面，由 HoldManager 实现。
type HoldService interface {
	Hold(ctx context.Context, orderID string) (*invdomain.Hold, error)
	Finalize(ctx context.Context, orderID string) error
	Release(ctx context.Context, orderID string) error
	ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]invdomain.Hold, error)
}

// LeaderLock 保证多个清扫器实例中同一时刻只有一个在工作。
type LeaderLock interface {
	// TryLead 获取或续期领导权，不阻塞
	TryLead(ctx context.Context) (bool, error)
	Resign(ctx context.Context) error
}
