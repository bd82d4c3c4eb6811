package domain

import (
	"context"
	"time"
)

// Store 是库存账本的持久化端口。
// 所有改变 Reserved/OnHand/Hold 的操作都必须发生在 WithinTx 中。
type Store interface {
	// WithinTx 在一个事务中执行 fn；fn 返回错误时事务回滚。
	// 锁冲突（死锁、锁等待超时、并发插入）以 ErrLockContention 返回。
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Record(ctx context.Context, productID, locationID string) (*InventoryRecord, error)
	Variant(ctx context.Context, productID, variantID, locationID string) (*VariantRecord, error)
	RecordsAt(ctx context.Context, locationID string, productIDs []string) ([]InventoryRecord, error)
	VariantsAt(ctx context.Context, locationID string, productIDs []string) ([]VariantRecord, error)

	// LatestHold 返回订单最近的一个 Hold（任意状态），不存在时返回 nil, nil。
	LatestHold(ctx context.Context, orderID string) (*Hold, error)
	ListActiveHoldsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Hold, error)
	MovementsByReference(ctx context.Context, reference string) ([]StockMovement, error)
}

// Tx 是事务内的操作集合。Lock* 方法对行加排他锁直到事务结束。
type Tx interface {
	LockRecord(productID, locationID string) (*InventoryRecord, error)
	LockVariant(productID, variantID, locationID string) (*VariantRecord, error)
	// LockActiveHold 锁住订单的 Hold 序列化点并返回当前 ACTIVE 的 Hold，没有则返回 nil, nil。
	LockActiveHold(orderID string) (*Hold, error)

	SaveRecord(r *InventoryRecord) error
	SaveVariant(v *VariantRecord) error
	CreateHold(h *Hold) error
	UpdateHoldState(h *Hold) error
	AppendMovement(m *StockMovement) error
}
