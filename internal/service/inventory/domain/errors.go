package domain

import (
	"errors"
	"fmt"
)

var (
	ErrHoldStateConflict = errors.New("an active hold with a different plan already exists for this order")
	// ErrLockContention 表示死锁或锁等待超时，由 HoldManager 内部重试
	ErrLockContention     = errors.New("inventory row lock contention")
	ErrRecordNotFound     = errors.New("inventory record not found")
	ErrInvalidClaim       = errors.New("claim requires product, location and a positive quantity")
	ErrEmptyPlan          = errors.New("reservation plan has no claims")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrBelowReserved      = errors.New("adjustment would drop on-hand below reserved")
	ErrInvalidRatio       = errors.New("conversion ratio must be >= 1")
	ErrInvariantViolation = errors.New("inventory invariant violated")
)

// InsufficientInventoryError 指出第一个无法满足的商品。
type InsufficientInventoryError struct {
	Item       ItemKey
	LocationID string
	Requested  int
	Available  int
	// Contended 为 true 表示多次锁冲突后放弃，而非真正缺货
	Contended bool
}

func (e *InsufficientInventoryError) Error() string {
	if e.Contended {
		return fmt.Sprintf("insufficient inventory: %s@%s could not be locked after retries", e.Item, e.LocationID)
	}
	return fmt.Sprintf("insufficient inventory: %s@%s requested %d, available %d", e.Item, e.LocationID, e.Requested, e.Available)
}
