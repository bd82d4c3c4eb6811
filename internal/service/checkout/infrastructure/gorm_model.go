package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应 checkout_orders 表。
type OrderModel struct {
	ID             string          `gorm:"primaryKey;size:64"`
	VendorID       string          `gorm:"size:64;index"`
	Lines          string          `gorm:"type:text"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,2)"`
	Status         string          `gorm:"size:32;index"`
	CancelReason   string          `gorm:"size:32"`
	AttemptSeq     int
	ReviewRequired bool
	ReviewReason   string `gorm:"size:255"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (OrderModel) TableName() string {
	return "checkout_orders"
}

// PaymentAttemptModel 对应 payment_attempts 表。
// CapturedOrderID 只在 CAPTURED 时有值，唯一索引保证一个订单至多一次扣款。
type PaymentAttemptModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	OrderID         string `gorm:"size:64;index"`
	Sequence        int
	IdempotencyKey  string          `gorm:"size:96;uniqueIndex"`
	AuthorizationID string          `gorm:"size:128"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2)"`
	State           string          `gorm:"size:16;index:idx_state_updated"`
	FailureReason   string          `gorm:"size:255"`
	CapturedOrderID *string         `gorm:"size:64;uniqueIndex"`
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index:idx_state_updated"`
}

func (PaymentAttemptModel) TableName() string {
	return "payment_attempts"
}
