package infrastructure

import "time"

// AssignmentModel 对应 order_assignments 表，每个 (订单, 地点) 一行。
type AssignmentModel struct {
	ID              uint   `gorm:"primaryKey"`
	OrderID         string `gorm:"size:64;uniqueIndex:idx_order_location"`
	LocationID      string `gorm:"size:64;uniqueIndex:idx_order_location"`
	FulfillmentType string `gorm:"size:16"`
	ItemCount       int
	Items           string `gorm:"type:text"`
	CreatedAt       time.Time
}

func (AssignmentModel) TableName() string {
	return "order_assignments"
}
