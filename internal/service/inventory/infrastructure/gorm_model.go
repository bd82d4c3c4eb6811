package infrastructure

import "time"

// InventoryRecordModel 对应 inventory_records 表。
type InventoryRecordModel struct {
	ProductID  string `gorm:"primaryKey;size:64"`
	LocationID string `gorm:"primaryKey;size:64"`
	OnHand     int    `gorm:"not null;default:0"`
	Reserved   int    `gorm:"not null;default:0"`
	UpdatedAt  time.Time
}

func (InventoryRecordModel) TableName() string {
	return "inventory_records"
}

// VariantRecordModel 对应 variant_inventory_records 表。
type VariantRecordModel struct {
	ProductID       string `gorm:"primaryKey;size:64"`
	VariantID       string `gorm:"primaryKey;size:64"`
	LocationID      string `gorm:"primaryKey;size:64"`
	Quantity        int    `gorm:"not null;default:0"`
	Reserved        int    `gorm:"not null;default:0"`
	ConversionRatio int    `gorm:"not null;default:1"`
	UpdatedAt       time.Time
}

func (VariantRecordModel) TableName() string {
	return "variant_inventory_records"
}

// HoldModel 对应 inventory_holds 表。
// ActiveOrderID 只在 ACTIVE 状态下等于 OrderID，其余为 NULL；唯一索引保证同一订单只有一个 ACTIVE Hold。
type HoldModel struct {
	ID            string    `gorm:"primaryKey;size:36"`
	OrderID       string    `gorm:"size:64;index"`
	ActiveOrderID *string   `gorm:"size:64;uniqueIndex"`
	State         string    `gorm:"size:16;index:idx_hold_state_created"`
	CreatedAt     time.Time `gorm:"index:idx_hold_state_created"`
	UpdatedAt     time.Time
	Claims        []HoldClaimModel `gorm:"foreignKey:HoldID"`
}

func (HoldModel) TableName() string {
	return "inventory_holds"
}

// HoldClaimModel 对应 inventory_hold_claims 表，转换元数据以独立列保存。
type HoldClaimModel struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	HoldID            string `gorm:"size:36;index"`
	ProductID         string `gorm:"size:64"`
	VariantID         string `gorm:"size:64"`
	LocationID        string `gorm:"size:64"`
	Quantity          int
	FromVariantStock  int
	VariantTemplateID string `gorm:"size:64"`
	ConversionApplied bool
	ConvertedQuantity int
	ConvertedUnits    int
}

func (HoldClaimModel) TableName() string {
	return "inventory_hold_claims"
}

// StockMovementModel 对应只追加的 stock_movements 表。
type StockMovementModel struct {
	ID                string `gorm:"primaryKey;size:36"`
	ProductID         string `gorm:"size:64;index:idx_movement_item"`
	VariantID         string `gorm:"size:64;index:idx_movement_item"`
	LocationID        string `gorm:"size:64;index:idx_movement_item"`
	Type              string `gorm:"size:16"`
	QuantityDelta     int
	ConvertedQuantity int
	Reference         string `gorm:"size:64;index"`
	CreatedAt         time.Time
}

func (StockMovementModel) TableName() string {
	return "stock_movements"
}
